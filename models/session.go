package models

import (
	"time"

	"gorm.io/gorm"
)

// Session status values. completed is terminal.
const (
	SessionStatusIdle      = "idle"
	SessionStatusActive    = "active"
	SessionStatusPaused    = "paused"
	SessionStatusCompleted = "completed"
)

// InterviewStages is the known set of stages a session can target.
var InterviewStages = []string{"phone-screen", "behavioral", "technical", "onsite", "final"}

// IsKnownStage reports whether stage belongs to InterviewStages.
func IsKnownStage(stage string) bool {
	for _, s := range InterviewStages {
		if s == stage {
			return true
		}
	}
	return false
}

// Session represents one coaching session: a sequence of question/response/
// evaluation turns for a single user preparing for a specific role.
type Session struct {
	ID                string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	OwnerID           string         `gorm:"type:uuid;not null;index" json:"owner_id"`
	JobPosition       string         `gorm:"size:255;not null" json:"job_position"`
	CompanyName       string         `gorm:"size:255" json:"company_name,omitempty"`
	InterviewStage    string         `gorm:"size:50;not null;check:interview_stage IN ('phone-screen', 'behavioral', 'technical', 'onsite', 'final')" json:"interview_stage"`
	PreferredLanguage string         `gorm:"size:20;default:'en-US'" json:"preferred_language"`
	VoiceEnabled      bool           `gorm:"default:false" json:"voice_enabled"`
	DifficultyLevel   string         `gorm:"size:20;default:'medium'" json:"difficulty_level"`
	Status            string         `gorm:"not null;default:'idle';check:status IN ('idle', 'active', 'paused', 'completed')" json:"status"`
	CurrentQuestionID *string        `gorm:"type:uuid" json:"current_question_id,omitempty"`
	QuestionsAsked    int            `gorm:"not null;default:0" json:"questions_asked"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Owner     User       `gorm:"foreignKey:OwnerID" json:"-"`
	Questions []Question `gorm:"foreignKey:SessionID" json:"questions,omitempty"`
}

// IsTerminal reports whether the session can no longer transition.
func (s *Session) IsTerminal() bool {
	return s.Status == SessionStatusCompleted
}
