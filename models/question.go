package models

import (
	"time"

	"gorm.io/gorm"
)

// Question provenance values.
const (
	GeneratedByAI       = "ai"
	GeneratedByFallback = "fallback-template"
)

// Response input methods.
const (
	InputMethodText  = "text"
	InputMethodVoice = "voice"
)

// Evaluation provenance values.
const (
	ComputedByAI        = "ai"
	ComputedByHeuristic = "heuristic-fallback"
)

// Question is one interview question asked within a session. Immutable once
// created; sequence numbers are 1-based and strictly increasing per session.
type Question struct {
	ID             string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID      string         `gorm:"type:uuid;not null;index" json:"session_id"`
	SequenceNumber int            `gorm:"not null" json:"sequence_number"`
	Text           string         `gorm:"type:text;not null" json:"text"`
	Category       string         `gorm:"size:100" json:"category,omitempty"`
	Difficulty     string         `gorm:"size:20" json:"difficulty,omitempty"`
	GeneratedBy    string         `gorm:"size:50;not null;check:generated_by IN ('ai', 'fallback-template')" json:"generated_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Session Session `gorm:"foreignKey:SessionID" json:"-"`
}

// Response is the candidate's answer to a question. One response per
// question; the latest submission wins if a turn is retried.
type Response struct {
	ID          string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID   string         `gorm:"type:uuid;not null;index" json:"session_id"`
	QuestionID  string         `gorm:"type:uuid;not null;uniqueIndex" json:"question_id"`
	Text        string         `gorm:"type:text;not null" json:"text"`
	InputMethod string         `gorm:"size:20;not null;check:input_method IN ('text', 'voice')" json:"input_method"`
	WordCount   int            `gorm:"not null" json:"word_count"`
	SubmittedAt time.Time      `gorm:"not null" json:"submitted_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Session  Session  `gorm:"foreignKey:SessionID" json:"-"`
	Question Question `gorm:"foreignKey:QuestionID" json:"-"`
}

// Evaluation holds STAR-rubric scores and feedback for a response. Created
// exactly once per response and immutable thereafter. Strengths and
// Improvements are JSON-encoded string lists.
type Evaluation struct {
	ID             string         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	SessionID      string         `gorm:"type:uuid;not null;index" json:"session_id"`
	ResponseID     string         `gorm:"type:uuid;not null;uniqueIndex" json:"response_id"`
	SituationScore float64        `gorm:"type:decimal(3,1);not null" json:"situation_score"`
	TaskScore      float64        `gorm:"type:decimal(3,1);not null" json:"task_score"`
	ActionScore    float64        `gorm:"type:decimal(3,1);not null" json:"action_score"`
	ResultScore    float64        `gorm:"type:decimal(3,1);not null" json:"result_score"`
	OverallScore   float64        `gorm:"type:decimal(3,1);not null" json:"overall_score"`
	Strengths      string         `gorm:"type:text" json:"strengths"`
	Improvements   string         `gorm:"type:text" json:"improvements"`
	ModelAnswer    string         `gorm:"type:text" json:"model_answer"`
	ComputedBy     string         `gorm:"size:50;not null;check:computed_by IN ('ai', 'heuristic-fallback')" json:"computed_by"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Session  Session  `gorm:"foreignKey:SessionID" json:"-"`
	Response Response `gorm:"foreignKey:ResponseID" json:"-"`
}
