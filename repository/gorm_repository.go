package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/prepdeck/coach/models"
	"gorm.io/gorm"
)

type GORMRepository struct {
	db *gorm.DB
}

func NewGORMRepository(db *gorm.DB) *GORMRepository {
	return &GORMRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *GORMRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.User{},
		&models.RefreshToken{},
		&models.Session{},
		&models.Question{},
		&models.Response{},
		&models.Evaluation{},
	)
}

// User operations
func (r *GORMRepository) CreateUser(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		slog.Error("Failed to create user", "error", err)
		return err
	}
	slog.Info("User created", "user_id", user.ID, "email", user.Email)
	return nil
}

func (r *GORMRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by email", "error", err, "email", email)
		return nil, err
	}
	return &user, nil
}

func (r *GORMRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get user by ID", "error", err, "user_id", id)
		return nil, err
	}
	return &user, nil
}

// Token operations
func (r *GORMRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		slog.Error("Failed to create refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	var refreshToken models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ? AND expires_at > ?", token, time.Now()).First(&refreshToken).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		slog.Error("Failed to get refresh token", "error", err)
		return nil, err
	}
	return &refreshToken, nil
}

func (r *GORMRepository) DeleteRefreshToken(ctx context.Context, token string) error {
	if err := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete refresh token", "error", err)
		return err
	}
	return nil
}

func (r *GORMRepository) DeleteAllUserTokens(ctx context.Context, userID string) error {
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
		slog.Error("Failed to delete user refresh tokens", "error", err, "user_id", userID)
		return err
	}
	return nil
}

// Session operations
func (r *GORMRepository) CreateSession(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Create(session).Error; err != nil {
		slog.Error("Failed to create session", "error", err)
		return err
	}
	slog.Info("Session created", "session_id", session.ID, "owner_id", session.OwnerID)
	return nil
}

func (r *GORMRepository) GetSession(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		slog.Error("Failed to get session", "error", err, "session_id", id)
		return nil, err
	}
	return &session, nil
}

func (r *GORMRepository) GetSessionsByOwner(ctx context.Context, ownerID string) ([]models.Session, error) {
	var sessions []models.Session
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC").Find(&sessions).Error
	if err != nil {
		slog.Error("Failed to get sessions", "error", err, "owner_id", ownerID)
		return nil, err
	}
	return sessions, nil
}

func (r *GORMRepository) UpdateSession(ctx context.Context, session *models.Session) error {
	if err := r.db.WithContext(ctx).Save(session).Error; err != nil {
		slog.Error("Failed to update session", "error", err, "session_id", session.ID)
		return err
	}
	return nil
}

// Turn operations
func (r *GORMRepository) CreateQuestion(ctx context.Context, question *models.Question) error {
	if err := r.db.WithContext(ctx).Create(question).Error; err != nil {
		slog.Error("Failed to create question", "error", err, "session_id", question.SessionID)
		return err
	}
	slog.Info("Question created", "question_id", question.ID, "session_id", question.SessionID, "sequence", question.SequenceNumber)
	return nil
}

func (r *GORMRepository) GetQuestions(ctx context.Context, sessionID string) ([]models.Question, error) {
	var questions []models.Question
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("sequence_number").Find(&questions).Error
	if err != nil {
		slog.Error("Failed to get questions", "error", err, "session_id", sessionID)
		return nil, err
	}
	return questions, nil
}

// SaveResponse upserts a response by question so that a retried turn replaces
// the earlier submission (latest wins).
func (r *GORMRepository) SaveResponse(ctx context.Context, response *models.Response) error {
	var existing models.Response
	err := r.db.WithContext(ctx).Where("question_id = ?", response.QuestionID).First(&existing).Error
	if err == nil {
		response.ID = existing.ID
		response.CreatedAt = existing.CreatedAt
		if err := r.db.WithContext(ctx).Save(response).Error; err != nil {
			slog.Error("Failed to update response", "error", err, "question_id", response.QuestionID)
			return err
		}
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		slog.Error("Failed to check existing response", "error", err, "question_id", response.QuestionID)
		return err
	}
	if err := r.db.WithContext(ctx).Create(response).Error; err != nil {
		slog.Error("Failed to create response", "error", err, "question_id", response.QuestionID)
		return err
	}
	slog.Info("Response saved", "response_id", response.ID, "question_id", response.QuestionID)
	return nil
}

func (r *GORMRepository) CreateEvaluation(ctx context.Context, evaluation *models.Evaluation) error {
	if err := r.db.WithContext(ctx).Create(evaluation).Error; err != nil {
		slog.Error("Failed to create evaluation", "error", err, "response_id", evaluation.ResponseID)
		return err
	}
	slog.Info("Evaluation created", "evaluation_id", evaluation.ID, "response_id", evaluation.ResponseID, "overall", evaluation.OverallScore)
	return nil
}

func (r *GORMRepository) GetEvaluations(ctx context.Context, sessionID string) ([]models.Evaluation, error) {
	var evaluations []models.Evaluation
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at").Find(&evaluations).Error
	if err != nil {
		slog.Error("Failed to get evaluations", "error", err, "session_id", sessionID)
		return nil, err
	}
	return evaluations, nil
}
