package repository

import (
	"context"
	"errors"

	"github.com/prepdeck/coach/models"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the persistence contract the session engine and auth service
// depend on. The engine assumes read-after-write consistency for a single
// session's records; no cross-session transactions are required.
type Store interface {
	// User operations
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// Token operations
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	DeleteRefreshToken(ctx context.Context, token string) error
	DeleteAllUserTokens(ctx context.Context, userID string) error

	// Session operations
	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetSessionsByOwner(ctx context.Context, ownerID string) ([]models.Session, error)
	UpdateSession(ctx context.Context, session *models.Session) error

	// Turn operations
	CreateQuestion(ctx context.Context, question *models.Question) error
	GetQuestions(ctx context.Context, sessionID string) ([]models.Question, error)
	SaveResponse(ctx context.Context, response *models.Response) error
	CreateEvaluation(ctx context.Context, evaluation *models.Evaluation) error
	GetEvaluations(ctx context.Context, sessionID string) ([]models.Evaluation, error)
}
