package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prepdeck/coach/models"
)

// MemoryStore is an in-memory Store used by tests and by dev runs without a
// DATABASE_URL. All methods are safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]models.User
	tokens      map[string]models.RefreshToken
	sessions    map[string]models.Session
	questions   map[string]models.Question
	responses   map[string]models.Response // keyed by question ID (latest wins)
	evaluations map[string]models.Evaluation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]models.User),
		tokens:      make(map[string]models.RefreshToken),
		sessions:    make(map[string]models.Session),
		questions:   make(map[string]models.Question),
		responses:   make(map[string]models.Response),
		evaluations: make(map[string]models.Evaluation),
	}
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	s.users[user.ID] = *user
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		user := u
		return &user, nil
	}
	return nil, nil
}

func (s *MemoryStore) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	s.tokens[token.Token] = *token
	return nil
}

func (s *MemoryStore) GetRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tokens[token]; ok && t.ExpiresAt.After(time.Now()) {
		record := t
		return &record, nil
	}
	return nil, nil
}

func (s *MemoryStore) DeleteRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *MemoryStore) DeleteAllUserTokens(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, key)
		}
	}
	return nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		session := sess
		return &session, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetSessionsByOwner(ctx context.Context, ownerID string) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sessions []models.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			sessions = append(sessions, sess)
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *MemoryStore) UpdateSession(ctx context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemoryStore) CreateQuestion(ctx context.Context, question *models.Question) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if question.ID == "" {
		question.ID = uuid.New().String()
	}
	question.CreatedAt = time.Now()
	s.questions[question.ID] = *question
	return nil
}

func (s *MemoryStore) GetQuestions(ctx context.Context, sessionID string) ([]models.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var questions []models.Question
	for _, q := range s.questions {
		if q.SessionID == sessionID {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		return questions[i].SequenceNumber < questions[j].SequenceNumber
	})
	return questions, nil
}

func (s *MemoryStore) SaveResponse(ctx context.Context, response *models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.responses[response.QuestionID]; ok {
		response.ID = existing.ID
	} else if response.ID == "" {
		response.ID = uuid.New().String()
	}
	s.responses[response.QuestionID] = *response
	return nil
}

func (s *MemoryStore) CreateEvaluation(ctx context.Context, evaluation *models.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if evaluation.ID == "" {
		evaluation.ID = uuid.New().String()
	}
	evaluation.CreatedAt = time.Now()
	s.evaluations[evaluation.ResponseID] = *evaluation
	return nil
}

func (s *MemoryStore) GetEvaluations(ctx context.Context, sessionID string) ([]models.Evaluation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var evaluations []models.Evaluation
	for _, e := range s.evaluations {
		if e.SessionID == sessionID {
			evaluations = append(evaluations, e)
		}
	}
	sort.Slice(evaluations, func(i, j int) bool {
		return evaluations[i].CreatedAt.Before(evaluations[j].CreatedAt)
	})
	return evaluations, nil
}
