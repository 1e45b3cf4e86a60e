package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prepdeck/coach/models"
)

func TestMemoryStoreUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	user := &models.User{Email: "a@example.com", Password: "hash", FullName: "A"}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.ID == "" {
		t.Fatal("CreateUser did not assign an ID")
	}

	got, err := store.GetUserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	if got == nil || got.ID != user.ID {
		t.Errorf("GetUserByEmail = %+v, expected ID %s", got, user.ID)
	}

	missing, err := store.GetUserByEmail(ctx, "nobody@example.com")
	if err != nil || missing != nil {
		t.Errorf("GetUserByEmail miss = (%+v, %v), expected (nil, nil)", missing, err)
	}

	byID, err := store.GetUserByID(ctx, user.ID)
	if err != nil || byID == nil || byID.Email != "a@example.com" {
		t.Errorf("GetUserByID = (%+v, %v)", byID, err)
	}
}

func TestMemoryStoreRefreshTokens(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	live := &models.RefreshToken{UserID: "u1", Token: "live", ExpiresAt: time.Now().Add(time.Hour)}
	expired := &models.RefreshToken{UserID: "u1", Token: "expired", ExpiresAt: time.Now().Add(-time.Hour)}
	for _, tok := range []*models.RefreshToken{live, expired} {
		if err := store.CreateRefreshToken(ctx, tok); err != nil {
			t.Fatalf("CreateRefreshToken: %v", err)
		}
	}

	if got, _ := store.GetRefreshToken(ctx, "live"); got == nil {
		t.Error("live token not found")
	}
	if got, _ := store.GetRefreshToken(ctx, "expired"); got != nil {
		t.Error("expired token should not be returned")
	}

	if err := store.DeleteAllUserTokens(ctx, "u1"); err != nil {
		t.Fatalf("DeleteAllUserTokens: %v", err)
	}
	if got, _ := store.GetRefreshToken(ctx, "live"); got != nil {
		t.Error("token survived DeleteAllUserTokens")
	}
}

func TestMemoryStoreSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession missing = %v, expected ErrNotFound", err)
	}
	if err := store.UpdateSession(ctx, &models.Session{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSession missing = %v, expected ErrNotFound", err)
	}

	session := &models.Session{
		OwnerID:        "owner-1",
		JobPosition:    "Backend Engineer",
		InterviewStage: "behavioral",
		Status:         models.SessionStatusIdle,
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	session.Status = models.SessionStatusActive
	if err := store.UpdateSession(ctx, session); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	got, err := store.GetSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != models.SessionStatusActive {
		t.Errorf("Status = %q after update", got.Status)
	}

	// Mutating the returned copy must not leak into the store.
	got.Status = models.SessionStatusCompleted
	again, _ := store.GetSession(ctx, session.ID)
	if again.Status != models.SessionStatusActive {
		t.Error("GetSession returned a shared reference")
	}

	byOwner, err := store.GetSessionsByOwner(ctx, "owner-1")
	if err != nil || len(byOwner) != 1 {
		t.Errorf("GetSessionsByOwner = (%d sessions, %v)", len(byOwner), err)
	}
	if none, _ := store.GetSessionsByOwner(ctx, "owner-2"); len(none) != 0 {
		t.Errorf("GetSessionsByOwner for stranger = %d sessions", len(none))
	}
}

func TestMemoryStoreQuestionsOrdered(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, seq := range []int{3, 1, 2} {
		q := &models.Question{
			SessionID:      "s1",
			SequenceNumber: seq,
			Text:           "q",
			GeneratedBy:    models.GeneratedByFallback,
		}
		if err := store.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("CreateQuestion: %v", err)
		}
	}
	store.CreateQuestion(ctx, &models.Question{
		SessionID:      "s2",
		SequenceNumber: 1,
		Text:           "other",
		GeneratedBy:    models.GeneratedByFallback,
	})

	questions, err := store.GetQuestions(ctx, "s1")
	if err != nil {
		t.Fatalf("GetQuestions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("len(questions) = %d, expected 3", len(questions))
	}
	for i, q := range questions {
		if q.SequenceNumber != i+1 {
			t.Errorf("questions[%d].SequenceNumber = %d", i, q.SequenceNumber)
		}
	}
}

func TestMemoryStoreResponseLatestWins(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := &models.Response{
		SessionID:   "s1",
		QuestionID:  "q1",
		Text:        "first attempt",
		InputMethod: models.InputMethodText,
		WordCount:   2,
		SubmittedAt: time.Now(),
	}
	if err := store.SaveResponse(ctx, first); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	second := &models.Response{
		SessionID:   "s1",
		QuestionID:  "q1",
		Text:        "second attempt",
		InputMethod: models.InputMethodVoice,
		WordCount:   2,
		SubmittedAt: time.Now(),
	}
	if err := store.SaveResponse(ctx, second); err != nil {
		t.Fatalf("SaveResponse retry: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("retry got a new response ID %q, expected %q", second.ID, first.ID)
	}
}

func TestMemoryStoreEvaluations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i, responseID := range []string{"r1", "r2"} {
		ev := &models.Evaluation{
			SessionID:    "s1",
			ResponseID:   responseID,
			OverallScore: float64(i) + 3.0,
			ComputedBy:   models.ComputedByHeuristic,
		}
		if err := store.CreateEvaluation(ctx, ev); err != nil {
			t.Fatalf("CreateEvaluation: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	store.CreateEvaluation(ctx, &models.Evaluation{
		SessionID:  "s2",
		ResponseID: "r3",
		ComputedBy: models.ComputedByHeuristic,
	})

	evaluations, err := store.GetEvaluations(ctx, "s1")
	if err != nil {
		t.Fatalf("GetEvaluations: %v", err)
	}
	if len(evaluations) != 2 {
		t.Fatalf("len(evaluations) = %d, expected 2", len(evaluations))
	}
	if evaluations[0].ResponseID != "r1" || evaluations[1].ResponseID != "r2" {
		t.Errorf("evaluations out of creation order: %s, %s", evaluations[0].ResponseID, evaluations[1].ResponseID)
	}
}
