package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prepdeck/coach/models"
	"github.com/prepdeck/coach/repository"
)

// EventSink receives session events destined for a connected client. All
// methods are invoked synchronously in turn order: a question-generated event
// always precedes the response-evaluated event that answers it, and
// session-completed is always last.
type EventSink interface {
	QuestionGenerated(sessionID string, question *models.Question)
	ResponseEvaluated(sessionID string, evaluation *models.Evaluation, next *models.Question)
	SessionCompleted(sessionID string, summary *SessionSummary)
}

// SessionSummary aggregates a completed session's turns.
type SessionSummary struct {
	SessionID      string     `json:"session_id"`
	QuestionsAsked int        `json:"questions_asked"`
	AverageOverall float64    `json:"average_overall"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// CreateSessionRequest carries the client-supplied session parameters.
type CreateSessionRequest struct {
	JobPosition       string `json:"job_position"`
	CompanyName       string `json:"company_name"`
	InterviewStage    string `json:"interview_stage"`
	PreferredLanguage string `json:"preferred_language"`
	VoiceEnabled      bool   `json:"voice_enabled"`
	DifficultyLevel   string `json:"difficulty_level"`
}

// sessionState is the engine's in-memory bookkeeping for one session. The
// persisted Session row is authoritative; this only tracks liveness.
type sessionState struct {
	busy         bool
	epoch        uint64
	lastActivity time.Time
	sink         EventSink
}

// SessionEngine owns the session lifecycle. Exactly one question is current
// per active session, and at most one submission is processed at a time per
// session; concurrent submissions are rejected with ErrSessionBusy rather
// than queued.
type SessionEngine struct {
	store        repository.Store
	orchestrator *QuestionOrchestrator
	scorer       *Scorer
	metrics      *Metrics
	cfg          InterviewConfig

	mu       sync.Mutex
	sessions map[string]*sessionState
	done     chan struct{}
}

func NewSessionEngine(store repository.Store, orchestrator *QuestionOrchestrator, scorer *Scorer, metrics *Metrics, cfg InterviewConfig) *SessionEngine {
	e := &SessionEngine{
		store:        store,
		orchestrator: orchestrator,
		scorer:       scorer,
		metrics:      metrics,
		cfg:          cfg,
		sessions:     make(map[string]*sessionState),
		done:         make(chan struct{}),
	}
	go e.idleSweeper()
	return e
}

// Close stops the idle sweeper.
func (e *SessionEngine) Close() {
	close(e.done)
}

// AttachSink registers the event sink for a session, replacing any previous
// one. A reconnecting client takes over event delivery for its session.
func (e *SessionEngine) AttachSink(sessionID string, sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(sessionID).sink = sink
}

// DetachSink removes the sink if it is still the one registered.
func (e *SessionEngine) DetachSink(sessionID string, sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.sessions[sessionID]; ok && st.sink == sink {
		st.sink = nil
	}
}

// state returns the in-memory record for a session, creating it if needed.
// Caller must hold e.mu.
func (e *SessionEngine) state(sessionID string) *sessionState {
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{lastActivity: time.Now()}
		e.sessions[sessionID] = st
	}
	return st
}

// CreateSession validates the request and persists a new idle session.
func (e *SessionEngine) CreateSession(ctx context.Context, ownerID string, req CreateSessionRequest) (*models.Session, error) {
	if strings.TrimSpace(req.JobPosition) == "" {
		return nil, fmt.Errorf("job_position is required")
	}
	if !models.IsKnownStage(req.InterviewStage) {
		return nil, fmt.Errorf("unknown interview stage: %q", req.InterviewStage)
	}

	session := &models.Session{
		OwnerID:           ownerID,
		JobPosition:       strings.TrimSpace(req.JobPosition),
		CompanyName:       strings.TrimSpace(req.CompanyName),
		InterviewStage:    req.InterviewStage,
		PreferredLanguage: req.PreferredLanguage,
		VoiceEnabled:      req.VoiceEnabled,
		DifficultyLevel:   req.DifficultyLevel,
		Status:            models.SessionStatusIdle,
	}
	if session.PreferredLanguage == "" {
		session.PreferredLanguage = "en-US"
	}
	if session.DifficultyLevel == "" {
		session.DifficultyLevel = "medium"
	}

	if err := e.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Session created", "session_id", session.ID, "owner_id", ownerID, "stage", session.InterviewStage)
	return session, nil
}

// GetSession fetches a session owned by ownerID.
func (e *SessionEngine) GetSession(ctx context.Context, sessionID, ownerID string) (*models.Session, error) {
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.OwnerID != ownerID {
		return nil, repository.ErrNotFound
	}
	return session, nil
}

// Activate transitions an idle session to active and asks the first question.
func (e *SessionEngine) Activate(ctx context.Context, sessionID, ownerID string) (*models.Session, *models.Question, error) {
	session, err := e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusIdle {
		return nil, nil, fmt.Errorf("%w: cannot activate %s session", ErrInvalidTransition, session.Status)
	}

	if err := e.acquire(sessionID); err != nil {
		return nil, nil, err
	}
	defer e.release(sessionID)

	// A concurrent Activate can win the race between the idle check and
	// acquire; re-verify under the busy token.
	session, err = e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusIdle {
		return nil, nil, fmt.Errorf("%w: cannot activate %s session", ErrInvalidTransition, session.Status)
	}

	session.Status = models.SessionStatusActive
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, nil, fmt.Errorf("failed to activate session: %w", err)
	}
	e.metrics.IncrementSessionsStarted()

	question, err := e.askNextQuestion(ctx, session, nil)
	if err != nil {
		return nil, nil, err
	}

	e.emitQuestion(sessionID, question)
	slog.Info("Session activated", "session_id", sessionID)
	return session, question, nil
}

// Pause transitions an active session to paused. The current question is
// preserved; any in-flight AI result for this session is discarded on
// arrival via the epoch bump.
func (e *SessionEngine) Pause(ctx context.Context, sessionID, ownerID string) (*models.Session, error) {
	session, err := e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, fmt.Errorf("%w: cannot pause %s session", ErrInvalidTransition, session.Status)
	}

	session.Status = models.SessionStatusPaused
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to pause session: %w", err)
	}

	e.mu.Lock()
	st := e.state(sessionID)
	st.epoch++
	st.lastActivity = time.Now()
	e.mu.Unlock()

	slog.Info("Session paused", "session_id", sessionID)
	return session, nil
}

// Resume transitions a paused session back to active. The current question
// carries over; no new question is generated.
func (e *SessionEngine) Resume(ctx context.Context, sessionID, ownerID string) (*models.Session, error) {
	session, err := e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionStatusPaused {
		return nil, fmt.Errorf("%w: cannot resume %s session", ErrInvalidTransition, session.Status)
	}

	session.Status = models.SessionStatusActive
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to resume session: %w", err)
	}

	e.touch(sessionID)
	slog.Info("Session resumed", "session_id", sessionID)
	return session, nil
}

// Complete transitions a session to completed and returns the summary.
// Completing an already-completed session is a no-op that re-returns the
// summary.
func (e *SessionEngine) Complete(ctx context.Context, sessionID, ownerID string) (*SessionSummary, error) {
	session, err := e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, err
	}

	if session.Status != models.SessionStatusCompleted {
		now := time.Now()
		session.Status = models.SessionStatusCompleted
		session.CurrentQuestionID = nil
		session.CompletedAt = &now
		if err := e.store.UpdateSession(ctx, session); err != nil {
			return nil, fmt.Errorf("failed to complete session: %w", err)
		}
		e.metrics.IncrementSessionsCompleted()

		e.mu.Lock()
		if st, ok := e.sessions[sessionID]; ok {
			st.epoch++
		}
		e.mu.Unlock()

		slog.Info("Session completed", "session_id", sessionID, "questions_asked", session.QuestionsAsked)
	}

	summary, err := e.Summary(ctx, session)
	if err != nil {
		return nil, err
	}
	e.emitCompleted(sessionID, summary)
	return summary, nil
}

// Summary computes the aggregate view of a session's evaluations.
func (e *SessionEngine) Summary(ctx context.Context, session *models.Session) (*SessionSummary, error) {
	evaluations, err := e.store.GetEvaluations(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}

	summary := &SessionSummary{
		SessionID:      session.ID,
		QuestionsAsked: session.QuestionsAsked,
		CompletedAt:    session.CompletedAt,
	}
	if len(evaluations) > 0 {
		var total float64
		for _, ev := range evaluations {
			total += ev.OverallScore
		}
		summary.AverageOverall = clampScore(total / float64(len(evaluations)))
	}
	return summary, nil
}

// SubmitResponse runs one full turn: persist the response, score it, persist
// the evaluation, then either ask the next question or complete the session.
// Rejects with ErrStaleQuestion if questionID is not the current question and
// with ErrSessionBusy if another turn is already in flight.
func (e *SessionEngine) SubmitResponse(ctx context.Context, sessionID, ownerID, questionID, text, inputMethod string) (*models.Evaluation, *models.Question, error) {
	session, err := e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusActive {
		return nil, nil, fmt.Errorf("%w: cannot submit to %s session", ErrInvalidTransition, session.Status)
	}
	if session.CurrentQuestionID == nil || *session.CurrentQuestionID != questionID {
		return nil, nil, ErrStaleQuestion
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil, fmt.Errorf("response text is empty")
	}

	if err := e.acquire(sessionID); err != nil {
		return nil, nil, err
	}
	defer e.release(sessionID)

	epoch := e.currentEpoch(sessionID)

	questions, err := e.store.GetQuestions(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load questions: %w", err)
	}
	var question *models.Question
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return nil, nil, ErrStaleQuestion
	}

	response := &models.Response{
		SessionID:   sessionID,
		QuestionID:  questionID,
		Text:        text,
		InputMethod: inputMethod,
		WordCount:   len(strings.Fields(text)),
		SubmittedAt: time.Now(),
	}
	if err := e.store.SaveResponse(ctx, response); err != nil {
		return nil, nil, fmt.Errorf("failed to save response: %w", err)
	}

	// Scoring may block on the AI service. If the session was paused or
	// completed meanwhile, the result is stale and must be discarded.
	scored := e.scorer.Evaluate(ctx, text, question)

	session, err = e.GetSession(ctx, sessionID, ownerID)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionStatusActive ||
		session.CurrentQuestionID == nil || *session.CurrentQuestionID != questionID ||
		e.currentEpoch(sessionID) != epoch {
		slog.Info("Discarding stale evaluation result", "session_id", sessionID, "question_id", questionID)
		return nil, nil, ErrStaleQuestion
	}

	evaluation, err := e.persistEvaluation(ctx, session, response, scored)
	if err != nil {
		return nil, nil, err
	}
	e.metrics.IncrementResponsesScored()

	session.QuestionsAsked++
	session.CurrentQuestionID = nil

	var next *models.Question
	if session.QuestionsAsked < e.cfg.MaxQuestions {
		if err := e.store.UpdateSession(ctx, session); err != nil {
			return nil, nil, fmt.Errorf("failed to update session: %w", err)
		}
		next, err = e.askNextQuestion(ctx, session, questions)
		if err != nil {
			return nil, nil, err
		}
		e.emitEvaluated(sessionID, evaluation, next)
	} else {
		now := time.Now()
		session.Status = models.SessionStatusCompleted
		session.CompletedAt = &now
		if err := e.store.UpdateSession(ctx, session); err != nil {
			return nil, nil, fmt.Errorf("failed to complete session: %w", err)
		}
		e.metrics.IncrementSessionsCompleted()
		e.emitEvaluated(sessionID, evaluation, nil)

		summary, err := e.Summary(ctx, session)
		if err != nil {
			return nil, nil, err
		}
		e.emitCompleted(sessionID, summary)
		slog.Info("Session completed after final question", "session_id", sessionID)
	}

	e.touch(sessionID)
	return evaluation, next, nil
}

// askNextQuestion generates and persists the next question and makes it the
// session's current question. prior may be nil; it is refetched when absent.
func (e *SessionEngine) askNextQuestion(ctx context.Context, session *models.Session, prior []models.Question) (*models.Question, error) {
	if prior == nil {
		var err error
		prior, err = e.store.GetQuestions(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load questions: %w", err)
		}
	}

	draft := e.orchestrator.NextQuestion(ctx, session, prior)
	question := &models.Question{
		SessionID:      session.ID,
		SequenceNumber: len(prior) + 1,
		Text:           draft.Text,
		Category:       draft.Category,
		Difficulty:     draft.Difficulty,
		GeneratedBy:    draft.GeneratedBy,
	}
	if err := e.store.CreateQuestion(ctx, question); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}

	session.CurrentQuestionID = &question.ID
	if err := e.store.UpdateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to set current question: %w", err)
	}

	e.metrics.IncrementQuestionsAsked()
	e.touch(session.ID)
	return question, nil
}

func (e *SessionEngine) persistEvaluation(ctx context.Context, session *models.Session, response *models.Response, scored ScoredEvaluation) (*models.Evaluation, error) {
	strengths, err := json.Marshal(scored.Strengths)
	if err != nil {
		return nil, fmt.Errorf("failed to encode strengths: %w", err)
	}
	improvements, err := json.Marshal(scored.Improvements)
	if err != nil {
		return nil, fmt.Errorf("failed to encode improvements: %w", err)
	}

	evaluation := &models.Evaluation{
		SessionID:      session.ID,
		ResponseID:     response.ID,
		SituationScore: scored.Situation,
		TaskScore:      scored.Task,
		ActionScore:    scored.Action,
		ResultScore:    scored.Result,
		OverallScore:   scored.Overall,
		Strengths:      string(strengths),
		Improvements:   string(improvements),
		ModelAnswer:    scored.ModelAnswer,
		ComputedBy:     scored.ComputedBy,
	}
	if err := e.store.CreateEvaluation(ctx, evaluation); err != nil {
		return nil, fmt.Errorf("failed to save evaluation: %w", err)
	}
	return evaluation, nil
}

// acquire marks the session busy, rejecting if a turn is already in flight.
func (e *SessionEngine) acquire(sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(sessionID)
	if st.busy {
		return ErrSessionBusy
	}
	st.busy = true
	return nil
}

func (e *SessionEngine) release(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.sessions[sessionID]; ok {
		st.busy = false
	}
}

func (e *SessionEngine) currentEpoch(sessionID string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(sessionID).epoch
}

func (e *SessionEngine) touch(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state(sessionID).lastActivity = time.Now()
}

func (e *SessionEngine) emitQuestion(sessionID string, question *models.Question) {
	e.mu.Lock()
	sink := e.state(sessionID).sink
	e.mu.Unlock()
	if sink != nil {
		sink.QuestionGenerated(sessionID, question)
	}
}

func (e *SessionEngine) emitEvaluated(sessionID string, evaluation *models.Evaluation, next *models.Question) {
	e.mu.Lock()
	sink := e.state(sessionID).sink
	e.mu.Unlock()
	if sink != nil {
		sink.ResponseEvaluated(sessionID, evaluation, next)
	}
}

func (e *SessionEngine) emitCompleted(sessionID string, summary *SessionSummary) {
	e.mu.Lock()
	sink := e.state(sessionID).sink
	e.mu.Unlock()
	if sink != nil {
		sink.SessionCompleted(sessionID, summary)
	}
}

// idleSweeper completes sessions with no activity for longer than the idle
// timeout so abandoned interviews do not stay active forever.
func (e *SessionEngine) idleSweeper() {
	if e.cfg.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.IdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-e.done:
			return
		case now := <-ticker.C:
			e.sweepIdle(now)
		}
	}
}

func (e *SessionEngine) sweepIdle(now time.Time) {
	e.mu.Lock()
	var stale []string
	for id, st := range e.sessions {
		if !st.busy && now.Sub(st.lastActivity) > e.cfg.IdleTimeout {
			stale = append(stale, id)
		}
	}
	e.mu.Unlock()

	for _, id := range stale {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		session, err := e.store.GetSession(ctx, id)
		if err == nil && !session.IsTerminal() {
			if _, err := e.Complete(ctx, id, session.OwnerID); err != nil {
				slog.Error("Failed to complete idle session", "session_id", id, "error", err)
			} else {
				slog.Info("Idle session auto-completed", "session_id", id)
			}
		}
		cancel()

		e.mu.Lock()
		delete(e.sessions, id)
		e.mu.Unlock()
	}
}
