package services

import (
	"sync"
	"time"
)

// Metrics tracks engine activity counters for the health endpoint.
type Metrics struct {
	mu                sync.RWMutex
	SessionsStarted   int64     `json:"sessions_started"`
	SessionsCompleted int64     `json:"sessions_completed"`
	QuestionsAsked    int64     `json:"questions_asked"`
	ResponsesScored   int64     `json:"responses_scored"`
	AICalls           int64     `json:"ai_calls"`
	AIFallbacks       int64     `json:"ai_fallbacks"`
	VoiceTurns        int64     `json:"voice_turns"`
	LastUpdateTime    time.Time `json:"last_update_time"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		LastUpdateTime: time.Now(),
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsStarted++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementSessionsCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsCompleted++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementQuestionsAsked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuestionsAsked++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementResponsesScored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponsesScored++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementAICall(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AICalls++
	if fallback {
		m.AIFallbacks++
	}
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementVoiceTurns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.VoiceTurns++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) GetSnapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		SessionsStarted:   m.SessionsStarted,
		SessionsCompleted: m.SessionsCompleted,
		QuestionsAsked:    m.QuestionsAsked,
		ResponsesScored:   m.ResponsesScored,
		AICalls:           m.AICalls,
		AIFallbacks:       m.AIFallbacks,
		VoiceTurns:        m.VoiceTurns,
		LastUpdateTime:    m.LastUpdateTime,
	}
}
