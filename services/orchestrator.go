package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prepdeck/coach/models"
)

// QuestionDraft is the orchestrator's output before it is persisted as a
// Question by the engine.
type QuestionDraft struct {
	Text        string
	Category    string
	Difficulty  string
	GeneratedBy string
}

// QuestionOrchestrator produces the next question for a session: AI first,
// static bank on any failure. NextQuestion never returns an error; the
// fallback path is synchronous and total.
type QuestionOrchestrator struct {
	generator TextGenerator
	bank      *QuestionBank
	metrics   *Metrics
}

func NewQuestionOrchestrator(generator TextGenerator, bank *QuestionBank, metrics *Metrics) *QuestionOrchestrator {
	return &QuestionOrchestrator{
		generator: generator,
		bank:      bank,
		metrics:   metrics,
	}
}

type questionPayload struct {
	Question   string `json:"question"`
	Category   string `json:"category"`
	Difficulty string `json:"difficulty"`
}

// NextQuestion builds a prompt from the session context and prior question
// texts, calls the AI service, and falls back to the bank on timeout,
// malformed output, or service error.
func (o *QuestionOrchestrator) NextQuestion(ctx context.Context, session *models.Session, prior []models.Question) QuestionDraft {
	sequence := len(prior) + 1
	priorTexts := make([]string, 0, len(prior))
	for _, q := range prior {
		priorTexts = append(priorTexts, q.Text)
	}

	if o.generator != nil {
		draft, err := o.generateQuestion(ctx, session, priorTexts)
		if o.metrics != nil {
			o.metrics.IncrementAICall(err != nil)
		}
		if err == nil {
			return draft
		}
		slog.Warn("AI question generation failed, using fallback bank",
			"error", err, "session_id", session.ID, "sequence", sequence)
	}

	picked := o.bank.Pick(session.InterviewStage, session.JobPosition, sequence, priorTexts)
	return QuestionDraft{
		Text:        picked.Text,
		Category:    picked.Category,
		Difficulty:  picked.Difficulty,
		GeneratedBy: models.GeneratedByFallback,
	}
}

func (o *QuestionOrchestrator) generateQuestion(ctx context.Context, session *models.Session, priorTexts []string) (QuestionDraft, error) {
	prompt := o.buildPrompt(session, priorTexts)

	raw, err := o.generator.Generate(ctx, prompt)
	if err != nil {
		return QuestionDraft{}, fmt.Errorf("AI call failed: %w", err)
	}

	payload, err := ExtractPayload(raw)
	if err != nil {
		return QuestionDraft{}, fmt.Errorf("no payload in AI response: %w", err)
	}

	var parsed questionPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return QuestionDraft{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(parsed.Question) == "" {
		return QuestionDraft{}, fmt.Errorf("%w: empty question text", ErrMalformedPayload)
	}

	draft := QuestionDraft{
		Text:        strings.TrimSpace(parsed.Question),
		Category:    parsed.Category,
		Difficulty:  parsed.Difficulty,
		GeneratedBy: models.GeneratedByAI,
	}
	if draft.Difficulty == "" {
		draft.Difficulty = session.DifficultyLevel
	}
	return draft, nil
}

func (o *QuestionOrchestrator) buildPrompt(session *models.Session, priorTexts []string) string {
	var prompt strings.Builder

	prompt.WriteString("You are an experienced interviewer conducting a ")
	prompt.WriteString(session.InterviewStage)
	prompt.WriteString(" interview for a ")
	prompt.WriteString(session.JobPosition)
	prompt.WriteString(" position")
	if session.CompanyName != "" {
		prompt.WriteString(" at ")
		prompt.WriteString(session.CompanyName)
	}
	prompt.WriteString(".\n\n")

	prompt.WriteString(fmt.Sprintf("Difficulty level: %s.\n", session.DifficultyLevel))
	if session.PreferredLanguage != "" {
		prompt.WriteString(fmt.Sprintf("Ask the question in the language with code %s.\n", session.PreferredLanguage))
	}

	if len(priorTexts) > 0 {
		prompt.WriteString("\nQuestions already asked in this session (do NOT repeat or rephrase these):\n")
		for i, text := range priorTexts {
			prompt.WriteString(fmt.Sprintf("%d. %s\n", i+1, text))
		}
	}

	prompt.WriteString("\nGenerate exactly one new interview question appropriate for this stage and role.\n")
	prompt.WriteString(`Respond with only a JSON object in this form: {"question": "...", "category": "...", "difficulty": "easy|medium|hard"}`)

	return prompt.String()
}
