package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/prepdeck/coach/models"
)

const (
	scoreMin  = 1.0
	scoreMax  = 5.0
	scoreBase = 3.0
)

// ScoredEvaluation is the output shape shared by both scoring paths.
// Callers only learn which path ran through ComputedBy.
type ScoredEvaluation struct {
	Situation    float64  `json:"situation"`
	Task         float64  `json:"task"`
	Action       float64  `json:"action"`
	Result       float64  `json:"result"`
	Overall      float64  `json:"overall"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	ModelAnswer  string   `json:"model_answer"`
	ComputedBy   string   `json:"computed_by"`
}

// Vocabulary is the versioned keyword table driving the heuristic scorer.
// The heuristic's behavior is data, not buried logic: changing the lists
// changes the scoring without touching code.
type Vocabulary struct {
	Version      string
	ContextWords []string
	ActionVerbs  []string
	ResultWords  []string
}

// DefaultVocabulary returns the scoring table shipped with the engine.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Version: "2024-06",
		ContextWords: []string{
			"when i", "while working", "during", "at the time", "my role",
			"the situation", "the context", "the project", "we were",
			"last year", "previously", "in my previous",
		},
		ActionVerbs: []string{
			"led", "implemented", "designed", "built", "drove", "coordinated",
			"negotiated", "launched", "migrated", "automated", "refactored",
			"organized", "initiated", "analyzed", "resolved", "architected",
		},
		ResultWords: []string{
			"result", "reduce", "increas", "improv", "sav", "achiev",
			"deliver", "impact", "outcome", "grew", "growth", "revenue",
			"faster", "fewer", "percent", "%",
		},
	}
}

// Scorer evaluates responses against the STAR rubric. The AI path asks the
// text service for structured scores; the heuristic path is a pure function
// of the response text and the vocabulary, with no network or randomness.
type Scorer struct {
	generator TextGenerator
	vocab     Vocabulary
	metrics   *Metrics
}

func NewScorer(generator TextGenerator, vocab Vocabulary, metrics *Metrics) *Scorer {
	return &Scorer{
		generator: generator,
		vocab:     vocab,
		metrics:   metrics,
	}
}

// Evaluate scores a response. It never returns an error: any AI failure
// falls through to the heuristic path.
func (s *Scorer) Evaluate(ctx context.Context, responseText string, question *models.Question) ScoredEvaluation {
	if s.generator != nil {
		evaluation, err := s.aiEvaluate(ctx, responseText, question)
		if s.metrics != nil {
			s.metrics.IncrementAICall(err != nil)
		}
		if err == nil {
			return evaluation
		}
		slog.Warn("AI evaluation failed, using heuristic fallback", "error", err, "question_id", question.ID)
	}

	return s.HeuristicEvaluate(responseText, question)
}

type evaluationPayload struct {
	Situation    float64  `json:"situation"`
	Task         float64  `json:"task"`
	Action       float64  `json:"action"`
	Result       float64  `json:"result"`
	Overall      float64  `json:"overall"`
	Strengths    []string `json:"strengths"`
	Improvements []string `json:"improvements"`
	ModelAnswer  string   `json:"model_answer"`
}

func (s *Scorer) aiEvaluate(ctx context.Context, responseText string, question *models.Question) (ScoredEvaluation, error) {
	prompt := s.buildEvaluationPrompt(responseText, question)

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return ScoredEvaluation{}, fmt.Errorf("AI call failed: %w", err)
	}

	payload, err := ExtractPayload(raw)
	if err != nil {
		return ScoredEvaluation{}, fmt.Errorf("no payload in AI response: %w", err)
	}

	var parsed evaluationPayload
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return ScoredEvaluation{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if parsed.Overall == 0 {
		return ScoredEvaluation{}, fmt.Errorf("%w: missing overall score", ErrMalformedPayload)
	}

	return ScoredEvaluation{
		Situation:    clampScore(parsed.Situation),
		Task:         clampScore(parsed.Task),
		Action:       clampScore(parsed.Action),
		Result:       clampScore(parsed.Result),
		Overall:      clampScore(parsed.Overall),
		Strengths:    parsed.Strengths,
		Improvements: parsed.Improvements,
		ModelAnswer:  parsed.ModelAnswer,
		ComputedBy:   models.ComputedByAI,
	}, nil
}

func (s *Scorer) buildEvaluationPrompt(responseText string, question *models.Question) string {
	var prompt strings.Builder

	prompt.WriteString("You are evaluating an interview answer against the STAR rubric ")
	prompt.WriteString("(Situation, Task, Action, Result). Score each dimension and the overall answer from 1.0 to 5.0.\n\n")
	prompt.WriteString("Question: ")
	prompt.WriteString(question.Text)
	prompt.WriteString("\n\nAnswer:\n")
	prompt.WriteString(responseText)
	prompt.WriteString("\n\nRespond with only a JSON object in this form: ")
	prompt.WriteString(`{"situation": 0.0, "task": 0.0, "action": 0.0, "result": 0.0, "overall": 0.0, "strengths": ["..."], "improvements": ["..."], "model_answer": "..."}`)

	return prompt.String()
}

// HeuristicEvaluate computes a deterministic evaluation from the response
// text alone. Same text in, same scores and feedback out.
func (s *Scorer) HeuristicEvaluate(responseText string, question *models.Question) ScoredEvaluation {
	lower := strings.ToLower(responseText)
	wordCount := len(strings.Fields(responseText))

	score := scoreBase

	// Word-count bands are exclusive; only one applies, widest range first.
	switch {
	case wordCount > 80:
		score += 0.5
	case wordCount >= 40 && wordCount <= 80:
		score += 0.2
	case wordCount < 20:
		score -= 1.0
	}

	hasNumeral := containsNumeral(responseText)
	hasContext := containsAny(lower, s.vocab.ContextWords)
	hasAction := containsAny(lower, s.vocab.ActionVerbs)
	hasResult := containsAny(lower, s.vocab.ResultWords)

	if hasNumeral {
		score += 0.4
	}
	if hasResult {
		score += 0.3 // outcome vocabulary
	}
	if hasContext {
		score += 0.3
	}
	if hasAction {
		score += 0.4
	}
	if hasResult {
		score += 0.3 // counted again under the results dimension
	}

	overall := clampScore(score)

	var strengths, improvements []string
	if hasContext {
		strengths = append(strengths, "You set the scene clearly before describing what you did.")
	} else {
		improvements = append(improvements, "Open with a sentence of context: where you were, what was at stake.")
	}
	if hasAction {
		strengths = append(strengths, "You used strong action verbs that show personal ownership.")
	} else {
		improvements = append(improvements, "Describe the specific actions you took, using first-person verbs like 'led' or 'implemented'.")
	}
	if hasResult {
		strengths = append(strengths, "You described the outcome of your work, not just the effort.")
	} else {
		improvements = append(improvements, "Close with the result: what changed because of what you did.")
	}
	if hasNumeral {
		strengths = append(strengths, "You quantified your impact with concrete numbers.")
	} else {
		improvements = append(improvements, "Quantify your impact where you can, even with rough figures.")
	}
	if wordCount < 40 {
		improvements = append(improvements, "Aim for a fuller answer of 60 to 90 words so each STAR element gets covered.")
	}

	if len(improvements) == 0 {
		improvements = append(improvements,
			"Practice delivering this answer aloud to tighten the pacing.",
			"Prepare a second example for the same theme in case the interviewer probes further.")
	}

	return ScoredEvaluation{
		Situation:    dimensionScore(overall, hasContext),
		Task:         dimensionScore(overall, hasContext || hasResult),
		Action:       dimensionScore(overall, hasAction),
		Result:       dimensionScore(overall, hasResult || hasNumeral),
		Overall:      overall,
		Strengths:    strengths,
		Improvements: improvements,
		ModelAnswer:  s.buildModelAnswer(question),
		ComputedBy:   models.ComputedByHeuristic,
	}
}

func (s *Scorer) buildModelAnswer(question *models.Question) string {
	topic := "the question"
	if question != nil && question.Category != "" {
		topic = strings.ReplaceAll(question.Category, "-", " ")
	}
	return fmt.Sprintf("A strong answer to %s follows the STAR structure: one sentence of situation, "+
		"a clear statement of your task, two or three concrete actions you personally took, "+
		"and a measurable result that shows the impact.", topic)
}

func dimensionScore(overall float64, signal bool) float64 {
	if signal {
		return clampScore(overall + 0.4)
	}
	return clampScore(overall - 0.4)
}

func clampScore(score float64) float64 {
	if score < scoreMin {
		score = scoreMin
	}
	if score > scoreMax {
		score = scoreMax
	}
	return math.Round(score*10) / 10
}

func containsNumeral(text string) bool {
	for _, r := range text {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
