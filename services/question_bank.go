package services

import (
	_ "embed"
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed question_bank.yaml
var questionBankYAML []byte

// BankQuestion is one fallback template. Text may contain a {position}
// placeholder filled from the session's job position.
type BankQuestion struct {
	Text       string `yaml:"text"`
	Category   string `yaml:"category"`
	Difficulty string `yaml:"difficulty"`
}

type bankFile struct {
	Stages map[string][]BankQuestion `yaml:"stages"`
}

// QuestionBank is the static per-stage fallback bank. Selection is
// deterministic so the fallback path never fails and is fully testable.
type QuestionBank struct {
	stages map[string][]BankQuestion
}

// NewQuestionBank parses the embedded bank. The embedded file is validated
// at startup; an empty stage is a packaging bug, not a runtime condition.
func NewQuestionBank() (*QuestionBank, error) {
	var file bankFile
	if err := yaml.Unmarshal(questionBankYAML, &file); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}
	if len(file.Stages) == 0 {
		return nil, fmt.Errorf("question bank has no stages")
	}
	for stage, questions := range file.Stages {
		if len(questions) == 0 {
			return nil, fmt.Errorf("question bank stage %q is empty", stage)
		}
	}
	slog.Info("Question bank loaded", "stages", len(file.Stages))
	return &QuestionBank{stages: file.Stages}, nil
}

// Pick selects a template for the given stage, parameterized by job
// position. sequence is the 1-based sequence number of the question being
// generated; prior holds already-asked question texts so repeats are
// skipped while any unasked template remains.
func (b *QuestionBank) Pick(stage, jobPosition string, sequence int, prior []string) BankQuestion {
	questions, ok := b.stages[stage]
	if !ok {
		// Unknown stages fall back to the behavioral pool, which always exists.
		questions = b.stages["behavioral"]
	}

	asked := make(map[string]bool, len(prior))
	for _, text := range prior {
		asked[text] = true
	}

	start := 0
	if sequence > 0 {
		start = (sequence - 1) % len(questions)
	}
	for i := 0; i < len(questions); i++ {
		candidate := questions[(start+i)%len(questions)]
		rendered := renderTemplate(candidate, jobPosition)
		if !asked[rendered.Text] {
			return rendered
		}
	}

	// Every template was asked already; repeat deterministically rather than fail.
	return renderTemplate(questions[start], jobPosition)
}

func renderTemplate(q BankQuestion, jobPosition string) BankQuestion {
	if jobPosition == "" {
		jobPosition = "this role"
	}
	q.Text = strings.ReplaceAll(q.Text, "{position}", jobPosition)
	return q
}
