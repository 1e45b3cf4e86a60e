package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
)

const (
	ModelName = "gemini-2.5-flash"
)

// TextGenerator is the narrow contract the orchestrator and scorer depend
// on. Generate returns the raw model text; callers run it through
// ExtractPayload before trusting its structure.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiService implements TextGenerator on top of the Gemini API with a
// hard per-call timeout.
type GeminiService struct {
	genaiClient *genai.Client
	timeout     time.Duration
}

func NewGeminiService(apiKey string, timeout time.Duration) *GeminiService {
	genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		slog.Error("Failed to create genai client", "error", err)
		return nil
	}

	return &GeminiService{
		genaiClient: genaiClient,
		timeout:     timeout,
	}
}

// Generate runs a single prompt through Gemini. The call never outlives the
// configured timeout; the session engine relies on that bound.
func (g *GeminiService) Generate(ctx context.Context, prompt string) (string, error) {
	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	result, err := g.genaiClient.Models.GenerateContent(
		ctx,
		ModelName,
		genai.Text(prompt),
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}

	response := result.Text()
	slog.Info("Generated AI response", "prompt_length", len(prompt), "response_length", len(response))
	return response, nil
}

// TranscribeAudio transcribes audio using Gemini inline audio input.
func (g *GeminiService) TranscribeAudio(ctx context.Context, audioData []byte) (string, error) {
	slog.Info("Transcribing audio with Gemini", "size", len(audioData))

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if g.genaiClient == nil {
		return "", fmt.Errorf("genai client not initialized")
	}

	parts := []*genai.Part{
		genai.NewPartFromText("Transcribe only clear, intelligible speech. If the audio is silent, empty, or unintelligible, return an empty string."),
		&genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "audio/ogg",
				Data:     audioData,
			},
		},
	}

	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := g.genaiClient.Models.GenerateContent(
		ctx,
		ModelName,
		contents,
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate transcript: %w", err)
	}

	transcript := result.Text()
	slog.Info("Audio transcribed", "transcript_length", len(transcript))
	return transcript, nil
}

var (
	thinkingBlockRe = regexp.MustCompile(`(?s)<think(?:ing)?>.*?</think(?:ing)?>`)
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	// Reasoning preambles some models emit before the payload.
	reasoningPreambleRe = regexp.MustCompile(`(?im)^(?:okay|alright|sure|let me think|let's think|first,|thinking)[^\n]*\n`)
)

// StripReasoning removes embedded reasoning from model output: delimited
// thinking blocks, code fences around the payload, and known
// reasoning-preamble lines.
func StripReasoning(text string) string {
	text = thinkingBlockRe.ReplaceAllString(text, "")
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = reasoningPreambleRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// ExtractPayload strips reasoning from model output and returns the first
// balanced brace-delimited block. Returns ErrMalformedPayload when no such
// block exists.
func ExtractPayload(text string) (string, error) {
	text = StripReasoning(text)

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrMalformedPayload
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], nil
				}
			}
		}
	}

	return "", ErrMalformedPayload
}
