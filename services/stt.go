package services

import (
	"context"
	"fmt"
)

// SpeechToText converts an assembled voice recording to a transcript.
type SpeechToText interface {
	Transcribe(ctx context.Context, audioData []byte) (string, error)
}

// GeminiTranscriber implements SpeechToText via Gemini inline audio.
type GeminiTranscriber struct {
	gemini *GeminiService
}

func NewGeminiTranscriber(gemini *GeminiService) *GeminiTranscriber {
	return &GeminiTranscriber{gemini: gemini}
}

func (t *GeminiTranscriber) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	if t.gemini == nil {
		return "", fmt.Errorf("gemini service not available")
	}
	return t.gemini.TranscribeAudio(ctx, audioData)
}
