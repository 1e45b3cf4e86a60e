package services

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// voiceBuffer reassembles the chunks of one voice turn. Out-of-order
// delivery is tolerated; finalization requires every index 0..expectedTotal-1.
type voiceBuffer struct {
	sessionID     string
	questionID    string
	chunks        map[int][]byte
	expectedTotal int // 0 until the last chunk or voice-end announces it
	createdAt     time.Time
	failedAt      time.Time // set on a failed finalize; starts the grace clock
}

// VoiceBufferSet owns the ephemeral per-session voice buffers. One active
// voice turn per session at a time. Buffers that fail to finalize are kept
// for a grace period so late chunks can still arrive, then discarded by the
// janitor.
type VoiceBufferSet struct {
	mu      sync.Mutex
	buffers map[string]*voiceBuffer
	grace   time.Duration
	done    chan struct{}
}

func NewVoiceBufferSet(grace time.Duration) *VoiceBufferSet {
	set := &VoiceBufferSet{
		buffers: make(map[string]*voiceBuffer),
		grace:   grace,
		done:    make(chan struct{}),
	}
	// A non-positive grace period disables the janitor; buffers then live
	// until finalized or abandoned.
	if grace > 0 {
		go set.janitor()
	}
	return set
}

// Start allocates a buffer for a voice turn. Rejects if the session already
// has one in flight.
func (s *VoiceBufferSet) Start(sessionID, questionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buffers[sessionID]; exists {
		return ErrBufferExists
	}

	s.buffers[sessionID] = &voiceBuffer{
		sessionID:  sessionID,
		questionID: questionID,
		chunks:     make(map[int][]byte),
		createdAt:  time.Now(),
	}
	slog.Info("Voice buffer started", "session_id", sessionID, "question_id", questionID)
	return nil
}

// AppendChunk stores a chunk by index. isLast fixes the expected total at
// index+1. A duplicate index overwrites the earlier payload.
func (s *VoiceBufferSet) AppendChunk(sessionID, questionID string, index int, data []byte, isLast bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, exists := s.buffers[sessionID]
	if !exists || buffer.questionID != questionID {
		return ErrNoBuffer
	}
	if index < 0 {
		return fmt.Errorf("negative chunk index %d", index)
	}

	chunk := make([]byte, len(data))
	copy(chunk, data)
	buffer.chunks[index] = chunk
	if isLast {
		buffer.expectedTotal = index + 1
	}
	return nil
}

// SetExpectedTotal records the chunk count announced by voice-end.
func (s *VoiceBufferSet) SetExpectedTotal(sessionID, questionID string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, exists := s.buffers[sessionID]
	if !exists || buffer.questionID != questionID {
		return ErrNoBuffer
	}
	if total > 0 {
		buffer.expectedTotal = total
	}
	return nil
}

// Finalize assembles the audio in index order. On success the buffer is
// discarded. On missing chunks it returns ErrIncompleteStream and retains
// the buffer for the grace period.
func (s *VoiceBufferSet) Finalize(sessionID, questionID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buffer, exists := s.buffers[sessionID]
	if !exists || buffer.questionID != questionID {
		return nil, ErrNoBuffer
	}
	if buffer.expectedTotal <= 0 || len(buffer.chunks) != buffer.expectedTotal {
		buffer.failedAt = time.Now()
		slog.Warn("Voice stream incomplete", "session_id", sessionID,
			"received", len(buffer.chunks), "expected", buffer.expectedTotal)
		return nil, ErrIncompleteStream
	}

	var assembled bytes.Buffer
	for i := 0; i < buffer.expectedTotal; i++ {
		chunk, ok := buffer.chunks[i]
		if !ok {
			buffer.failedAt = time.Now()
			return nil, ErrIncompleteStream
		}
		assembled.Write(chunk)
	}

	delete(s.buffers, sessionID)
	slog.Info("Voice buffer finalized", "session_id", sessionID,
		"chunks", buffer.expectedTotal, "size", assembled.Len())
	return assembled.Bytes(), nil
}

// Abandon discards the session's buffer without finalizing, if any. Called
// on question transition, pause, completion, and disconnect.
func (s *VoiceBufferSet) Abandon(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.buffers[sessionID]; exists {
		delete(s.buffers, sessionID)
		slog.Info("Voice buffer abandoned", "session_id", sessionID)
	}
}

// Close stops the janitor.
func (s *VoiceBufferSet) Close() {
	close(s.done)
}

func (s *VoiceBufferSet) janitor() {
	ticker := time.NewTicker(s.grace / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep discards buffers whose failed finalize is older than the grace
// period, and buffers that never finalized within ten grace periods.
func (s *VoiceBufferSet) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sessionID, buffer := range s.buffers {
		expired := !buffer.failedAt.IsZero() && now.Sub(buffer.failedAt) > s.grace
		stale := now.Sub(buffer.createdAt) > 10*s.grace
		if expired || stale {
			delete(s.buffers, sessionID)
			slog.Info("Voice buffer expired", "session_id", sessionID, "question_id", buffer.questionID)
		}
	}
}
