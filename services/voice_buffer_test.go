package services

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func newTestBuffers(t *testing.T) *VoiceBufferSet {
	t.Helper()
	set := NewVoiceBufferSet(time.Minute)
	t.Cleanup(set.Close)
	return set
}

func TestVoiceBufferAssembly(t *testing.T) {
	tests := []struct {
		name   string
		chunks []struct {
			index  int
			data   string
			isLast bool
		}
		total int // voice-end announcement; 0 means rely on isLast
		want  string
	}{
		{
			name: "In order with last flag",
			chunks: []struct {
				index  int
				data   string
				isLast bool
			}{
				{0, "aa", false},
				{1, "bb", false},
				{2, "cc", true},
			},
			want: "aabbcc",
		},
		{
			name: "Out of order with announced total",
			chunks: []struct {
				index  int
				data   string
				isLast bool
			}{
				{2, "cc", false},
				{0, "aa", false},
				{1, "bb", false},
			},
			total: 3,
			want:  "aabbcc",
		},
		{
			name: "Single chunk",
			chunks: []struct {
				index  int
				data   string
				isLast bool
			}{
				{0, "solo", true},
			},
			want: "solo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := newTestBuffers(t)
			if err := set.Start("s1", "q1"); err != nil {
				t.Fatalf("Start: %v", err)
			}

			for _, c := range tt.chunks {
				if err := set.AppendChunk("s1", "q1", c.index, []byte(c.data), c.isLast); err != nil {
					t.Fatalf("AppendChunk(%d): %v", c.index, err)
				}
			}
			if tt.total > 0 {
				if err := set.SetExpectedTotal("s1", "q1", tt.total); err != nil {
					t.Fatalf("SetExpectedTotal: %v", err)
				}
			}

			audio, err := set.Finalize("s1", "q1")
			if err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if !bytes.Equal(audio, []byte(tt.want)) {
				t.Errorf("assembled audio = %q, expected %q", audio, tt.want)
			}

			// Buffer is gone after a successful finalize.
			if _, err := set.Finalize("s1", "q1"); !errors.Is(err, ErrNoBuffer) {
				t.Errorf("second Finalize error = %v, expected ErrNoBuffer", err)
			}
		})
	}
}

func TestVoiceBufferIncompleteStreamRetry(t *testing.T) {
	set := newTestBuffers(t)
	if err := set.Start("s1", "q1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := set.AppendChunk("s1", "q1", 0, []byte("aa"), false); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if err := set.AppendChunk("s1", "q1", 2, []byte("cc"), true); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}

	if _, err := set.Finalize("s1", "q1"); !errors.Is(err, ErrIncompleteStream) {
		t.Fatalf("Finalize error = %v, expected ErrIncompleteStream", err)
	}

	// The buffer survives the failure; delivering the missing chunk within
	// the grace period lets the retry succeed.
	if err := set.AppendChunk("s1", "q1", 1, []byte("bb"), false); err != nil {
		t.Fatalf("AppendChunk after failure: %v", err)
	}
	audio, err := set.Finalize("s1", "q1")
	if err != nil {
		t.Fatalf("Finalize retry: %v", err)
	}
	if string(audio) != "aabbcc" {
		t.Errorf("assembled audio = %q, expected %q", audio, "aabbcc")
	}
}

func TestVoiceBufferLifecycleErrors(t *testing.T) {
	set := newTestBuffers(t)

	if err := set.AppendChunk("s1", "q1", 0, []byte("aa"), false); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("AppendChunk without Start = %v, expected ErrNoBuffer", err)
	}
	if _, err := set.Finalize("s1", "q1"); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("Finalize without Start = %v, expected ErrNoBuffer", err)
	}

	if err := set.Start("s1", "q1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := set.Start("s1", "q2"); !errors.Is(err, ErrBufferExists) {
		t.Errorf("second Start = %v, expected ErrBufferExists", err)
	}

	// A chunk for a different question does not touch the active turn.
	if err := set.AppendChunk("s1", "q2", 0, []byte("aa"), false); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("AppendChunk for wrong question = %v, expected ErrNoBuffer", err)
	}

	if err := set.AppendChunk("s1", "q1", -1, []byte("aa"), false); err == nil {
		t.Error("negative chunk index should be rejected")
	}

	set.Abandon("s1")
	if err := set.Start("s1", "q2"); err != nil {
		t.Errorf("Start after Abandon = %v, expected success", err)
	}
}

func TestVoiceBufferSweep(t *testing.T) {
	set := newTestBuffers(t)
	if err := set.Start("s1", "q1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := set.AppendChunk("s1", "q1", 1, []byte("bb"), true); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	if _, err := set.Finalize("s1", "q1"); !errors.Is(err, ErrIncompleteStream) {
		t.Fatalf("Finalize error = %v, expected ErrIncompleteStream", err)
	}

	// Within the grace period the failed buffer survives a sweep.
	set.sweep(time.Now())
	if err := set.AppendChunk("s1", "q1", 0, []byte("aa"), false); err != nil {
		t.Fatalf("AppendChunk after sweep within grace: %v", err)
	}

	// Past the grace period it is discarded.
	set.sweep(time.Now().Add(2 * time.Minute))
	if err := set.AppendChunk("s1", "q1", 0, []byte("aa"), false); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("AppendChunk after expiry = %v, expected ErrNoBuffer", err)
	}

	// A buffer that never finalizes is reclaimed eventually.
	if err := set.Start("s2", "q1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	set.sweep(time.Now().Add(11 * time.Minute))
	if err := set.AppendChunk("s2", "q1", 0, []byte("aa"), false); !errors.Is(err, ErrNoBuffer) {
		t.Errorf("AppendChunk after stale expiry = %v, expected ErrNoBuffer", err)
	}
}

func TestVoiceBufferZeroGrace(t *testing.T) {
	set := NewVoiceBufferSet(0)
	t.Cleanup(set.Close)

	if err := set.Start("s1", "q1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := set.AppendChunk("s1", "q1", 0, []byte("abc"), true); err != nil {
		t.Fatalf("AppendChunk: %v", err)
	}
	audio, err := set.Finalize("s1", "q1")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if string(audio) != "abc" {
		t.Errorf("audio = %q, expected %q", audio, "abc")
	}
}
