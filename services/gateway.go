package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/prepdeck/coach/models"
	"github.com/prepdeck/coach/repository"
	"github.com/prepdeck/coach/websocket"
)

// Inbound frame types.
const (
	FrameAuthenticate = "authenticate"
	FrameJoinSession  = "join-session"
	FrameVoiceStart   = "voice-start"
	FrameVoiceChunk   = "voice-chunk"
	FrameVoiceEnd     = "voice-end"
	FrameSubmitText   = "submit-text-response"
	FramePauseSession = "pause-session"
	FrameEndSession   = "end-session"
)

// Outbound frame types.
const (
	FrameAuthenticated         = "authenticated"
	FrameSessionJoined         = "session-joined"
	FrameQuestionGenerated     = "question-generated"
	FrameTranscriptionComplete = "transcription-complete"
	FrameResponseEvaluated     = "response-evaluated"
	FrameSessionCompleted      = "session-completed"
	FrameError                 = "error"
)

// Frame is the wire shape for both directions. Unused fields are omitted.
type Frame struct {
	Type        string          `json:"type"`
	Token       string          `json:"token,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	QuestionID  string          `json:"question_id,omitempty"`
	Text        string          `json:"text,omitempty"`
	ChunkIndex  int             `json:"chunk_index,omitempty"`
	AudioBase64 string          `json:"audio_base64,omitempty"`
	IsLast      bool            `json:"is_last,omitempty"`
	TotalChunks int             `json:"total_chunks,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// errorFrame is the outbound error shape. Kind is machine-readable; clients
// branch on it, not on the message text.
type errorFrame struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Gateway dispatches WebSocket frames to the session engine. The first frame
// on every connection must be authenticate; everything else is rejected with
// an unauthenticated error until then. Frames are handled synchronously per
// connection to preserve event ordering.
type Gateway struct {
	engine  *SessionEngine
	auth    *AuthService
	voice   *VoiceBufferSet
	stt     SpeechToText
	metrics *Metrics
}

func NewGateway(engine *SessionEngine, auth *AuthService, voice *VoiceBufferSet, stt SpeechToText, metrics *Metrics) *Gateway {
	return &Gateway{
		engine:  engine,
		auth:    auth,
		voice:   voice,
		stt:     stt,
		metrics: metrics,
	}
}

// HandleMessage processes one inbound frame for a client.
func (g *Gateway) HandleMessage(client *websocket.Client, raw []byte) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.sendError(client, "bad-request", "malformed frame")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if frame.Type == FrameAuthenticate {
		g.handleAuthenticate(ctx, client, frame)
		return
	}

	if client.GetUserID() == "" {
		g.sendError(client, "unauthenticated", "authenticate first")
		return
	}

	switch frame.Type {
	case FrameJoinSession:
		g.handleJoinSession(ctx, client, frame)
	case FrameVoiceStart:
		g.handleVoiceStart(client, frame)
	case FrameVoiceChunk:
		g.handleVoiceChunk(client, frame)
	case FrameVoiceEnd:
		g.handleVoiceEnd(ctx, client, frame)
	case FrameSubmitText:
		g.handleSubmitText(ctx, client, frame)
	case FramePauseSession:
		g.handlePause(ctx, client)
	case FrameEndSession:
		g.handleEnd(ctx, client)
	default:
		g.sendError(client, "bad-request", "unknown frame type: "+frame.Type)
	}
}

// HandleDisconnect releases per-connection engine state. Voice buffers are
// kept; the janitor reclaims them if the client never returns.
func (g *Gateway) HandleDisconnect(client *websocket.Client) {
	if sessionID := client.GetSessionID(); sessionID != "" {
		g.engine.DetachSink(sessionID, clientSink{client: client})
	}
}

func (g *Gateway) handleAuthenticate(ctx context.Context, client *websocket.Client, frame Frame) {
	if frame.Token == "" {
		g.sendError(client, "unauthenticated", "token is required")
		return
	}

	user, err := g.auth.VerifyAccessToken(ctx, frame.Token)
	if err != nil {
		g.sendError(client, "unauthenticated", "invalid token")
		return
	}

	client.SetIdentity(user.ID)
	g.send(client, map[string]interface{}{
		"type": FrameAuthenticated,
		"user": publicUser(user),
	})
	slog.Info("WebSocket authenticated", "conn_id", client.ConnID, "user_id", user.ID)
}

func (g *Gateway) handleJoinSession(ctx context.Context, client *websocket.Client, frame Frame) {
	if frame.SessionID == "" {
		g.sendError(client, "bad-request", "session_id is required")
		return
	}

	session, err := g.engine.GetSession(ctx, frame.SessionID, client.GetUserID())
	if err != nil {
		g.sendError(client, "not-found", "session not found")
		return
	}
	if session.IsTerminal() {
		g.sendError(client, "invalid-transition", "session is completed")
		return
	}

	if prev := client.GetSessionID(); prev != "" && prev != session.ID {
		g.engine.DetachSink(prev, clientSink{client: client})
	}

	client.SetSession(session.ID)
	g.engine.AttachSink(session.ID, clientSink{client: client})

	g.send(client, map[string]interface{}{
		"type":    FrameSessionJoined,
		"session": session,
	})
	slog.Info("Client joined session", "conn_id", client.ConnID, "session_id", session.ID)
}

func (g *Gateway) handleVoiceStart(client *websocket.Client, frame Frame) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}
	if frame.QuestionID == "" {
		g.sendError(client, "bad-request", "question_id is required")
		return
	}
	if g.stt == nil {
		g.sendError(client, "internal", "voice transcription is not configured")
		return
	}

	if err := g.voice.Start(sessionID, frame.QuestionID); err != nil {
		g.sendVoiceError(client, err)
		return
	}
}

func (g *Gateway) handleVoiceChunk(client *websocket.Client, frame Frame) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}

	data, err := base64.StdEncoding.DecodeString(frame.AudioBase64)
	if err != nil {
		g.sendError(client, "bad-request", "invalid audio encoding")
		return
	}

	if err := g.voice.AppendChunk(sessionID, frame.QuestionID, frame.ChunkIndex, data, frame.IsLast); err != nil {
		g.sendVoiceError(client, err)
		return
	}
}

func (g *Gateway) handleVoiceEnd(ctx context.Context, client *websocket.Client, frame Frame) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}
	if g.stt == nil {
		g.voice.Abandon(sessionID)
		g.sendError(client, "internal", "voice transcription is not configured")
		return
	}

	if frame.TotalChunks > 0 {
		if err := g.voice.SetExpectedTotal(sessionID, frame.QuestionID, frame.TotalChunks); err != nil {
			g.sendVoiceError(client, err)
			return
		}
	}

	audio, err := g.voice.Finalize(sessionID, frame.QuestionID)
	if err != nil {
		g.sendVoiceError(client, err)
		return
	}

	transcript, err := g.stt.Transcribe(ctx, audio)
	if err != nil {
		slog.Error("Transcription failed", "session_id", sessionID, "error", err)
		g.sendError(client, "internal", "transcription failed")
		return
	}
	g.metrics.IncrementVoiceTurns()

	g.send(client, map[string]interface{}{
		"type":        FrameTranscriptionComplete,
		"question_id": frame.QuestionID,
		"transcript":  transcript,
	})

	g.submit(ctx, client, frame.QuestionID, transcript, models.InputMethodVoice)
}

func (g *Gateway) handleSubmitText(ctx context.Context, client *websocket.Client, frame Frame) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}
	g.submit(ctx, client, frame.QuestionID, frame.Text, models.InputMethodText)
}

// submit runs a turn through the engine. Success events reach the client
// through the attached sink, so only errors are sent here.
func (g *Gateway) submit(ctx context.Context, client *websocket.Client, questionID, text, inputMethod string) {
	sessionID := client.GetSessionID()
	_, _, err := g.engine.SubmitResponse(ctx, sessionID, client.GetUserID(), questionID, text, inputMethod)
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrStaleQuestion):
		g.sendError(client, "stale-question", err.Error())
	case errors.Is(err, ErrSessionBusy):
		g.sendError(client, "session-busy", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		g.sendError(client, "invalid-transition", err.Error())
	case errors.Is(err, repository.ErrNotFound):
		g.sendError(client, "not-found", "session not found")
	default:
		slog.Error("Response submission failed", "session_id", sessionID, "error", err)
		g.sendError(client, "internal", "submission failed")
	}
}

func (g *Gateway) handlePause(ctx context.Context, client *websocket.Client) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}

	g.voice.Abandon(sessionID)
	if _, err := g.engine.Pause(ctx, sessionID, client.GetUserID()); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			g.sendError(client, "invalid-transition", err.Error())
		} else {
			g.sendError(client, "internal", "pause failed")
		}
	}
}

func (g *Gateway) handleEnd(ctx context.Context, client *websocket.Client) {
	sessionID := client.GetSessionID()
	if sessionID == "" {
		g.sendError(client, "bad-request", "join a session first")
		return
	}

	g.voice.Abandon(sessionID)
	if _, err := g.engine.Complete(ctx, sessionID, client.GetUserID()); err != nil {
		slog.Error("Failed to end session", "session_id", sessionID, "error", err)
		g.sendError(client, "internal", "end failed")
	}
}

func (g *Gateway) sendVoiceError(client *websocket.Client, err error) {
	switch {
	case errors.Is(err, ErrBufferExists):
		g.sendError(client, "voice-in-progress", err.Error())
	case errors.Is(err, ErrNoBuffer):
		g.sendError(client, "no-voice-turn", err.Error())
	case errors.Is(err, ErrIncompleteStream):
		g.sendError(client, "incomplete-stream", err.Error())
	default:
		g.sendError(client, "internal", err.Error())
	}
}

func (g *Gateway) send(client *websocket.Client, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal frame", "error", err)
		return
	}
	enqueue(client, data)
}

// enqueue hands a frame to the client's write pump. A full queue means the
// client is not draining; the connection is killed rather than delivering a
// gapped event stream.
func enqueue(client *websocket.Client, data []byte) {
	if client.Dead() {
		return
	}
	select {
	case client.Send <- data:
	default:
		slog.Warn("Client send queue overflow, dropping connection", "conn_id", client.ConnID)
		client.Kill()
	}
}

func (g *Gateway) sendError(client *websocket.Client, kind, message string) {
	g.send(client, errorFrame{Type: FrameError, Kind: kind, Message: message})
}

// clientSink delivers engine events to one WebSocket client. Comparable by
// the client pointer so DetachSink only removes its own registration.
type clientSink struct {
	client *websocket.Client
}

func (s clientSink) QuestionGenerated(sessionID string, question *models.Question) {
	s.deliver(map[string]interface{}{
		"type":       FrameQuestionGenerated,
		"session_id": sessionID,
		"question":   question,
	})
}

func (s clientSink) ResponseEvaluated(sessionID string, evaluation *models.Evaluation, next *models.Question) {
	payload := map[string]interface{}{
		"type":       FrameResponseEvaluated,
		"session_id": sessionID,
		"evaluation": evaluation,
	}
	if next != nil {
		payload["next_question"] = next
	}
	s.deliver(payload)
}

func (s clientSink) SessionCompleted(sessionID string, summary *SessionSummary) {
	s.deliver(map[string]interface{}{
		"type":       FrameSessionCompleted,
		"session_id": sessionID,
		"summary":    summary,
	})
}

func (s clientSink) deliver(payload map[string]interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}
	enqueue(s.client, data)
}
