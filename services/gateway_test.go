package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/prepdeck/coach/models"
	"github.com/prepdeck/coach/repository"
	"github.com/prepdeck/coach/websocket"
)

type stubTranscriber struct {
	transcript string
	err        error
	lastAudio  []byte
}

func (s *stubTranscriber) Transcribe(ctx context.Context, audioData []byte) (string, error) {
	s.lastAudio = audioData
	return s.transcript, s.err
}

type gatewayFixture struct {
	gateway *Gateway
	engine  *SessionEngine
	auth    *AuthService
	store   repository.Store
	stt     *stubTranscriber
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	engine := newTestEngine(t, store, nil, 2)
	auth := NewAuthService(store, "test-secret")
	voice := NewVoiceBufferSet(time.Minute)
	t.Cleanup(voice.Close)
	stt := &stubTranscriber{transcript: mediumAnswer}
	return &gatewayFixture{
		gateway: NewGateway(engine, auth, voice, stt, NewMetrics()),
		engine:  engine,
		auth:    auth,
		store:   store,
		stt:     stt,
	}
}

// signup registers a user and returns their ID and an access token.
func (f *gatewayFixture) signup(t *testing.T, email string) (string, string) {
	t.Helper()
	resp, err := f.auth.Signup(context.Background(), email, "hunter2hunter2", "Test User")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	return resp.User.ID, resp.AccessToken
}

func newWSClient() *websocket.Client {
	return &websocket.Client{
		Send:   make(chan []byte, 32),
		ConnID: "test-conn",
	}
}

func sendFrame(t *testing.T, g *Gateway, client *websocket.Client, frame interface{}) {
	t.Helper()
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	g.HandleMessage(client, raw)
}

// nextFrame pops one outbound frame, failing if none is pending.
func nextFrame(t *testing.T, client *websocket.Client) map[string]interface{} {
	t.Helper()
	select {
	case raw := <-client.Send:
		var decoded map[string]interface{}
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal outbound frame: %v", err)
		}
		return decoded
	default:
		t.Fatal("no outbound frame pending")
		return nil
	}
}

func expectFrameType(t *testing.T, client *websocket.Client, frameType string) map[string]interface{} {
	t.Helper()
	frame := nextFrame(t, client)
	if frame["type"] != frameType {
		t.Fatalf("frame type = %v, expected %q (frame: %v)", frame["type"], frameType, frame)
	}
	return frame
}

func expectErrorKind(t *testing.T, client *websocket.Client, kind string) {
	t.Helper()
	frame := expectFrameType(t, client, FrameError)
	if frame["kind"] != kind {
		t.Fatalf("error kind = %v, expected %q (frame: %v)", frame["kind"], kind, frame)
	}
}

func (f *gatewayFixture) authenticate(t *testing.T, client *websocket.Client, token string) {
	t.Helper()
	sendFrame(t, f.gateway, client, Frame{Type: FrameAuthenticate, Token: token})
	expectFrameType(t, client, FrameAuthenticated)
}

func (f *gatewayFixture) join(t *testing.T, client *websocket.Client, sessionID string) {
	t.Helper()
	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession, SessionID: sessionID})
	expectFrameType(t, client, FrameSessionJoined)
}

func TestGatewayRejectsUnauthenticatedFrames(t *testing.T) {
	f := newGatewayFixture(t)
	client := newWSClient()

	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession, SessionID: "whatever"})
	expectErrorKind(t, client, "unauthenticated")

	f.gateway.HandleMessage(client, []byte("{not json"))
	expectErrorKind(t, client, "bad-request")

	sendFrame(t, f.gateway, client, Frame{Type: FrameAuthenticate, Token: "garbage"})
	expectErrorKind(t, client, "unauthenticated")

	sendFrame(t, f.gateway, client, Frame{Type: FrameAuthenticate})
	expectErrorKind(t, client, "unauthenticated")
}

func TestGatewayAuthenticate(t *testing.T) {
	f := newGatewayFixture(t)
	_, token := f.signup(t, "ws@example.com")
	client := newWSClient()

	sendFrame(t, f.gateway, client, Frame{Type: FrameAuthenticate, Token: token})
	frame := expectFrameType(t, client, FrameAuthenticated)

	user, ok := frame["user"].(map[string]interface{})
	if !ok {
		t.Fatalf("user payload missing: %v", frame)
	}
	if user["email"] != "ws@example.com" {
		t.Errorf("user email = %v", user["email"])
	}
	if client.GetUserID() == "" {
		t.Error("client identity not set after authenticate")
	}
}

func TestGatewayJoinSession(t *testing.T) {
	f := newGatewayFixture(t)
	userID, token := f.signup(t, "join@example.com")
	client := newWSClient()
	f.authenticate(t, client, token)

	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession})
	expectErrorKind(t, client, "bad-request")

	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession, SessionID: "missing"})
	expectErrorKind(t, client, "not-found")

	session, err := f.engine.CreateSession(context.Background(), userID, CreateSessionRequest{
		JobPosition:    "SRE",
		InterviewStage: "behavioral",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	f.join(t, client, session.ID)
	if client.GetSessionID() != session.ID {
		t.Errorf("client session = %q, expected %q", client.GetSessionID(), session.ID)
	}

	// Sessions belonging to someone else are invisible.
	otherID, _ := f.signup(t, "other@example.com")
	otherSession, err := f.engine.CreateSession(context.Background(), otherID, CreateSessionRequest{
		JobPosition:    "SRE",
		InterviewStage: "behavioral",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession, SessionID: otherSession.ID})
	expectErrorKind(t, client, "not-found")

	// Completed sessions cannot be rejoined.
	if _, err := f.engine.Complete(context.Background(), session.ID, userID); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	expectFrameType(t, client, FrameSessionCompleted)
	sendFrame(t, f.gateway, client, Frame{Type: FrameJoinSession, SessionID: session.ID})
	expectErrorKind(t, client, "invalid-transition")
}

func TestGatewayTextTurn(t *testing.T) {
	f := newGatewayFixture(t)
	userID, token := f.signup(t, "turn@example.com")
	client := newWSClient()
	f.authenticate(t, client, token)

	session, err := f.engine.CreateSession(context.Background(), userID, CreateSessionRequest{
		JobPosition:    "Backend Engineer",
		InterviewStage: "behavioral",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.join(t, client, session.ID)

	_, q1, err := f.engine.Activate(context.Background(), session.ID, userID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	expectFrameType(t, client, FrameQuestionGenerated)

	// A stale question ID gets no evaluation, only an error frame.
	sendFrame(t, f.gateway, client, Frame{Type: FrameSubmitText, QuestionID: "bogus", Text: mediumAnswer})
	expectErrorKind(t, client, "stale-question")

	sendFrame(t, f.gateway, client, Frame{Type: FrameSubmitText, QuestionID: q1.ID, Text: mediumAnswer})
	frame := expectFrameType(t, client, FrameResponseEvaluated)
	if frame["evaluation"] == nil {
		t.Error("evaluation missing from response-evaluated frame")
	}
	next, ok := frame["next_question"].(map[string]interface{})
	if !ok {
		t.Fatalf("next_question missing: %v", frame)
	}

	// Final answer completes the session over the same connection.
	sendFrame(t, f.gateway, client, Frame{Type: FrameSubmitText, QuestionID: next["id"].(string), Text: shortAnswer})
	frame = expectFrameType(t, client, FrameResponseEvaluated)
	if _, ok := frame["next_question"]; ok {
		t.Error("next_question present on the final evaluation")
	}
	expectFrameType(t, client, FrameSessionCompleted)
}

func TestGatewayVoiceTurn(t *testing.T) {
	f := newGatewayFixture(t)
	userID, token := f.signup(t, "voice@example.com")
	client := newWSClient()
	f.authenticate(t, client, token)

	session, err := f.engine.CreateSession(context.Background(), userID, CreateSessionRequest{
		JobPosition:    "Backend Engineer",
		InterviewStage: "behavioral",
		VoiceEnabled:   true,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.join(t, client, session.ID)

	_, q1, err := f.engine.Activate(context.Background(), session.ID, userID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	expectFrameType(t, client, FrameQuestionGenerated)

	// voice-end without a started stream is rejected.
	sendFrame(t, f.gateway, client, Frame{Type: FrameVoiceEnd, QuestionID: q1.ID})
	expectErrorKind(t, client, "no-voice-turn")

	sendFrame(t, f.gateway, client, Frame{Type: FrameVoiceStart, QuestionID: q1.ID})
	chunks := [][]byte{[]byte("first-"), []byte("second")}
	for i, chunk := range chunks {
		sendFrame(t, f.gateway, client, Frame{
			Type:        FrameVoiceChunk,
			QuestionID:  q1.ID,
			ChunkIndex:  i,
			AudioBase64: base64.StdEncoding.EncodeToString(chunk),
			IsLast:      i == len(chunks)-1,
		})
	}
	sendFrame(t, f.gateway, client, Frame{Type: FrameVoiceEnd, QuestionID: q1.ID, TotalChunks: 2})

	frame := expectFrameType(t, client, FrameTranscriptionComplete)
	if frame["transcript"] != mediumAnswer {
		t.Errorf("transcript = %v", frame["transcript"])
	}
	if string(f.stt.lastAudio) != "first-second" {
		t.Errorf("assembled audio = %q, expected %q", f.stt.lastAudio, "first-second")
	}
	expectFrameType(t, client, FrameResponseEvaluated)

	evaluations, err := f.store.GetEvaluations(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetEvaluations: %v", err)
	}
	if len(evaluations) != 1 {
		t.Fatalf("len(evaluations) = %d, expected 1", len(evaluations))
	}

	after, err := f.store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if after.QuestionsAsked != 1 {
		t.Errorf("QuestionsAsked = %d, expected 1 after the voice turn", after.QuestionsAsked)
	}

	sendFrame(t, f.gateway, client, Frame{Type: FramePauseSession})
	paused, err := f.store.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if paused.Status != models.SessionStatusPaused {
		t.Errorf("Status = %q, expected paused", paused.Status)
	}
}

func TestGatewayVoiceWithoutTranscriber(t *testing.T) {
	f := newGatewayFixture(t)
	userID, token := f.signup(t, "novoice@example.com")

	voice := NewVoiceBufferSet(time.Minute)
	t.Cleanup(voice.Close)
	gateway := NewGateway(f.engine, f.auth, voice, nil, NewMetrics())

	client := newWSClient()
	sendFrame(t, gateway, client, Frame{Type: FrameAuthenticate, Token: token})
	expectFrameType(t, client, FrameAuthenticated)

	session, err := f.engine.CreateSession(context.Background(), userID, CreateSessionRequest{
		JobPosition:    "Backend Engineer",
		InterviewStage: "behavioral",
		VoiceEnabled:   true,
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	sendFrame(t, gateway, client, Frame{Type: FrameJoinSession, SessionID: session.ID})
	expectFrameType(t, client, FrameSessionJoined)

	_, q1, err := f.engine.Activate(context.Background(), session.ID, userID)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	expectFrameType(t, client, FrameQuestionGenerated)

	// Voice frames on a transcriber-less gateway get error frames, never a
	// crash, and text turns still work.
	sendFrame(t, gateway, client, Frame{Type: FrameVoiceStart, QuestionID: q1.ID})
	expectErrorKind(t, client, "internal")
	sendFrame(t, gateway, client, Frame{Type: FrameVoiceEnd, QuestionID: q1.ID, TotalChunks: 1})
	expectErrorKind(t, client, "internal")

	sendFrame(t, gateway, client, Frame{Type: FrameSubmitText, QuestionID: q1.ID, Text: mediumAnswer})
	expectFrameType(t, client, FrameResponseEvaluated)
}

func TestGatewaySlowClientKilled(t *testing.T) {
	client := &websocket.Client{Send: make(chan []byte, 1), ConnID: "slow"}
	sink := clientSink{client: client}

	sink.QuestionGenerated("s1", &models.Question{ID: "q1"})
	if client.Dead() {
		t.Fatal("client killed with queue capacity remaining")
	}

	// The queue is full now; the next event must kill the connection
	// instead of silently gapping the stream.
	sink.ResponseEvaluated("s1", &models.Evaluation{}, nil)
	if !client.Dead() {
		t.Fatal("client not killed on send queue overflow")
	}

	// Further events are not enqueued for a dead connection.
	sink.SessionCompleted("s1", &SessionSummary{})
	if len(client.Send) != 1 {
		t.Errorf("len(Send) = %d, expected only the pre-overflow frame", len(client.Send))
	}
	frame := expectFrameType(t, client, FrameQuestionGenerated)
	if q, ok := frame["question"].(map[string]interface{}); !ok || q["id"] != "q1" {
		t.Errorf("surviving frame = %v, expected the first question", frame)
	}
}

func TestGatewayUnknownFrameType(t *testing.T) {
	f := newGatewayFixture(t)
	_, token := f.signup(t, "unknown@example.com")
	client := newWSClient()
	f.authenticate(t, client, token)

	sendFrame(t, f.gateway, client, Frame{Type: "rewind-time"})
	expectErrorKind(t, client, "bad-request")
}

func TestGatewayEndSession(t *testing.T) {
	f := newGatewayFixture(t)
	userID, token := f.signup(t, "end@example.com")
	client := newWSClient()
	f.authenticate(t, client, token)

	session, err := f.engine.CreateSession(context.Background(), userID, CreateSessionRequest{
		JobPosition:    "Backend Engineer",
		InterviewStage: "final",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	f.join(t, client, session.ID)

	if _, _, err := f.engine.Activate(context.Background(), session.ID, userID); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	expectFrameType(t, client, FrameQuestionGenerated)

	sendFrame(t, f.gateway, client, Frame{Type: FrameEndSession})
	frame := expectFrameType(t, client, FrameSessionCompleted)
	if frame["summary"] == nil {
		t.Error("summary missing from session-completed frame")
	}

	// Disconnect detaches the sink; later events must not panic.
	f.gateway.HandleDisconnect(client)
}
