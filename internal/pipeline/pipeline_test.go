package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/elaracare/elara/server/adapters/memory"
	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
)

// recordingNotifier captures every fan-out call in order
type recordingNotifier struct {
	mu     sync.Mutex
	rooms  map[string]string // connectionID -> conversationID
	events []notifierEvent
}

type notifierEvent struct {
	kind           string // "message", "typing", "error"
	conversationID string
	connectionID   string
	message        *entities.Message
	isTyping       bool
	err            error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{rooms: make(map[string]string)}
}

func (n *recordingNotifier) join(connectionID, conversationID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rooms[connectionID] = conversationID
}

func (n *recordingNotifier) InRoom(connectionID, conversationID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.rooms[connectionID] == conversationID
}

func (n *recordingNotifier) BroadcastMessage(conversationID string, message *entities.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{kind: "message", conversationID: conversationID, message: message})
}

func (n *recordingNotifier) BroadcastAssistantTyping(conversationID string, isTyping bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{kind: "typing", conversationID: conversationID, isTyping: isTyping})
}

func (n *recordingNotifier) SendError(connectionID string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notifierEvent{kind: "error", connectionID: connectionID, err: err})
}

func (n *recordingNotifier) broadcastMessages() []*entities.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*entities.Message, 0)
	for _, e := range n.events {
		if e.kind == "message" {
			out = append(out, e.message)
		}
	}
	return out
}

func (n *recordingNotifier) errorsSent() []notifierEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]notifierEvent, 0)
	for _, e := range n.events {
		if e.kind == "error" {
			out = append(out, e)
		}
	}
	return out
}

// stubAnalysis is a configurable sentiment analyzer and crisis detector
type stubAnalysis struct {
	sentimentErr error
	crisisErr    error
	crisis       *entities.CrisisAssessment
}

func (s *stubAnalysis) AnalyzeSentiment(ctx context.Context, text string) (*entities.SentimentResult, error) {
	if s.sentimentErr != nil {
		return nil, s.sentimentErr
	}
	return &entities.SentimentResult{
		Score:    0.2,
		Emotions: map[string]float64{"joy": 0.5},
	}, nil
}

func (s *stubAnalysis) DetectCrisis(ctx context.Context, text string) (*entities.CrisisAssessment, error) {
	if s.crisisErr != nil {
		return nil, s.crisisErr
	}
	if s.crisis != nil {
		return s.crisis, nil
	}
	return &entities.CrisisAssessment{IsCrisis: false, RiskLevel: entities.RiskLevelLow}, nil
}

// stubResponder generates a canned reply, optionally failing or blocking
type stubResponder struct {
	mu        sync.Mutex
	err       error
	delay     time.Duration
	histories [][]repositories.ChatMessage
	moods     []repositories.MoodContext
}

func (s *stubResponder) GenerateReply(ctx context.Context, history []repositories.ChatMessage, mood repositories.MoodContext) (*repositories.Reply, error) {
	s.mu.Lock()
	s.histories = append(s.histories, history)
	s.moods = append(s.moods, mood)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	last := ""
	if len(history) > 0 {
		last = history[len(history)-1].Content
	}
	return &repositories.Reply{
		Text:       "echo: " + last,
		Techniques: []string{"active-listening"},
		Tone:       "warm",
	}, nil
}

type fixture struct {
	store     *memory.ConversationStore
	notifier  *recordingNotifier
	analysis  *stubAnalysis
	responder *stubResponder
	pipeline  *Pipeline
	conv      *entities.Conversation
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewConversationStore(),
		notifier:  newRecordingNotifier(),
		analysis:  &stubAnalysis{},
		responder: &stubResponder{},
	}
	f.pipeline = New(f.store, f.analysis, f.analysis, f.responder, f.notifier, zap.NewNop(), opts)

	f.conv = entities.NewConversation("user-1", "test", "anxious")
	require.NoError(t, f.store.Create(context.Background(), f.conv))
	f.notifier.join("conn-1", f.conv.ID)
	return f
}

func (f *fixture) submit(content string) Result {
	return <-f.pipeline.Submit(Request{
		ConnectionID:   "conn-1",
		UserID:         "user-1",
		ConversationID: f.conv.ID,
		Content:        content,
	})
}

func TestPipelineHappyPath(t *testing.T) {
	f := newFixture(t, Options{})

	res := f.submit("I had a rough day")
	assert.Equal(t, StateDone, res.State)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.UserMessage)
	require.NotNil(t, res.Reply)

	assert.Equal(t, entities.MessageRoleUser, res.UserMessage.Role)
	assert.NotNil(t, res.UserMessage.Sentiment)
	assert.Equal(t, entities.MessageRoleAssistant, res.Reply.Role)
	assert.Equal(t, "echo: I had a rough day", res.Reply.Content)

	// User message broadcast before the reply broadcast.
	broadcasts := f.notifier.broadcastMessages()
	require.Len(t, broadcasts, 2)
	assert.Equal(t, entities.MessageRoleUser, broadcasts[0].Role)
	assert.Equal(t, entities.MessageRoleAssistant, broadcasts[1].Role)

	// Both messages durable, in order.
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Less(t, msgs[0].Seq, msgs[1].Seq)

	// Techniques accumulated onto the conversation.
	conv, err := f.store.GetByID(context.Background(), f.conv.ID, "user-1")
	require.NoError(t, err)
	assert.Contains(t, conv.Techniques, "active-listening")
}

func TestPipelineTypingIndicatorBracketsGeneration(t *testing.T) {
	f := newFixture(t, Options{})
	f.submit("hello")

	var typing []bool
	for _, e := range f.notifier.events {
		if e.kind == "typing" {
			typing = append(typing, e.isTyping)
		}
	}
	assert.Equal(t, []bool{true, false}, typing)
}

func TestPipelineRejectsEmptyContent(t *testing.T) {
	f := newFixture(t, Options{})

	res := f.submit("")
	assert.Equal(t, StateRejected, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrValidationFailed)
	assert.Empty(t, f.notifier.broadcastMessages())

	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs, "nothing persisted for a rejected message")
}

func TestPipelineRejectsWhenNotInRoom(t *testing.T) {
	f := newFixture(t, Options{})

	res := <-f.pipeline.Submit(Request{
		ConnectionID:   "not-joined",
		UserID:         "user-1",
		ConversationID: f.conv.ID,
		Content:        "hello",
	})
	assert.Equal(t, StateRejected, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrAuthorizationDenied)

	sent := f.notifier.errorsSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "not-joined", sent[0].connectionID)
}

func TestPipelineRejectsUnownedConversation(t *testing.T) {
	f := newFixture(t, Options{})
	f.notifier.join("conn-2", f.conv.ID)

	res := <-f.pipeline.Submit(Request{
		ConnectionID:   "conn-2",
		UserID:         "someone-else",
		ConversationID: f.conv.ID,
		Content:        "hello",
	})
	assert.Equal(t, StateRejected, res.State)
	// Missing and unowned are reported identically.
	assert.ErrorIs(t, res.Err, domain.ErrAuthorizationDenied)
}

func TestPipelineRejectsCompletedConversation(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.store.End(context.Background(), f.conv.ID, "calm", "done"))

	res := f.submit("one more thing")
	assert.Equal(t, StateRejected, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrAuthorizationDenied)
}

func TestPipelineDegradesWhenAnalysisFails(t *testing.T) {
	f := newFixture(t, Options{})
	f.analysis.sentimentErr = errors.New("sentiment backend down")
	f.analysis.crisisErr = errors.New("crisis backend down")

	res := f.submit("still want to talk")
	assert.Equal(t, StateDone, res.State)
	require.NotNil(t, res.UserMessage)
	assert.Nil(t, res.UserMessage.Sentiment, "failed analysis stored as absent, not zeroed")
	assert.Nil(t, res.UserMessage.Crisis)

	// The message still flows: broadcast and answered.
	broadcasts := f.notifier.broadcastMessages()
	require.Len(t, broadcasts, 2)
}

func TestPipelineCrisisFlagSetBeforeReply(t *testing.T) {
	f := newFixture(t, Options{})
	f.analysis.crisis = &entities.CrisisAssessment{
		IsCrisis:   true,
		RiskLevel:  entities.RiskLevelHigh,
		Indicators: []string{"hopelessness"},
	}
	// Generation fails, but the crisis flag must survive.
	f.responder.err = errors.New("model unavailable")

	res := f.submit("I can't see a way out")
	assert.Equal(t, StatePipelineFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrGenerationFailed)
	assert.Contains(t, res.Trace, StateCrisisFlagged)

	conv, err := f.store.GetByID(context.Background(), f.conv.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, conv.IsCrisis, "crisis flag persists despite generation failure")

	// The user message itself was still broadcast; no reply was.
	broadcasts := f.notifier.broadcastMessages()
	require.Len(t, broadcasts, 1)
	assert.Equal(t, entities.MessageRoleUser, broadcasts[0].Role)
}

func TestPipelineGenerationFailureKeepsUserMessage(t *testing.T) {
	f := newFixture(t, Options{})
	f.responder.err = errors.New("model unavailable")

	res := f.submit("hello")
	assert.Equal(t, StatePipelineFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrGenerationFailed)
	assert.Nil(t, res.Reply)

	// Durable user message, error to the sender only.
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, entities.MessageRoleUser, msgs[0].Role)

	sent := f.notifier.errorsSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "conn-1", sent[0].connectionID)
	assert.ErrorIs(t, sent[0].err, domain.ErrGenerationFailed)
}

func TestPipelineGenerationTimeout(t *testing.T) {
	f := newFixture(t, Options{GenerationTimeout: 20 * time.Millisecond})
	f.responder.delay = 500 * time.Millisecond

	res := f.submit("hello")
	assert.Equal(t, StatePipelineFailed, res.State)
	assert.ErrorIs(t, res.Err, domain.ErrGenerationFailed)
}

func TestPipelineHistoryWindowBoundsGeneratorInput(t *testing.T) {
	f := newFixture(t, Options{HistoryWindow: 5})

	for i := 0; i < 8; i++ {
		res := f.submit(fmt.Sprintf("message %d", i))
		require.Equal(t, StateDone, res.State)
	}

	f.responder.mu.Lock()
	last := f.responder.histories[len(f.responder.histories)-1]
	f.responder.mu.Unlock()

	assert.Len(t, last, 5)
	// The newest entry is the message just persisted.
	assert.Equal(t, "message 7", last[len(last)-1].Content)
}

func TestPipelineMoodContextReflectsConversation(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.store.AddTechniques(context.Background(), f.conv.ID, []string{"grounding"}))

	f.submit("hello")

	f.responder.mu.Lock()
	mood := f.responder.moods[0]
	f.responder.mu.Unlock()

	assert.Equal(t, "anxious", mood.UserMood)
	assert.Contains(t, mood.Techniques, "grounding")
	assert.False(t, mood.InCrisis)
}

func TestPipelineOrderingWithinConversation(t *testing.T) {
	f := newFixture(t, Options{})

	const messages = 15
	results := make([]<-chan Result, 0, messages)
	for i := 0; i < messages; i++ {
		results = append(results, f.pipeline.Submit(Request{
			ConnectionID:   "conn-1",
			UserID:         "user-1",
			ConversationID: f.conv.ID,
			Content:        fmt.Sprintf("message %d", i),
		}))
	}
	for _, ch := range results {
		res := <-ch
		require.Equal(t, StateDone, res.State)
	}

	// Broadcast order equals admission order: user 0, reply 0, user 1, ...
	broadcasts := f.notifier.broadcastMessages()
	require.Len(t, broadcasts, messages*2)
	for i := 0; i < messages; i++ {
		user := broadcasts[i*2]
		reply := broadcasts[i*2+1]
		assert.Equal(t, fmt.Sprintf("message %d", i), user.Content)
		assert.Equal(t, entities.MessageRoleAssistant, reply.Role)
		assert.True(t, strings.HasSuffix(reply.Content, user.Content))
	}

	// Sequence numbers strictly increase in broadcast order.
	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, messages*2)
	for i := 1; i < len(msgs); i++ {
		assert.Equal(t, msgs[i-1].Seq+1, msgs[i].Seq)
	}
}

func TestPipelineConversationsRunIndependently(t *testing.T) {
	f := newFixture(t, Options{})

	second := entities.NewConversation("user-1", "parallel", "")
	require.NoError(t, f.store.Create(context.Background(), second))
	f.notifier.join("conn-2", second.ID)

	// A slow generator on one conversation must not stall the other.
	f.responder.delay = 50 * time.Millisecond

	start := time.Now()
	a := f.pipeline.Submit(Request{
		ConnectionID: "conn-1", UserID: "user-1",
		ConversationID: f.conv.ID, Content: "slow lane",
	})
	b := f.pipeline.Submit(Request{
		ConnectionID: "conn-2", UserID: "user-1",
		ConversationID: second.ID, Content: "fast lane",
	})
	<-a
	<-b
	elapsed := time.Since(start)

	// Serialized they would take at least 100ms.
	assert.Less(t, elapsed, 95*time.Millisecond)
}

func TestPipelineDrainWaitsForInFlight(t *testing.T) {
	f := newFixture(t, Options{})
	f.responder.delay = 30 * time.Millisecond

	f.pipeline.Submit(Request{
		ConnectionID: "conn-1", UserID: "user-1",
		ConversationID: f.conv.ID, Content: "hello",
	})
	f.pipeline.Drain()

	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 2, "drain returns only after persistence finished")
}
