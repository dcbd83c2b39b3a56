package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elaracare/elara/server/domain"
	"github.com/elaracare/elara/server/domain/entities"
	"github.com/elaracare/elara/server/domain/repositories"
)

const (
	defaultHistoryWindow     = 20
	defaultAnalysisTimeout   = 10 * time.Second
	defaultGenerationTimeout = 30 * time.Second
)

// Notifier is the slice of the session registry the pipeline needs: room
// membership checks and fan-out. The registry owns room state; the pipeline
// never mutates it.
type Notifier interface {
	// InRoom reports whether the connection is currently joined to the room.
	InRoom(connectionID, conversationID string) bool

	// BroadcastMessage delivers a persisted message to every room member.
	BroadcastMessage(conversationID string, message *entities.Message)

	// BroadcastAssistantTyping toggles the reply typing indicator for the room.
	BroadcastAssistantTyping(conversationID string, isTyping bool)

	// SendError delivers a structured error event to one connection only.
	SendError(connectionID string, err error)
}

// Request is one admitted user message entering the pipeline
type Request struct {
	ConnectionID   string
	UserID         string
	ConversationID string
	Content        string
	ContentType    entities.ContentType
	AudioURL       string
}

// Result is the terminal outcome of one pipeline run
type Result struct {
	State       State
	Trace       []State
	UserMessage *entities.Message
	Reply       *entities.Message
	Err         error
}

// Options tune the pipeline's bounded external calls
type Options struct {
	HistoryWindow     int
	AnalysisTimeout   time.Duration
	GenerationTimeout time.Duration
}

// Pipeline drives an inbound message through
// validate -> analyze -> persist -> crisis flag -> reply -> broadcast,
// serialized per conversation so broadcast order equals admission order.
type Pipeline struct {
	store     repositories.ConversationRepository
	sentiment repositories.SentimentAnalyzer
	crisis    repositories.CrisisDetector
	responder repositories.ResponseGenerator
	notifier  Notifier
	logger    *zap.Logger
	opts      Options
	seq       *sequencer
}

// New creates a pipeline. Zero option fields fall back to defaults.
func New(
	store repositories.ConversationRepository,
	sentiment repositories.SentimentAnalyzer,
	crisis repositories.CrisisDetector,
	responder repositories.ResponseGenerator,
	notifier Notifier,
	logger *zap.Logger,
	opts Options,
) *Pipeline {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	if opts.AnalysisTimeout <= 0 {
		opts.AnalysisTimeout = defaultAnalysisTimeout
	}
	if opts.GenerationTimeout <= 0 {
		opts.GenerationTimeout = defaultGenerationTimeout
	}
	return &Pipeline{
		store:     store,
		sentiment: sentiment,
		crisis:    crisis,
		responder: responder,
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		seq:       newSequencer(),
	}
}

// Submit admits the request into its conversation's ordered queue and
// returns a channel that yields the terminal result. The pipeline keeps
// running after the submitting connection disconnects; persistence is never
// cancelled mid-flight.
func (p *Pipeline) Submit(req Request) <-chan Result {
	done := make(chan Result, 1)
	p.seq.do(req.ConversationID, func() {
		result := p.process(req)
		if result.Err != nil && result.State != StateDone {
			p.notifier.SendError(req.ConnectionID, result.Err)
		}
		done <- result
	})
	return done
}

// Drain blocks until every in-flight message has reached a terminal state
func (p *Pipeline) Drain() {
	p.seq.wait()
}

func (p *Pipeline) process(req Request) Result {
	ctx := context.Background()
	res := Result{State: StateAdmitted, Trace: []State{StateAdmitted}}
	advance := func(s State) {
		res.State = s
		res.Trace = append(res.Trace, s)
	}

	// Step 1: validate membership, ownership and status.
	if req.Content == "" {
		res.State = StateRejected
		res.Err = domain.ErrValidationFailed
		return res
	}
	if !p.notifier.InRoom(req.ConnectionID, req.ConversationID) {
		res.State = StateRejected
		res.Err = domain.ErrAuthorizationDenied
		return res
	}

	conv, err := p.store.GetByID(ctx, req.ConversationID, req.UserID)
	if err != nil {
		res.State = StateRejected
		if errors.Is(err, domain.ErrNotFound) {
			res.Err = domain.ErrAuthorizationDenied
		} else {
			res.Err = domain.ErrStoreFailure
		}
		return res
	}
	if !conv.CanAcceptMessages() {
		res.State = StateRejected
		res.Err = domain.ErrAuthorizationDenied
		return res
	}
	advance(StateValidated)

	// Step 2: best-effort analysis. Sentiment and crisis run concurrently,
	// each with its own timeout, and each failure degrades independently.
	sentiment, crisis := p.analyze(ctx, req.Content)
	advance(StateAnalyzed)

	// Step 3: persist the user message with whatever analysis is available.
	msg := entities.NewUserMessage(req.ConversationID, req.Content, req.ContentType, req.AudioURL)
	msg.Sentiment = sentiment
	msg.Crisis = crisis
	if err := p.store.AppendMessage(ctx, msg); err != nil {
		p.logger.Error("Failed to persist user message",
			zap.String("conversationID", req.ConversationID),
			zap.Error(err))
		res.State = StatePipelineFailed
		res.Err = domain.ErrStoreFailure
		return res
	}
	res.UserMessage = msg
	advance(StatePersisted)

	// Step 4: crisis escalation. The flag write is monotonic and happens
	// before any reply work, so a later generation failure cannot suppress
	// an already-detected crisis signal.
	if crisis != nil && crisis.IsCrisis {
		if err := p.store.SetCrisisFlag(ctx, req.ConversationID); err != nil {
			p.logger.Error("Failed to set crisis flag",
				zap.String("conversationID", req.ConversationID),
				zap.Error(err))
			res.State = StatePipelineFailed
			res.Err = domain.ErrStoreFailure
			return res
		}
		p.logger.Warn("Crisis indicators detected",
			zap.String("conversationID", req.ConversationID),
			zap.String("riskLevel", string(crisis.RiskLevel)),
			zap.Strings("indicators", crisis.Indicators))
		advance(StateCrisisFlagged)
	} else {
		advance(StateClear)
	}

	// The user's message is now durable: broadcast it before reply work so
	// a generation failure never hides it from the room.
	p.notifier.BroadcastMessage(req.ConversationID, msg)

	// Step 5: generate the reply from a bounded history window.
	p.notifier.BroadcastAssistantTyping(req.ConversationID, true)
	defer p.notifier.BroadcastAssistantTyping(req.ConversationID, false)
	advance(StateReplyRequested)

	history := p.buildHistory(ctx, req.ConversationID, msg)
	mood := repositories.MoodContext{
		UserMood:   conv.MoodStart,
		Techniques: conv.Techniques,
		InCrisis:   conv.IsCrisis || (crisis != nil && crisis.IsCrisis),
	}

	genCtx, cancel := context.WithTimeout(ctx, p.opts.GenerationTimeout)
	reply, err := p.responder.GenerateReply(genCtx, history, mood)
	cancel()
	if err != nil {
		p.logger.Error("Reply generation failed",
			zap.String("conversationID", req.ConversationID),
			zap.Error(err))
		res.State = StatePipelineFailed
		res.Err = domain.ErrGenerationFailed
		return res
	}

	// Step 6: persist the reply.
	replyMsg := entities.NewAssistantMessage(req.ConversationID, reply.Text, &entities.ReplyMeta{
		Techniques: reply.Techniques,
		Tone:       reply.Tone,
		FollowUps:  reply.FollowUps,
	})
	if err := p.store.AppendMessage(ctx, replyMsg); err != nil {
		p.logger.Error("Failed to persist reply",
			zap.String("conversationID", req.ConversationID),
			zap.Error(err))
		res.State = StatePipelineFailed
		res.Err = domain.ErrStoreFailure
		return res
	}
	res.Reply = replyMsg
	advance(StateReplyPersisted)

	if len(reply.Techniques) > 0 {
		if err := p.store.AddTechniques(ctx, req.ConversationID, reply.Techniques); err != nil {
			// Technique accumulation is bookkeeping, not message state.
			p.logger.Warn("Failed to record techniques",
				zap.String("conversationID", req.ConversationID),
				zap.Error(err))
		}
	}

	// Step 7: broadcast the reply.
	p.notifier.BroadcastMessage(req.ConversationID, replyMsg)
	advance(StateBroadcast)

	advance(StateDone)
	return res
}

// analyze runs sentiment analysis and crisis detection concurrently. A
// failure or timeout in either yields a nil result for that side only; the
// message still flows. Therapeutic continuity outweighs analytics
// completeness.
func (p *Pipeline) analyze(ctx context.Context, content string) (*entities.SentimentResult, *entities.CrisisAssessment) {
	var (
		wg        sync.WaitGroup
		sentiment *entities.SentimentResult
		crisis    *entities.CrisisAssessment
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		actx, cancel := context.WithTimeout(ctx, p.opts.AnalysisTimeout)
		defer cancel()
		result, err := p.sentiment.AnalyzeSentiment(actx, content)
		if err != nil {
			p.logger.Warn("Sentiment analysis degraded", zap.Error(err))
			return
		}
		sentiment = result
	}()
	go func() {
		defer wg.Done()
		actx, cancel := context.WithTimeout(ctx, p.opts.AnalysisTimeout)
		defer cancel()
		result, err := p.crisis.DetectCrisis(actx, content)
		if err != nil {
			p.logger.Warn("Crisis detection degraded", zap.Error(err))
			return
		}
		crisis = result
	}()
	wg.Wait()

	return sentiment, crisis
}

// buildHistory returns the most recent messages as generator input. When the
// read fails the pipeline degrades to just the current message rather than
// dropping the reply entirely.
func (p *Pipeline) buildHistory(ctx context.Context, conversationID string, current *entities.Message) []repositories.ChatMessage {
	messages, err := p.store.ListRecentMessages(ctx, conversationID, p.opts.HistoryWindow)
	if err != nil {
		p.logger.Warn("History read failed, replying from current message only",
			zap.String("conversationID", conversationID),
			zap.Error(err))
		messages = []*entities.Message{current}
	}

	history := make([]repositories.ChatMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, repositories.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return history
}
