package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/convlog"
	"github.com/kodomolab/voice-relay/internal/metrics"
	"github.com/kodomolab/voice-relay/internal/quota"
	"github.com/kodomolab/voice-relay/internal/upstream"
	"github.com/kodomolab/voice-relay/pkg/logger"
)

// textMessage is the websocket text frame opcode; kept local so the engine
// stays independent of any particular websocket library.
const textMessage = 1

// ClientConn is the subset of a websocket connection the engine drives.
type ClientConn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Upstream is one realtime AI session. Connect blocks until the handshake
// finishes; server events arrive through the OnEvent dispatch function and
// session loss through OnClose.
type Upstream interface {
	Connect(ctx context.Context) error
	Send(event []byte) error
	UpdateInstructions(instructions string) error
	IsConnected() bool
	Close() error
	OnEvent(handler upstream.EventHandler)
	OnClose(fn func())
}

type QuotaChecker interface {
	Check(userID string) (*quota.CheckResult, error)
}

type ContextBuilder interface {
	BuildContext(ctx context.Context, query string) string
}

type ResourceMatcher interface {
	Match(question string) (string, error)
}

type ConversationLogger interface {
	Log(userID, question, answer string, audioLength float64, meta convlog.Metadata) convlog.Result
}

type InstructionProvider interface {
	BaseInstructions(ctx context.Context, userID string) (string, error)
}

type EngineConfig struct {
	Guard       QuotaChecker
	Retriever   ContextBuilder
	Matcher     ResourceMatcher
	ConvLog     ConversationLogger
	Prompts     InstructionProvider
	NewUpstream func() Upstream
}

// Engine bridges client connections to upstream realtime sessions. Each
// connection gets its own relayConn; connections share nothing but the
// stores behind the injected components.
type Engine struct {
	guard       QuotaChecker
	retriever   ContextBuilder
	matcher     ResourceMatcher
	convLog     ConversationLogger
	prompts     InstructionProvider
	newUpstream func() Upstream
}

func NewEngine(cfg EngineConfig) *Engine {
	return &Engine{
		guard:       cfg.Guard,
		retriever:   cfg.Retriever,
		matcher:     cfg.Matcher,
		convLog:     cfg.ConvLog,
		prompts:     cfg.Prompts,
		newUpstream: cfg.NewUpstream,
	}
}

// HandleConnection owns one client connection from admission to teardown.
// It returns when the client socket is gone; both sides are closed by then.
func (e *Engine) HandleConnection(client ClientConn, userID string) {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	defer client.Close()

	if userID == "" {
		logger.Warn("Connection without user id refused")
		metrics.AdmissionFailures.WithLabelValues("missing_user").Inc()
		client.WriteMessage(textMessage, newErrorEvent("User authentication required"))
		return
	}

	sess := NewSession(userID)

	check, err := e.guard.Check(userID)
	if err != nil {
		message := err.Error()
		var exceeded *quota.ExceededError
		switch {
		case errors.As(err, &exceeded):
			metrics.QuotaRejections.Inc()
			metrics.AdmissionFailures.WithLabelValues("quota_exceeded").Inc()
			logger.Warn("Usage limit exceeded",
				zap.String("user_id", userID),
				zap.Int("days_until_reset", exceeded.DaysUntilReset),
			)
		case errors.Is(err, quota.ErrUserNotFound):
			metrics.AdmissionFailures.WithLabelValues("user_not_found").Inc()
			logger.Warn("Unknown user refused", zap.String("user_id", userID))
		default:
			// Store errors stay in the log; the client gets a generic refusal.
			metrics.AdmissionFailures.WithLabelValues("quota_check_failed").Inc()
			logger.Error("Quota check failed", zap.String("user_id", userID), zap.Error(err))
			message = "Usage check failed, please try again later"
		}
		client.WriteMessage(textMessage, newErrorEvent(message))
		return
	}

	logger.Info("Connection admitted",
		zap.String("user_id", userID),
		zap.Int("remaining", check.Remaining),
		zap.Int("limit", check.Limit),
	)

	ctx := context.Background()

	baseInstructions := ""
	if e.prompts != nil {
		baseInstructions, err = e.prompts.BaseInstructions(ctx, userID)
		if err != nil {
			// Session proceeds with default instructions.
			metrics.EnrichmentFailures.WithLabelValues("instructions").Inc()
			logger.Warn("Instruction lookup failed", zap.String("user_id", userID), zap.Error(err))
			baseInstructions = ""
		}
	}

	rc := &relayConn{
		engine:           e,
		client:           client,
		sess:             sess,
		baseInstructions: baseInstructions,
		up:               e.newUpstream(),
	}

	rc.run(ctx)
}

// relayConn is the per-connection context: the session record, the
// pre-connect buffer and both socket ends. Nothing outside the engine holds
// a reference to it; it dies with the connection.
type relayConn struct {
	engine           *Engine
	client           ClientConn
	sess             *Session
	baseInstructions string
	up               Upstream

	clientWriteMu sync.Mutex

	// queueMu guards the buffer and the readiness flag together; the flag
	// only flips once the queue is empty, so no live message can overtake a
	// buffered one.
	queueMu       sync.Mutex
	queue         [][]byte
	upstreamReady bool
}

func (rc *relayConn) run(ctx context.Context) {
	// Canceling aborts an in-flight dial; closing latches the upstream shut
	// so a dial that wins the race cannot resurrect the session.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer rc.up.Close()

	rc.up.OnEvent(rc.handleUpstreamEvent)
	rc.up.OnClose(func() {
		logger.Debug("Upstream closed, closing client", zap.String("user_id", rc.sess.UserID()))
		rc.client.Close()
	})

	go rc.connectUpstream(ctx)

	// Client read loop; messages arriving before upstream readiness are
	// buffered inside dispatch. Returning tears down both sides.
	for {
		_, data, err := rc.client.ReadMessage()
		if err != nil {
			logger.Info("Client connection closed", zap.String("user_id", rc.sess.UserID()))
			return
		}
		rc.dispatchClientMessage(data)
	}
}

func (rc *relayConn) connectUpstream(ctx context.Context) {
	if err := rc.up.Connect(ctx); err != nil {
		logger.Error("Upstream connect failed",
			zap.String("user_id", rc.sess.UserID()),
			zap.Error(err),
		)
		rc.client.Close()
		return
	}

	if rc.baseInstructions != "" {
		if err := rc.up.UpdateInstructions(rc.baseInstructions); err != nil {
			metrics.EnrichmentFailures.WithLabelValues("instructions").Inc()
			logger.Warn("Failed to seed session instructions", zap.Error(err))
		}
	}

	rc.drainQueue()
}

func (rc *relayConn) dispatchClientMessage(data []byte) {
	rc.queueMu.Lock()
	if !rc.upstreamReady {
		rc.queue = append(rc.queue, data)
		rc.queueMu.Unlock()
		return
	}
	rc.queueMu.Unlock()

	rc.processClientMessage(data)
}

// drainQueue replays buffered messages in arrival order. Readiness is only
// flagged, under the queue lock, when the queue is empty; messages arriving
// mid-drain land behind the undrained entries and are replayed here too.
func (rc *relayConn) drainQueue() {
	drained := 0
	for {
		rc.queueMu.Lock()
		if len(rc.queue) == 0 {
			rc.upstreamReady = true
			rc.queueMu.Unlock()
			metrics.BufferedMessages.Observe(float64(drained))
			if drained > 0 {
				logger.Debug("Pre-connect buffer drained",
					zap.String("user_id", rc.sess.UserID()),
					zap.Int("messages", drained),
				)
			}
			return
		}
		msg := rc.queue[0]
		rc.queue = rc.queue[1:]
		rc.queueMu.Unlock()

		drained++
		rc.processClientMessage(msg)
	}
}

// processClientMessage runs the interceptions for one client event, then
// forwards it upstream unchanged. Malformed payloads are dropped without
// touching the connection.
func (rc *relayConn) processClientMessage(data []byte) {
	event, err := parseClientEvent(data)
	if err != nil {
		logger.Warn("Dropping malformed client message",
			zap.String("user_id", rc.sess.UserID()),
			zap.Error(err),
		)
		return
	}

	switch event.Type {
	case EventTranscriptionCompleted:
		if event.Transcript != "" {
			rc.onQuestionCaptured(event.Transcript)
		}
	case EventResponseDone:
		rc.onResponseDone()
	}

	if err := rc.up.Send(data); err != nil {
		logger.Error("Failed to forward event upstream",
			zap.String("user_id", rc.sess.UserID()),
			zap.String("event_type", event.Type),
			zap.Error(err),
		)
		return
	}

	metrics.EventsRelayed.WithLabelValues("client_to_upstream").Inc()
}

// onQuestionCaptured records the transcribed question and, when retrieval
// yields context, refreshes the session instructions. Failures here are
// logged and never block the event forward.
func (rc *relayConn) onQuestionCaptured(transcript string) {
	rc.sess.SetQuestion(transcript)
	logger.Info("User question captured",
		zap.String("user_id", rc.sess.UserID()),
		zap.String("question", transcript),
	)

	ragContext := rc.engine.retriever.BuildContext(context.Background(), transcript)
	if ragContext == "" {
		return
	}

	base := rc.baseInstructions
	if rc.engine.prompts != nil {
		fresh, err := rc.engine.prompts.BaseInstructions(context.Background(), rc.sess.UserID())
		if err != nil {
			logger.Warn("Instruction refresh failed, using admitted instructions", zap.Error(err))
		} else {
			base = fresh
		}
	}

	if err := rc.up.UpdateInstructions(base + ragContext); err != nil {
		metrics.EnrichmentFailures.WithLabelValues("instructions").Inc()
		logger.Warn("Failed to update session instructions", zap.Error(err))
		return
	}

	logger.Debug("Retrieval context injected", zap.String("user_id", rc.sess.UserID()))
}

// onResponseDone closes out a turn: annotate the answer with a resource link
// and persist the transcript, each isolated so one failing never stops the
// other, then reset the turn regardless.
func (rc *relayConn) onResponseDone() {
	question, answer, started := rc.sess.Turn()
	if question == "" || answer == "" {
		return
	}

	message, err := rc.engine.matcher.Match(question)
	if err != nil {
		metrics.EnrichmentFailures.WithLabelValues("resource_match").Inc()
		logger.Warn("Resource match failed", zap.Error(err))
	} else if message != "" {
		if err := rc.writeClient(newTextDeltaEvent(message)); err != nil {
			logger.Warn("Failed to deliver resource link", zap.Error(err))
		}
	}

	elapsed := time.Since(started)
	result := rc.engine.convLog.Log(rc.sess.UserID(), question, answer, 0, convlog.Metadata{
		ResponseTime: elapsed,
		Timestamp:    time.Now(),
	})
	if !result.Success {
		logger.Warn("Conversation not persisted",
			zap.String("user_id", rc.sess.UserID()),
			zap.Error(result.Err),
		)
	}

	metrics.TurnDuration.Observe(elapsed.Seconds())
	rc.sess.ResetTurn()
}

// handleUpstreamEvent forwards every server event verbatim, capturing the
// terminal answer transcript on the way through.
func (rc *relayConn) handleUpstreamEvent(event upstream.ServerEvent) {
	if event.Type == EventAudioTranscriptDone && event.Transcript != "" {
		rc.sess.SetAnswer(event.Transcript)
	}

	if err := rc.writeClient(event.Raw); err != nil {
		logger.Debug("Failed to relay event to client", zap.Error(err))
		return
	}

	metrics.EventsRelayed.WithLabelValues("upstream_to_client").Inc()
}

func (rc *relayConn) writeClient(data []byte) error {
	rc.clientWriteMu.Lock()
	defer rc.clientWriteMu.Unlock()
	return rc.client.WriteMessage(textMessage, data)
}
