// Package session runs one live coaching connection: it reads audio and
// control frames, feeds the debounced transcription pipeline and pushes
// transcripts, suggestions and status changes back to the client.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/vango-go/callcoach/pkg/coach/callctx"
	"github.com/vango-go/callcoach/pkg/coach/speaker"
	"github.com/vango-go/callcoach/pkg/coach/suggest"
	"github.com/vango-go/callcoach/pkg/core/types"
	"github.com/vango-go/callcoach/pkg/core/voice"
	"github.com/vango-go/callcoach/pkg/gateway/live/protocol"
	"github.com/vango-go/callcoach/pkg/gateway/live/sessions"
	"github.com/vango-go/callcoach/pkg/gateway/metrics"
)

const (
	outboundPriorityQueueSize = 8
	storeTimeout              = 5 * time.Second
)

var errBackpressure = errors.New("live outbound backpressure")

// Conn is the part of *websocket.Conn a session uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
}

// Store is the persistence a live session needs.
type Store interface {
	GetSession(ctx context.Context, id string) (*types.Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status types.SessionStatus) (*types.Session, error)
	AppendTranscript(ctx context.Context, t *types.Transcript) error
	ListTranscripts(ctx context.Context, sessionID string, limit int) ([]types.Transcript, error)
	AppendSuggestions(ctx context.Context, s []types.Suggestion) error
}

// Transcriber turns one audio batch into text. ok is false for benign
// empty or too-short results.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (text string, ok bool, err error)
}

// ContextBuilder builds the call context for a session.
type ContextBuilder interface {
	BuildContext(ctx context.Context, sess types.Session) types.CallContext
}

// SuggestionGenerator produces suggestions for one cycle.
type SuggestionGenerator interface {
	Generate(ctx context.Context, in suggest.Input) ([]types.Suggestion, types.SuggestionSource)
}

type Config struct {
	DebounceWindow           time.Duration
	MinAudioBytes            int
	MaxAudioBytes            int
	MaxTranscriptionFailures int
	RecentTranscripts        int
	WriteTimeout             time.Duration
	MaxMessageBytes          int64
	OutboundQueueSize        int
	// AfterFunc overrides the debounce timer source (tests).
	AfterFunc voice.AfterFunc
}

type Dependencies struct {
	Conn     Conn
	Logger   *slog.Logger
	Store    Store
	Registry *sessions.Registry
	Metrics  *metrics.Metrics

	Transcriber Transcriber
	// TranscriberName labels transcription metrics.
	TranscriberName string
	Classifier      speaker.Classifier
	Contexts        ContextBuilder
	Suggestions     SuggestionGenerator

	Session   types.Session
	RequestID string
	Config    Config

	// PipelineCtx bounds transcription and suggestion calls. It outlives the
	// connection so an in-flight call can finish after a disconnect.
	PipelineCtx context.Context
	Now         func() time.Time

	// Release frees the live-session slot held by this connection. It is
	// handed to the registry entry so a replacing connection can reclaim it.
	Release func()
}

// LiveSession is one coaching connection.
type LiveSession struct {
	conn        Conn
	logger      *slog.Logger
	store       Store
	registry    *sessions.Registry
	metrics     *metrics.Metrics
	transcriber Transcriber
	sttName     string
	classifier  speaker.Classifier
	contexts    ContextBuilder
	suggestions SuggestionGenerator
	session     types.Session
	requestID   string
	cfg         Config
	now         func() time.Time

	ctx         context.Context
	cancel      context.CancelFunc
	pipelineCtx context.Context
	release     func()

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	closeOnce sync.Once
	closeMsg  atomic.Value // closeFrame

	statusMu sync.Mutex
	status   types.SessionStatus
	failures atomic.Int32

	entry    *sessions.Entry
	pipeline sync.WaitGroup
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

func New(deps Dependencies) (*LiveSession, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if deps.Suggestions == nil {
		return nil, fmt.Errorf("suggestion generator is required")
	}
	if deps.Session.ID == "" {
		return nil, fmt.Errorf("session is required")
	}
	if deps.Registry == nil {
		deps.Registry = sessions.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Classifier == nil {
		deps.Classifier = speaker.Heuristic{}
	}
	if deps.Contexts == nil {
		deps.Contexts = callctx.NewAggregator(nil, 0, deps.Logger)
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.RecentTranscripts <= 0 {
		deps.Config.RecentTranscripts = 10
	}
	if deps.PipelineCtx == nil {
		deps.PipelineCtx = context.Background()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TranscriberName == "" {
		deps.TranscriberName = "unknown"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &LiveSession{
		conn:             deps.Conn,
		logger:           deps.Logger.With("session_id", deps.Session.ID, "user_id", deps.Session.UserID),
		store:            deps.Store,
		registry:         deps.Registry,
		metrics:          deps.Metrics,
		transcriber:      deps.Transcriber,
		sttName:          deps.TranscriberName,
		classifier:       deps.Classifier,
		contexts:         deps.Contexts,
		suggestions:      deps.Suggestions,
		session:          deps.Session,
		requestID:        deps.RequestID,
		cfg:              deps.Config,
		now:              deps.Now,
		ctx:              ctx,
		cancel:           cancel,
		pipelineCtx:      deps.PipelineCtx,
		release:          deps.Release,
		outboundPriority: make(chan outboundFrame, max(1, min(deps.Config.OutboundQueueSize, outboundPriorityQueueSize))),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		status:           deps.Session.Status,
	}
	if s.requestID != "" {
		s.logger = s.logger.With("request_id", s.requestID)
	}
	return s, nil
}

// Run registers the connection and serves it until the client disconnects
// or the session is cancelled. Buffered audio is dropped on return.
func (s *LiveSession) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}

	s.entry = s.registry.Register(s.session.ID, sessions.Handle{
		UserID:  s.session.UserID,
		Cancel:  func() { s.closeWith(websocket.CloseGoingAway, "connection closed by server") },
		End:     func() { s.closeWith(websocket.CloseNormalClosure, "session ended") },
		Warn:    s.SendWarning,
		Ping:    s.ping,
		Release: s.release,
	}, voice.IngestConfig{
		Window:    s.cfg.DebounceWindow,
		MinBytes:  s.cfg.MinAudioBytes,
		MaxBytes:  s.cfg.MaxAudioBytes,
		AfterFunc: s.cfg.AfterFunc,
	}, s.onFlush)
	s.conn.SetPongHandler(func(string) error {
		s.entry.MarkAlive()
		return nil
	})

	started := s.now()
	s.metrics.RecordLiveSessionStart()
	s.logger.Info("live session connected", "status", s.Status())

	readCh := make(chan inboundFrame, 64)
	writerErrCh := make(chan error, 1)
	go s.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:           s.conn,
			ctx:          s.ctx,
			writeTimeout: s.cfg.WriteTimeout,
			priority:     s.outboundPriority,
			normal:       s.outboundNormal,
			closing:      s.closeFrame,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	_ = s.sendPriority(protocol.Connected(s.session.ID, s.Status(), s.now()))

	outcome, runErr := s.loop(readCh, writerErrCh)

	s.entry.Unregister()
	dropped := s.entry.DroppedBytes()
	s.metrics.RecordAudio("dropped", dropped)
	s.flushAndClose(writerErrCh)
	s.metrics.RecordLiveSessionEnd(outcome, s.now().Sub(started))
	if dropped > 0 {
		s.logger.Info("dropped buffered audio on disconnect", "bytes", dropped)
	}
	return runErr
}

func (s *LiveSession) loop(readCh <-chan inboundFrame, writerErrCh <-chan error) (string, error) {
	for {
		select {
		case <-s.ctx.Done():
			cf := s.closeFrame()
			s.logger.Info("live session closed by server", "close_code", cf.code, "close_reason", cf.reason)
			return "server_closed", nil
		case err, ok := <-writerErrCh:
			if !ok || err == nil {
				return "server_closed", nil
			}
			s.logger.Warn("live session write failed", "error", err)
			return "error", err
		case frame, ok := <-readCh:
			if !ok {
				return "client_closed", nil
			}
			if frame.err != nil {
				return s.readClosed(frame.err)
			}
			s.entry.MarkAlive()
			s.handleFrame(frame)
		}
	}
}

func (s *LiveSession) readClosed(err error) (string, error) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		s.logger.Info("live session disconnected", "close_code", ce.Code, "close_reason", ce.Text)
		if ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway || ce.Code == websocket.CloseNoStatusReceived {
			return "client_closed", nil
		}
		return "client_closed", err
	}
	select {
	case <-s.ctx.Done():
		// Reads fail once the writer closes the socket.
		cf := s.closeFrame()
		s.logger.Info("live session closed by server", "close_code", cf.code, "close_reason", cf.reason)
		return "server_closed", nil
	default:
	}
	s.logger.Info("live session disconnected", "close_code", websocket.CloseAbnormalClosure, "error", err)
	return "client_closed", err
}

func (s *LiveSession) flushAndClose(writerErrCh <-chan error) {
	s.cancel()
	wait := 100 * time.Millisecond
	if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
		wait = s.cfg.WriteTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-writerErrCh:
	case <-timer.C:
		_ = s.conn.Close()
	}
}

func (s *LiveSession) handleFrame(in inboundFrame) {
	frame, err := protocol.ParseFrame(in.messageType == websocket.BinaryMessage, in.data)
	if err != nil {
		var bad *protocol.MalformedControlMessage
		if errors.As(err, &bad) {
			s.logger.Debug("malformed control message", "code", bad.Code, "error", bad.Message)
			_ = s.sendPriority(protocol.ErrorFrom(s.session.ID, bad, s.now()))
		}
		return
	}
	if frame.SessionID != "" && frame.SessionID != s.session.ID {
		_ = s.sendPriority(protocol.Error(s.session.ID, protocol.CodeSessionMismatch, "sessionId does not match this connection", "sessionId", s.now()))
		return
	}

	switch frame.Kind {
	case protocol.FrameAudio:
		if len(frame.Audio) == 0 {
			return
		}
		if s.entry.Append(frame.Audio) {
			s.metrics.RecordAudio("received", len(frame.Audio))
		}
	case protocol.FrameControl:
		s.replyStatus()
	}
}

// replyStatus answers a status request with the persisted session status.
func (s *LiveSession) replyStatus() {
	ctx, cancel := context.WithTimeout(s.ctx, storeTimeout)
	defer cancel()
	status := s.Status()
	if sess, err := s.store.GetSession(ctx, s.session.ID); err == nil && sess != nil {
		status = sess.Status
	} else if err != nil {
		s.logger.Warn("status lookup failed", "error", err)
	}
	_ = s.sendPriority(protocol.Status(s.session.ID, status, "", s.now()))
}

// onFlush runs on the debounce timer goroutine, one batch at a time.
func (s *LiveSession) onFlush(e *sessions.Entry, audio []byte) {
	s.metrics.RecordAudio("flushed", len(audio))

	started := s.now()
	text, ok, err := s.transcriber.Transcribe(s.pipelineCtx, audio)
	elapsed := s.now().Sub(started)
	if !e.Registered() {
		s.logger.Debug("discarding transcription for closed connection")
		return
	}
	if err != nil {
		s.metrics.RecordTranscription(s.sttName, "error", elapsed)
		s.metrics.RecordError("transcription")
		s.transcriptionFailed(err)
		return
	}
	if !ok {
		s.metrics.RecordTranscription(s.sttName, "empty", elapsed)
		return
	}
	s.metrics.RecordTranscription(s.sttName, "ok", elapsed)
	s.failures.Store(0)
	if s.Status() == types.StatusError {
		s.transition(types.StatusListening, "transcription recovered")
	}

	t := types.Transcript{
		ID:        uuid.NewString(),
		SessionID: s.session.ID,
		Timestamp: s.now().UTC(),
		Speaker:   s.classifier.Classify(text),
		Text:      text,
	}
	ctx, cancel := context.WithTimeout(s.pipelineCtx, storeTimeout)
	err = s.store.AppendTranscript(ctx, &t)
	cancel()
	if err != nil {
		s.metrics.RecordError("persist")
		s.logger.Error("persist transcript failed", "error", err)
	}
	_ = s.sendNormal(protocol.Transcript(t))

	s.pipeline.Add(1)
	go func() {
		defer s.pipeline.Done()
		s.coach(e, t)
	}()
}

func (s *LiveSession) transcriptionFailed(err error) {
	n := int(s.failures.Add(1))
	s.logger.Warn("transcription failed", "error", err, "consecutive_failures", n)
	_ = s.sendPriority(protocol.Error(s.session.ID, protocol.CodeTranscriptionFailed, "transcription failed; audio was not processed", "", s.now()))

	limit := s.cfg.MaxTranscriptionFailures
	if limit > 0 && n >= limit && s.Status() == types.StatusListening {
		_ = s.sendPriority(protocol.Error(s.session.ID, protocol.CodeRepeatedFailures, fmt.Sprintf("%d consecutive transcription failures", n), "", s.now()))
		s.transition(types.StatusError, "repeated transcription failures")
	}
}

// coach runs one suggestion cycle for the latest transcript.
func (s *LiveSession) coach(e *sessions.Entry, latest types.Transcript) {
	ctx := s.pipelineCtx

	recent := s.recentTranscripts(ctx, latest.ID)
	cc := s.contexts.BuildContext(ctx, s.session)
	weights := callctx.ComputeWeights(cc)
	out, source := s.suggestions.Generate(ctx, suggest.Input{
		Session: s.session,
		Context: cc,
		Weights: weights,
		Recent:  recent,
		Latest:  latest,
	})
	if !e.Registered() {
		s.logger.Debug("discarding suggestions for closed connection", "count", len(out))
		return
	}
	if len(out) == 0 {
		return
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	err := s.store.AppendSuggestions(storeCtx, out)
	cancel()
	if err != nil {
		s.metrics.RecordError("persist")
		s.logger.Error("persist suggestions failed", "error", err)
	}
	s.metrics.RecordSuggestions(string(source), len(out))
	for _, sug := range out {
		_ = s.sendNormal(protocol.Suggestion(sug))
	}
}

func (s *LiveSession) recentTranscripts(ctx context.Context, excludeID string) []types.Transcript {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	list, err := s.store.ListTranscripts(ctx, s.session.ID, s.cfg.RecentTranscripts+1)
	if err != nil {
		s.logger.Warn("list recent transcripts failed", "error", err)
		return nil
	}
	out := list[:0]
	for _, t := range list {
		if t.ID != excludeID {
			out = append(out, t)
		}
	}
	if len(out) > s.cfg.RecentTranscripts {
		out = out[len(out)-s.cfg.RecentTranscripts:]
	}
	return out
}

// transition persists a status change and pushes it to the client.
func (s *LiveSession) transition(to types.SessionStatus, message string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if s.status == to {
		return
	}
	ctx, cancel := context.WithTimeout(s.pipelineCtx, storeTimeout)
	defer cancel()
	updated, err := s.store.UpdateSessionStatus(ctx, s.session.ID, to)
	if err != nil {
		s.logger.Error("session status update failed", "from", s.status, "to", to, "error", err)
		return
	}
	s.logger.Info("session status changed", "from", s.status, "to", updated.Status)
	s.status = updated.Status
	_ = s.sendPriority(protocol.Status(s.session.ID, updated.Status, message, s.now()))
}

// Status returns the session status as this connection last saw it.
func (s *LiveSession) Status() types.SessionStatus {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// Wait blocks until in-flight suggestion cycles finish or ctx ends.
func (s *LiveSession) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		s.pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *LiveSession) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *LiveSession) ping() error {
	deadline := time.Now().Add(max(s.cfg.WriteTimeout, time.Second))
	return s.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline)
}

func (s *LiveSession) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closeMsg.Store(closeFrame{code: code, reason: reason})
	})
	s.cancel()
}

func (s *LiveSession) closeFrame() closeFrame {
	if cf, ok := s.closeMsg.Load().(closeFrame); ok {
		return cf
	}
	return closeFrame{code: websocket.CloseNormalClosure}
}

// Cancel closes the connection with 1001 going away.
func (s *LiveSession) Cancel() {
	if s == nil {
		return
	}
	s.closeWith(websocket.CloseGoingAway, "connection closed by server")
}

// SendWarning pushes an error envelope without closing the connection.
func (s *LiveSession) SendWarning(code, message string) error {
	if s == nil {
		return nil
	}
	return s.sendPriority(protocol.Error(s.session.ID, code, message, "", s.now()))
}

func (s *LiveSession) sendNormal(env protocol.ServerEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}
	select {
	case s.outboundNormal <- outboundFrame{payload: payload}:
		return nil
	default:
		s.logger.Warn("outbound queue full, dropping frame", "type", env.Type)
		return errBackpressure
	}
}

// sendPriority enqueues ahead of normal frames, evicting the oldest queued
// priority frame when full.
func (s *LiveSession) sendPriority(env protocol.ServerEnvelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	frame := outboundFrame{payload: payload}
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}
