package codecamp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServer implements a framework-agnostic Server-Sent Events (SSE) server
// transport. Server-to-client traffic is streamed through the SSE response;
// client-to-server messages arrive as discrete HTTP POST bodies correlated
// to a stream by a sessionId query parameter.
//
// The two sides of a connection are opened by independent HTTP exchanges.
// Opening the stream registers a temporary session under a server-issued
// key; a later POST carrying an id the registry does not know triggers
// promotion of the most recently created temporary session to that id.
// Either way the POST is acknowledged synchronously with {"received":true}
// and the result of the enclosed request is pushed asynchronously over the
// stream, decoupling request latency from business-logic latency.
//
// Instances should be created using NewSSEServer and shut down using
// Shutdown when no longer needed.
type SSEServer struct {
	messageURL  string
	idleTimeout time.Duration
	logger      *slog.Logger

	registry *sessionRegistry
	sessions chan *sseServerSession

	done   chan struct{}
	closed chan struct{}
}

// SSEServerOption represents the options for the SSEServer.
type SSEServerOption func(*SSEServer)

type sseServerSession struct {
	sess         *sse.Session
	sendMsgs     chan sseServerSessionSendMsg
	receivedMsgs chan JSONRPCMessage
	logger       *slog.Logger

	// Bookkeeping guarded by the registry mutex.
	reg       *sessionRegistry
	key       string
	state     sessionState
	createdAt time.Time
	lastSeen  time.Time

	idleTimer *time.Timer

	stopOnce       sync.Once
	done           chan struct{}
	sendClosed     chan struct{}
	receivedClosed chan struct{}
}

type sseServerSessionSendMsg struct {
	msg  *sse.Message
	errs chan<- error
}

var defaultSSEIdleTimeout = 5 * time.Minute

// NewSSEServer creates and initializes a new SSE server transport. The
// messageURL is the absolute or relative URL clients should POST their
// messages to; it is advertised to each client through the initial
// "endpoint" event, with the session's server-issued key appended.
func NewSSEServer(messageURL string, options ...SSEServerOption) *SSEServer {
	s := &SSEServer{
		messageURL: messageURL,
		logger:     slog.Default(),
		registry:   newSessionRegistry(),
		sessions:   make(chan *sseServerSession, 5),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.idleTimeout == 0 {
		s.idleTimeout = defaultSSEIdleTimeout
	}
	return s
}

// WithSSEServerIdleTimeout sets the window after which a session with no
// inbound activity is evicted. Eviction runs on a per-session timer, not a
// global sweep, so a single hung session cannot leak forever.
func WithSSEServerIdleTimeout(d time.Duration) SSEServerOption {
	return func(s *SSEServer) {
		s.idleTimeout = d
	}
}

// WithSSEServerLogger sets the logger for the SSE server.
func WithSSEServerLogger(logger *slog.Logger) SSEServerOption {
	return func(s *SSEServer) {
		s.logger = logger.With(
			slog.String("component", "sse"),
		)
	}
}

// Sessions returns an iterator over active client sessions. The iterator
// yields new Session instances as clients connect to the server.
func (s *SSEServer) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(s.closed)

		for {
			select {
			case <-s.done:
				return
			case sess := <-s.sessions:
				// Process send messages for this session in a separate goroutine.
				go sess.processSendMessages()

				if !yield(sess) {
					return
				}
			}
		}
	}
}

// Shutdown gracefully shuts down the SSE server. This method blocks until
// the Sessions iteration has exited.
func (s *SSEServer) Shutdown(ctx context.Context) error {
	close(s.done)

	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to close SSE server: %w", ctx.Err())
	case <-s.closed:
	}
	return nil
}

// HandleSSE returns an http.Handler for the stream endpoint. The handler
// upgrades GET requests to a text/event-stream response that never
// completes, registers a temporary session, and advertises the message
// endpoint to the client. The connection remains open until the client
// disconnects, the session is stopped, or the server shuts down.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		key := uuid.New().String()

		// Advertise the message endpoint, keyed with the server-issued id. A
		// client that uses its own correlation id instead is matched later by
		// registry promotion.
		url := fmt.Sprintf("%s?sessionId=%s", s.messageURL, key)
		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(url)
		if err := sess.Send(&msg); err != nil {
			nErr := fmt.Errorf("failed to write SSE URL: %w", err)
			s.logger.Error("failed to write SSE URL", "err", nErr)
			return
		}
		if err := sess.Flush(); err != nil {
			nErr := fmt.Errorf("failed to flush SSE: %w", err)
			s.logger.Error("failed to flush SSE", "err", nErr)
			return
		}

		srvSession := &sseServerSession{
			sess:           sess,
			logger:         s.logger,
			sendMsgs:       make(chan sseServerSessionSendMsg, 5),
			receivedMsgs:   make(chan JSONRPCMessage, 5),
			done:           make(chan struct{}),
			sendClosed:     make(chan struct{}),
			receivedClosed: make(chan struct{}),
		}
		// The timer must be set before the session becomes visible in the
		// registry: the client already holds the key from the endpoint
		// event, so a correlated POST can arrive while this handler is
		// still here. Registering last orders the timer write before the
		// registry lookup that HandleMessage resets it through.
		srvSession.idleTimer = time.AfterFunc(s.idleTimeout, func() {
			if s.registry.remove(srvSession) {
				s.logger.Info("evicting idle session", slog.String("sessionId", srvSession.ID()))
				srvSession.Stop()
			}
		})
		s.registry.add(key, srvSession)

		// Feed the sessions channel consumed by the Sessions loop so the
		// session can be handed to the dispatcher.
		select {
		case s.sessions <- srvSession:
		case <-s.done:
			s.registry.remove(srvSession)
			return
		}

		// Block so the connection stays open, until the stream is torn down
		// from either side.
		select {
		case <-r.Context().Done():
			// Client closed the stream.
		case <-srvSession.done:
		case <-s.done:
		}

		// Stream close removes the session immediately; removal elsewhere
		// (promotion-aware) is identity-safe so this cannot double-fire.
		srvSession.idleTimer.Stop()
		s.registry.remove(srvSession)
		srvSession.Stop()
	})
}

// HandleMessage returns an http.Handler for the message endpoint. The
// handler expects a sessionId query parameter and a single JSON-RPC
// envelope as the request body. Correlated messages are routed to the
// session's message stream and acknowledged with {"received":true};
// failures are encoded as JSON-RPC error objects inside a 200-class
// response, since the transport itself did its job.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, "", jsonRPCInternalErrorCode, "Internal error")
			return
		}

		var msg JSONRPCMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			s.logger.Warn("failed to decode message", slog.String("err", err.Error()))
			s.writeError(w, "", jsonRPCInternalErrorCode, "Internal error")
			return
		}

		sessID := r.URL.Query().Get("sessionId")
		if sessID == "" {
			s.writeError(w, msg.ID, jsonRPCSessionNotFoundCode, "Session not found")
			return
		}

		sess := s.registry.get(sessID)
		if sess == nil {
			// No binding for this id yet; this may be the first correlated
			// request for a stream that is still anonymous.
			promoted, wasPromoted, previousKey := s.registry.promote(sessID)
			if promoted == nil {
				s.writeError(w, msg.ID, jsonRPCSessionNotFoundCode, "Session not found")
				return
			}
			sess = promoted
			if wasPromoted {
				s.logger.Info("promoted session",
					slog.String("sessionId", sessID),
					slog.String("previousKey", previousKey))
			}
		}

		s.registry.touch(sess)
		sess.idleTimer.Reset(s.idleTimeout)

		if !sess.deliver(msg) {
			// The session closed between lookup and delivery.
			s.writeError(w, msg.ID, jsonRPCSessionNotFoundCode, "Session not found")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(receivedAck{Received: true}); err != nil {
			s.logger.Warn("failed to write ack", slog.String("err", err.Error()))
		}
	})
}

// CleanupStale evicts every session whose last inbound activity is older
// than maxAge and returns the number of sessions evicted. The per-session
// idle timers make this redundant in normal operation; it is exposed for
// operators that want an explicit sweep after reconfiguration.
func (s *SSEServer) CleanupStale(maxAge time.Duration) int {
	evicted := s.registry.cleanupStale(maxAge)
	for _, sess := range evicted {
		sess.idleTimer.Stop()
		sess.Stop()
	}
	return len(evicted)
}

func (s *SSEServer) writeError(w http.ResponseWriter, id MustString, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	resp := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
		},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write error response", slog.String("err", err.Error()))
	}
}

// setCORSHeaders makes both protocol endpoints usable from cross-origin
// browser clients.
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "content-type")
}

func (s *sseServerSession) ID() string {
	if s.reg == nil {
		return s.key
	}
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	return s.key
}

func (s *sseServerSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(msgBs))

	errs := make(chan error)

	// Queue the message for sending to avoid a write race in the sse library.
	select {
	case s.sendMsgs <- sseServerSessionSendMsg{sseMsg, errs}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message", slog.String("message", string(msgBs)))
		return fmt.Errorf("session is closed")
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		s.logger.Warn("session is closed while sending message", slog.String("message", string(msgBs)))
		return fmt.Errorf("session is closed")
	}
}

func (s *sseServerSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		defer close(s.receivedClosed)

		for {
			select {
			case msg := <-s.receivedMsgs:
				if !yield(msg) {
					return
				}
			case <-s.done:
				return
			}
		}
	}
}

// Stop stops the session. It is idempotent because the stream handler, the
// idle timer, and the dispatcher may each initiate teardown.
func (s *sseServerSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// deliver routes an inbound message to the session's protocol handler.
// Reports false if the session closed first.
func (s *sseServerSession) deliver(msg JSONRPCMessage) bool {
	select {
	case s.receivedMsgs <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *sseServerSession) processSendMessages() {
	defer close(s.sendClosed)

	for {
		select {
		case sm := <-s.sendMsgs:
			// Send and flush the message to the client.
			if err := s.sess.Send(sm.msg); err != nil {
				s.logger.Warn("failed to send message", slog.String("err", err.Error()))

				select {
				case sm.errs <- err:
				default:
				}
				continue
			}
			if err := s.sess.Flush(); err != nil {
				s.logger.Warn("failed to flush message", slog.String("err", err.Error()))

				select {
				case sm.errs <- err:
				default:
				}
				continue
			}

			select {
			case sm.errs <- nil:
			default:
			}
		case <-s.done:
			return
		}
	}
}
