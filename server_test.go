package codecamp

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"
	"testing"
	"time"
)

// fakeSession is an in-memory Session for exercising the dispatcher
// without a transport.
type fakeSession struct {
	id       string
	incoming chan JSONRPCMessage
	outgoing chan JSONRPCMessage

	stopOnce sync.Once
	done     chan struct{}
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{
		id:       id,
		incoming: make(chan JSONRPCMessage, 10),
		outgoing: make(chan JSONRPCMessage, 10),
		done:     make(chan struct{}),
	}
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case f.outgoing <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return fmt.Errorf("session is closed")
	}
}

func (f *fakeSession) Messages() iter.Seq[JSONRPCMessage] {
	return func(yield func(JSONRPCMessage) bool) {
		for {
			select {
			case msg := <-f.incoming:
				if !yield(msg) {
					return
				}
			case <-f.done:
				return
			}
		}
	}
}

func (f *fakeSession) Stop() {
	f.stopOnce.Do(func() {
		close(f.done)
	})
}

type fakeTransport struct {
	sessions chan Session
	done     chan struct{}
	closed   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sessions: make(chan Session, 1),
		done:     make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (t *fakeTransport) Sessions() iter.Seq[Session] {
	return func(yield func(Session) bool) {
		defer close(t.closed)
		for {
			select {
			case <-t.done:
				return
			case sess := <-t.sessions:
				if !yield(sess) {
					return
				}
			}
		}
	}
}

func (t *fakeTransport) Shutdown(ctx context.Context) error {
	close(t.done)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.closed:
		return nil
	}
}

type stubToolServer struct {
	callErr error
}

func (s stubToolServer) ListTools(context.Context, ListToolsParams) (ListToolsResult, error) {
	return ListToolsResult{
		Tools: []Tool{{Name: "echo"}},
	}, nil
}

func (s stubToolServer) CallTool(_ context.Context, params CallToolParams) (CallToolResult, error) {
	if s.callErr != nil {
		return CallToolResult{}, s.callErr
	}
	return CallToolResult{
		Content: []Content{{Type: ContentTypeText, Text: params.Name}},
	}, nil
}

func startTestServer(t *testing.T, options ...ServerOption) *fakeSession {
	t.Helper()

	transport := newFakeTransport()
	srv := NewServer(Info{Name: "test-server", Version: "1.0.0"}, transport, options...)
	go srv.Serve()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("failed to shut down server: %v", err)
		}
	})

	sess := newFakeSession("test-session")
	transport.sessions <- sess
	return sess
}

func awaitResponse(t *testing.T, sess *fakeSession) JSONRPCMessage {
	t.Helper()
	select {
	case msg := <-sess.outgoing:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
		return JSONRPCMessage{}
	}
}

func expectNoResponse(t *testing.T, sess *fakeSession) {
	t.Helper()
	select {
	case msg := <-sess.outgoing:
		t.Fatalf("expected no response, got %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func initializeSession(t *testing.T, sess *fakeSession) {
	t.Helper()

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "init",
		Method:  methodInitialize,
		Params:  json.RawMessage(`{"protocolVersion":"` + protocolVersion + `"}`),
	}
	res := awaitResponse(t, sess)
	if res.Error != nil {
		t.Fatalf("initialization failed: %+v", res.Error)
	}

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  methodNotificationsInitialized,
	}
}

func TestServerInitialize(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}), WithInstructions("be helpful"))

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "1",
		Method:  methodInitialize,
		Params:  json.RawMessage(`{"protocolVersion":"` + protocolVersion + `"}`),
	}

	res := awaitResponse(t, sess)
	if res.ID != "1" {
		t.Errorf("got response id %q, want 1", res.ID)
	}
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}

	var initRes initializeResult
	if err := json.Unmarshal(res.Result, &initRes); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if initRes.ProtocolVersion != protocolVersion {
		t.Errorf("got protocol version %q, want %q", initRes.ProtocolVersion, protocolVersion)
	}
	if initRes.Capabilities.Tools == nil {
		t.Error("expected tools capability to be advertised")
	}
	if initRes.Capabilities.Resources != nil {
		t.Error("expected no resources capability without a resource server")
	}
	if initRes.Instructions != "be helpful" {
		t.Errorf("got instructions %q, want the configured ones", initRes.Instructions)
	}
}

func TestServerInitializeVersionMismatch(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}))

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "1",
		Method:  methodInitialize,
		Params:  json.RawMessage(`{"protocolVersion":"1999-12-31"}`),
	}

	res := awaitResponse(t, sess)
	if res.Error == nil {
		t.Fatal("expected an error for a protocol version mismatch")
	}
	if res.Error.Code != jsonRPCInvalidParamsCode {
		t.Errorf("got error code %d, want %d", res.Error.Code, jsonRPCInvalidParamsCode)
	}
}

func TestServerPing(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}))

	// Ping works before the handshake completes.
	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "ping-1",
		Method:  methodPing,
	}

	res := awaitResponse(t, sess)
	if res.ID != "ping-1" {
		t.Errorf("got response id %q, want ping-1", res.ID)
	}
	if res.Error != nil {
		t.Errorf("unexpected error: %+v", res.Error)
	}
}

func TestServerRequestsGatedUntilInitialized(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}))

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "early",
		Method:  MethodToolsList,
	}
	expectNoResponse(t, sess)

	initializeSession(t, sess)

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "2",
		Method:  MethodToolsList,
	}
	res := awaitResponse(t, sess)
	if res.Error != nil {
		t.Fatalf("unexpected error: %+v", res.Error)
	}

	var listRes ListToolsResult
	if err := json.Unmarshal(res.Result, &listRes); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(listRes.Tools) != 1 || listRes.Tools[0].Name != "echo" {
		t.Errorf("got tools %+v, want the stub's single echo tool", listRes.Tools)
	}
}

func TestServerToolErrorBecomesResult(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{callErr: fmt.Errorf("tool exploded")}))
	initializeSession(t, sess)

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "3",
		Method:  MethodToolsCall,
		Params:  json.RawMessage(`{"name":"echo","arguments":{}}`),
	}

	res := awaitResponse(t, sess)
	if res.Error != nil {
		t.Fatalf("tool failure must not surface as a protocol error, got %+v", res.Error)
	}

	var callRes CallToolResult
	if err := json.Unmarshal(res.Result, &callRes); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if !callRes.IsError {
		t.Error("expected isError to be set")
	}
	if len(callRes.Content) != 1 || callRes.Content[0].Text != "tool exploded" {
		t.Errorf("got content %+v, want the tool's error text", callRes.Content)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}))
	initializeSession(t, sess)

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "4",
		Method:  "tools/destroy",
	}

	res := awaitResponse(t, sess)
	if res.Error == nil {
		t.Fatal("expected a method-not-found error")
	}
	if res.Error.Code != jsonRPCMethodNotFoundCode {
		t.Errorf("got error code %d, want %d", res.Error.Code, jsonRPCMethodNotFoundCode)
	}

	// Unknown notifications are dropped silently.
	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  "notifications/unknown",
	}
	expectNoResponse(t, sess)
}

func TestServerResourcesNotSupported(t *testing.T) {
	sess := startTestServer(t, WithToolServer(stubToolServer{}))
	initializeSession(t, sess)

	sess.incoming <- JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      "5",
		Method:  MethodResourcesList,
	}

	res := awaitResponse(t, sess)
	if res.Error == nil || res.Error.Code != jsonRPCMethodNotFoundCode {
		t.Fatalf("expected method-not-found for an unconfigured capability, got %+v", res)
	}
}
