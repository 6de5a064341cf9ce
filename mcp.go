package codecamp

import (
	"context"
	"iter"
)

// ServerTransport provides the server-side communication layer for the
// protocol. Implementations own the wire (SSE, stdio) and surface each
// client connection as a Session.
type ServerTransport interface {
	// Sessions returns an iterator that yields new client sessions as they are
	// initiated. Each yielded Session represents a unique client connection and
	// provides methods for bidirectional communication. The implementation must
	// guarantee that each session ID is unique across all active connections.
	//
	// The implementation should exit the iteration when the Shutdown method is called.
	Sessions() iter.Seq[Session]

	// Shutdown gracefully shuts down the ServerTransport to clean up resources.
	// The caller is guaranteed to call this method only once.
	Shutdown(ctx context.Context) error
}

// Session represents a bidirectional communication channel between server
// and client. Sends travel over the push stream; received messages arrive
// through the transport's inbound channel.
type Session interface {
	// ID returns the identifier the session is currently registered under.
	// For SSE sessions this changes once, when the session is promoted from
	// its temporary key to the client-chosen correlation id.
	ID() string

	// Send transmits a message to the client.
	Send(ctx context.Context, msg JSONRPCMessage) error

	// Messages returns an iterator that yields messages received from the
	// client. The iteration ends when the session is stopped.
	Messages() iter.Seq[JSONRPCMessage]

	// Stop stops the session. Stop is idempotent; the transport, the idle
	// eviction timer, and the dispatcher may each race to call it.
	Stop()
}

// ToolServer supplies the tool catalog and executes tool invocations.
type ToolServer interface {
	// ListTools returns the list of available tools with their input schemas.
	ListTools(context.Context, ListToolsParams) (ListToolsResult, error)

	// CallTool executes a specific tool with the given arguments.
	// Returns error if the tool is not found, arguments are invalid,
	// execution fails, or the context is cancelled.
	CallTool(context.Context, CallToolParams) (CallToolResult, error)
}

// ResourceServer supplies the resource catalog and serves resource reads.
type ResourceServer interface {
	// ListResources returns the list of available resources.
	ListResources(context.Context, ListResourcesParams) (ListResourcesResult, error)

	// ReadResource retrieves a specific resource by its URI.
	ReadResource(context.Context, ReadResourceParams) (ReadResourceResult, error)
}
