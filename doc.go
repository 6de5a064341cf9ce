// Package codecamp implements an MCP (Model Context Protocol) server that
// teaches programming through short, pattern-validated lessons. The package
// provides the protocol core: the JSON-RPC message schema, the dispatcher
// that advertises and invokes the tool and resource catalogs, and the
// transports (Server-Sent Events and stdio) that carry sessions.
//
// The SSE transport correlates an anonymously opened push stream with a
// later, independently delivered POST request through a session registry;
// see the promotion semantics in registry.go. The domain server that
// supplies the course catalog and the guided validation engine lives in
// servers/tutor.
package codecamp
