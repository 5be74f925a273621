// Package tools implements the server's tool catalog: the registry that
// owns tool descriptors, argument validation against declared schemas, and
// the handlers for filesystem, edit, search, shell, process-supervision and
// agent-delegation tools.
//
// Handlers never return a Go error for a user-visible failure. Every
// failure is expressed as a Result with StatusError and a taxonomy code,
// which the MCP layer renders as a tool-result envelope with isError=true.
// The dispatcher therefore never converts a handler failure into a
// JSON-RPC error, which keeps failures conversationally recoverable.
package tools
