// Package mcp wires the tool registry to the Model Context Protocol.
//
// The transport, JSON-RPC framing and request dispatch come from the
// official MCP Go SDK; this package owns what sits on top: constructing
// the permission policy and toolsets from configuration, keeping the
// SDK's advertised tool list in sync with the registry's enable/disable
// state, translating tool results into MCP envelopes, and exposing the
// system-prompt resource.
//
// Protocol discipline: stdout carries framed JSON-RPC only. Every log
// line this package and its dependencies emit goes to stderr.
package mcp
