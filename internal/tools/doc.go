// Package tools connects agent runtimes to external tool services over the
// Model Context Protocol.
//
// A [Gateway] is one connection: discovery plus invocation of named tools.
// Each tool-using agent owns exactly one gateway for its lifetime; the
// owning runtime must Close it on every exit path. [MCPDialer] opens real
// connections over streamable HTTP; [MockGateway] and [MockDialer] serve
// the test suites of the agent and orchestrator packages.
package tools
