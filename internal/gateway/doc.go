// Package gateway is the HTTP edge of steward-gateway: the REST surface for
// creating plans, approving steps, answering clarifications, and the SSE
// endpoint that streams a plan's events to one subscriber at a time.
//
// The gateway owns process wiring (store, team registry, model client, tool
// dialer, orchestrator) and their shutdown order. Handlers only translate:
// JSON in, orchestrator call, JSON or SSE out. Typed stream events become
// the wire marker grammar here and nowhere else.
package gateway
