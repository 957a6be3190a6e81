// Package stream implements per-plan event streaming.
//
// # Overview
//
// Every plan owns one Session: an ordered, append-only buffer of typed
// events with monotonic sequence numbers. At most one subscriber follows a
// session at a time; attaching replays the full buffer from sequence 1 and
// then follows live appends, so a client that reconnects sees the identical
// ordered sequence and deduplicates by sequence number.
//
// # Wire Grammar
//
// Events cross the HTTP edge as marker-prefixed tokens:
//
//	[PROCESSING]<text>
//	[REASONING_COMPLETE]
//	[CLARIFICATION_REQUEST]<question>
//	[PLAN_READY]{"step_count":N}
//	[SUCCESS]<text>
//	[RESULT]{"steps_created":N}
//	ERROR:<message>
//	[DONE]
//
// Anything else is opaque content. MarshalWire and ParseWire are the only
// places this grammar lives.
package stream
