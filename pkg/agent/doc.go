// Package agent drives one request through the reasoning loop.
//
// Invariants:
// - Every request resolves a session before the first model call.
// - Journal events are written before the matching output chunk is sent.
// - Tool and peer failures become conversation text; the loop keeps going.
// - Errors never reach the caller; they end the stream with an apology.
//
// Usage:
//
//	engine, _ := agent.New(agent.Config{
//		Name:     "assistant",
//		Backend:  backend,
//		Sessions: store,
//	})
//	reply, _ := engine.Complete(ctx, agent.Request{
//		Messages: agent.UserInput("hello"),
//	})
//	_ = reply.Content
package agent
