// Package session keeps a bounded, in-memory journal of agent sessions.
//
// Invariants:
// - Events are immutable once recorded; callers only ever see copies.
// - Writes for the same session are serialized; different sessions never contend.
// - Holding MaxSessions sessions evicts the least recently updated tenth before an insert.
// - A journal longer than MaxEventsPerSession is cut to the newest ceil(0.8 * max) events.
//
// Usage:
//
//	store := session.NewStore(session.Config{Logger: logger})
//	sess, _ := store.GetOrCreateSession(ctx, "agent", "user", "")
//	_, _ = store.Record(ctx, sess.ID, session.UserMessage{Text: "hello"}, nil)
//	history := store.BuildConversationContext(ctx, sess.ID, 20)
//	_ = history
package session
