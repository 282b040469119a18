package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/session"
)

func drainTyping(t *testing.T, conn *session.Connection, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case evt := <-conn.Mailbox:
		var payload map[string]any
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			t.Fatalf("unmarshal payload: %v", err)
		}
		return payload
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for typing event")
		return nil
	}
}

func newTypingFixture(t *testing.T, uid dbgw.UserID) (*session.Registry, *session.Connection) {
	t.Helper()
	r := session.NewRegistry()
	conn := session.NewConnection()
	r.NewAnonymousSession(conn)
	r.Authenticate(conn, session.Credentials{UserID: uid, SessionID: "tok"})
	return r, conn
}

func TestTypingDebouncerForwardsImmediately(t *testing.T) {
	registry, conn := newTypingFixture(t, 1)
	d := NewTypingDebouncer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(TypingEvent{ChatID: 5, IsTyping: true, Recipients: []dbgw.UserID{1}})

	got := drainTyping(t, conn, time.Second)
	if got["is_typing"] != true {
		t.Fatalf("expected immediate forward with is_typing=true, got %v", got)
	}
}

func TestTypingDebouncerFiresOffAfterQuietWindow(t *testing.T) {
	registry, conn := newTypingFixture(t, 2)
	d := NewTypingDebouncer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(TypingEvent{ChatID: 9, IsTyping: true, Recipients: []dbgw.UserID{2}})
	drainTyping(t, conn, time.Second) // initial forward

	got := drainTyping(t, conn, 2*time.Second)
	if got["is_typing"] != false {
		t.Fatalf("expected debounced is_typing=false after quiet window, got %v", got)
	}
	if int32(got["chat_id"].(float64)) != 9 {
		t.Fatalf("expected chat_id 9, got %v", got["chat_id"])
	}
}

func TestTypingDebouncerResetsOnRepeatedSameChatEvent(t *testing.T) {
	registry, conn := newTypingFixture(t, 3)
	d := NewTypingDebouncer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(TypingEvent{ChatID: 1, IsTyping: true, Recipients: []dbgw.UserID{3}})
	drainTyping(t, conn, time.Second)

	// Reset shortly before the window would fire; the off-event should not
	// arrive until a further full window has elapsed.
	time.Sleep(600 * time.Millisecond)
	d.Emit(TypingEvent{ChatID: 1, IsTyping: true, Recipients: []dbgw.UserID{3}})
	drainTyping(t, conn, time.Second)

	select {
	case evt := <-conn.Mailbox:
		t.Fatalf("expected no event yet, got %s", evt.Name)
	case <-time.After(700 * time.Millisecond):
	}

	got := drainTyping(t, conn, time.Second)
	if got["is_typing"] != false {
		t.Fatalf("expected eventual is_typing=false, got %v", got)
	}
}

func TestTypingDebouncerDifferentChatForcesOffAndAwaitsNextFirstEvent(t *testing.T) {
	registry, conn := newTypingFixture(t, 5)
	d := NewTypingDebouncer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(TypingEvent{ChatID: 1, IsTyping: true, Recipients: []dbgw.UserID{5}})
	drainTyping(t, conn, time.Second) // raw forward for chat 1

	d.Emit(TypingEvent{ChatID: 2, IsTyping: true, Recipients: []dbgw.UserID{5}})
	drainTyping(t, conn, time.Second) // raw forward for chat 2

	got := drainTyping(t, conn, time.Second)
	if got["is_typing"] != false {
		t.Fatalf("expected forced is_typing=false for the interrupting chat, got %v", got)
	}
	if int32(got["chat_id"].(float64)) != 2 {
		t.Fatalf("expected chat_id 2, got %v", got["chat_id"])
	}

	// No cycle is in progress for chat 2 (or chat 1): neither should fire a
	// further debounced event on its own.
	select {
	case evt := <-conn.Mailbox:
		t.Fatalf("expected no further event without a new first event, got %s", evt.Name)
	case <-time.After(1200 * time.Millisecond):
	}
}

func TestTypingDebouncerExplicitFalseStopsTimer(t *testing.T) {
	registry, conn := newTypingFixture(t, 4)
	d := NewTypingDebouncer(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Emit(TypingEvent{ChatID: 1, IsTyping: true, Recipients: []dbgw.UserID{4}})
	drainTyping(t, conn, time.Second)

	d.Emit(TypingEvent{ChatID: 1, IsTyping: false, Recipients: []dbgw.UserID{4}})
	drainTyping(t, conn, time.Second)

	select {
	case evt := <-conn.Mailbox:
		t.Fatalf("expected no further debounced event, got %s", evt.Name)
	case <-time.After(1200 * time.Millisecond):
	}
}
