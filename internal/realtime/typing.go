package realtime

import (
	"context"
	"time"

	"ppgram/server/internal/dbgw"
	"ppgram/server/internal/session"
)

// DebounceWindow is the 1000ms quiet window from SPEC_FULL.md §4.H.
const DebounceWindow = 1000 * time.Millisecond

// TypingEvent is one raw is_typing signal from a client, grounded on the
// source's IsTypingEvent.
type TypingEvent struct {
	ChatID     dbgw.ChatID
	IsTyping   bool
	Recipients []dbgw.UserID
}

// TypingDebouncer runs one dedicated consumer goroutine per control-plane
// dispatcher (i.e. per authenticated connection), collapsing rapid
// keystroke signals into an "on / quiet-off" envelope. Mirrors
// json_handler.rs's typing_recv_task almost line for line: every event is
// forwarded immediately; a timer is armed on the first is_typing=true and
// reset by further same-chat is_typing=true events; it fires (or a
// different chat_id / an explicit is_typing=false arrives) and the
// debouncer re-broadcasts with is_typing=false.
type TypingDebouncer struct {
	registry *session.Registry
	events   chan TypingEvent
}

// NewTypingDebouncer creates a debouncer with its own event queue.
func NewTypingDebouncer(registry *session.Registry) *TypingDebouncer {
	return &TypingDebouncer{registry: registry, events: make(chan TypingEvent, 32)}
}

// Emit enqueues a raw typing event for the debouncer to process.
func (d *TypingDebouncer) Emit(evt TypingEvent) {
	select {
	case d.events <- evt:
	default:
		// Queue full: a connection producing typing events faster than the
		// debouncer can consume them is already misbehaving; drop rather
		// than block the caller's frame-processing loop.
	}
}

// Run drives the debounce state machine until ctx is canceled. Intended to
// be spawned as one goroutine per connection's control-plane dispatcher.
func (d *TypingDebouncer) Run(ctx context.Context) {
	var (
		timer       *time.Timer
		timerC      <-chan time.Time
		activeChat  dbgw.ChatID
		active      bool
		recipients  []dbgw.UserID
	)

	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	defer stopTimer()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-d.events:
			if !ok {
				return
			}

			wirePayload := typingPayload(evt.ChatID, evt.IsTyping)
			BroadcastToMany(d.registry, evt.Recipients, "is_typing", wirePayload)

			switch {
			case !evt.IsTyping:
				stopTimer()
				active = false

			case active && evt.ChatID == activeChat:
				// Same chat still typing: reset the quiet-window timer.
				stopTimer()
				timer = time.NewTimer(DebounceWindow)
				timerC = timer.C

			case active:
				// A different chat interrupted the in-progress cycle: force
				// it closed and await the next first event rather than
				// starting a new cycle immediately.
				BroadcastToMany(d.registry, evt.Recipients, "is_typing", typingPayload(evt.ChatID, false))
				stopTimer()
				active = false

			default:
				// First event: arm a fresh timer for it.
				activeChat = evt.ChatID
				recipients = evt.Recipients
				active = true
				timer = time.NewTimer(DebounceWindow)
				timerC = timer.C
			}

		case <-timerC:
			BroadcastToMany(d.registry, recipients, "is_typing", typingPayload(activeChat, false))
			stopTimer()
			active = false
		}
	}
}

func typingPayload(chatID dbgw.ChatID, isTyping bool) map[string]any {
	return map[string]any{
		"chat_id":   int32(chatID),
		"is_typing": isTyping,
	}
}
