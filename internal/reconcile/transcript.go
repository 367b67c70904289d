package reconcile

import (
	"strings"
	"time"

	"voicedash/internal/calls"
)

// transcript is the reconciled conversation for one call. Streaming
// delivery means the same utterance arrives several times, each frame
// extending the previous text; the merge below keeps exactly one stored
// message per utterance.
type transcript struct {
	messages []calls.TranscriptMessage
	typing   map[calls.MessageRole]time.Time
}

func newTranscript() *transcript {
	return &transcript{typing: map[calls.MessageRole]time.Time{}}
}

// applyMessage merges one inbound message. Rules, in order:
//
//  1. Same role, same text, near-equal timestamp: duplicate, discarded.
//     A partial->final flip on identical text updates the flag in place.
//  2. Same role and the inbound text extends the last stored message of
//     that role (stored text is a prefix): streaming update, text replaced
//     in place. Requires the stored message to still be partial or the
//     timestamps to be within the duplicate window, so an utterance that
//     merely repeats an old opening later in the call appends normally.
//  3. Otherwise: append.
//
// It reports whether stored state changed (false for pure duplicates).
func (t *transcript) applyMessage(msg calls.TranscriptMessage, window time.Duration) bool {
	delete(t.typing, msg.Role)

	idx := t.lastIndexOfRole(msg.Role)
	if idx >= 0 {
		last := &t.messages[idx]

		if msg.Text == last.Text && nearTimes(msg.Timestamp, last.Timestamp, window) {
			if last.Partial && !msg.Partial {
				last.Partial = false
				last.Timestamp = latest(last.Timestamp, msg.Timestamp)
				return true
			}
			return false
		}

		if strings.HasPrefix(msg.Text, last.Text) &&
			(last.Partial || nearTimes(msg.Timestamp, last.Timestamp, window)) {
			last.Text = msg.Text
			last.Partial = msg.Partial
			last.Timestamp = latest(last.Timestamp, msg.Timestamp)
			if msg.Speaker != "" {
				last.Speaker = msg.Speaker
			}
			return true
		}
	}

	t.messages = append(t.messages, msg)
	return true
}

// replace swaps the whole transcript (full_transcript event or refresh).
func (t *transcript) replace(msgs []calls.TranscriptMessage) {
	t.messages = append([]calls.TranscriptMessage(nil), msgs...)
	t.typing = map[calls.MessageRole]time.Time{}
}

func (t *transcript) setTyping(role calls.MessageRole, now time.Time) {
	t.typing[role] = now
}

// typingRoles returns roles with a typing indicator newer than ttl.
func (t *transcript) typingRoles(now time.Time, ttl time.Duration) []calls.MessageRole {
	var out []calls.MessageRole
	for role, at := range t.typing {
		if now.Sub(at) <= ttl {
			out = append(out, role)
		}
	}
	return out
}

func (t *transcript) lastIndexOfRole(role calls.MessageRole) int {
	for i := len(t.messages) - 1; i >= 0; i-- {
		if t.messages[i].Role == role {
			return i
		}
	}
	return -1
}

func (t *transcript) snapshot() []calls.TranscriptMessage {
	out := make([]calls.TranscriptMessage, len(t.messages))
	copy(out, t.messages)
	return out
}

// nearTimes treats zero timestamps as matching anything: sources without
// timestamps still need duplicate suppression.
func nearTimes(a, b time.Time, window time.Duration) bool {
	if a.IsZero() || b.IsZero() {
		return true
	}
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= window
}

func latest(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
