// Package delivery abstracts how an assistant utterance reaches the
// caller. The batched strategy speaks and opens a bounded listening
// window in one provider instruction; the streamed strategy feeds an
// open synthesis channel with barge-in enabled. Both satisfy the same
// controller-facing contract, selected once per deployment.
package delivery

import "github.com/bluewing-labs/tablevoice/src/events"

// Mode selects the delivery strategy for the whole deployment
type Mode string

const (
	Batched  Mode = "batched"
	Streamed Mode = "streamed"
)

// Strategy delivers assistant utterances to the caller
type Strategy interface {
	// Configure prepares the session for this strategy. Called once,
	// before the greeting.
	Configure(sess events.Session) error

	// SpeakAndListen delivers an utterance and arranges to receive the
	// caller's next utterance asynchronously
	SpeakAndListen(sess events.Session, text string) error

	// SpeakAndEnd delivers a closing utterance and terminates the call
	// after it has had time to be heard
	SpeakAndEnd(sess events.Session, text string) error

	// OnEmptyTranscript reacts to an empty recognition result. It
	// returns false once the strategy has given up on the caller and
	// initiated teardown.
	OnEmptyTranscript(sess events.Session) (bool, error)

	// Release drops any per-call state the strategy holds. Idempotent.
	Release(callID string)
}
