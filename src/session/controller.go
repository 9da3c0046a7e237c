// Package session drives one voice call from greeting to hangup. The
// controller is an explicit state machine: the transport feeds it
// recognition and lifecycle events, it consults the dialog policy and
// the responder, and speaks through the configured delivery strategy.
package session

import (
	"context"
	"sync"

	"github.com/bluewing-labs/tablevoice/src/convo"
	"github.com/bluewing-labs/tablevoice/src/delivery"
	"github.com/bluewing-labs/tablevoice/src/dialog"
	"github.com/bluewing-labs/tablevoice/src/events"
	"github.com/bluewing-labs/tablevoice/src/logger"
)

// State is the dialog position of one call
type State int

const (
	// StateGreeting is the initial state, before the greeting is spoken
	StateGreeting State = iota
	// StateListening waits for the caller's next utterance
	StateListening
	// StateProcessing waits for the completion provider
	StateProcessing
	// StateSpeaking delivers a reply to the caller
	StateSpeaking
	// StateEnding delivers the closing utterance
	StateEnding
	// StateClosed is terminal; the call no longer holds any state
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateEnding:
		return "ending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default utterances for Russian deployments
const (
	DefaultGreeting = "Здравствуйте! Ресторан «Белое крыло», я помогу забронировать столик. Чем могу помочь?"
	DefaultFarewell = "Спасибо за звонок! Всего доброго!"
)

// Responder produces the assistant reply for a caller utterance.
// Implementations must not return errors; a failed completion becomes
// a spoken fallback line.
type Responder interface {
	Reply(ctx context.Context, callID, utterance string) string
}

// Controller sequences recognition events, completions, speech output
// and end-of-call detection for every active call
type Controller struct {
	store     *convo.Store
	policy    dialog.Policy
	responder Responder
	strategy  delivery.Strategy
	greeting  string
	farewell  string
	log       *logger.Logger

	mu    sync.Mutex
	calls map[string]State
}

// ControllerConfig holds the controller's collaborators
type ControllerConfig struct {
	Store     *convo.Store
	Policy    dialog.Policy
	Responder Responder
	Strategy  delivery.Strategy
	Greeting  string // defaults to DefaultGreeting
	Farewell  string // defaults to DefaultFarewell
}

// NewController creates a session controller
func NewController(config ControllerConfig) *Controller {
	greeting := config.Greeting
	if greeting == "" {
		greeting = DefaultGreeting
	}
	farewell := config.Farewell
	if farewell == "" {
		farewell = DefaultFarewell
	}
	return &Controller{
		store:     config.Store,
		policy:    config.Policy,
		responder: config.Responder,
		strategy:  config.Strategy,
		greeting:  greeting,
		farewell:  farewell,
		log:       logger.WithPrefix("Session"),
		calls:     make(map[string]State),
	}
}

// CallState reports the current state of a call. The second return is
// false once the call has closed and released its state.
func (c *Controller) CallState(callID string) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.calls[callID]
	return state, ok
}

// ActiveCalls returns the number of calls the controller is tracking
func (c *Controller) ActiveCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// HandleSessionStart seeds the call's history, configures the delivery
// strategy and speaks the greeting.
func (c *Controller) HandleSessionStart(ctx context.Context, sess events.Session) {
	callID := sess.CallID()

	c.mu.Lock()
	if _, exists := c.calls[callID]; exists {
		c.mu.Unlock()
		c.log.Warn("duplicate session start for %s, ignoring", callID)
		return
	}
	c.calls[callID] = StateGreeting
	c.mu.Unlock()

	c.store.Ensure(callID)
	c.log.Info("call %s started", callID)

	if err := c.strategy.Configure(sess); err != nil {
		c.log.Error("configure failed for %s: %v", callID, err)
		c.closeOut(callID)
		return
	}
	if err := c.strategy.SpeakAndListen(sess, c.greeting); err != nil {
		c.log.Error("greeting failed for %s: %v", callID, err)
		c.closeOut(callID)
		return
	}

	c.setState(callID, StateListening)
}

// HandleRecognition processes one caller utterance. Recognition that
// arrives while a completion is in flight for the same call is dropped;
// handling it would interleave two exchanges on one history.
func (c *Controller) HandleRecognition(ctx context.Context, sess events.Session, rec events.Recognition) {
	callID := sess.CallID()

	c.mu.Lock()
	state, ok := c.calls[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Warn("recognition for unknown call %s, dropped", callID)
		return
	}
	if state != StateListening {
		c.mu.Unlock()
		c.log.Debug("recognition for %s in state %s, dropped", callID, state)
		return
	}

	transcript := rec.Transcript()
	if transcript == "" {
		c.mu.Unlock()
		c.handleEmptyTranscript(sess, callID)
		return
	}

	c.log.Info("call %s caller: %s", callID, transcript)

	if c.policy.IsEndPhrase(transcript) {
		c.calls[callID] = StateEnding
		c.mu.Unlock()
		c.endCall(sess, callID, c.farewell)
		return
	}

	c.calls[callID] = StateProcessing
	c.mu.Unlock()

	reply := c.responder.Reply(ctx, callID, transcript)

	c.mu.Lock()
	if _, stillActive := c.calls[callID]; !stillActive {
		c.mu.Unlock()
		c.log.Debug("call %s ended while processing, reply discarded", callID)
		return
	}

	if c.policy.IsBookingConfirmed(reply) {
		c.calls[callID] = StateEnding
		c.mu.Unlock()
		c.log.Info("call %s booking confirmed", callID)
		c.endCall(sess, callID, reply+" "+c.farewell)
		return
	}

	c.calls[callID] = StateSpeaking
	c.mu.Unlock()

	if err := c.strategy.SpeakAndListen(sess, reply); err != nil {
		c.log.Error("speak failed for %s: %v", callID, err)
	}
	c.setState(callID, StateListening)
}

// HandleStatus reacts to provider call-status updates. Terminal
// statuses tear the call down immediately, regardless of in-flight work.
func (c *Controller) HandleStatus(ctx context.Context, sess events.Session, status string) {
	callID := sess.CallID()
	if !events.Terminal(status) {
		c.log.Debug("call %s status: %s", callID, status)
		return
	}
	c.log.Info("call %s reported %s", callID, status)
	c.closeOut(callID)
}

// HandleSessionClose releases all state for the call
func (c *Controller) HandleSessionClose(sess events.Session) {
	callID := sess.CallID()
	c.log.Info("session closed for %s", callID)
	c.closeOut(callID)
}

// HandleSessionError logs and leaves the call for the transport to
// terminate. One call's failure never touches another call.
func (c *Controller) HandleSessionError(sess events.Session, err error) {
	c.log.Error("session error on %s: %v", sess.CallID(), err)
}

func (c *Controller) handleEmptyTranscript(sess events.Session, callID string) {
	retrying, err := c.strategy.OnEmptyTranscript(sess)
	if err != nil {
		c.log.Error("reprompt failed for %s: %v", callID, err)
	}
	if !retrying {
		c.closeOut(callID)
	}
}

// endCall speaks the closing utterance and releases the call. History
// is deleted before speaking so late events find nothing to mutate.
func (c *Controller) endCall(sess events.Session, callID, closing string) {
	c.store.Delete(callID)

	if err := c.strategy.SpeakAndEnd(sess, closing); err != nil {
		c.log.Error("closing utterance failed for %s: %v", callID, err)
	}

	c.mu.Lock()
	delete(c.calls, callID)
	c.mu.Unlock()
	c.strategy.Release(callID)
	c.log.Info("call %s closed", callID)
}

// closeOut releases a call without speaking, for transport-driven ends
func (c *Controller) closeOut(callID string) {
	c.store.Delete(callID)

	c.mu.Lock()
	_, existed := c.calls[callID]
	delete(c.calls, callID)
	c.mu.Unlock()

	c.strategy.Release(callID)
	if existed {
		c.log.Info("call %s closed", callID)
	}
}

func (c *Controller) setState(callID string, state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.calls[callID]; ok {
		c.calls[callID] = state
	}
}
