package delivery

import (
	"sync"

	"github.com/bluewing-labs/tablevoice/src/events"
	"github.com/bluewing-labs/tablevoice/src/logger"
)

// DefaultListenTimeoutSec bounds the listening window opened after
// each batched utterance.
const DefaultListenTimeoutSec = 10

// DefaultRepromptText is spoken when recognition produced nothing usable
const DefaultRepromptText = "Извините, я вас не расслышал. Повторите, пожалуйста."

// DefaultGiveUpText is spoken before hanging up on an unresponsive caller
const DefaultGiveUpText = "К сожалению, я вас не слышу. Всего доброго!"

// BatchedStrategy composes speak + listen + timeout fallback into one
// declarative provider instruction per turn. The caller is reprompted
// once on an empty transcript, then the call is closed out.
type BatchedStrategy struct {
	session      events.SessionConfig
	listenSec    int
	repromptText string
	giveUpText   string
	log          *logger.Logger

	mu         sync.Mutex
	reprompted map[string]bool
}

// BatchedConfig holds configuration for the batched strategy
type BatchedConfig struct {
	Session          events.SessionConfig
	ListenTimeoutSec int    // defaults to DefaultListenTimeoutSec
	RepromptText     string // defaults to DefaultRepromptText
	GiveUpText       string // defaults to DefaultGiveUpText
}

// NewBatchedStrategy creates a batched delivery strategy
func NewBatchedStrategy(config BatchedConfig) *BatchedStrategy {
	listenSec := config.ListenTimeoutSec
	if listenSec == 0 {
		listenSec = DefaultListenTimeoutSec
	}
	repromptText := config.RepromptText
	if repromptText == "" {
		repromptText = DefaultRepromptText
	}
	giveUpText := config.GiveUpText
	if giveUpText == "" {
		giveUpText = DefaultGiveUpText
	}
	cfg := config.Session
	cfg.BargeIn = false

	return &BatchedStrategy{
		session:      cfg,
		listenSec:    listenSec,
		repromptText: repromptText,
		giveUpText:   giveUpText,
		log:          logger.WithPrefix("BatchedDelivery"),
		reprompted:   make(map[string]bool),
	}
}

func (s *BatchedStrategy) Configure(sess events.Session) error {
	return sess.Configure(s.session)
}

func (s *BatchedStrategy) SpeakAndListen(sess events.Session, text string) error {
	// A usable utterance arrived, so the reprompt budget resets
	s.mu.Lock()
	delete(s.reprompted, sess.CallID())
	s.mu.Unlock()

	return sess.Say(events.SayRequest{
		Text:             text,
		ListenTimeoutSec: s.listenSec,
		TimeoutText:      s.giveUpText,
		HangupOnTimeout:  true,
	})
}

func (s *BatchedStrategy) SpeakAndEnd(sess events.Session, text string) error {
	s.Release(sess.CallID())
	return sess.Say(events.SayRequest{Text: text, HangupAfter: true})
}

// OnEmptyTranscript reprompts once; the second empty transcript in a
// row gets the give-up line and a hangup.
func (s *BatchedStrategy) OnEmptyTranscript(sess events.Session) (bool, error) {
	callID := sess.CallID()

	s.mu.Lock()
	already := s.reprompted[callID]
	s.reprompted[callID] = true
	s.mu.Unlock()

	if already {
		s.log.Info("giving up on silent caller %s", callID)
		return false, s.SpeakAndEnd(sess, s.giveUpText)
	}

	s.log.Debug("reprompting %s", callID)
	return true, sess.Say(events.SayRequest{
		Text:             s.repromptText,
		ListenTimeoutSec: s.listenSec,
		TimeoutText:      s.giveUpText,
		HangupOnTimeout:  true,
	})
}

func (s *BatchedStrategy) Release(callID string) {
	s.mu.Lock()
	delete(s.reprompted, callID)
	s.mu.Unlock()
}
