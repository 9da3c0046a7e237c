package delivery

import (
	"time"

	"github.com/bluewing-labs/tablevoice/src/events"
	"github.com/bluewing-labs/tablevoice/src/logger"
)

// Hangup delay bounds for the streamed strategy. The provider gives no
// playback-finished signal, so the closing line gets a delay scaled to
// its length before the hangup is issued. The race between playback
// completion and hangup is acknowledged, not eliminated.
const (
	MinHangupDelay = 3 * time.Second
	MaxHangupDelay = 5 * time.Second
	perCharDelay   = 60 * time.Millisecond
)

// StreamedStrategy pushes utterance text into the provider's open
// synthesis channel and flushes to start playback immediately. The
// session is configured for continuous recognition with barge-in, so
// the caller can interrupt playback at any point.
type StreamedStrategy struct {
	session        events.SessionConfig
	minHangupDelay time.Duration
	maxHangupDelay time.Duration
	log            *logger.Logger
}

// StreamedConfig holds configuration for the streamed strategy
type StreamedConfig struct {
	Session events.SessionConfig

	// Hangup delay bounds; zero values take the package defaults.
	// Tests shrink these to keep runs fast.
	MinHangupDelay time.Duration
	MaxHangupDelay time.Duration
}

// NewStreamedStrategy creates a streamed delivery strategy
func NewStreamedStrategy(config StreamedConfig) *StreamedStrategy {
	minDelay := config.MinHangupDelay
	if minDelay == 0 {
		minDelay = MinHangupDelay
	}
	maxDelay := config.MaxHangupDelay
	if maxDelay == 0 {
		maxDelay = MaxHangupDelay
	}
	cfg := config.Session
	cfg.BargeIn = true

	return &StreamedStrategy{
		session:        cfg,
		minHangupDelay: minDelay,
		maxHangupDelay: maxDelay,
		log:            logger.WithPrefix("StreamedDelivery"),
	}
}

func (s *StreamedStrategy) Configure(sess events.Session) error {
	return sess.Configure(s.session)
}

func (s *StreamedStrategy) SpeakAndListen(sess events.Session, text string) error {
	if err := sess.StreamText(text); err != nil {
		return err
	}
	return sess.Flush()
}

// SpeakAndEnd streams the closing line, waits long enough for it to be
// heard and hangs up.
func (s *StreamedStrategy) SpeakAndEnd(sess events.Session, text string) error {
	if err := sess.StreamText(text); err != nil {
		return err
	}
	if err := sess.Flush(); err != nil {
		return err
	}

	delay := s.hangupDelay(text)
	s.log.Debug("hanging up %s in %v", sess.CallID(), delay)
	time.Sleep(delay)

	return sess.Hangup()
}

// OnEmptyTranscript is a no-op: the microphone stays open, the caller
// just was not understood this time.
func (s *StreamedStrategy) OnEmptyTranscript(sess events.Session) (bool, error) {
	s.log.Debug("empty transcript on %s, staying in listen", sess.CallID())
	return true, nil
}

func (s *StreamedStrategy) Release(string) {}

func (s *StreamedStrategy) hangupDelay(text string) time.Duration {
	delay := time.Duration(len([]rune(text))) * perCharDelay
	if delay < s.minHangupDelay {
		return s.minHangupDelay
	}
	if delay > s.maxHangupDelay {
		return s.maxHangupDelay
	}
	return delay
}
