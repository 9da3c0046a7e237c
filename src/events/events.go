package events

import "strings"

// CallStatus values reported by the telephony provider for a call leg.
const (
	StatusRinging   = "ringing"
	StatusAnswered  = "answered"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Terminal reports whether a call status means the call is over.
func Terminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Alternative is one recognition hypothesis for a caller utterance.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Recognition is a speech-recognition event for one caller utterance.
// Providers may deliver zero alternatives for noise or silence.
type Recognition struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Transcript returns the first non-empty transcript, trimmed. An empty
// string means recognition produced nothing usable and the caller should
// be reprompted rather than the event treated as an error.
func (r Recognition) Transcript() string {
	for _, alt := range r.Alternatives {
		if t := strings.TrimSpace(alt.Transcript); t != "" {
			return t
		}
	}
	return ""
}

// SessionConfig selects synthesis and recognition parameters for a call.
// Sent once, before the first utterance is spoken.
type SessionConfig struct {
	Voice               string `json:"voice"`
	Language            string `json:"language"`
	RecognitionLanguage string `json:"recognitionLanguage"`
	BargeIn             bool   `json:"bargeIn"`
}

// SayRequest is a composite speak-then-listen instruction. When
// ListenTimeoutSec is non-zero the provider opens a recognition window
// after playback; if it expires, TimeoutText is spoken and, when
// HangupOnTimeout is set, the call is terminated by the provider.
type SayRequest struct {
	Text             string `json:"text"`
	ListenTimeoutSec int    `json:"listenTimeoutSec,omitempty"`
	TimeoutText      string `json:"timeoutText,omitempty"`
	HangupOnTimeout  bool   `json:"hangupOnTimeout,omitempty"`
	HangupAfter      bool   `json:"hangupAfter,omitempty"`
}
