// Package dialog decides, from raw utterance text, whether a call
// should end. Matching is substring-based, not semantic; the policy is
// kept behind an interface so a real classifier can replace it without
// touching the session controller.
package dialog

import "strings"

// Policy classifies utterances for the session controller
type Policy interface {
	// IsEndPhrase reports whether the caller asked to finish the call
	IsEndPhrase(text string) bool

	// IsBookingConfirmed reports whether an assistant reply finalized
	// a reservation
	IsBookingConfirmed(text string) bool
}

// PhrasePolicy matches fixed phrase sets case-insensitively. The
// default sets are tuned for Russian-language deployments.
type PhrasePolicy struct {
	endPhrases     []string
	confirmMarkers []string
}

// PhrasePolicyConfig overrides the default phrase sets
type PhrasePolicyConfig struct {
	EndPhrases     []string
	ConfirmMarkers []string
}

// DefaultEndPhrases are caller farewells and declines that end the call
var DefaultEndPhrases = []string{
	"до свидания",
	"досвидания",
	"всего доброго",
	"всего хорошего",
	"не надо",
	"ничего не нужно",
	"спасибо, не нужно",
	"пока",
}

// DefaultConfirmMarkers appear in the assistant's own phrasing when it
// finalizes a reservation
var DefaultConfirmMarkers = []string{
	"бронь подтверждена",
	"ваша бронь оформлена",
	"столик забронирован",
	"я забронировал",
	"ждем вас",
	"ждём вас",
}

// NewPhrasePolicy creates a policy, falling back to the default
// Russian phrase sets where the config leaves a set empty
func NewPhrasePolicy(config PhrasePolicyConfig) *PhrasePolicy {
	p := &PhrasePolicy{
		endPhrases:     config.EndPhrases,
		confirmMarkers: config.ConfirmMarkers,
	}
	if len(p.endPhrases) == 0 {
		p.endPhrases = DefaultEndPhrases
	}
	if len(p.confirmMarkers) == 0 {
		p.confirmMarkers = DefaultConfirmMarkers
	}
	return p
}

func (p *PhrasePolicy) IsEndPhrase(text string) bool {
	return matchAny(text, p.endPhrases)
}

func (p *PhrasePolicy) IsBookingConfirmed(text string) bool {
	return matchAny(text, p.confirmMarkers)
}

func matchAny(text string, phrases []string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, phrase := range phrases {
		if strings.Contains(text, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
