package llm

import (
	"context"
	"strings"

	"github.com/bluewing-labs/tablevoice/src/convo"
	"github.com/bluewing-labs/tablevoice/src/logger"
)

// DefaultFallback is spoken when the completion provider fails. The
// call keeps going; the caller has to repeat the last request.
const DefaultFallback = "Извините, у нас технические неполадки. Пожалуйста, повторите ещё раз."

// Responder produces the assistant reply for one caller utterance and
// maintains the call's history around the provider call. It never
// returns an error: provider failures become the fallback line.
type Responder struct {
	store    *convo.Store
	client   Client
	fallback string
	log      *logger.Logger
}

// ResponderConfig holds configuration for the Responder
type ResponderConfig struct {
	Store    *convo.Store
	Client   Client
	Fallback string // spoken on provider failure; DefaultFallback when empty
}

// NewResponder creates a Responder
func NewResponder(config ResponderConfig) *Responder {
	fallback := config.Fallback
	if fallback == "" {
		fallback = DefaultFallback
	}
	return &Responder{
		store:    config.Store,
		client:   config.Client,
		fallback: fallback,
		log:      logger.WithPrefix("Responder"),
	}
}

// Reply appends the utterance as a user turn, asks the provider for a
// completion over the full history and appends the result as the
// assistant turn. On provider failure the fallback line is returned and
// the assistant turn is not recorded.
func (r *Responder) Reply(ctx context.Context, callID, utterance string) string {
	if text := strings.TrimSpace(utterance); text != "" {
		if err := r.store.Append(callID, convo.RoleUser, text); err != nil {
			r.log.Warn("dropping utterance for %s: %v", callID, err)
			return r.fallback
		}
	}

	turns := r.store.Turns(callID)
	if turns == nil {
		r.log.Warn("no history for %s, skipping completion", callID)
		return r.fallback
	}

	reply, err := r.client.Complete(ctx, turns)
	if err != nil {
		r.log.Error("completion failed for %s: %v", callID, err)
		return r.fallback
	}

	if err := r.store.Append(callID, convo.RoleAssistant, reply); err != nil {
		// Call ended while the provider was thinking; the reply is moot
		r.log.Debug("discarding late reply for %s", callID)
	}
	return reply
}
