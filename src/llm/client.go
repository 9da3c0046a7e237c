// Package llm generates assistant replies for a call. Two completion
// providers are supported behind the Client interface; the Responder
// wraps whichever one is configured and shields the session controller
// from provider failures.
package llm

import (
	"context"

	"github.com/bluewing-labs/tablevoice/src/convo"
)

// Client is a request/response completion provider. Complete receives
// the full role-tagged conversation, system turn first, and returns a
// single assistant reply.
type Client interface {
	Complete(ctx context.Context, turns []convo.Turn) (string, error)
}
