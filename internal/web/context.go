package web

import (
	"net/http"
	"strings"

	"github.com/JonMunkholm/eventimport/internal/core"
	"github.com/JonMunkholm/eventimport/internal/logging"
)

// ActorHeader names the operator acting on import jobs. Jobs record it as
// their owner.
const ActorHeader = "X-Actor-ID"

const maxActorLength = 128

// withActor stores the X-Actor-ID header in the request context and tags
// the request logger with it.
func withActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := strings.TrimSpace(r.Header.Get(ActorHeader))
		if len(actor) > maxActorLength {
			actor = actor[:maxActorLength]
		}
		if actor == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := core.ContextWithActor(r.Context(), actor)
		ctx = logging.ContextWithLogger(ctx, logging.FromContext(ctx).With("actor", actor))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
