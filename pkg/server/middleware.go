package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/config"
)

// RequestLogger logs completed HTTP requests. Websocket upgrades are logged at
// session level by the relay instead.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		if r.Header.Get("Upgrade") == "websocket" {
			return
		}
		log.Debug().Msgf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

// ServiceAuth guards the admin surface with the relay's own service
// credentials, the same pair used when calling the panel API.
func ServiceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := fmt.Sprintf(`id="%s", key="%s"`, config.GlobalSettings.ID, config.GlobalSettings.Key)
		if r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "invalid service credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}
