package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/relay"
)

const (
	shutdownGrace = 10 * time.Second
)

// Server ties the HTTP surface to the relay and manages graceful shutdown.
type Server struct {
	httpServer *http.Server
	relay      *relay.Relay
}

func New(addr string, handlers *Handlers, consoleRelay *relay.Relay) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: NewRouter(handlers),
			// No global timeouts: console sessions legitimately idle for
			// long periods. Mint and admin calls are bounded elsewhere.
		},
		relay: consoleRelay,
	}
}

// Run serves until ctx is cancelled, then force-closes all live sessions with
// an administrative close and drains the HTTP server.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Info().Msgf("Console relay listening on %s.", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down console relay...")
	s.relay.Registry().CloseAll(shutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
