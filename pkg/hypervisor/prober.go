package hypervisor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"

	"github.com/ucpcloud/consoled/pkg/scheduler"
)

const (
	probeInterval   = 30 * time.Second
	probeMinBackoff = 5 * time.Second
	probeMaxBackoff = 120 * time.Second

	statusURL = "/api/console/relays/status/"
)

// Prober periodically checks control-plane reachability and exposes the result
// as a readiness flag. Probe failures back off exponentially; a successful
// probe resets the backoff and returns to the steady interval.
type Prober struct {
	client *Client
	ready  atomic.Bool
}

func NewProber(client *Client) *Prober {
	return &Prober{client: client}
}

// Ready reports whether the last probe reached the control plane.
func (p *Prober) Ready() bool {
	return p.ready.Load()
}

// Run probes until ctx is cancelled.
func (p *Prober) Run(ctx context.Context) {
	probeBackoff := backoff.NewExponentialBackOff()
	probeBackoff.InitialInterval = probeMinBackoff
	probeBackoff.MaxInterval = probeMaxBackoff
	probeBackoff.MaxElapsedTime = 0 // retry forever
	probeBackoff.RandomizationFactor = 0

	for {
		wait := probeInterval
		if err := p.client.Version(ctx); err != nil {
			if wasReady := p.ready.Swap(false); wasReady {
				log.Warn().Err(err).Msg("Hypervisor control plane became unreachable.")
				reportStatus(false)
			}
			wait = probeBackoff.NextBackOff()
			log.Debug().Err(err).Msgf("Control plane probe failed, will try again in %ds.", int(wait.Seconds()))
		} else {
			if wasReady := p.ready.Swap(true); !wasReady {
				log.Info().Msg("Hypervisor control plane is reachable.")
				reportStatus(true)
			}
			probeBackoff.Reset()
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// reportStatus pushes the readiness flag to the panel on every flip. Put, not
// Post: the panel keeps only the current value per relay.
func reportStatus(ready bool) {
	if scheduler.Rqueue == nil {
		return
	}

	data, err := json.Marshal(map[string]interface{}{
		"reporter":       "consoled",
		"upstream_ready": ready,
	})
	if err != nil {
		return
	}

	scheduler.Rqueue.Put(statusURL, data, 30, time.Now().Add(10*time.Minute))
}
