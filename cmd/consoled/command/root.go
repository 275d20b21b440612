package command

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ucpcloud/consoled/internal/pool"
	"github.com/ucpcloud/consoled/pkg/config"
	"github.com/ucpcloud/consoled/pkg/hypervisor"
	"github.com/ucpcloud/consoled/pkg/logger"
	"github.com/ucpcloud/consoled/pkg/pidfile"
	"github.com/ucpcloud/consoled/pkg/relay"
	"github.com/ucpcloud/consoled/pkg/scheduler"
	"github.com/ucpcloud/consoled/pkg/server"
	"github.com/ucpcloud/consoled/pkg/version"
)

const name = "consoled"

var RootCmd = &cobra.Command{
	Use:   "consoled",
	Short: "Console relay daemon for UCP",
	Run: func(cmd *cobra.Command, args []string) {
		runRelay()
	},
}

func runRelay() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	// Logger
	logRotate := logger.InitLogger()
	defer func() { _ = logRotate.Close() }()

	// Pid
	pidFilePath, err := pidfile.WritePID(pidfile.FilePath(name))
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to create PID file", err.Error())
		os.Exit(1)
	}
	defer pidfile.Remove(pidFilePath)

	log.Info().Msgf("Starting consoled... (version: %s)", version.Version)

	// Config & Settings
	settings := config.LoadConfig(config.Files(name))
	config.InitSettings(settings)

	// Panel session
	session := scheduler.InitSession()
	session.CheckSession(ctx)

	// Reporters
	scheduler.StartReporters(ctx, session)

	// Background worker pool
	workerPool := pool.NewPool(settings.PoolMaxWorkers, settings.PoolQueueSize)

	// Hypervisor client & reachability prober
	client := hypervisor.NewClient()
	prober := hypervisor.NewProber(client)
	go prober.Run(ctx)

	// Session registry, optionally mirrored to redis
	registry := relay.NewRegistry()
	if settings.RedisAddr != "" {
		mirror, err := relay.NewRedisMirror(settings.RedisAddr, settings.RedisPassword, settings.RedisDB, workerPool)
		if err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, session mirror disabled.")
		} else {
			registry.SetMirror(mirror)
			defer func() { _ = mirror.Close() }()
		}
	}

	consoleRelay := relay.New(registry, client, settings.MaxSessions)

	// HTTP & websocket surface
	gate := server.NewPanelGate(session)
	handlers := server.NewHandlers(gate, client, consoleRelay, prober)
	srv := server.New(settings.ListenAddr, handlers, consoleRelay)

	log.Info().Msgf("%s initialized and running on %s.", name, settings.ListenAddr)

	if err := srv.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Server exited with error.")
	}

	_ = workerPool.Shutdown(5 * time.Second)
	log.Info().Msg("Shutdown complete.")
}
