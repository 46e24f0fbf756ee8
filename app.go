package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matt0x6f/alis-bot/internal/config"
	"github.com/matt0x6f/alis-bot/internal/dispatch"
	"github.com/matt0x6f/alis-bot/internal/events"
	"github.com/matt0x6f/alis-bot/internal/irc"
	"github.com/matt0x6f/alis-bot/internal/logger"
	"github.com/matt0x6f/alis-bot/internal/metrics"
	"github.com/matt0x6f/alis-bot/internal/network"
	"github.com/matt0x6f/alis-bot/internal/storage"
	"github.com/matt0x6f/alis-bot/internal/transport"
)

// App wires the connection manager, one dispatcher per network and the
// event subscribers together
type App struct {
	bot         config.BotSection
	descriptors []network.Descriptor

	eventBus *events.EventBus
	manager  *network.Manager
	journal  *storage.Journal
	metrics  *metrics.Metrics

	runCtx    context.Context
	runCancel context.CancelFunc
	runWg     sync.WaitGroup
}

// NewApp creates the application from a loaded configuration. keys
// resolves keychain passwords and may be nil.
func NewApp(cfg config.File, keys config.PasswordSource) (*App, error) {
	if err := cfg.Bot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bot settings: %w", err)
	}
	descs, err := cfg.Descriptors(keys)
	if err != nil {
		return nil, err
	}

	// Create event bus
	eventBus := events.NewEventBus()

	app := &App{
		bot:         cfg.Bot,
		descriptors: descs,
		eventBus:    eventBus,
		metrics:     metrics.NewMetrics(),
	}

	journalPath, err := cfg.Bot.JournalFile()
	if err != nil {
		return nil, err
	}
	if journalPath != "" {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(journalPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
		journal, err := storage.NewJournal(journalPath, 100, 5*time.Second)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize journal: %w", err)
		}
		app.journal = journal
		eventBus.Subscribe(irc.EventRequestCompleted, journal)
	}

	eventBus.Subscribe(irc.EventConnectionState, app.metrics)
	eventBus.Subscribe(irc.EventConnectionFailed, app.metrics)
	eventBus.Subscribe(irc.EventRequestCompleted, app.metrics)

	// Log connection changes and finished requests
	eventBus.Subscribe(irc.EventConnectionFailed, app)
	eventBus.Subscribe(irc.EventNickChanged, app)
	eventBus.Subscribe(irc.EventRequestCompleted, app)

	dialer := transport.NewNetDialer()
	app.manager = network.NewManager(dialer, eventBus, cfg.Bot.NetworkOptions())

	return app, nil
}

// startup connects every network and starts its dispatcher
func (a *App) startup(ctx context.Context) error {
	a.runCtx, a.runCancel = context.WithCancel(ctx)
	logger.Log.Info().Int("networks", len(a.descriptors)).Msg("Starting")

	if err := a.manager.Start(a.runCtx, a.descriptors); err != nil {
		a.runCancel()
		return fmt.Errorf("failed to start connections: %w", err)
	}

	opts := a.bot.DispatchOptions()
	for _, id := range a.manager.Connections() {
		d := dispatch.New(id, a.manager, a.eventBus, opts)
		inbound := a.manager.Inbound(id)

		a.runWg.Add(1)
		go func(name string) {
			defer a.runWg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Log.Error().Interface("panic", r).Str("network", name).Msg("PANIC in dispatcher")
				}
			}()
			d.Run(a.runCtx, inbound)
		}(id)
	}

	if a.bot.MetricsAddr != "" {
		a.runWg.Add(1)
		go func() {
			defer a.runWg.Done()
			if err := a.metrics.Serve(a.runCtx, a.bot.MetricsAddr); err != nil {
				logger.Log.Error().Err(err).Str("addr", a.bot.MetricsAddr).Msg("Metrics server failed")
			}
		}()
	}
	return nil
}

// wait blocks until every connection flow has ended
func (a *App) wait() {
	a.manager.Wait()
}

// shutdown stops all connections and closes the journal
func (a *App) shutdown() {
	logger.Log.Info().Msg("Shutdown initiated")

	// Create a timeout context for shutdown operations
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.runCancel != nil {
		a.runCancel()
	}

	// Wait for connections and dispatchers (with timeout)
	runDone := make(chan struct{})
	go func() {
		a.manager.Wait()
		a.runWg.Wait()
		close(runDone)
	}()
	select {
	case <-runDone:
		// Everything stopped
	case <-shutdownCtx.Done():
		logger.Log.Warn().Msg("Timeout waiting for connections, continuing shutdown")
	}

	// Close journal (with timeout)
	if a.journal != nil {
		journalDone := make(chan struct{})
		go func() {
			if err := a.journal.Close(); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to close journal")
			}
			close(journalDone)
		}()
		select {
		case <-journalDone:
			// Journal closed
		case <-shutdownCtx.Done():
			logger.Log.Warn().Msg("Timeout closing journal, continuing shutdown")
		}
	}

	logger.Log.Info().Msg("Shutdown complete")
}

// OnEvent implements events.Subscriber for operational logging
func (a *App) OnEvent(event events.Event) {
	network := event.String("network")
	switch event.Type {
	case irc.EventConnectionFailed:
		logger.Log.Error().
			Str("network", network).
			Str("error", event.String("error")).
			Msg("Network gave up; fix the configuration and restart")
	case irc.EventNickChanged:
		logger.Log.Info().
			Str("network", network).
			Str("nick", event.String("nick")).
			Msg("Nickname changed")
	case irc.EventRequestCompleted:
		logger.Log.Info().
			Str("network", network).
			Str("request_id", event.String("request_id")).
			Str("requester", event.String("requester")).
			Str("outcome", event.String("outcome")).
			Int("matched", event.Int("matched")).
			Int("duration_ms", event.Int("duration_ms")).
			Msg("Request finished")
	}
}
