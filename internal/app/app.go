// Package app wires configuration, logging, history, playback, and the
// session into a runnable client.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/soundbooth/djcast/internal/config"
	"github.com/soundbooth/djcast/internal/playback"
	"github.com/soundbooth/djcast/internal/session"
	"github.com/soundbooth/djcast/internal/store"
	"github.com/soundbooth/djcast/internal/store/sqlite"
)

const (
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// App owns the session and its collaborators for one process lifetime.
type App struct {
	cfg     config.Config
	log     *zerolog.Logger
	sess    *session.Session
	history store.Store
}

// New constructs the application with the provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	var history store.Store
	if cfg.HistoryPath != "" {
		st, err := sqlite.New(cfg.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		history = st
		logger.Debug().Str("path", cfg.HistoryPath).Msg("history database opened")
	}

	sink := playback.NewPlayer(cfg.Player, cfg.AudioDevice, logger)

	sess := session.New(session.Options{
		Host:    cfg.Host,
		Port:    cfg.Port,
		Audio:   cfg.Audio,
		Sink:    sink,
		Logger:  logger,
		History: history,
	})

	return &App{cfg: cfg, log: logger, sess: sess, history: history}, nil
}

// Session exposes the underlying session, for the CLI.
func (a *App) Session() *session.Session {
	return a.sess
}

// Run connects, joins the configured room, and waits. When the link
// drops it reconnects with capped exponential backoff; the session's
// preserved room membership makes the rejoin automatic. Run returns
// when ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	room := a.cfg.Room
	if room == "" && a.history != nil {
		last, err := a.history.LastRoom(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("read last room")
		} else if last != "" {
			a.log.Info().Str("room", last).Msg("no room configured, using last joined")
			room = last
		}
	}
	if room == "" {
		return errors.New("no room to join: pass --room or join one first")
	}

	delay := reconnectBaseDelay
	first := true
	for {
		if err := a.sess.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if first {
				return err
			}
			a.log.Warn().Err(err).Dur("retry_in", delay).Msg("reconnect failed")
			if !sleep(ctx, delay) {
				return nil
			}
			delay = min(delay*2, reconnectMaxDelay)
			continue
		}
		delay = reconnectBaseDelay

		// The rejoin after a reconnect happens inside Connect; only
		// the first join is ours to issue.
		if first {
			first = false
			if err := a.sess.JoinRoom(ctx, room); err != nil {
				a.sess.Disconnect()
				return fmt.Errorf("join room %q: %w", room, err)
			}
		}

		if err := a.sess.Wait(ctx, 0); err != nil {
			// Cancelled: release the channel and stop playback.
			a.sess.Disconnect()
			return nil
		}

		// Wait returned because the channel dropped.
		if ctx.Err() != nil {
			return nil
		}
		a.log.Info().Dur("retry_in", delay).Msg("connection lost, reconnecting")
		if !sleep(ctx, delay) {
			return nil
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

func (a *App) cleanup() {
	a.sess.Disconnect()
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close history")
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
