package cmd

import (
	"context"
	"errors"

	"github.com/Socheema/Framez-sub000/internal/app"
	"github.com/Socheema/Framez-sub000/internal/config"
)

// errEphemeralBackend is returned for one-shot commands on the memory
// backend, whose state dies with the process.
var errEphemeralBackend = errors.New("the memory backend keeps no state between commands, use it with watch or switch to postgres")

// openApp wires the engine for the signed-in user. Commands that leave state
// behind need a persistent backend.
func openApp(ctx context.Context) (*app.App, error) {
	return open(ctx, false)
}

// openWatchApp is openApp for long-running commands, which may also run on
// the memory backend.
func openWatchApp(ctx context.Context) (*app.App, error) {
	return open(ctx, true)
}

func checkBackend(c *config.Config, longRunning bool) error {
	if c.Backend == config.BackendMemory && !longRunning {
		return errEphemeralBackend
	}
	return nil
}

func open(ctx context.Context, longRunning bool) (*app.App, error) {
	if err := checkBackend(cfg, longRunning); err != nil {
		return nil, err
	}
	sess, err := currentSession()
	if err != nil {
		return nil, err
	}

	var b *app.Backend
	if cfg.Backend == config.BackendMemory {
		b, _ = app.NewMemoryBackend(log)
	} else {
		b, err = app.OpenPostgres(ctx, cfg, sess.Token, log)
		if err != nil {
			return nil, err
		}
	}

	a, err := app.New(sess.UserID, b, cfg, log, nil)
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	return a, nil
}
