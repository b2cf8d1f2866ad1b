// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/jeranaias/formchat/internal/backend"
	"github.com/jeranaias/formchat/internal/config"
	"github.com/jeranaias/formchat/internal/identity"
	"github.com/jeranaias/formchat/internal/logging"
	"github.com/jeranaias/formchat/internal/reconcile"
	"github.com/jeranaias/formchat/internal/storage"
	"github.com/jeranaias/formchat/internal/util"
)

// =============================================================================
// APP
// =============================================================================

// App holds what the commands share: configuration, the backend client,
// the identity chain and the transcript archive.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Client   *backend.Client
	Identity identity.Chain
	Store    storage.Store

	Out io.Writer
	Err io.Writer

	closers []io.Closer
}

// NewApp wires an App from cfg. A broken archive is logged and disabled
// rather than failing the command.
func NewApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Out:    os.Stdout,
		Err:    os.Stderr,
	}

	ident, err := a.buildIdentity()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Identity = ident

	a.Client = backend.New(cfg.API.BaseURL).
		WithTimeout(cfg.Timeout()).
		WithTokenSource(ident).
		WithLogger(logging.For(logger, logging.Backend))

	store, err := storage.Open(cfg.Storage.Driver, cfg.StorageDir(), cfg.Storage.MaxTranscripts)
	if err != nil {
		logger.Warn().Err(err).Str("driver", cfg.Storage.Driver).Msg("transcript archive disabled")
	} else if store != nil {
		a.Store = store
		a.closers = append(a.closers, store)
	}

	return a, nil
}

// buildIdentity chains, in order: the watched user file, the token file,
// the FORMCHAT_TOKEN token and the configured user ID.
func (a *App) buildIdentity() (identity.Chain, error) {
	id := a.Config.Identity
	log := logging.For(a.Logger, logging.Identity)
	var chain identity.Chain

	if id.UserFile != "" {
		fp, err := identity.NewFileProvider(util.ExpandHome(id.UserFile), identity.WithFileLogger(log))
		if err != nil {
			return nil, fmt.Errorf("user file: %w", err)
		}
		if err := fp.Watch(); err != nil {
			log.Warn().Err(err).Msg("user file will not be reloaded on change")
		}
		a.closers = append(a.closers, fp)
		chain = append(chain, fp)
	}
	if id.TokenFile != "" {
		tp, err := identity.LoadTokenFile(util.ExpandHome(id.TokenFile))
		if err != nil {
			return nil, fmt.Errorf("token file: %w", err)
		}
		chain = append(chain, tp)
	}
	if id.Token != "" {
		chain = append(chain, identity.NewTokenProvider(id.Token))
	}
	if id.UserID > 0 {
		chain = append(chain, identity.Static(id.UserID))
	}
	return chain, nil
}

// UserID returns the signed-in user or reconcile.ErrNotAuthenticated.
func (a *App) UserID() (int64, error) {
	if id, ok := a.Identity.UserID(); ok {
		return id, nil
	}
	return 0, fmt.Errorf("%w: set identity.user_id, identity.user_file or FORMCHAT_TOKEN", reconcile.ErrNotAuthenticated)
}

// NewController returns a controller bound to the backend with the
// configured throttle, title and archive.
func (a *App) NewController(opts ...reconcile.Option) *reconcile.Controller {
	base := []reconcile.Option{
		reconcile.WithThrottle(a.Config.Throttle()),
		reconcile.WithSessionTitle(a.Config.Stream.SessionTitle),
		reconcile.WithLogger(logging.For(a.Logger, logging.Reconcile)),
	}
	if a.Store != nil {
		base = append(base, reconcile.WithArchiver(storage.NewArchiver(a.Store)))
	}
	return reconcile.New(reconcile.HTTPBackend(a.Client), a.Identity, append(base, opts...)...)
}

// Close releases the archive and stops identity file watching.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
