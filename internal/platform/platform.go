// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package platform builds the preference store at startup and owns it
// until shutdown.
package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/ffutop/nvprefs/internal/config"
	"github.com/ffutop/nvprefs/internal/storage"
	"github.com/ffutop/nvprefs/internal/store"
	"github.com/ffutop/nvprefs/preferences"
)

var (
	// ErrAlreadyActive is returned by Open while another Platform is open.
	ErrAlreadyActive = errors.New("platform: preference store already active")

	// ErrUnknownMedium is returned for an unsupported medium type.
	ErrUnknownMedium = errors.New("platform: unknown medium type")
)

// active guards the single-initialization rule for the process.
var active atomic.Bool

// Platform owns the media and the store built from them.
type Platform struct {
	store  *store.Store
	closed bool
}

// Open opens both media and builds the store. Only one Platform may be open
// at a time; components receive Preferences() rather than a global.
func Open(cfg config.PreferencesConfig) (*Platform, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrAlreadyActive
	}

	flash, err := openMedium(cfg.Flash)
	if err != nil {
		active.Store(false)
		return nil, fmt.Errorf("flash medium: %w", err)
	}
	volatile, err := openMedium(cfg.Volatile)
	if err != nil {
		flash.Close()
		active.Store(false)
		return nil, fmt.Errorf("volatile medium: %w", err)
	}

	slog.Info("platform: preference store active", "flash", flash.Name(), "volatile", volatile.Name(), "defaultInFlash", cfg.DefaultInFlash)
	return &Platform{
		store: store.New(store.Options{
			Flash:          flash,
			Volatile:       volatile,
			DefaultInFlash: cfg.DefaultInFlash,
		}),
	}, nil
}

// NewMedium creates an unopened medium from its configuration.
func NewMedium(cfg config.MediumConfig) (storage.Medium, error) {
	switch cfg.Type {
	case config.MediumMemory:
		return storage.NewMemoryMedium(), nil
	case config.MediumFile:
		return storage.NewFileMedium(cfg.Path, cfg.Size), nil
	case config.MediumMmap:
		return storage.NewMmapMedium(cfg.Path, cfg.Size), nil
	case config.MediumNVS:
		return storage.NewNVSMedium(cfg.Path), nil
	case config.MediumSQLite:
		return storage.NewSQLMedium(cfg.Path), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMedium, cfg.Type)
	}
}

func openMedium(cfg config.MediumConfig) (storage.Medium, error) {
	m, err := NewMedium(cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Open(); err != nil {
		return nil, err
	}
	return m, nil
}

// Preferences returns the store to hand to components.
func (p *Platform) Preferences() preferences.Preferences {
	return p.store
}

// Store returns the concrete store for the sync loop and diagnostics.
func (p *Platform) Store() *store.Store {
	return p.store
}

// Close closes the media without syncing and releases the
// single-initialization guard.
func (p *Platform) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	err := p.store.Close()
	active.Store(false)
	return err
}
