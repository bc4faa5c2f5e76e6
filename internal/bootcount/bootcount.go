// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bootcount is a firmware component that counts boots and keeps a
// volatile clean-shutdown marker.
package bootcount

import (
	"log/slog"

	"github.com/ffutop/nvprefs/preferences"
)

// Type tags are derived from component names.
var (
	countType    = preferences.TypeHash("bootcount.count")
	shutdownType = preferences.TypeHash("bootcount.clean_shutdown")
)

// record is the persisted counter.
type record struct {
	Count       uint32
	LastUptimeS uint32
}

// Counter counts boots across restarts.
type Counter struct {
	count    preferences.Object
	shutdown preferences.Object
	state    record
}

// New allocates the counter's slots from prefs.
func New(prefs preferences.Preferences) *Counter {
	return &Counter{
		count:    preferences.MakeFor[record](prefs, countType, true),
		shutdown: preferences.MakeFor[bool](prefs, shutdownType, false),
	}
}

// Setup restores the counter and records this boot. A missing or
// unreadable record starts from zero.
func (c *Counter) Setup() uint32 {
	if !preferences.Load(c.count, &c.state) {
		slog.Info("bootcount: no stored count, starting fresh")
		c.state = record{}
	}
	c.state.Count++
	if !preferences.Save(c.count, &c.state) {
		slog.Warn("bootcount: failed to save count", "count", c.state.Count)
	}
	clean := false
	if !preferences.Save(c.shutdown, &clean) {
		slog.Warn("bootcount: failed to save shutdown marker", "clean", clean)
	}
	slog.Info("bootcount: boot recorded", "count", c.state.Count, "lastUptimeS", c.state.LastUptimeS)
	return c.state.Count
}

// Count returns the number of boots including this one.
func (c *Counter) Count() uint32 {
	return c.state.Count
}

// LastUptime returns the uptime in seconds stored at the previous shutdown.
func (c *Counter) LastUptime() uint32 {
	return c.state.LastUptimeS
}

// Shutdown stores this run's uptime and marks the shutdown as clean. The
// caller syncs afterwards.
func (c *Counter) Shutdown(uptimeS uint32) {
	c.state.LastUptimeS = uptimeS
	if !preferences.Save(c.count, &c.state) {
		slog.Warn("bootcount: failed to save uptime", "uptimeS", uptimeS)
	}
	clean := true
	if !preferences.Save(c.shutdown, &clean) {
		slog.Warn("bootcount: failed to save shutdown marker", "clean", clean)
	}
}

// CleanShutdown reports whether Shutdown ran since Setup in this process.
func (c *Counter) CleanShutdown() bool {
	var clean bool
	if !preferences.Load(c.shutdown, &clean) {
		return false
	}
	return clean
}
