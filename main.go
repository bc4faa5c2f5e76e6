// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ffutop/nvprefs/internal/bootcount"
	"github.com/ffutop/nvprefs/internal/config"
	"github.com/ffutop/nvprefs/internal/platform"
	"github.com/ffutop/nvprefs/internal/storage"
	"github.com/ffutop/nvprefs/preferences"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const usage = `Usage: nvprefs [flags] <command> [args]

Commands:
  run                 open the store, record a boot and sync periodically until interrupted
  get <type> <len>    print the stored bytes of a persistent slot as hex
  set <type> <hex>    store hex bytes in a persistent slot and sync
  dump                list every record on the persistent medium as YAML
  reset               erase every record

<type> accepts decimal, 0x-prefixed hex, or a name hashed into a type tag.

Flags:
`

func main() {
	flags := pflag.NewFlagSet("nvprefs", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "Path to config file")
	flags.StringP("log-level", "v", "", "Log verbosity level (debug, info, warn, error)")
	flags.StringP("log-file", "L", "", "Log file name ('-' for logging to STDERR only)")
	flags.String("flash-type", "", "Persistent medium type (memory, file, mmap, nvs, sqlite)")
	flags.StringP("flash-path", "p", "", "Persistent medium path")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	flags.Parse(os.Args[1:])

	// Load Configuration
	cfg, err := config.LoadConfig(*configFile, flags)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogger(cfg.Log)

	args := flags.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	p, err := platform.Open(cfg.Preferences)
	if err != nil {
		slog.Error("Failed to open preference store", "err", err)
		os.Exit(1)
	}

	switch cmd {
	case "run":
		err = run(p, cfg.Preferences.SyncInterval)
	case "get":
		err = get(p, args)
	case "set":
		err = set(p, args)
	case "dump":
		err = dump(p)
	case "reset":
		if !p.Preferences().Reset() {
			err = fmt.Errorf("reset failed")
		}
	default:
		flags.Usage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if cerr := p.Close(); cerr != nil {
		slog.Error("Failed to close preference store", "err", cerr)
	}
	if err != nil {
		slog.Error("Command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
}

func run(p *platform.Platform, interval time.Duration) error {
	started := time.Now()
	counter := bootcount.New(p.Preferences())
	counter.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Store().Run(ctx, interval)
	}()

	// Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	counter.Shutdown(uint32(time.Since(started) / time.Second))
	cancel()
	<-done
	slog.Info("Goodbye.", "boots", counter.Count())
	return nil
}

func parseType(s string) (uint32, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 32)
		return uint32(v), err
	}
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		return uint32(v), nil
	}
	return preferences.TypeHash(s), nil
}

func get(p *platform.Platform, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("get expects <type> <len>")
	}
	typ, err := parseType(args[0])
	if err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}
	length, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid length: %w", err)
	}
	if length <= 0 || length > storage.MaxRecordLength {
		return fmt.Errorf("invalid length %d: must be between 1 and %d", length, storage.MaxRecordLength)
	}
	obj := p.Preferences().Make(length, typ, true)
	if !obj.Bound() {
		return fmt.Errorf("no persistent medium for type 0x%08x", typ)
	}
	buf := make([]byte, length)
	if !obj.LoadBytes(buf) {
		return fmt.Errorf("no %d-byte record for type 0x%08x", length, typ)
	}
	fmt.Println(hex.EncodeToString(buf))
	return nil
}

func set(p *platform.Platform, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("set expects <type> <hex>")
	}
	typ, err := parseType(args[0])
	if err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}
	data, err := hex.DecodeString(args[1])
	if err != nil {
		return fmt.Errorf("invalid hex data: %w", err)
	}
	prefs := p.Preferences()
	if !prefs.Make(len(data), typ, true).SaveBytes(data) {
		return fmt.Errorf("failed to save type 0x%08x", typ)
	}
	if !prefs.Sync() {
		return fmt.Errorf("sync failed")
	}
	return nil
}

type dumpRecord struct {
	Type   string `yaml:"type"`
	Length int    `yaml:"length"`
	Data   string `yaml:"data"`
}

func dump(p *platform.Platform) error {
	recs, err := p.Store().Records()
	if err != nil {
		return err
	}
	out := make([]dumpRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, dumpRecord{
			Type:   fmt.Sprintf("0x%08x", r.Type),
			Length: len(r.Data),
			Data:   hex.EncodeToString(r.Data),
		})
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(map[string]any{"records": out})
}

func setupLogger(cfg config.LogConfig) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	switch cfg.Level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.File != "" && cfg.File != "-" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Printf("Failed to open log file, falling back to stderr: %v\n", err)
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(f, opts)
		}
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
