// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config loads transport configuration from YAML (or JSON) files
// and UIDRPC_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "UIDRPC_"

type Config struct {
	ListenAddr      string        `yaml:"listenAddr"`
	AdminAddr       string        `yaml:"adminAddr"`
	Transport       string        `yaml:"transport"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	SweepDelay      time.Duration `yaml:"sweepDelay"`
	SweepInterval   time.Duration `yaml:"sweepInterval"`
	PermitsOneway   int           `yaml:"permitsOneway"`
	PermitsAsync    int           `yaml:"permitsAsync"`
	WorkerThreads   int           `yaml:"workerThreads"`
	WorkerQueue     int           `yaml:"workerQueue"`
	CallbackThreads int           `yaml:"callbackThreads"`
	MaxFrameSize    int           `yaml:"maxFrameSize"`
	ProtocolVersion string        `yaml:"protocolVersion"`
	MinPeerVersion  string        `yaml:"minPeerVersion"`
	Log             LogConfig     `yaml:"log"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8888",
		AdminAddr:       "127.0.0.1:8889",
		Transport:       "tcp",
		ConnectTimeout:  3 * time.Second,
		RequestTimeout:  3 * time.Second,
		SweepDelay:      3 * time.Second,
		SweepInterval:   time.Second,
		PermitsOneway:   65535,
		PermitsAsync:    65535,
		WorkerThreads:   8,
		WorkerQueue:     10000,
		CallbackThreads: 4,
		MaxFrameSize:    16 << 20,
		ProtocolVersion: "1.0.0",
		Log:             LogConfig{Level: "info"},
	}
}

// Load reads path over the defaults and then applies the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Parse(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := FromEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML or JSON into cfg, keeping fields the document omits.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}

// FromEnv overrides cfg with any UIDRPC_* variables that are set, e.g.
// UIDRPC_LISTEN_ADDR or UIDRPC_REQUEST_TIMEOUT=500ms.
func FromEnv(cfg *Config) error {
	strs := map[string]*string{
		"LISTEN_ADDR":      &cfg.ListenAddr,
		"ADMIN_ADDR":       &cfg.AdminAddr,
		"TRANSPORT":        &cfg.Transport,
		"PROTOCOL_VERSION": &cfg.ProtocolVersion,
		"MIN_PEER_VERSION": &cfg.MinPeerVersion,
		"LOG_LEVEL":        &cfg.Log.Level,
	}
	for k, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"CONNECT_TIMEOUT": &cfg.ConnectTimeout,
		"REQUEST_TIMEOUT": &cfg.RequestTimeout,
		"SWEEP_DELAY":     &cfg.SweepDelay,
		"SWEEP_INTERVAL":  &cfg.SweepInterval,
	}
	for k, dst := range durations {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*dst = d
		}
	}

	ints := map[string]*int{
		"PERMITS_ONEWAY":   &cfg.PermitsOneway,
		"PERMITS_ASYNC":    &cfg.PermitsAsync,
		"WORKER_THREADS":   &cfg.WorkerThreads,
		"WORKER_QUEUE":     &cfg.WorkerQueue,
		"CALLBACK_THREADS": &cfg.CallbackThreads,
		"MAX_FRAME_SIZE":   &cfg.MaxFrameSize,
	}
	for k, dst := range ints {
		if v, ok := os.LookupEnv(EnvPrefix + k); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", EnvPrefix, k, err)
			}
			*dst = n
		}
	}

	if v, ok := os.LookupEnv(EnvPrefix + "LOG_DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sLOG_DEVELOPMENT: %w", EnvPrefix, err)
		}
		cfg.Log.Development = b
	}
	return nil
}

// Validate rejects values the transport cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Transport != "tcp" && c.Transport != "grpc" {
		errs = append(errs, fmt.Errorf("transport %q: want tcp or grpc", c.Transport))
	}
	for name, d := range map[string]time.Duration{
		"connectTimeout": c.ConnectTimeout,
		"requestTimeout": c.RequestTimeout,
		"sweepInterval":  c.SweepInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.SweepDelay < 0 {
		errs = append(errs, fmt.Errorf("sweepDelay must not be negative, got %s", c.SweepDelay))
	}
	if c.PermitsOneway <= 0 || c.PermitsAsync <= 0 {
		errs = append(errs, errors.New("permits must be positive"))
	}
	if c.MaxFrameSize < 8 {
		errs = append(errs, fmt.Errorf("maxFrameSize %d too small", c.MaxFrameSize))
	}
	if c.WorkerQueue < 0 {
		errs = append(errs, fmt.Errorf("workerQueue must not be negative, got %d", c.WorkerQueue))
	}
	return errors.Join(errs...)
}
