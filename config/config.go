// SPDX-FileCopyrightText: © 2025 the Clarity authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the configuration for Clarity agents and
// tools.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/k0sti/clarity/core/message"
)

const (
	defaultLogLevel = "info"

	defaultSessionTimeout = 300
	defaultRequestTimeout = 30
	defaultSweepInterval  = 60
)

var defaultRelays = []string{
	"wss://relay.damus.io",
}

// Server is the announcement configuration.
type Server struct {
	// Name is the server name published on announcements.
	Name string

	// Version is the server version string.
	Version string

	// About is a short server description.
	About string

	// Website is an optional website URL.
	Website string

	// Picture is an optional picture URL.
	Picture string
}

// Info converts the section to the announcement payload, or nil if the
// section is absent or empty.
func (s *Server) Info() *message.ServerInfo {
	if s == nil || (s.Name == "" && s.About == "") {
		return nil
	}
	return &message.ServerInfo{
		Name:    s.Name,
		Version: s.Version,
		About:   s.About,
		Website: s.Website,
		Picture: s.Picture,
	}
}

// Nostr is the relay network configuration.
type Nostr struct {
	// PrivateKey is the identity key in hex. A fresh identity is
	// generated when omitted.
	PrivateKey string

	// Relays are the relay endpoints.
	Relays []string
}

func (nCfg *Nostr) validate() error {
	for _, u := range nCfg.Relays {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("config: Nostr: relay URL '%v' is not a websocket URL", u)
		}
	}
	return nil
}

// Encryption is the encryption policy configuration.
type Encryption struct {
	// Mode is one of "optional", "required", "disabled".
	Mode string
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stderr will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToLower(lCfg.Level)
	switch lvl {
	case "error", "warn", "info", "debug":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl
	return nil
}

// Debug holds tunables that rarely need changing. All values are in
// seconds.
type Debug struct {
	// SessionTimeout is the idle session eviction threshold.
	SessionTimeout int

	// RequestTimeout is the client request deadline.
	RequestTimeout int

	// SweepInterval is the session sweep period.
	SweepInterval int
}

func (dCfg *Debug) applyDefaults() {
	if dCfg.SessionTimeout <= 0 {
		dCfg.SessionTimeout = defaultSessionTimeout
	}
	if dCfg.RequestTimeout <= 0 {
		dCfg.RequestTimeout = defaultRequestTimeout
	}
	if dCfg.SweepInterval <= 0 {
		dCfg.SweepInterval = defaultSweepInterval
	}
}

// Config is the top level configuration.
type Config struct {
	Server     *Server
	Nostr      *Nostr
	Encryption *Encryption
	Logging    *Logging
	Debug      *Debug

	mode message.EncryptionMode
}

// EncryptionMode returns the validated encryption policy.
func (c *Config) EncryptionMode() message.EncryptionMode {
	return c.mode
}

// SessionTimeout returns the idle eviction threshold.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.Debug.SessionTimeout) * time.Second
}

// RequestTimeout returns the client request deadline.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Debug.RequestTimeout) * time.Second
}

// SweepInterval returns the session sweep period.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Debug.SweepInterval) * time.Second
}

// FixupAndValidate applies defaults and validates the configuration.
// An unknown encryption mode or log level is a hard error, never
// silently defaulted.
func (c *Config) FixupAndValidate() error {
	if c.Nostr == nil {
		c.Nostr = &Nostr{}
	}
	if len(c.Nostr.Relays) == 0 {
		c.Nostr.Relays = append([]string{}, defaultRelays...)
	}
	if err := c.Nostr.validate(); err != nil {
		return err
	}

	if c.Encryption == nil {
		c.Encryption = &Encryption{}
	}
	mode, err := message.ParseEncryptionMode(c.Encryption.Mode)
	if err != nil {
		return fmt.Errorf("config: Encryption: %w", err)
	}
	c.mode = mode

	if c.Logging == nil {
		c.Logging = &Logging{Level: defaultLogLevel}
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.Debug == nil {
		c.Debug = &Debug{}
	}
	c.Debug.applyDefaults()
	return nil
}

// Load parses and validates the provided buffer b as a Config.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the provided file.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
