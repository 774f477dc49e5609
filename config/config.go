// Package config implements TOML configuration for the relay daemon
// and the messaging client.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/padrelay/pad"
	"github.com/opd-ai/padrelay/protocol"
)

const (
	defaultListenAddr = ":65432"
	defaultLogLevel   = "info"
)

// Server configures the relay daemon.
type Server struct {
	// ListenAddr is the TCP address the relay binds.
	ListenAddr string

	// MaxFrameSize bounds one wire frame in bytes. Zero selects the
	// protocol default.
	MaxFrameSize int

	// StatusIntervalSec is how often, in seconds, the relay logs
	// client and room counts. Zero disables the status log.
	StatusIntervalSec int
}

func (s *Server) applyDefaults() {
	if s.ListenAddr == "" {
		s.ListenAddr = defaultListenAddr
	}
	if s.MaxFrameSize == 0 {
		s.MaxFrameSize = protocol.MaxFrameSize
	}
}

func (s *Server) validate() error {
	if s.MaxFrameSize < 0 {
		return errors.New("config: Server.MaxFrameSize must not be negative")
	}
	if s.StatusIntervalSec < 0 {
		return errors.New("config: Server.StatusIntervalSec must not be negative")
	}
	return nil
}

// StatusInterval returns the status log interval as a duration.
func (s *Server) StatusInterval() time.Duration {
	return time.Duration(s.StatusIntervalSec) * time.Second
}

// Client configures the messaging client.
type Client struct {
	// ServerAddr is the relay address, host:port.
	ServerAddr string

	// Identity is this device's 11-character identity token.
	Identity string

	// DataDir is where pads and the contact book live.
	DataDir string

	// PadMode selects pad layout: "per-contact" (default) or "shared".
	PadMode string
}

func (c *Client) applyDefaults() {
	if c.PadMode == "" {
		c.PadMode = string(pad.ModePerContact)
	}
}

func (c *Client) validate() error {
	if c.ServerAddr == "" {
		return errors.New("config: Client.ServerAddr is required")
	}
	if !protocol.ValidIdentity(c.Identity) {
		return fmt.Errorf("config: Client.Identity %q is not a valid identity", c.Identity)
	}
	if c.DataDir == "" {
		return errors.New("config: Client.DataDir is required")
	}
	if !pad.ValidMode(pad.Mode(c.PadMode)) {
		return fmt.Errorf("config: Client.PadMode %q must be %q or %q",
			c.PadMode, pad.ModePerContact, pad.ModeShared)
	}
	return nil
}

// Logging is the logging configuration shared by both programs.
type Logging struct {
	// Level is a logrus level name: debug, info, warn, error.
	Level string

	// File is the log destination; empty means stderr.
	File string
}

func (l *Logging) applyDefaults() {
	if l.Level == "" {
		l.Level = defaultLogLevel
	}
}

func (l *Logging) validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("config: Logging.Level: %w", err)
	}
	return nil
}

// Apply configures the global logger from the section. The returned
// closer is non-nil when a log file was opened.
func (l *Logging) Apply() (func() error, error) {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("config: Logging.Level: %w", err)
	}
	logrus.SetLevel(level)

	if l.File == "" {
		return nil, nil
	}
	f, err := os.OpenFile(l.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("config: failed to open log file: %w", err)
	}
	logrus.SetOutput(f)
	return f.Close, nil
}

// Config is the top-level configuration document. A file may carry the
// Server section, the Client section, or both.
type Config struct {
	Server  *Server
	Client  *Client
	Logging *Logging
}

// FixupAndValidate applies defaults and checks every present section.
func (cfg *Config) FixupAndValidate() error {
	if cfg.Logging == nil {
		cfg.Logging = &Logging{}
	}
	cfg.Logging.applyDefaults()
	if err := cfg.Logging.validate(); err != nil {
		return err
	}

	if cfg.Server != nil {
		cfg.Server.applyDefaults()
		if err := cfg.Server.validate(); err != nil {
			return err
		}
	}
	if cfg.Client != nil {
		cfg.Client.applyDefaults()
		if err := cfg.Client.validate(); err != nil {
			return err
		}
	}
	if cfg.Server == nil && cfg.Client == nil {
		return errors.New("config: no Server or Client section")
	}
	return nil
}

// Load parses and validates the provided buffer b as a config file
// body and returns the Config.
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

// LoadFile loads, parses, and validates the provided file and returns
// the Config.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
