// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/holomush/hagate/internal/access/audit"
	"github.com/holomush/hagate/internal/logging"
	"github.com/holomush/hagate/internal/xdg"
)

// Default values for configuration keys.
const (
	defaultLogFormat       = "json"
	defaultLogLevel        = "info"
	defaultMetricsAddr     = "127.0.0.1:9110"
	defaultTemplateTimeout = 250 * time.Millisecond
	defaultAuditMode       = string(audit.ModeMinimal)
)

// config is the daemon configuration, merged from the config file and flags.
type config struct {
	PolicyPath      string        `koanf:"policy_path"`
	StatePath       string        `koanf:"state_path"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	LogFormat       string        `koanf:"log_format"`
	LogLevel        string        `koanf:"log_level"`
	TemplateTimeout time.Duration `koanf:"template_timeout"`
	AuditMode       string        `koanf:"audit_mode"`
	AuditWAL        string        `koanf:"audit_wal"`
	ChainMaxAge     time.Duration `koanf:"chain_max_age"`
	Enforce         bool          `koanf:"enforce"`
}

// Validate checks that the configuration is usable.
func (cfg *config) Validate() error {
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return oops.Code("CONFIG_INVALID").With("log_format", cfg.LogFormat).
			Errorf("log_format must be 'json' or 'text', got %q", cfg.LogFormat)
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if _, err := audit.ParseMode(cfg.AuditMode); err != nil {
		return err
	}
	if cfg.TemplateTimeout <= 0 {
		return oops.Code("CONFIG_INVALID").With("template_timeout", cfg.TemplateTimeout.String()).
			Errorf("template_timeout must be positive")
	}
	if cfg.ChainMaxAge < 0 {
		return oops.Code("CONFIG_INVALID").With("chain_max_age", cfg.ChainMaxAge.String()).
			Errorf("chain_max_age must not be negative")
	}
	return nil
}

// registerConfigFlags adds the flags every command shares with the config file.
func registerConfigFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "config file path (default: $XDG_CONFIG_HOME/hagate/config.yaml)")
	flags.String("log-format", defaultLogFormat, "log format (json or text)")
	flags.String("log-level", defaultLogLevel, "log level (debug, info, warn or error)")
	flags.String("state", "", "platform state fixture (YAML entities and variables) for role templates")
	flags.Duration("template-timeout", defaultTemplateTimeout, "wall-clock budget for one role template")
}

// loadConfig merges defaults, the config file, then explicitly set flags.
// A missing default config file is not an error; a missing explicit one is.
func loadConfig(flags *pflag.FlagSet) (*config, error) {
	k := koanf.New(".")

	path, explicit := configPath(flags)
	if path != "" {
		err := k.Load(file.Provider(path), yaml.Parser())
		switch {
		case err == nil:
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, oops.Code("CONFIG_INVALID").With("path", path).Wrapf(err, "load config file")
		}
	}

	// Unchanged flags only fill keys the file left unset.
	err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		if f.Name == "config" {
			return "", nil
		}
		return flagKey(f.Name), posflag.FlagVal(flags, f)
	}), nil)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "load flags")
	}

	cfg := &config{
		LogFormat:       defaultLogFormat,
		LogLevel:        defaultLogLevel,
		MetricsAddr:     defaultMetricsAddr,
		TemplateTimeout: defaultTemplateTimeout,
		AuditMode:       defaultAuditMode,
		Enforce:         true,
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func configPath(flags *pflag.FlagSet) (string, bool) {
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String(), true
	}
	path, err := xdg.ConfigFile()
	if err != nil {
		return "", false
	}
	return path, false
}

// flagKey maps a flag name to its config key, e.g. "metrics-addr" to
// "metrics_addr". The state and policy flags name their path keys.
func flagKey(name string) string {
	switch name {
	case "state":
		return "state_path"
	case "policy":
		return "policy_path"
	default:
		return strings.ReplaceAll(name, "-", "_")
	}
}
