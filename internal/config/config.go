// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Fort Contributors

// Package config holds the single configuration object every Fort component
// receives at construction.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Tables names every relation the repositories touch. The embedded
// migrations create the DefaultTables names only; any other naming must
// point at a schema managed outside Fort.
type Tables struct {
	Users           string `koanf:"users"`
	Roles           string `koanf:"roles"`
	Abilities       string `koanf:"abilities"`
	AbilityUser     string `koanf:"ability_user"`
	AbilityRole     string `koanf:"ability_role"`
	RoleUser        string `koanf:"role_user"`
	Persistences    string `koanf:"persistences"`
	PasswordResets  string `koanf:"password_resets"`
	PhoneChallenges string `koanf:"phone_challenges"`
	Socialites      string `koanf:"socialites"`
}

// Config is the full configuration surface.
type Config struct {
	DatabaseURL string `koanf:"database_url" env:"FORT_DATABASE_URL"`

	Tables Tables `koanf:"tables"`

	// ItemsPerPage only affects listing commands.
	ItemsPerPage int `koanf:"items_per_page" env:"FORT_ITEMS_PER_PAGE"`

	ResetTokenTTL     time.Duration `koanf:"reset_token_ttl" env:"FORT_RESET_TOKEN_TTL"`
	PhoneChallengeTTL time.Duration `koanf:"phone_challenge_ttl" env:"FORT_PHONE_CHALLENGE_TTL"`
	TOTPIssuer        string        `koanf:"totp_issuer" env:"FORT_TOTP_ISSUER"`

	ProtectedUsers   []string `koanf:"protected_users" env:"FORT_PROTECTED_USERS" envSeparator:","`
	ProtectedActions []string `koanf:"protected_actions" env:"FORT_PROTECTED_ACTIONS" envSeparator:","`

	RegistrationEnabled bool `koanf:"registration_enabled" env:"FORT_REGISTRATION_ENABLED"`

	LogFormat   string `koanf:"log_format" env:"FORT_LOG_FORMAT"`
	LogLevel    string `koanf:"log_level" env:"FORT_LOG_LEVEL"`
	MetricsAddr string `koanf:"metrics_addr" env:"FORT_METRICS_ADDR"`
}

// Default values.
const (
	DefaultResetTokenTTL     = time.Hour
	DefaultPhoneChallengeTTL = 10 * time.Minute
	DefaultTOTPIssuer        = "Fort"
	DefaultItemsPerPage      = 10
	DefaultMetricsAddr       = "127.0.0.1:9100"
)

// DefaultTables returns the stock table names, matching the embedded migrations.
func DefaultTables() Tables {
	return Tables{
		Users:           "users",
		Roles:           "roles",
		Abilities:       "abilities",
		AbilityUser:     "ability_user",
		AbilityRole:     "ability_role",
		RoleUser:        "role_user",
		Persistences:    "persistences",
		PasswordResets:  "password_resets",
		PhoneChallenges: "phone_challenges",
		Socialites:      "socialites",
	}
}

// IsDefault reports whether t matches the names the embedded migrations create.
func (t Tables) IsDefault() bool {
	return t == DefaultTables()
}

// Default returns a Config populated with defaults.
func Default() Config {
	return Config{
		Tables:              DefaultTables(),
		ItemsPerPage:        DefaultItemsPerPage,
		ResetTokenTTL:       DefaultResetTokenTTL,
		PhoneChallengeTTL:   DefaultPhoneChallengeTTL,
		TOTPIssuer:          DefaultTOTPIssuer,
		ProtectedActions:    []string{"*:view", "*:list"},
		RegistrationEnabled: true,
		LogFormat:           "json",
		LogLevel:            "info",
		MetricsAddr:         DefaultMetricsAddr,
	}
}

// Load builds a Config from defaults, then the YAML file at path (if
// non-empty), then FORT_* environment variables, then flags the user set
// explicitly on fs (if non-nil). Later sources win.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				With("operation", "unmarshal").
				Wrap(err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, oops.Code("CONFIG_ENV_FAILED").Wrap(err)
	}

	if fs != nil {
		k := koanf.New(".")
		provider := posflag.ProviderWithFlag(fs, ".", nil, func(f *pflag.Flag) (string, any) {
			if !f.Changed {
				return "", nil
			}
			return f.Name, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return Config{}, oops.Code("CONFIG_FLAGS_FAILED").
				With("operation", "unmarshal").
				Wrap(err)
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks invariants the components rely on.
func (c Config) Validate() error {
	if c.ResetTokenTTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("reset_token_ttl", c.ResetTokenTTL).
			Errorf("reset_token_ttl must be positive")
	}
	if c.PhoneChallengeTTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("phone_challenge_ttl", c.PhoneChallengeTTL).
			Errorf("phone_challenge_ttl must be positive")
	}
	if c.TOTPIssuer == "" {
		return oops.Code("CONFIG_INVALID").Errorf("totp_issuer cannot be empty")
	}
	if c.ItemsPerPage <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("items_per_page", c.ItemsPerPage).
			Errorf("items_per_page must be positive")
	}
	for _, id := range c.ProtectedUsers {
		if _, err := ulid.ParseStrict(strings.TrimSpace(id)); err != nil {
			return oops.Code("CONFIG_INVALID").
				With("protected_user", id).
				Wrapf(err, "protected_users entries must be user ids")
		}
	}
	return c.Tables.validate()
}

func (t Tables) validate() error {
	named := map[string]string{
		"users":            t.Users,
		"roles":            t.Roles,
		"abilities":        t.Abilities,
		"ability_user":     t.AbilityUser,
		"ability_role":     t.AbilityRole,
		"role_user":        t.RoleUser,
		"persistences":     t.Persistences,
		"password_resets":  t.PasswordResets,
		"phone_challenges": t.PhoneChallenges,
		"socialites":       t.Socialites,
	}
	for key, name := range named {
		if name == "" {
			return oops.Code("CONFIG_INVALID").
				With("table", key).
				Errorf("table name for %s cannot be empty", key)
		}
	}
	return nil
}
