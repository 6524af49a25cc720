// Package config loads the server configuration: YAML file with
// defaults, then environment overrides for deployment-sensitive knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds PostgreSQL connection parameters for the
// infraction sink. Disabled by default; without it infractions are only
// logged.
type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled" env:"DROPSHIP_DB_ENABLED"`
	Host     string `yaml:"host" env:"DROPSHIP_DB_HOST"`
	Port     int    `yaml:"port" env:"DROPSHIP_DB_PORT"`
	User     string `yaml:"user" env:"DROPSHIP_DB_USER"`
	Password string `yaml:"password" env:"DROPSHIP_DB_PASSWORD"`
	DBName   string `yaml:"dbname" env:"DROPSHIP_DB_NAME"`
	SSLMode  string `yaml:"sslmode" env:"DROPSHIP_DB_SSLMODE"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// AuthConfig selects how connections are resolved to accounts.
type AuthConfig struct {
	// Mode is off, token, or remote.
	Mode string `yaml:"mode" env:"DROPSHIP_AUTH_MODE"`
	// Secret is the HS256 secret for token mode.
	Secret string `yaml:"secret" env:"DROPSHIP_AUTH_SECRET"`
	// BaseURL locates the account service for remote mode.
	BaseURL string        `yaml:"base_url" env:"DROPSHIP_AUTH_URL"`
	Timeout time.Duration `yaml:"timeout"`
}

// OpsConfig tunes the HTTP operations surface.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address" env:"DROPSHIP_OPS_ADDRESS"`
	// TokenHash is the bcrypt hash of the bearer token required on
	// mutating routes. Empty disables them.
	TokenHash string `yaml:"token_hash" env:"DROPSHIP_OPS_TOKEN_HASH"`
}

// ChatCommandsConfig accepts either a bare bool or {prefix: "!"}.
type ChatCommandsConfig struct {
	Enabled bool
	Prefix  string
}

// UnmarshalYAML implements the bool-or-mapping form.
func (c *ChatCommandsConfig) UnmarshalYAML(value *yaml.Node) error {
	var b bool
	if err := value.Decode(&b); err == nil {
		c.Enabled = b
		c.Prefix = "/"
		return nil
	}
	var m struct {
		Prefix string `yaml:"prefix"`
	}
	if err := value.Decode(&m); err != nil {
		return fmt.Errorf("chat_commands: want bool or {prefix}: %w", err)
	}
	c.Enabled = true
	c.Prefix = m.Prefix
	if c.Prefix == "" {
		c.Prefix = "/"
	}
	return nil
}

// MovementConfig tunes the movement-packet fast path.
type MovementConfig struct {
	// UpdateRate forwards every Nth movement packet per sender while the
	// sender keeps moving. 1 forwards everything.
	UpdateRate int `yaml:"update_rate"`
	// VisionChecks skips recipients more than vision range away.
	VisionChecks bool `yaml:"vision_checks"`
	// DeadChecks keeps ghost movement away from living players.
	DeadChecks bool `yaml:"dead_checks"`
	// ReuseBuffer serializes a movement packet once per fan-out.
	ReuseBuffer bool `yaml:"reuse_buffer"`
}

// ServerPlayerConfig is the cosmetic identity the server uses when it
// speaks in chat.
type ServerPlayerConfig struct {
	Name  string `yaml:"name"`
	Color uint8  `yaml:"color"`
	Hat   uint32 `yaml:"hat"`
	Skin  uint32 `yaml:"skin"`
}

// EnforceSettingsConfig pins lobby settings regardless of what the host
// proposes. Nil fields leave the host's choice alone.
type EnforceSettingsConfig struct {
	Map            *string `yaml:"map"`
	MaxPlayers     *uint8  `yaml:"max_players"`
	NumImpostors   *uint8  `yaml:"num_impostors"`
	KillCooldown   *int    `yaml:"kill_cooldown"`
	DiscussionTime *int    `yaml:"discussion_time"`
	VotingTime     *int    `yaml:"voting_time"`
}

// RoomsConfig holds the recognized room options.
type RoomsConfig struct {
	ServerAsHost  bool                   `yaml:"server_as_host"`
	CreateTimeout time.Duration          `yaml:"create_timeout"`
	ChatCommands  ChatCommandsConfig     `yaml:"chat_commands"`
	Enforce       *EnforceSettingsConfig `yaml:"enforce_settings"`
	Advanced      struct {
		// UnknownObjects is false, true, "all", or a list of spawn type
		// ids and names. Parsed by the object graph.
		UnknownObjects any `yaml:"unknown_objects"`
	} `yaml:"advanced"`
	Optimizations struct {
		Movement MovementConfig `yaml:"movement"`
	} `yaml:"optimizations"`
	ServerPlayer ServerPlayerConfig `yaml:"server_player"`
	// FixedCode pins every allocated room code to one value. Test hook.
	FixedCode string `yaml:"fixed_code"`
}

// LogFormatConfig lists the fields the diagnostic formatters print.
type LogFormatConfig struct {
	Format []string `yaml:"format"`
}

// Config is the whole server configuration.
type Config struct {
	LogLevel string `yaml:"log_level" env:"DROPSHIP_LOG_LEVEL"`

	BindAddress string `yaml:"bind_address" env:"DROPSHIP_BIND_ADDRESS"`
	Port        int    `yaml:"port" env:"DROPSHIP_PORT"`

	// TickInterval is the room fixed-update period.
	TickInterval time.Duration `yaml:"tick_interval"`

	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Ops      OpsConfig      `yaml:"ops"`
	Rooms    RoomsConfig    `yaml:"rooms"`

	Logging struct {
		Rooms   LogFormatConfig `yaml:"rooms"`
		Players LogFormatConfig `yaml:"players"`
	} `yaml:"logging"`
}

// Default returns the stock configuration.
func Default() Config {
	cfg := Config{
		LogLevel:     "info",
		BindAddress:  "0.0.0.0",
		Port:         22023,
		TickInterval: 50 * time.Millisecond,
		Database: DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     5432,
			User:     "dropship",
			Password: "dropship",
			DBName:   "dropship",
			SSLMode:  "disable",
		},
		Auth: AuthConfig{
			Mode:    "off",
			Timeout: 5 * time.Second,
		},
		Ops: OpsConfig{
			Enabled: true,
			Address: "127.0.0.1:8880",
		},
		Rooms: RoomsConfig{
			ServerAsHost:  false,
			CreateTimeout: 10 * time.Second,
			ChatCommands:  ChatCommandsConfig{Enabled: true, Prefix: "/"},
			ServerPlayer: ServerPlayerConfig{
				Name:  "<color=#8842f5>[Server]</color>",
				Color: 6,
			},
		},
	}
	cfg.Rooms.Optimizations.Movement = MovementConfig{
		UpdateRate:   1,
		VisionChecks: false,
		DeadChecks:   true,
		ReuseBuffer:  true,
	}
	cfg.Logging.Rooms.Format = []string{"code", "players", "state", "host"}
	cfg.Logging.Players.Format = []string{"id", "name", "ping"}
	return cfg
}

// Load reads the YAML file (missing file means defaults) and applies
// environment overrides on top.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("applying env overrides: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Auth.Mode {
	case "off", "token", "remote":
	default:
		return fmt.Errorf("auth.mode %q: want off, token, or remote", c.Auth.Mode)
	}
	if c.Auth.Mode == "token" && c.Auth.Secret == "" {
		return fmt.Errorf("auth.mode token requires auth.secret")
	}
	if c.Auth.Mode == "remote" && c.Auth.BaseURL == "" {
		return fmt.Errorf("auth.mode remote requires auth.base_url")
	}
	if c.Rooms.Optimizations.Movement.UpdateRate < 0 {
		return fmt.Errorf("movement.update_rate must be >= 0")
	}
	return nil
}
