package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// Current version of the config files.
const (
	CurrentCommonVersion = 1
	CurrentBotVersion    = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
	Bot    BotConfig
}

// CommonConfig contains configuration shared by every entrypoint.
type CommonConfig struct {
	// Version of the common config.
	Version    int           `koanf:"version"`
	Debug      Debug         `koanf:"debug"`
	Retry      Retry         `koanf:"retry"`
	PostgreSQL PostgreSQL    `koanf:"postgresql"`
	Redis      Redis         `koanf:"redis"`
	Defaults   GroupDefaults `koanf:"defaults"`
}

// BotConfig contains bot entrypoint configuration.
type BotConfig struct {
	// Version of the bot config.
	Version int `koanf:"version"`
	// Messaging platform bot token.
	Token string `koanf:"token"`
	// Base URL for the external verification portal.
	PortalURL string `koanf:"portal_url"`
	// Request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log files to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// Retry contains retry configuration for platform calls.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial retry delay in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum retry delay in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// GroupDefaults contains the protection policy applied to groups that have
// not configured their own. Also used as the fail-closed fallback when the
// policy store is unreachable.
type GroupDefaults struct {
	// Whether new members must pass verification.
	VerificationEnabled bool `koanf:"verification_enabled"`
	// Challenge type presented to new members (button, math, emoji, portal).
	ChallengeType string `koanf:"challenge_type"`
	// Seconds a member has to complete verification.
	VerificationTimeout int `koanf:"verification_timeout"`
	// Wrong answers allowed before removal.
	MaxVerificationAttempts int `koanf:"max_verification_attempts"`
	// Messages allowed within the flood window.
	FloodLimit int `koanf:"flood_limit"`
	// Trailing flood window in seconds.
	FloodWindow int `koanf:"flood_window"`
	// Mute duration in seconds applied on flood detection.
	FloodMuteDuration int `koanf:"flood_mute_duration"`
	// Whether a flood mute also counts toward the warning ledger.
	FloodCountsAsWarning bool `koanf:"flood_counts_as_warning"`
	// Warnings before escalation to a kick.
	MaxWarnings int `koanf:"max_warnings"`
	// Default mute duration in seconds for the admin mute command.
	MuteDuration int `koanf:"mute_duration"`
}

// LoadConfig loads the configuration from the specified file.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	// List search paths
	configPaths := []string{
		".warden",
		homeDir + "/.warden/config",
		"/etc/warden/config",
		"/app/config",
		"config",
		".",
	}

	// Load all config files
	var usedConfigPath string

	configFiles := []string{"common", "bot"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	if err := checkConfigVersion("bot", config.Bot.Version, CurrentBotVersion); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf("%w: %s.toml (got: %d, expected: %d)",
			ErrConfigVersionMismatch, name, current, expected)
	}

	return nil
}
