package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName       = "payoutd"
	defaultPort          = "8080"
	defaultLogLevel      = "info"
	defaultRPCTimeout    = 270 * time.Second
	defaultRemoteMaxAge  = 10 * time.Second
	defaultShutdownDelay = 10 * time.Second
	defaultMinConfirms   = 6
	defaultUnlockSeconds = 10
	maxAgeSecondsEnvVar  = "REMOTE_MAX_AGE_SECONDS"
	maxAgeDurEnvVar      = "REMOTE_MAX_AGE"
	rpcSecondsEnvVar     = "RPC_TIMEOUT_SECONDS"
	rpcDurEnvVar         = "RPC_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment
// variables.
type Config struct {
	AppName  string
	Port     string
	LogLevel string
	LogPath  string

	CurrencyCode string
	// ValidAddressVersions is the allow-list of Base58Check version bytes a
	// beneficiary address may carry.
	ValidAddressVersions []byte

	DatabaseURL string
	RedisURL    string

	RemoteURL        string
	RemoteSigningKey string
	RemoteMaxAge     time.Duration

	WalletRPCURL        string
	WalletRPCUser       string
	WalletRPCPass       string
	WalletAccount       string
	WalletPassphrase    string
	WalletUnlockSeconds int

	// TxFee is the per-transaction fee in minor units; zero leaves the node
	// default untouched.
	TxFee int64
	// MinConfirms is the confirmation depth a transaction must exceed to be
	// reported as final.
	MinConfirms int64
	// MinTxOutput is the smallest per-beneficiary aggregate the network will
	// relay; smaller aggregates are deferred to a later run.
	MinTxOutput int64

	RPCTimeout     time.Duration
	ShutdownPeriod time.Duration
}

// Load reads configuration values from the environment and populates a
// Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		LogPath:             os.Getenv("LOG_PATH"),
		CurrencyCode:        os.Getenv("CURRENCY_CODE"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		RemoteURL:           os.Getenv("REMOTE_URL"),
		RemoteSigningKey:    os.Getenv("REMOTE_SIGNING_KEY"),
		WalletRPCURL:        os.Getenv("WALLET_RPC_URL"),
		WalletRPCUser:       os.Getenv("WALLET_RPC_USER"),
		WalletRPCPass:       os.Getenv("WALLET_RPC_PASS"),
		WalletAccount:       os.Getenv("WALLET_ACCOUNT"),
		WalletPassphrase:    os.Getenv("WALLET_PASSPHRASE"),
		WalletUnlockSeconds: defaultUnlockSeconds,
	}

	versions, err := parseVersions(os.Getenv("VALID_ADDRESS_VERSIONS"))
	if err != nil {
		return Config{}, err
	}
	cfg.ValidAddressVersions = versions

	if cfg.RemoteMaxAge, err = durationEnv(maxAgeSecondsEnvVar, maxAgeDurEnvVar, defaultRemoteMaxAge); err != nil {
		return Config{}, err
	}
	if cfg.RPCTimeout, err = durationEnv(rpcSecondsEnvVar, rpcDurEnvVar, defaultRPCTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT_SECONDS", "SHUTDOWN_TIMEOUT", defaultShutdownDelay); err != nil {
		return Config{}, err
	}

	if cfg.TxFee, err = int64Env("TX_FEE", 0); err != nil {
		return Config{}, err
	}
	if cfg.MinConfirms, err = int64Env("MIN_CONFIRMS", defaultMinConfirms); err != nil {
		return Config{}, err
	}
	if cfg.MinTxOutput, err = int64Env("MIN_TX_OUTPUT", 0); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("WALLET_UNLOCK_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid WALLET_UNLOCK_SECONDS: %w", err)
		}
		cfg.WalletUnlockSeconds = seconds
	}

	for _, required := range []struct{ name, value string }{
		{"CURRENCY_CODE", cfg.CurrencyCode},
		{"DATABASE_URL", cfg.DatabaseURL},
		{"REDIS_URL", cfg.RedisURL},
		{"REMOTE_URL", cfg.RemoteURL},
		{"REMOTE_SIGNING_KEY", cfg.RemoteSigningKey},
		{"WALLET_RPC_URL", cfg.WalletRPCURL},
	} {
		if required.value == "" {
			return Config{}, fmt.Errorf("%s must be set", required.name)
		}
	}
	if len(cfg.ValidAddressVersions) == 0 {
		return Config{}, fmt.Errorf("VALID_ADDRESS_VERSIONS must list at least one version byte")
	}

	return cfg, nil
}

// Address returns the admin listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func parseVersions(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	var versions []byte
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid VALID_ADDRESS_VERSIONS entry %q: %w", part, err)
		}
		versions = append(versions, byte(v))
	}
	return versions, nil
}

func durationEnv(secondsVar, durationVar string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsVar, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationVar, err)
		}
		return d, nil
	}
	return fallback, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
