package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults returns the built-in configuration, matching the documented
// strategy defaults: 10 loops, 1.50 min health, 0.90 decay, dust 1.
func Defaults() Config {
	return Config{
		Mode:     "sim",
		LogLevel: "info",
		Strategy: Strategy{
			CollateralAsset:   "USDE",
			BorrowAsset:       "USDE",
			PrincipalAsset:    "PT-USDE",
			YieldAsset:        "YT-USDE",
			LendingBackend:    "sim",
			MaxLoops:          10,
			MinHealthFactor:   15_000,
			BorrowDecayFactor: 900_000,
			DustThreshold:     1,
			Active:            true,
		},
		Security: Security{
			MaxOperationGap: duration{24 * time.Hour},
		},
		Roles: Roles{
			EngineWallet: "engine",
		},
		Server: Server{
			Enabled:     true,
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Postgres: Postgres{
			MigrationsDir: "migrations",
			BatchSize:     100,
			FlushTimeout:  duration{100 * time.Millisecond},
		},
		NATS: NATS{
			URL: "nats://localhost:4222",
		},
	}
}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults and applies LOOPVAULT_* environment overrides. The
// returned Config has NOT been validated; call Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file. Each helper only mutates the target when the
// variable is set and non-empty.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Mode, "LOOPVAULT_MODE")
	setStr(&cfg.LogLevel, "LOOPVAULT_LOG_LEVEL")

	setStr(&cfg.Strategy.LendingBackend, "LOOPVAULT_STRATEGY_LENDING_BACKEND")
	setInt32(&cfg.Strategy.MaxLoops, "LOOPVAULT_STRATEGY_MAX_LOOPS")
	setInt64(&cfg.Strategy.MinHealthFactor, "LOOPVAULT_STRATEGY_MIN_HEALTH_FACTOR")
	setInt64(&cfg.Strategy.BorrowDecayFactor, "LOOPVAULT_STRATEGY_BORROW_DECAY_FACTOR")
	setInt64(&cfg.Strategy.DustThreshold, "LOOPVAULT_STRATEGY_DUST_THRESHOLD")
	setBool(&cfg.Strategy.Active, "LOOPVAULT_STRATEGY_ACTIVE")

	setDuration(&cfg.Security.MaxOperationGap, "LOOPVAULT_SECURITY_MAX_OPERATION_GAP")

	setStr(&cfg.Roles.Owner, "LOOPVAULT_ROLES_OWNER")
	setStr(&cfg.Roles.Guardian, "LOOPVAULT_ROLES_GUARDIAN")
	setStr(&cfg.Roles.WithdrawalRecipient, "LOOPVAULT_ROLES_WITHDRAWAL_RECIPIENT")
	setStr(&cfg.Roles.OwnerAPIKey, "LOOPVAULT_ROLES_OWNER_API_KEY")
	setStr(&cfg.Roles.GuardianAPIKey, "LOOPVAULT_ROLES_GUARDIAN_API_KEY")
	setStr(&cfg.Roles.EngineWallet, "LOOPVAULT_ROLES_ENGINE_WALLET")
	setStr(&cfg.Roles.RecipientWallet, "LOOPVAULT_ROLES_RECIPIENT_WALLET")

	setBool(&cfg.Server.Enabled, "LOOPVAULT_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "LOOPVAULT_SERVER_ADDR")
	setStr(&cfg.Server.MetricsAddr, "LOOPVAULT_SERVER_METRICS_ADDR")

	setStr(&cfg.Postgres.DSN, "LOOPVAULT_POSTGRES_DSN")
	setStr(&cfg.Postgres.MigrationsDir, "LOOPVAULT_POSTGRES_MIGRATIONS_DIR")
	setInt(&cfg.Postgres.BatchSize, "LOOPVAULT_POSTGRES_BATCH_SIZE")
	setDuration(&cfg.Postgres.FlushTimeout, "LOOPVAULT_POSTGRES_FLUSH_TIMEOUT")

	setBool(&cfg.NATS.Enabled, "LOOPVAULT_NATS_ENABLED")
	setStr(&cfg.NATS.URL, "LOOPVAULT_NATS_URL")

	setStr(&cfg.EVM.RPCURL, "LOOPVAULT_EVM_RPC_URL")
	setInt64(&cfg.EVM.ChainID, "LOOPVAULT_EVM_CHAIN_ID")
	setStr(&cfg.EVM.PrivateKey, "LOOPVAULT_EVM_PRIVATE_KEY")
	setStr(&cfg.EVM.LendingPool, "LOOPVAULT_EVM_LENDING_POOL")
	setStr(&cfg.EVM.Tokenizer, "LOOPVAULT_EVM_TOKENIZER")
	setStr(&cfg.EVM.SwapRouter, "LOOPVAULT_EVM_SWAP_ROUTER")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
