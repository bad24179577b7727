package config

import (
	"fmt"
	"time"
)

// duration wraps time.Duration for TOML decoding ("24h", "500ms").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// Config is the full runtime configuration
type Config struct {
	Mode     string // "sim" or "evm"
	LogLevel string

	Strategy  Strategy
	Security  Security
	Roles     Roles
	Server    Server
	Postgres  Postgres
	NATS      NATS
	EVM       EVM
	Protocols []Protocol
}

// Strategy holds the looping parameters. No addresses or identities are
// compiled in; everything arrives through this structure.
type Strategy struct {
	CollateralAsset string
	BorrowAsset     string
	PrincipalAsset  string
	YieldAsset      string
	LendingBackend  string

	MaxLoops          int32
	MinHealthFactor   int64 // Ratio scale 1e4 (15000 = 1.50)
	BorrowDecayFactor int64 // Rate scale 1e6 (900000 = 0.90)
	DustThreshold     int64 // Quote scale
	Active            bool
}

func (s Strategy) Validate() error {
	if s.CollateralAsset == "" || s.BorrowAsset == "" {
		return fmt.Errorf("collateral and borrow assets are required")
	}
	if s.LendingBackend == "" {
		return fmt.Errorf("lending backend is required")
	}
	if s.MaxLoops < 1 {
		return fmt.Errorf("max loops must be >= 1, got %d", s.MaxLoops)
	}
	if s.MinHealthFactor <= 10_000 {
		return fmt.Errorf("min health factor must exceed 1.0 (10000), got %d", s.MinHealthFactor)
	}
	if s.BorrowDecayFactor <= 0 || s.BorrowDecayFactor >= 1_000_000 {
		return fmt.Errorf("borrow decay factor must be in (0, 1e6), got %d", s.BorrowDecayFactor)
	}
	if s.DustThreshold < 1 {
		return fmt.Errorf("dust threshold must be >= 1, got %d", s.DustThreshold)
	}
	return nil
}

// Security tunes the operational-gap watchdog
type Security struct {
	MaxOperationGap duration
}

// Roles fixes the control identities at construction time
type Roles struct {
	Owner               string // UUID
	Guardian            string // UUID
	WithdrawalRecipient string // UUID
	OwnerAPIKey         string
	GuardianAPIKey      string

	// Wallet addresses per account UUID, used for token transfers
	Wallets map[string]string
	// Wallet address the engine transacts from
	EngineWallet string
	// Wallet address receiving emergency payouts
	RecipientWallet string
}

type Server struct {
	Enabled     bool
	Addr        string
	MetricsAddr string
}

type Postgres struct {
	DSN           string
	MigrationsDir string
	BatchSize     int
	FlushTimeout  duration
}

type NATS struct {
	Enabled bool
	URL     string
}

// EVM configures the on-chain backend when Mode == "evm"
type EVM struct {
	RPCURL     string
	ChainID    int64
	PrivateKey string

	LendingPool  string
	Tokenizer    string
	SwapRouter   string
	TokenAddrs   map[string]string // asset symbol -> ERC-20 address
	TokenDecimal map[string]int    // asset symbol -> decimals
	PriceFeeds   map[string]string // asset symbol -> aggregator address
}

// Protocol mirrors the registry metadata served by the API
type Protocol struct {
	Name          string
	Kind          string
	BaseAPYBps    int64
	RiskFactorBps int64
	TVLCapacity   int64
}

func (c *Config) Validate() error {
	if c.Mode != "sim" && c.Mode != "evm" {
		return fmt.Errorf("mode must be \"sim\" or \"evm\", got %q", c.Mode)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("strategy: %w", err)
	}
	if c.Roles.Owner == "" || c.Roles.Guardian == "" || c.Roles.WithdrawalRecipient == "" {
		return fmt.Errorf("owner, guardian and withdrawal recipient are required")
	}
	if c.Mode == "evm" {
		if c.EVM.RPCURL == "" {
			return fmt.Errorf("evm: rpc url is required")
		}
		if c.EVM.PrivateKey == "" {
			return fmt.Errorf("evm: private key is required")
		}
	}
	return nil
}
