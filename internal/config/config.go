package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type AppConfig struct {
	ListenAddr string

	RedisURL    string
	DatabaseURL string
	RoomStore   string

	RPCUpstreamURL string
	RPCUpstreamKey string
	ChainRPCURL    string
	ChainID        int64

	EscrowContract   string
	WalletPrivateKey string

	AuthMessage     string
	SignatureMaxAge time.Duration

	TxSettleDelay      time.Duration
	TxPollInterval     time.Duration
	TxPollMaxAttempts  int
	TxResetAfter       time.Duration
	ActiveRefreshSpec  string
	ActiveRefreshLimit int

	MsgOverrideDir string
	// AllowedOrigins are host patterns (path.Match syntax) the order feed
	// accepts cross-origin websocket upgrades from.
	AllowedOrigins []string
}

const DefaultAuthMessage = "Sign in to Cheese Escrow Chess"

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8080",
		AuthMessage:        DefaultAuthMessage,
		SignatureMaxAge:    5 * time.Minute,
		TxSettleDelay:      2 * time.Second,
		TxPollInterval:     3 * time.Second,
		TxPollMaxAttempts:  10,
		TxResetAfter:       5 * time.Second,
		ActiveRefreshSpec:  "@every 1m",
		ActiveRefreshLimit: 8,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RoomStore = strings.ToLower(strings.TrimSpace(os.Getenv("ROOM_STORE")))
	if cfg.RoomStore == "" {
		switch {
		case cfg.DatabaseURL != "":
			cfg.RoomStore = "postgres"
		case cfg.RedisURL != "":
			cfg.RoomStore = "redis"
		default:
			cfg.RoomStore = "memory"
		}
	}

	cfg.RPCUpstreamURL = strings.TrimSpace(os.Getenv("RPC_UPSTREAM_URL"))
	cfg.RPCUpstreamKey = strings.TrimSpace(os.Getenv("RPC_UPSTREAM_KEY"))
	cfg.ChainRPCURL = strings.TrimSpace(os.Getenv("CHAIN_RPC_URL"))
	if cfg.ChainRPCURL == "" {
		cfg.ChainRPCURL = cfg.RPCUpstreamURL
	}
	if v := strings.TrimSpace(os.Getenv("CHAIN_ID")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("CHAIN_ID must be a positive integer: %q", v)
		}
		cfg.ChainID = n
	}

	cfg.EscrowContract = strings.TrimSpace(os.Getenv("ESCROW_CONTRACT"))
	cfg.WalletPrivateKey = strings.TrimSpace(os.Getenv("WALLET_PRIVATE_KEY"))

	if v := strings.TrimSpace(os.Getenv("AUTH_MESSAGE")); v != "" {
		cfg.AuthMessage = v
	}
	cfg.SignatureMaxAge = envDuration("SIGNATURE_MAX_AGE", cfg.SignatureMaxAge)
	cfg.TxSettleDelay = envDuration("TX_SETTLE_DELAY", cfg.TxSettleDelay)
	cfg.TxPollInterval = envDuration("TX_POLL_INTERVAL", cfg.TxPollInterval)
	cfg.TxResetAfter = envDuration("TX_RESET_AFTER", cfg.TxResetAfter)
	if v := strings.TrimSpace(os.Getenv("TX_POLL_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.TxPollMaxAttempts = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ACTIVE_REFRESH_SPEC")); v != "" {
		cfg.ActiveRefreshSpec = v
	}
	if v := strings.TrimSpace(os.Getenv("ACTIVE_REFRESH_WORKERS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ActiveRefreshLimit = n
		}
	}

	cfg.MsgOverrideDir = strings.TrimSpace(os.Getenv("MSG_OVERRIDE_DIR"))
	for _, o := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	if cfg.RPCUpstreamURL == "" {
		return nil, errors.New("RPC_UPSTREAM_URL is required")
	}
	if cfg.EscrowContract == "" {
		return nil, errors.New("ESCROW_CONTRACT is required")
	}
	if !common.IsHexAddress(cfg.EscrowContract) {
		return nil, fmt.Errorf("ESCROW_CONTRACT is not a hex address: %q", cfg.EscrowContract)
	}
	switch cfg.RoomStore {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for ROOM_STORE=postgres")
		}
	case "redis":
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for ROOM_STORE=redis")
		}
	case "memory":
	default:
		return nil, fmt.Errorf("unsupported ROOM_STORE: %s", cfg.RoomStore)
	}

	return cfg, nil
}

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
