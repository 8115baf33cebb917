package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"p2pescrow/internal/escrow"
	"p2pescrow/internal/logger"
)

// DeploymentConfig represents deployments.json written by the contract
// deploy script.
type DeploymentConfig struct {
	Network   string `json:"network"`
	ChainID   int64  `json:"chainId"`
	Deployer  string `json:"deployer"`
	Variant   string `json:"variant"`
	Contracts struct {
		P2PEscrow string `json:"P2PEscrow"`
	} `json:"contracts"`
}

// AppConfig ties together deployment info and environment values.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Storage    StorageConfig
	Chain      ChainConfig
	Notify     NotifyConfig
	Log        LogConfig
}

type ServiceConfig struct {
	HTTPPort          int
	ClockSkew         time.Duration
	IdempotencyWindow time.Duration
	ShutdownTimeout   time.Duration
	TrustCallerHeader bool
	Variant           escrow.Variant
}

type StorageConfig struct {
	JournalDriver     string
	JournalPath       string
	PostgresDSN       string
	IdempotencyDriver string
	IdempotencyPath   string
}

type ChainConfig struct {
	RPCURL   string
	Contract string
}

type NotifyConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Channel       string
	LogEvents     bool
}

type LogConfig struct {
	Level  string
	Format string
}

const defaultDeploymentsPath = "deployments.json"

// Load aggregates configuration from .env, deployments.json and the
// environment. Environment variables win over the deployment file.
func Load() (*AppConfig, error) {
	envFile := envOr("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	deployCfg, err := loadDeployments(envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	variant, err := escrow.ParseVariant(envOr("ESCROW_VARIANT", deployCfg.Variant))
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		Deployment: *deployCfg,
		Service: ServiceConfig{
			HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
			ClockSkew:         time.Duration(envOrInt("AUTH_CLOCK_SKEW_SECONDS", 60)) * time.Second,
			IdempotencyWindow: time.Duration(envOrInt("IDEMPOTENCY_WINDOW_SECONDS", 86400)) * time.Second,
			ShutdownTimeout:   time.Duration(envOrInt("SHUTDOWN_TIMEOUT_SECONDS", 15)) * time.Second,
			TrustCallerHeader: envOrBool("AUTH_TRUST_CALLER_HEADER", false),
			Variant:           variant,
		},
		Storage: StorageConfig{
			JournalDriver:     strings.ToLower(envOr("JOURNAL_DRIVER", "memory")),
			JournalPath:       envOr("JOURNAL_PATH", filepath.Join(os.TempDir(), "p2pescrow-journal")),
			PostgresDSN:       envOr("POSTGRES_DSN", ""),
			IdempotencyDriver: strings.ToLower(envOr("IDEMPOTENCY_DRIVER", "memory")),
			IdempotencyPath:   envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "p2pescrow-idem.json")),
		},
		Chain: ChainConfig{
			RPCURL:   envOr("CHAIN_RPC_URL", ""),
			Contract: envOr("ESCROW_CONTRACT_ADDRESS", deployCfg.Contracts.P2PEscrow),
		},
		Notify: NotifyConfig{
			RedisAddr:     envOr("REDIS_ADDR", ""),
			RedisPassword: envOr("REDIS_PASSWORD", ""),
			RedisDB:       envOrInt("REDIS_DB", 0),
			Channel:       envOr("REDIS_EVENTS_CHANNEL", "p2pescrow.events"),
			LogEvents:     envOrBool("LOG_EVENTS", false),
		},
		Log: LogConfig{
			Level:  envOr("LOG_LEVEL", "info"),
			Format: envOr("LOG_FORMAT", "json"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects driver names and combinations the server can't start with.
func (c *AppConfig) Validate() error {
	switch c.Storage.JournalDriver {
	case "memory", "leveldb":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: JOURNAL_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown journal driver %q", c.Storage.JournalDriver)
	}
	switch c.Storage.IdempotencyDriver {
	case "memory", "file":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return errors.New("config: IDEMPOTENCY_DRIVER=postgres requires POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("config: unknown idempotency driver %q", c.Storage.IdempotencyDriver)
	}
	if c.Chain.RPCURL != "" && !common.IsHexAddress(c.Chain.Contract) {
		return errors.New("config: CHAIN_RPC_URL set without a valid escrow contract address")
	}
	if c.Service.HTTPPort < 0 || c.Service.HTTPPort > 65535 {
		return fmt.Errorf("config: invalid http port %d", c.Service.HTTPPort)
	}
	return nil
}

// loadDeployments reads path. A missing file yields an empty config so the
// engine can run without a deployed contract.
func loadDeployments(path string) (*DeploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Log.WithField("path", path).Debug("no deployments file, using environment only")
		return &DeploymentConfig{}, nil
	}
	if err != nil {
		return nil, err
	}
	var cfg DeploymentConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
