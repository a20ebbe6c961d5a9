// Package config loads the trading core's settings: credentials and
// process-level toggles from the environment, and the market list plus
// per-market strategy parameters from a YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"trading-core/internal/account"
	"trading-core/internal/strategy"
	"trading-core/pkg/crypto"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Upbit credentials
	UpbitAccessKey string
	UpbitSecretKey string

	// Execution
	DryRun bool

	// Account tunables (§6)
	Account account.Config

	// Shared order API facade
	FacadeRPS   float64
	FacadeBurst int

	// StartupRecovery tunables
	CancelRetry  int
	VerifyRetry  int
	RetryBackoff time.Duration

	// Per-market strategy configuration, loaded from the YAML file named by
	// MARKETS_FILE (default markets.yaml).
	StrategyID string
	Markets    []MarketConfig

	// Auth for the operator HTTP surface
	JWTSecret string
}

// MarketConfig is one "<QUOTE>-<BASE>" market's strategy parameters.
type MarketConfig struct {
	Market string          `yaml:"market"`
	Params strategy.Params `yaml:"params"`
}

type marketsFile struct {
	StrategyID string        `yaml:"strategy_id"`
	Markets    []MarketConfig `yaml:"markets"`
}

// Load reads environment variables (optionally via .env) and the markets
// YAML file into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	marketsPath := getEnv("MARKETS_FILE", "markets.yaml")
	mf, err := loadMarketsFile(marketsPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", marketsPath, err)
	}

	secretKey, err := loadUpbitSecretKey()
	if err != nil {
		return nil, fmt.Errorf("config: loading upbit secret key: %w", err)
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		UpbitAccessKey: os.Getenv("UPBIT_ACCESS_KEY"),
		UpbitSecretKey: secretKey,
		DryRun:         getEnv("DRY_RUN", "false") == "true",
		Account: account.Config{
			CoinEpsilon:          getEnvFloat("COIN_EPSILON", 1e-7),
			KRWDustThreshold:     getEnvFloat("KRW_DUST_THRESHOLD", 10),
			InitDustThresholdKRW: getEnvFloat("INIT_DUST_THRESHOLD_KRW", 5000),
		},
		FacadeRPS:    getEnvFloat("FACADE_RPS", 8),
		FacadeBurst:  getEnvInt("FACADE_BURST", 8),
		CancelRetry:  getEnvInt("RECOVERY_CANCEL_RETRY", 3),
		VerifyRetry:  getEnvInt("RECOVERY_VERIFY_RETRY", 3),
		RetryBackoff: time.Duration(getEnvInt("RECOVERY_RETRY_BACKOFF_MS", 200)) * time.Millisecond,
		StrategyID:   mf.StrategyID,
		Markets:      mf.Markets,
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

// loadUpbitSecretKey returns the plaintext Upbit secret key. When
// UPBIT_SECRET_KEY_ENC is set, it is decrypted via crypto.KeyManager instead
// of reading UPBIT_SECRET_KEY in the clear, so the credential never has to
// sit unencrypted in the process environment or a deployment manifest.
func loadUpbitSecretKey() (string, error) {
	enc := os.Getenv("UPBIT_SECRET_KEY_ENC")
	if enc == "" {
		return os.Getenv("UPBIT_SECRET_KEY"), nil
	}
	km, err := crypto.NewKeyManager()
	if err != nil {
		return "", fmt.Errorf("key manager: %w", err)
	}
	return km.Decrypt(enc)
}

func loadMarketsFile(path string) (marketsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultMarketsFile(), nil
		}
		return marketsFile{}, err
	}
	var mf marketsFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return marketsFile{}, fmt.Errorf("parse yaml: %w", err)
	}
	if mf.StrategyID == "" {
		mf.StrategyID = "rsi-mr-v1"
	}
	return mf, nil
}

// defaultMarketsFile is used when no markets.yaml is present, so the bot
// still boots (against a single market) in a fresh checkout.
func defaultMarketsFile() marketsFile {
	return marketsFile{
		StrategyID: "rsi-mr-v1",
		Markets: []MarketConfig{
			{
				Market: "KRW-BTC",
				Params: strategy.Params{
					RSILength: 14, Oversold: 30, Overbought: 70,
					TrendLookWindow: 20, MaxTrendStrength: 0.02,
					VolatilityWindow: 20, MinVolatility: 0,
					RiskPercent: 10, StopLossPct: 2, ProfitTargetPct: 4,
					MinNotionalKRW: 5000, VolumeSafetyEps: 1e-7,
				},
			},
		},
	}
}

// MarketNames returns just the market strings, in file order.
func (c *Config) MarketNames() []string {
	out := make([]string, 0, len(c.Markets))
	for _, m := range c.Markets {
		out = append(out, m.Market)
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
