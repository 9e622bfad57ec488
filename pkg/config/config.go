package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Polymarket CLOB API
	ClobBaseURL          string
	PolymarketWSURL      string
	PolymarketAPIKey     string
	PolymarketSecret     string
	PolymarketPassphrase string
	PolymarketPrivateKey string
	FunderAddress        string // proxy/Safe maker address; EOA used when empty
	SignatureType        int

	// Polygon chain
	PolygonRPCURL string

	// Bankroll
	InitialBankrollUSD float64

	// Order book gateway
	BookFreshness    time.Duration // cached snapshot max age before a forced fetch
	BookFetchTimeout time.Duration

	// Admission gate
	MaxOpenPositions  int
	AdmissionCooldown time.Duration // anti-rapid-retry per (round,side) / (condition,side)
	BlockGrace        time.Duration // block windows outlast round end by this buffer
	BoosterMaxPerID   int

	// Order router
	MinNotionalUSD             float64
	ForcedCoverageMinUSD       float64
	ForcedCoverageBankrollFrac float64
	EdgeFloor                  float64
	OracleDisagreePenalty      float64
	RoundForceEdgeFloor        float64 // small negative floor for forced coverage
	HighConvictionScore        int
	FastPathSpreadMax          float64
	FastPathEdgeMin            float64
	NearCloseWindow            time.Duration
	DepthMultiple              float64
	SlippageCapBps             float64 // base cap; scaled per duration
	SpreadCapBase              float64 // base cap; scaled per duration
	TickGapLimit               int     // base tick-gap limit; scaled per duration
	TargetTolerance            float64
	NearMissTolerance          float64
	PayoutFloor                float64 // minimum payout multiple (1/price)
	EVFloor                    float64 // minimum net expected value per USD staked
	MakerWait                  time.Duration
	MakerWaitFast              time.Duration
	MakerPollInterval          time.Duration
	DustMinUSD                 float64
	SpeedPriority              bool
	RouteMaxAttempts           int
	RateLimitBackoff           time.Duration
	TransientBackoff           time.Duration

	// Settlement reconciler
	SettlePollInterval time.Duration
	SettleStrict       bool
	SettleWaitLogEvery time.Duration

	// Wallet tracker
	WalletPollInterval time.Duration

	// WebSocket
	WSDialTimeout           time.Duration
	WSPongTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// Storage
	StorageMode  string // "postgres" or "memory"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Polymarket API defaults
		ClobBaseURL:          getEnvOrDefault("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		PolymarketWSURL:      getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolymarketAPIKey:     os.Getenv("POLYMARKET_API_KEY"),
		PolymarketSecret:     os.Getenv("POLYMARKET_SECRET"),
		PolymarketPassphrase: os.Getenv("POLYMARKET_PASSPHRASE"),
		PolymarketPrivateKey: os.Getenv("POLYMARKET_PRIVATE_KEY"),
		FunderAddress:        os.Getenv("POLYMARKET_FUNDER_ADDRESS"),
		SignatureType:        getIntOrDefault("POLYMARKET_SIGNATURE_TYPE", 0),

		// Chain defaults
		PolygonRPCURL: getEnvOrDefault("POLYGON_RPC_URL", "https://polygon-rpc.com"),

		// Bankroll defaults
		InitialBankrollUSD: getFloat64OrDefault("INITIAL_BANKROLL_USD", 250.0),

		// Gateway defaults
		BookFreshness:    getDurationOrDefault("BOOK_FRESHNESS", 1500*time.Millisecond),
		BookFetchTimeout: getDurationOrDefault("BOOK_FETCH_TIMEOUT", 5*time.Second),

		// Admission defaults
		MaxOpenPositions:  getIntOrDefault("MAX_OPEN_POSITIONS", 3),
		AdmissionCooldown: getDurationOrDefault("ADMISSION_COOLDOWN", 20*time.Second),
		BlockGrace:        getDurationOrDefault("ROUND_BLOCK_GRACE", 90*time.Second),
		BoosterMaxPerID:   getIntOrDefault("BOOSTER_MAX_PER_ID", 2),

		// Router defaults
		MinNotionalUSD:             getFloat64OrDefault("MIN_NOTIONAL_USD", 1.0),
		ForcedCoverageMinUSD:       getFloat64OrDefault("FORCED_COVERAGE_MIN_USD", 2.0),
		ForcedCoverageBankrollFrac: getFloat64OrDefault("FORCED_COVERAGE_BANKROLL_FRAC", 0.02),
		EdgeFloor:                  getFloat64OrDefault("EDGE_FLOOR", 0.04),
		OracleDisagreePenalty:      getFloat64OrDefault("ORACLE_DISAGREE_PENALTY", 0.02),
		RoundForceEdgeFloor:        getFloat64OrDefault("ROUND_FORCE_EDGE_FLOOR", -0.01),
		HighConvictionScore:        getIntOrDefault("HIGH_CONVICTION_SCORE", 9),
		FastPathSpreadMax:          getFloat64OrDefault("FAST_PATH_SPREAD_MAX", 0.02),
		FastPathEdgeMin:            getFloat64OrDefault("FAST_PATH_EDGE_MIN", 0.08),
		NearCloseWindow:            getDurationOrDefault("NEAR_CLOSE_WINDOW", 90*time.Second),
		DepthMultiple:              getFloat64OrDefault("DEPTH_MULTIPLE", 2.0),
		SlippageCapBps:             getFloat64OrDefault("SLIPPAGE_CAP_BPS", 300),
		SpreadCapBase:              getFloat64OrDefault("SPREAD_CAP_BASE", 0.04),
		TickGapLimit:               getIntOrDefault("TICK_GAP_LIMIT", 3),
		TargetTolerance:            getFloat64OrDefault("TARGET_TOLERANCE", 0.01),
		NearMissTolerance:          getFloat64OrDefault("NEAR_MISS_TOLERANCE", 0.005),
		PayoutFloor:                getFloat64OrDefault("PAYOUT_FLOOR", 1.5),
		EVFloor:                    getFloat64OrDefault("EV_FLOOR", 0.02),
		MakerWait:                  getDurationOrDefault("MAKER_WAIT", 20*time.Second),
		MakerWaitFast:              getDurationOrDefault("MAKER_WAIT_FAST", 8*time.Second),
		MakerPollInterval:          getDurationOrDefault("MAKER_POLL_INTERVAL", 1*time.Second),
		DustMinUSD:                 getFloat64OrDefault("DUST_MIN_USD", 0.5),
		SpeedPriority:              getBoolOrDefault("SPEED_PRIORITY", false),
		RouteMaxAttempts:           getIntOrDefault("ROUTE_MAX_ATTEMPTS", 3),
		RateLimitBackoff:           getDurationOrDefault("RATE_LIMIT_BACKOFF", 2*time.Second),
		TransientBackoff:           getDurationOrDefault("TRANSIENT_BACKOFF", 500*time.Millisecond),

		// Settlement defaults
		SettlePollInterval: getDurationOrDefault("SETTLE_POLL_INTERVAL", 30*time.Second),
		SettleStrict:       getBoolOrDefault("SETTLE_STRICT", false),
		SettleWaitLogEvery: getDurationOrDefault("SETTLE_WAIT_LOG_EVERY", 5*time.Minute),

		// Wallet tracker defaults
		WalletPollInterval: getDurationOrDefault("WALLET_POLL_INTERVAL", 60*time.Second),

		// WebSocket defaults
		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPongTimeout:           getDurationOrDefault("WS_PONG_TIMEOUT", 15*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "memory"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "sprintbet"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "sprintbet123"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "sprintbet"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.ClobBaseURL == "" {
		return fmt.Errorf("POLYMARKET_CLOB_URL cannot be empty")
	}

	if c.PolymarketWSURL == "" {
		return fmt.Errorf("POLYMARKET_WS_URL cannot be empty")
	}

	if c.InitialBankrollUSD <= 0 {
		return fmt.Errorf("INITIAL_BANKROLL_USD must be positive, got %f", c.InitialBankrollUSD)
	}

	if c.MaxOpenPositions <= 0 {
		return fmt.Errorf("MAX_OPEN_POSITIONS must be positive, got %d", c.MaxOpenPositions)
	}

	if c.MinNotionalUSD <= 0 {
		return fmt.Errorf("MIN_NOTIONAL_USD must be positive, got %f", c.MinNotionalUSD)
	}

	if c.ForcedCoverageBankrollFrac <= 0 || c.ForcedCoverageBankrollFrac > 1 {
		return fmt.Errorf("FORCED_COVERAGE_BANKROLL_FRAC must be in (0,1], got %f", c.ForcedCoverageBankrollFrac)
	}

	if c.PayoutFloor < 1 {
		return fmt.Errorf("PAYOUT_FLOOR must be >= 1, got %f", c.PayoutFloor)
	}

	if c.DepthMultiple < 1 {
		return fmt.Errorf("DEPTH_MULTIPLE must be >= 1, got %f", c.DepthMultiple)
	}

	if c.StorageMode != "postgres" && c.StorageMode != "memory" {
		return fmt.Errorf("STORAGE_MODE must be 'postgres' or 'memory', got %q", c.StorageMode)
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}
