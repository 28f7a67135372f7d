package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"invoicechain/internal/logger"
)

type Config struct {
	// Backend ledger
	BackendBaseURL   string
	BackendToken     string
	BackendTokenFile string
	BackendTimeout   time.Duration
	BackendRPS       float64

	// Chain
	ChainRPCURL         string
	ChainID             int64
	ContractAddress     string
	KeystorePath        string
	KeystorePassphrase  string
	ReceiptPollInterval time.Duration
	SettleTimeout       time.Duration // 0 disables the dead-man switch

	// Divergence journal
	JournalPath string

	// Optional: Google Sheets report export
	GoogleSheetURL       string
	GoogleSheetWorksheet string

	// Optional: bill intake
	DocumentAIProjectID   string
	DocumentAILocation    string
	DocumentAIProcessorID string
	TokenDecimals         int64

	// Operator API
	ListenAddr string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		BackendBaseURL:        strings.TrimRight(getEnv("BACKEND_BASE_URL", ""), "/"),
		BackendToken:          getEnv("BACKEND_TOKEN", ""),
		BackendTokenFile:      getEnv("BACKEND_TOKEN_FILE", ".invoicechain-token"),
		ChainRPCURL:           getEnv("CHAIN_RPC_URL", ""),
		ContractAddress:       getEnv("CONTRACT_ADDRESS", ""),
		KeystorePath:          getEnv("KEYSTORE_PATH", ""),
		KeystorePassphrase:    getEnv("KEYSTORE_PASSPHRASE", ""),
		JournalPath:           getEnv("JOURNAL_PATH", "data/journal"),
		GoogleSheetURL:        getEnv("GOOGLE_SHEET_URL", ""),
		GoogleSheetWorksheet:  getEnv("GOOGLE_SHEET_WORKSHEET", "Divergences"),
		DocumentAIProjectID:   getEnv("DOCUMENT_AI_PROJECT_ID", os.Getenv("GOOGLE_CLOUD_PROJECT")),
		DocumentAILocation:    getEnv("DOCUMENT_AI_LOCATION", "us"),
		DocumentAIProcessorID: getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		ListenAddr:            getEnv("LISTEN_ADDR", "127.0.0.1:8089"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:         getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:             getEnv("LOG_OUTPUT", "stderr"),
	}

	var err error
	if config.BackendTimeout, err = getDuration("BACKEND_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if config.ReceiptPollInterval, err = getDuration("RECEIPT_POLL_INTERVAL", 4*time.Second); err != nil {
		return nil, err
	}
	if config.SettleTimeout, err = getDuration("SETTLE_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if config.BackendRPS, err = getFloat("BACKEND_RPS", 5); err != nil {
		return nil, err
	}
	if config.ChainID, err = getInt("CHAIN_ID", 0); err != nil {
		return nil, err
	}
	if config.TokenDecimals, err = getInt("TOKEN_DECIMALS", 18); err != nil {
		return nil, err
	}

	if config.BackendToken == "" {
		config.BackendToken = readTokenFile(config.BackendTokenFile)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validate checks values that every command depends on. Concern-specific
// requirements are checked lazily by the Validate* methods.
func (c *Config) validate() error {
	if c.BackendRPS < 0 {
		return fmt.Errorf("BACKEND_RPS must not be negative")
	}
	if c.ReceiptPollInterval <= 0 {
		return fmt.Errorf("RECEIPT_POLL_INTERVAL must be positive")
	}
	if c.SettleTimeout < 0 {
		return fmt.Errorf("SETTLE_TIMEOUT must not be negative")
	}
	if c.TokenDecimals < 0 || c.TokenDecimals > 36 {
		return fmt.Errorf("TOKEN_DECIMALS must be between 0 and 36")
	}
	return nil
}

// ValidateBackend checks the settings needed to talk to the invoice backend.
func (c *Config) ValidateBackend() error {
	if c.BackendBaseURL == "" {
		return fmt.Errorf("BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.BackendBaseURL, "http://") && !strings.HasPrefix(c.BackendBaseURL, "https://") {
		return fmt.Errorf("BACKEND_BASE_URL must be an http(s) URL")
	}
	return nil
}

// ValidateChain checks the settings needed to submit transactions.
func (c *Config) ValidateChain() error {
	if c.ChainRPCURL == "" {
		return fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("CONTRACT_ADDRESS must be a hex address")
	}
	if c.KeystorePath == "" {
		return fmt.Errorf("KEYSTORE_PATH is required")
	}
	return nil
}

// ValidateSheets checks the settings needed for report export.
func (c *Config) ValidateSheets() error {
	if c.GoogleSheetURL == "" {
		return fmt.Errorf("GOOGLE_SHEET_URL is required")
	}
	return nil
}

// ValidateDocumentAI checks the settings needed for Document AI bill intake.
func (c *Config) ValidateDocumentAI() error {
	if c.DocumentAIProjectID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROJECT_ID (or GOOGLE_CLOUD_PROJECT) is required")
	}
	if c.DocumentAIProcessorID == "" {
		return fmt.Errorf("DOCUMENT_AI_PROCESSOR_ID is required")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func getInt(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func readTokenFile(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// SaveToken persists a backend session token for later commands.
func (c *Config) SaveToken(token string) error {
	if c.BackendTokenFile == "" {
		return fmt.Errorf("BACKEND_TOKEN_FILE is empty")
	}
	if err := os.WriteFile(c.BackendTokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	c.BackendToken = token
	return nil
}
