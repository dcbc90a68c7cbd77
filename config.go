package ledgerxgo

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Node     int64 `yaml:"node"`
	Database struct {
		ConnectionString string            `yaml:"conn_str"`
		SystemAccounts   map[string]string `yaml:"system_accounts"`
	} `yaml:"database"`
	Engine struct {
		MaxRetries   int               `yaml:"max_retries"`
		RetryBackoff time.Duration     `yaml:"retry_backoff"`
		Fees         map[string]string `yaml:"fees"`
	} `yaml:"engine"`
	Compliance struct {
		LargeTransactionThreshold string `yaml:"large_transaction_threshold"`
		DailyLimit                string `yaml:"daily_limit"`
		BlockOnReview             *bool  `yaml:"block_on_review"`
		// redis or postgres
		Counter string `yaml:"counter"`
	} `yaml:"compliance"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Audit struct {
		Salt          string `yaml:"salt"`
		EncryptionKey string `yaml:"encryption_key"`
	} `yaml:"audit"`
	Sink struct {
		Source  string        `yaml:"source"`
		Timeout time.Duration `yaml:"timeout"`
		SIEM    struct {
			Endpoint string `yaml:"endpoint"`
			APIKey   string `yaml:"api_key"`
		} `yaml:"siem"`
		Kafka struct {
			Brokers []string `yaml:"brokers"`
			Topic   string   `yaml:"topic"`
		} `yaml:"kafka"`
	} `yaml:"sink"`
	Bulk struct {
		Workers int `yaml:"workers"`
	} `yaml:"bulk"`
	Limits struct {
		InFlight       int64         `yaml:"in_flight"`
		AcquireTimeout time.Duration `yaml:"acquire_timeout"`
		MaxFailures    uint32        `yaml:"max_failures"`
		OpenTimeout    time.Duration `yaml:"open_timeout"`
	} `yaml:"limits"`
}

// LoadConfig reads the YAML file at path, after loading a .env file if one exists.
// Secrets set in the environment win over the file.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	fl, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fl.Close()
	if err = yaml.NewDecoder(fl).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"LEDGER_DB_CONN_STR":   &c.Database.ConnectionString,
		"AUDIT_SALT":           &c.Audit.Salt,
		"AUDIT_ENCRYPTION_KEY": &c.Audit.EncryptionKey,
		"SIEM_ENDPOINT":        &c.Sink.SIEM.Endpoint,
		"SIEM_API_KEY":         &c.Sink.SIEM.APIKey,
		"REDIS_ADDR":           &c.Redis.Addr,
	}
	for env, dst := range overrides {
		if v, ok := os.LookupEnv(env); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Sink.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":3000"
	}
	if c.Node == 0 {
		c.Node = 1
	}
	if c.Engine.MaxRetries == 0 {
		c.Engine.MaxRetries = 3
	}
	if c.Engine.RetryBackoff == 0 {
		c.Engine.RetryBackoff = 10 * time.Millisecond
	}
	if c.Compliance.Counter == "" {
		c.Compliance.Counter = "postgres"
	}
	if c.Sink.Timeout == 0 {
		c.Sink.Timeout = 5 * time.Second
	}
	if c.Bulk.Workers == 0 {
		c.Bulk.Workers = 1
	}
	if c.Limits.InFlight == 0 {
		c.Limits.InFlight = 64
	}
	if c.Limits.AcquireTimeout == 0 {
		c.Limits.AcquireTimeout = 500 * time.Millisecond
	}
	if c.Limits.MaxFailures == 0 {
		c.Limits.MaxFailures = 5
	}
	if c.Limits.OpenTimeout == 0 {
		c.Limits.OpenTimeout = 30 * time.Second
	}
}

// SystemAccounts resolves the configured suspense and fees accounts.
func (c *Config) SystemAccounts() (SystemAccounts, error) {
	var sys SystemAccounts
	for role, v := range c.Database.SystemAccounts {
		id, err := snowflake.ParseString(v)
		if err != nil {
			return sys, fmt.Errorf("system account %s: %w", role, err)
		}
		switch strings.ToLower(role) {
		case "suspense":
			sys.Suspense = id
		case "fees":
			sys.Fees = id
		default:
			return sys, fmt.Errorf("unknown system account role %q", role)
		}
	}
	if sys.Suspense == 0 || sys.Fees == 0 {
		return sys, fmt.Errorf("suspense and fees system accounts are required")
	}
	return sys, nil
}

func (c *Config) EngineConfig() (EngineConfig, error) {
	ec := EngineConfig{
		MaxRetries:   c.Engine.MaxRetries,
		RetryBackoff: c.Engine.RetryBackoff,
		Fees:         DefaultFeeSchedule(),
	}
	for t, v := range c.Engine.Fees {
		fee, err := decimal.NewFromString(v)
		if err != nil {
			return ec, fmt.Errorf("fee for %s: %w", t, err)
		}
		typ := TxnType(t)
		if !typ.Valid() || fee.IsNegative() {
			return ec, fmt.Errorf("invalid fee %s for %s", v, t)
		}
		ec.Fees[typ] = fee
	}
	return ec, nil
}

func (c *Config) ComplianceConfig() (ComplianceConfig, error) {
	cc := DefaultComplianceConfig()
	if v := c.Compliance.LargeTransactionThreshold; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return cc, fmt.Errorf("large_transaction_threshold: %w", err)
		}
		cc.LargeTransactionThreshold = d
	}
	if v := c.Compliance.DailyLimit; v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return cc, fmt.Errorf("daily_limit: %w", err)
		}
		cc.DailyLimit = d
	}
	if c.Compliance.BlockOnReview != nil {
		cc.BlockOnReview = *c.Compliance.BlockOnReview
	}
	return cc, nil
}

func (c *Config) AuditConfig() (AuditConfig, error) {
	ac := AuditConfig{
		Salt:        c.Audit.Salt,
		SinkTimeout: c.Sink.Timeout,
		Source:      c.Sink.Source,
	}
	if c.Audit.EncryptionKey != "" {
		key, err := hex.DecodeString(c.Audit.EncryptionKey)
		if err != nil {
			return ac, fmt.Errorf("audit encryption key must be hex: %w", err)
		}
		ac.EncryptionKey = key
	}
	return ac, nil
}
