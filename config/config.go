package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/network"
	"gopkg.in/yaml.v3"
)

// SignerSecretEnv holds the signing seed. Secrets are never read from the yaml file.
const SignerSecretEnv = "DATEX_SIGNER_SECRET"

const (
	DefaultHorizonURL           = "https://horizon-testnet.stellar.org"
	DefaultHorizonTimeout       = 20 * time.Second
	DefaultHorizonRPS           = 10
	DefaultAssetCode            = "DATA"
	DefaultTrustlinePolicy      = "auto"
	DefaultTrustLimit           = "1000000000"
	DefaultBaseFee              = 100
	DefaultTxTimeout            = 30 * time.Second
	DefaultBrokerInterval       = 500 * time.Millisecond
	DefaultBrokerTimeout        = 10 * time.Second
	DefaultPollInterval         = 30 * time.Second
	DefaultSettleDelay          = 2 * time.Second
	DefaultMaxSequenceRetries   = 1
	DefaultRefreshDelay         = 2 * time.Second
	DefaultReconnectInterval    = time.Second
	DefaultMaxReconnectInterval = 30 * time.Second
	DefaultWebAddr              = ":8090"
	DefaultJournalDir           = "./wal/deliveries"
)

// Config is the validated runtime configuration.
type Config struct {
	HorizonURL        string
	HorizonTimeout    time.Duration
	HorizonRPS        int
	NetworkPassphrase string

	Address         string
	AssetCode       string
	TrustlinePolicy string
	TrustLimit      decimal.Decimal
	BaseFee         int64
	TxTimeout       time.Duration

	BrokerInterval time.Duration
	BrokerTimeout  time.Duration
	PollInterval   time.Duration
	SettleDelay    time.Duration

	MaxSequenceRetries int
	RefreshDelay       time.Duration

	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration

	WebAddr   string
	WebDomain string

	JournalDir string

	// SignerSecret comes from SignerSecretEnv only.
	SignerSecret string
	// Approve asks for confirmation on the terminal before every signature.
	Approve bool
	Debug   bool
}

// ConfigTmp is the yaml representation. Numbers that need exact parsing are strings.
type ConfigTmp struct {
	Address string `yaml:"address,omitempty"`

	Horizon struct {
		URL               string        `yaml:"url,omitempty"`
		Timeout           time.Duration `yaml:"timeout,omitempty"`
		RPS               string        `yaml:"rps,omitempty"`
		NetworkPassphrase string        `yaml:"network_passphrase,omitempty"`
	} `yaml:"horizon"`

	Asset struct {
		Code            string        `yaml:"code,omitempty"`
		TrustlinePolicy string        `yaml:"trustline_policy,omitempty"`
		TrustLimit      string        `yaml:"trust_limit,omitempty"`
		BaseFee         string        `yaml:"base_fee,omitempty"`
		TxTimeout       time.Duration `yaml:"tx_timeout,omitempty"`
	} `yaml:"asset"`

	Readiness struct {
		BrokerInterval time.Duration `yaml:"broker_interval,omitempty"`
		BrokerTimeout  time.Duration `yaml:"broker_timeout,omitempty"`
		PollInterval   time.Duration `yaml:"poll_interval,omitempty"`
		SettleDelay    time.Duration `yaml:"settle_delay,omitempty"`
	} `yaml:"readiness"`

	Purchase struct {
		MaxSequenceRetries string        `yaml:"max_sequence_retries,omitempty"`
		RefreshDelay       time.Duration `yaml:"refresh_delay,omitempty"`
	} `yaml:"purchase"`

	Stream struct {
		ReconnectInterval    time.Duration `yaml:"reconnect_interval,omitempty"`
		MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval,omitempty"`
	} `yaml:"stream"`

	Web struct {
		Addr   string `yaml:"addr,omitempty"`
		Domain string `yaml:"domain,omitempty"`
	} `yaml:"web"`

	Journal struct {
		Dir string `yaml:"dir,omitempty"`
	} `yaml:"journal"`

	Approve bool `yaml:"approve,omitempty"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		HorizonURL:           DefaultHorizonURL,
		HorizonTimeout:       DefaultHorizonTimeout,
		HorizonRPS:           DefaultHorizonRPS,
		NetworkPassphrase:    network.TestNetworkPassphrase,
		AssetCode:            DefaultAssetCode,
		TrustlinePolicy:      DefaultTrustlinePolicy,
		TrustLimit:           decimal.RequireFromString(DefaultTrustLimit),
		BaseFee:              DefaultBaseFee,
		TxTimeout:            DefaultTxTimeout,
		BrokerInterval:       DefaultBrokerInterval,
		BrokerTimeout:        DefaultBrokerTimeout,
		PollInterval:         DefaultPollInterval,
		SettleDelay:          DefaultSettleDelay,
		MaxSequenceRetries:   DefaultMaxSequenceRetries,
		RefreshDelay:         DefaultRefreshDelay,
		ReconnectInterval:    DefaultReconnectInterval,
		MaxReconnectInterval: DefaultMaxReconnectInterval,
		WebAddr:              DefaultWebAddr,
		JournalDir:           DefaultJournalDir,
	}
}

// Load reads the yaml file at path on top of the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	return Parse(data)
}

// Parse decodes yaml config bytes on top of the defaults.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode yaml config")
	}

	return tmp.toConfig()
}

func (c ConfigTmp) toConfig() (Config, error) {
	cfg := Default()

	cfg.Address = strings.TrimSpace(c.Address)
	setString(&cfg.HorizonURL, c.Horizon.URL)
	setDuration(&cfg.HorizonTimeout, c.Horizon.Timeout)
	setString(&cfg.NetworkPassphrase, c.Horizon.NetworkPassphrase)
	if c.Horizon.RPS != "" {
		rps, err := strconv.Atoi(c.Horizon.RPS)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'horizon.rps' param in yaml config (must be an integer)")
		}
		cfg.HorizonRPS = rps
	}

	setString(&cfg.AssetCode, c.Asset.Code)
	setString(&cfg.TrustlinePolicy, c.Asset.TrustlinePolicy)
	if c.Asset.TrustLimit != "" {
		limit, err := decimal.NewFromString(c.Asset.TrustLimit)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'asset.trust_limit' param in yaml config (correct format is 1000000000)")
		}
		cfg.TrustLimit = limit
	}
	if c.Asset.BaseFee != "" {
		fee, err := strconv.ParseInt(c.Asset.BaseFee, 10, 64)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'asset.base_fee' param in yaml config (stroops, integer)")
		}
		cfg.BaseFee = fee
	}
	setDuration(&cfg.TxTimeout, c.Asset.TxTimeout)

	setDuration(&cfg.BrokerInterval, c.Readiness.BrokerInterval)
	setDuration(&cfg.BrokerTimeout, c.Readiness.BrokerTimeout)
	setDuration(&cfg.PollInterval, c.Readiness.PollInterval)
	setDuration(&cfg.SettleDelay, c.Readiness.SettleDelay)

	if c.Purchase.MaxSequenceRetries != "" {
		retries, err := strconv.Atoi(c.Purchase.MaxSequenceRetries)
		if err != nil {
			return Config{}, errors.Wrapf(err, "incorrect 'purchase.max_sequence_retries' param in yaml config (must be an integer)")
		}
		cfg.MaxSequenceRetries = retries
	}
	setDuration(&cfg.RefreshDelay, c.Purchase.RefreshDelay)

	setDuration(&cfg.ReconnectInterval, c.Stream.ReconnectInterval)
	setDuration(&cfg.MaxReconnectInterval, c.Stream.MaxReconnectInterval)

	setString(&cfg.WebAddr, c.Web.Addr)
	cfg.WebDomain = strings.TrimSpace(c.Web.Domain)
	setString(&cfg.JournalDir, c.Journal.Dir)
	cfg.Approve = c.Approve

	return cfg, nil
}

// Tmp converts cfg back to its yaml representation.
func (c Config) Tmp() ConfigTmp {
	var tmp ConfigTmp
	tmp.Address = c.Address
	tmp.Horizon.URL = c.HorizonURL
	tmp.Horizon.Timeout = c.HorizonTimeout
	tmp.Horizon.RPS = strconv.Itoa(c.HorizonRPS)
	tmp.Horizon.NetworkPassphrase = c.NetworkPassphrase
	tmp.Asset.Code = c.AssetCode
	tmp.Asset.TrustlinePolicy = c.TrustlinePolicy
	tmp.Asset.TrustLimit = c.TrustLimit.String()
	tmp.Asset.BaseFee = strconv.FormatInt(c.BaseFee, 10)
	tmp.Asset.TxTimeout = c.TxTimeout
	tmp.Readiness.BrokerInterval = c.BrokerInterval
	tmp.Readiness.BrokerTimeout = c.BrokerTimeout
	tmp.Readiness.PollInterval = c.PollInterval
	tmp.Readiness.SettleDelay = c.SettleDelay
	tmp.Purchase.MaxSequenceRetries = strconv.Itoa(c.MaxSequenceRetries)
	tmp.Purchase.RefreshDelay = c.RefreshDelay
	tmp.Stream.ReconnectInterval = c.ReconnectInterval
	tmp.Stream.MaxReconnectInterval = c.MaxReconnectInterval
	tmp.Web.Addr = c.WebAddr
	tmp.Web.Domain = c.WebDomain
	tmp.Journal.Dir = c.JournalDir
	tmp.Approve = c.Approve
	return tmp
}

// Write stores cfg as yaml. The signer secret is never written.
func Write(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg.Tmp())
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.HorizonURL == "" {
		return errors.New("horizon url is required")
	}
	if c.NetworkPassphrase == "" {
		return errors.New("network passphrase is required")
	}
	if c.Address != "" {
		if _, err := keypair.ParseAddress(c.Address); err != nil {
			return errors.Wrapf(err, "invalid address %q", c.Address)
		}
	}
	if n := len(c.AssetCode); n == 0 || n > 12 {
		return errors.Errorf("asset code must be 1-12 characters, got %q", c.AssetCode)
	}
	switch strings.ToLower(c.TrustlinePolicy) {
	case "auto", "external":
	default:
		return errors.Errorf("unknown trustline policy %q (auto or external)", c.TrustlinePolicy)
	}
	if !c.TrustLimit.IsPositive() {
		return errors.New("trust limit must be positive")
	}
	if c.BaseFee <= 0 {
		return errors.New("base fee must be positive")
	}
	if c.TxTimeout < time.Second {
		return errors.New("tx timeout must be at least 1s")
	}
	if c.BrokerInterval <= 0 || c.BrokerTimeout <= 0 {
		return errors.New("broker interval and timeout must be positive")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.MaxSequenceRetries < 0 {
		return errors.New("max sequence retries must not be negative")
	}
	if c.ReconnectInterval <= 0 || c.MaxReconnectInterval < c.ReconnectInterval {
		return errors.New("stream reconnect interval must be positive and not exceed the max")
	}
	if c.JournalDir == "" {
		return errors.New("journal dir is required")
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
