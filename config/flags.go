package config

import (
	"os"
	"time"
)

// Options are the command line and environment overrides shared by every command.
type Options struct {
	Config          string        `long:"config" short:"c" env:"DATEX_CONFIG" description:"path to yaml config"`
	Address         string        `long:"address" env:"DATEX_ADDRESS" description:"account address (G...)"`
	HorizonURL      string        `long:"horizon-url" env:"DATEX_HORIZON_URL" description:"horizon server url"`
	Passphrase      string        `long:"network-passphrase" env:"DATEX_NETWORK_PASSPHRASE" description:"network passphrase"`
	TrustlinePolicy string        `long:"trustline-policy" env:"DATEX_TRUSTLINE_POLICY" description:"auto or external"`
	PollInterval    time.Duration `long:"poll-interval" env:"DATEX_POLL_INTERVAL" description:"readiness re-poll interval"`
	WebAddr         string        `long:"web-addr" env:"DATEX_WEB_ADDR" description:"http api listen address"`
	JournalDir      string        `long:"journal-dir" env:"DATEX_JOURNAL_DIR" description:"delivery journal directory"`
	Approve         bool          `long:"approve" env:"DATEX_APPROVE" description:"confirm every signature on the terminal"`
	Debug           bool          `long:"debug" env:"DATEX_DEBUG" description:"development logger"`
}

// Resolve loads the config file named by the options, applies overrides,
// reads the signer secret from the environment and validates the result.
func (o Options) Resolve() (Config, error) {
	cfg, err := Load(o.Config)
	if err != nil {
		return Config{}, err
	}

	o.Apply(&cfg)
	cfg.SignerSecret = os.Getenv(SignerSecretEnv)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Apply overrides the fields that were set on the command line or in the environment.
func (o Options) Apply(cfg *Config) {
	setString(&cfg.Address, o.Address)
	setString(&cfg.HorizonURL, o.HorizonURL)
	setString(&cfg.NetworkPassphrase, o.Passphrase)
	setString(&cfg.TrustlinePolicy, o.TrustlinePolicy)
	setDuration(&cfg.PollInterval, o.PollInterval)
	setString(&cfg.WebAddr, o.WebAddr)
	setString(&cfg.JournalDir, o.JournalDir)
	if o.Approve {
		cfg.Approve = true
	}
	if o.Debug {
		cfg.Debug = true
	}
}
