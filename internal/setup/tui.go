package setup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stellar/go-stellar-sdk/network"

	"github.com/vadiminshakov/datex/config"
)

// ErrCancelled is returned when the user declines to save.
var ErrCancelled = errors.New("setup cancelled by user")

const (
	networkTestnet = "testnet"
	networkPublic  = "public"
	networkCustom  = "custom"

	publicHorizonURL = "https://horizon.stellar.org"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1)
)

// Answers are the values collected by the wizard.
type Answers struct {
	Network         string
	HorizonURL      string
	Passphrase      string
	Address         string
	TrustlinePolicy string
	TrustLimit      string
	PollInterval    string
	WebAddr         string
	JournalDir      string
	Approve         bool
}

// DefaultAnswers pre-fills the form from cfg.
func DefaultAnswers(cfg config.Config) Answers {
	a := Answers{
		Network:         networkTestnet,
		HorizonURL:      cfg.HorizonURL,
		Passphrase:      cfg.NetworkPassphrase,
		Address:         cfg.Address,
		TrustlinePolicy: cfg.TrustlinePolicy,
		TrustLimit:      cfg.TrustLimit.String(),
		PollInterval:    cfg.PollInterval.String(),
		WebAddr:         cfg.WebAddr,
		JournalDir:      cfg.JournalDir,
		Approve:         cfg.Approve,
	}
	switch cfg.NetworkPassphrase {
	case network.TestNetworkPassphrase:
	case network.PublicNetworkPassphrase:
		a.Network = networkPublic
	default:
		a.Network = networkCustom
	}
	return a
}

// Apply merges the answers into base and validates the result.
func (a Answers) Apply(base config.Config) (config.Config, error) {
	cfg := base

	switch a.Network {
	case networkTestnet:
		cfg.HorizonURL = config.DefaultHorizonURL
		cfg.NetworkPassphrase = network.TestNetworkPassphrase
	case networkPublic:
		cfg.HorizonURL = publicHorizonURL
		cfg.NetworkPassphrase = network.PublicNetworkPassphrase
	case networkCustom:
		cfg.HorizonURL = strings.TrimSpace(a.HorizonURL)
		cfg.NetworkPassphrase = strings.TrimSpace(a.Passphrase)
	default:
		return config.Config{}, errors.Errorf("unknown network %q", a.Network)
	}

	cfg.Address = strings.TrimSpace(a.Address)
	cfg.TrustlinePolicy = a.TrustlinePolicy
	cfg.Approve = a.Approve
	if a.WebAddr != "" {
		cfg.WebAddr = a.WebAddr
	}
	if a.JournalDir != "" {
		cfg.JournalDir = a.JournalDir
	}

	if a.TrustLimit != "" {
		limit, err := decimal.NewFromString(a.TrustLimit)
		if err != nil {
			return config.Config{}, errors.Wrap(err, "invalid trust limit")
		}
		cfg.TrustLimit = limit
	}
	if a.PollInterval != "" {
		interval, err := time.ParseDuration(a.PollInterval)
		if err != nil {
			return config.Config{}, errors.Wrap(err, "invalid poll interval")
		}
		cfg.PollInterval = interval
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func clearScreen(step string) {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("DATEX SETUP"))
	fmt.Println(stepStyle.Render(step))
}

// RunTUI asks for the engine settings and writes them to path.
func RunTUI(ctx context.Context, base config.Config, path string) (config.Config, error) {
	a := DefaultAnswers(base)

	clearScreen("STEP 1: NETWORK")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Pick the ledger network the engine talks to.\n"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Network").
				Options(
					huh.NewOption("Testnet (Friendbot funding)", networkTestnet),
					huh.NewOption("Public network", networkPublic),
					huh.NewOption("Custom Horizon", networkCustom),
				).
				Value(&a.Network),
		),
	).RunWithContext(ctx)
	if err != nil {
		return config.Config{}, err
	}

	if a.Network == networkCustom {
		clearScreen("STEP 1b: CUSTOM HORIZON")
		err = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Horizon URL").
					Value(&a.HorizonURL).
					Validate(validateRequired("horizon url")),
				huh.NewInput().
					Title("Network passphrase").
					Value(&a.Passphrase).
					Validate(validateRequired("network passphrase")),
			),
		).RunWithContext(ctx)
		if err != nil {
			return config.Config{}, err
		}
	}

	clearScreen("STEP 2: ACCOUNT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account address").
				Description("Public key starting with G. Leave empty to connect later through the API").
				Value(&a.Address).
				Validate(validateAddress),
			huh.NewSelect[string]().
				Title("Trust line policy").
				Options(
					huh.NewOption("Create the DATA trust line automatically", "auto"),
					huh.NewOption("Wait for the wallet to create it", "external"),
				).
				Value(&a.TrustlinePolicy),
			huh.NewInput().
				Title("Trust limit").
				Value(&a.TrustLimit).
				Validate(validatePositive),
		),
	).RunWithContext(ctx)
	if err != nil {
		return config.Config{}, err
	}

	clearScreen("STEP 3: RUNTIME")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Readiness poll interval").
				Description("Duration string (e.g. 30s, 1m)").
				Value(&a.PollInterval).
				Validate(validateDuration),
			huh.NewInput().
				Title("HTTP API address").
				Value(&a.WebAddr),
			huh.NewInput().
				Title("Delivery journal directory").
				Value(&a.JournalDir),
			huh.NewConfirm().
				Title("Confirm every signature on the terminal?").
				Value(&a.Approve),
		),
	).RunWithContext(ctx)
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := a.Apply(base)
	if err != nil {
		return config.Config{}, err
	}

	clearScreen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Horizon: %s\nAccount: %s\nTrust line: %s (limit %s)\nPoll: %s\nAPI: %s\n",
		cfg.HorizonURL, orNone(cfg.Address), cfg.TrustlinePolicy, cfg.TrustLimit.String(), cfg.PollInterval, cfg.WebAddr,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	var confirm bool
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).RunWithContext(ctx)
	if err != nil {
		return config.Config{}, err
	}
	if !confirm {
		return config.Config{}, ErrCancelled
	}

	if err := config.Write(path, cfg); err != nil {
		return config.Config{}, err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf(
		"\nConfiguration saved to %s\nExport %s before running if the engine should sign.", path, config.SignerSecretEnv)))
	return cfg, nil
}

func validateRequired(name string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.Errorf("%s cannot be empty", name)
		}
		return nil
	}
}

func validateAddress(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if _, err := keypair.ParseAddress(s); err != nil {
		return errors.New("not a valid account address")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("must be a duration like 30s")
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
