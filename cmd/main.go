// Command datex keeps one ledger account ready for data purchases, submits
// purchases and delivers confirmed orders seen on the transaction stream.
//
// Usage:
//
//	datex run --config datex.yaml [--address G...]
//	datex buy --item-id XYZ123 --seller G... --price 50
//	datex status
//	datex setup --out datex.yaml
//
// Required environment variables for signing:
//
//	DATEX_SIGNER_SECRET
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/config"
	"github.com/vadiminshakov/datex/internal"
	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/setup"
	"github.com/vadiminshakov/datex/internal/web"
)

const apiTimeout = 60 * time.Second

var opts config.Options

type runCommand struct{}

func (c *runCommand) Execute([]string) error {
	cfg, err := opts.Resolve()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := internal.NewEngine(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Error("failed to close engine", zap.Error(err))
		}
	}()

	logger.Info("starting datex",
		zap.String("horizon", cfg.HorizonURL),
		zap.String("policy", cfg.TrustlinePolicy),
		zap.String("web", cfg.WebAddr))
	return engine.Run(ctx)
}

type buyCommand struct {
	API    string `long:"api" env:"DATEX_API" default:"http://localhost:8090" description:"engine api url"`
	ItemID string `long:"item-id" required:"true" description:"listing id, becomes the order id"`
	Title  string `long:"title" description:"listing title"`
	Seller string `long:"seller" required:"true" description:"seller address"`
	Price  string `long:"price" required:"true" description:"price in native units"`
}

func (c *buyCommand) Execute([]string) error {
	price, err := decimal.NewFromString(c.Price)
	if err != nil {
		return errors.Wrapf(err, "invalid --price %q", c.Price)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := web.NewClient(c.API, apiTimeout).Buy(ctx, domain.Item{
		ID:     c.ItemID,
		Title:  c.Title,
		Seller: c.Seller,
		Price:  price,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Purchase successful! Order %s, transaction %s\n", res.OrderID, res.Hash)
	return nil
}

type statusCommand struct {
	API string `long:"api" env:"DATEX_API" default:"http://localhost:8090" description:"engine api url"`
}

func (c *statusCommand) Execute([]string) error {
	status, err := web.NewClient(c.API, apiTimeout).Status(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", status.State, status.Status)
	if status.Address != "" {
		fmt.Printf("address: %s\n", status.Address)
	}
	if status.Error != "" {
		fmt.Printf("error: %s\n", status.Error)
	}
	return nil
}

type setupCommand struct {
	Out string `long:"out" default:"datex.yaml" description:"where to write the config"`
}

func (c *setupCommand) Execute([]string) error {
	base, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	opts.Apply(&base)

	_, err = setup.RunTUI(context.Background(), base, c.Out)
	return err
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)

	commands := []struct {
		name, short, long string
		data              any
	}{
		{"run", "Run the engine", "Connect the account, keep it ready and serve the HTTP API.", &runCommand{}},
		{"buy", "Buy a listing", "Submit a purchase through a running engine.", &buyCommand{}},
		{"status", "Show readiness", "Print the readiness of a running engine.", &statusCommand{}},
		{"setup", "Configuration wizard", "Interactively create a yaml config.", &setupCommand{}},
	}
	for _, cmd := range commands {
		if _, err := parser.AddCommand(cmd.name, cmd.short, cmd.long, cmd.data); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	// flags.Default prints parse and command errors
	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
