package internal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stellar/go-stellar-sdk/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/datex/config"
	"github.com/vadiminshakov/datex/internal/domain"
	"github.com/vadiminshakov/datex/internal/services/signer"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.JournalDir = t.TempDir()
	cfg.WebAddr = "127.0.0.1:0"
	// nothing listens here; tests never connect a session
	cfg.HorizonURL = "http://127.0.0.1:1"
	return cfg
}

func TestNewEngine_ReadOnlyWithoutSecret(t *testing.T) {
	e, err := NewEngine(context.Background(), zap.NewNop(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.IsType(t, signer.Unavailable{}, e.Signer)
	assert.Equal(t, domain.StateUninitialized, e.Readiness.Snapshot().State)

	_, ok := e.Sessions.Active()
	assert.False(t, ok)

	_, err = e.Purchases.Buy(context.Background(), domain.Item{ID: "A1", Seller: keypair.MustRandom().Address(), Price: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotReady, domain.KindOf(err))
}

func TestNewEngine_RejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.TrustlinePolicy = "sometimes"

	_, err := NewEngine(context.Background(), zap.NewNop(), cfg)
	require.Error(t, err)
}

func TestNewSigner(t *testing.T) {
	kp := keypair.MustRandom()

	cfg := testConfig(t)
	cfg.SignerSecret = kp.Seed()
	s, err := newSigner(zap.NewNop(), cfg)
	require.NoError(t, err)
	require.IsType(t, &signer.KeypairSigner{}, s)
	assert.Equal(t, kp.Address(), s.(*signer.KeypairSigner).Address())

	cfg.Approve = true
	s, err = newSigner(zap.NewNop(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &signer.ApprovalSigner{}, s)

	cfg.SignerSecret = "SNOTASEED"
	_, err = newSigner(zap.NewNop(), cfg)
	require.Error(t, err)
}

func TestEngine_RunStopsOnCancel(t *testing.T) {
	e, err := NewEngine(context.Background(), zap.NewNop(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}
