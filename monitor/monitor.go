package monitor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/lending-monitor-go/chains"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue/calculator"
	"github.com/defistate/lending-monitor-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// Config holds the dependencies of a Monitor.
type Config struct {
	Reader   chains.MarketReader
	Logger   chains.Logger
	Registry prometheus.Registerer

	// RatePeriodsPerYear converts the IRM rate to an APR. Nil means per-second rates.
	RatePeriodsPerYear *big.Int
}

func (c *Config) validate() error {
	if c.Reader == nil {
		return errors.New("config: Reader is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.RatePeriodsPerYear != nil && c.RatePeriodsPerYear.Sign() <= 0 {
		return errors.New("config: RatePeriodsPerYear must be positive")
	}
	return nil
}

// Monitor computes position snapshots. It keeps no state between calls
// beyond its dependencies, so one Monitor may serve concurrent callers.
type Monitor struct {
	reader             chains.MarketReader
	logger             chains.Logger
	metrics            *metrics
	ratePeriodsPerYear *big.Int
}

func New(cfg Config) (*Monitor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m, err := newMetrics(cfg.Registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return &Monitor{
		reader:             cfg.Reader,
		logger:             cfg.Logger,
		metrics:            m,
		ratePeriodsPerYear: cfg.RatePeriodsPerYear,
	}, nil
}

// ComputeSnapshot reads the market, the user's position and the oracle and
// IRM quotes, then computes a snapshot. Reads run concurrently. If any read
// fails the others are cancelled and no snapshot is produced. A configuration
// mismatch against pinned is reported on the snapshot, never as an error.
func (m *Monitor) ComputeSnapshot(
	ctx context.Context,
	marketID morphoblue.MarketID,
	user common.Address,
	pinned morphoblue.PinnedConfig,
) (*calculator.Snapshot, error) {
	start := time.Now()

	var (
		params   morphoblue.MarketParams
		market   morphoblue.Market
		position morphoblue.Position
		price    *big.Int

		rate            *big.Int
		loanToken       tokenregistry.Token
		collateralToken tokenregistry.Token
	)

	// Phase 1: everything keyed only by market id, user and pinned addresses.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		params, err = m.reader.MarketParams(gctx, marketID)
		return err
	})
	g.Go(func() (err error) {
		market, err = m.reader.Market(gctx, marketID)
		return err
	})
	g.Go(func() (err error) {
		position, err = m.reader.Position(gctx, marketID, user)
		return err
	})
	g.Go(func() (err error) {
		price, err = m.reader.OraclePrice(gctx, pinned.Oracle)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.fail(marketID, err)
	}

	// Phase 2: reads that need the market configuration and state.
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		rate, err = m.reader.BorrowRate(gctx, pinned.Irm, params, market)
		return err
	})
	g.Go(func() (err error) {
		loanToken, err = m.reader.Token(gctx, params.LoanToken)
		return err
	})
	g.Go(func() (err error) {
		collateralToken, err = m.reader.Token(gctx, params.CollateralToken)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, m.fail(marketID, err)
	}

	mismatches := morphoblue.CheckMarketParams(params, pinned)
	if len(mismatches) > 0 {
		m.logger.Warn("Market params differ from pinned configuration; the market may have been migrated",
			"market_id", marketID.Hex(),
			"fields", mismatches,
		)
	}
	if id, err := params.ID(); err == nil && id != marketID {
		m.logger.Warn("Market params do not hash to the requested market id",
			"market_id", marketID.Hex(),
			"derived_id", id.Hex(),
		)
	}
	if price != nil && price.Sign() == 0 {
		m.logger.Warn("Oracle returned a zero price; collateral value will read as zero", "oracle", pinned.Oracle.Hex())
	}

	snapshot, err := calculator.Compute(calculator.Inputs{
		MarketID:           marketID,
		User:               user,
		Params:             params,
		Market:             market,
		Position:           position,
		OraclePrice:        price,
		BorrowRate:         rate,
		RatePeriodsPerYear: m.ratePeriodsPerYear,
		LoanToken:          loanToken,
		CollateralToken:    collateralToken,
		Mismatches:         mismatches,
	})
	if err != nil {
		return nil, m.fail(marketID, err)
	}

	m.observe(snapshot)
	m.logger.Info("Snapshot computed",
		"market_id", marketID.Hex(),
		"user", user.Hex(),
		"health_factor", snapshot.HealthFactor,
		"utilization", snapshot.Utilization,
		"borrow_apy", snapshot.BorrowAPY,
		"mismatches", len(mismatches),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return snapshot, nil
}

func (m *Monitor) fail(marketID morphoblue.MarketID, err error) error {
	m.metrics.failures.Inc()
	m.logger.Error("Snapshot failed", "market_id", marketID.Hex(), "error", err)
	return err
}

func (m *Monitor) observe(s *calculator.Snapshot) {
	// A debt-free position exports +Inf.
	m.metrics.healthFactor.Set(s.HealthFactor)
	m.metrics.utilization.Set(s.Utilization)
	m.metrics.borrowAPR.Set(s.BorrowAPR)
	m.metrics.borrowAPY.Set(s.BorrowAPY)
	m.metrics.mismatches.Set(float64(len(s.Mismatches)))
	m.metrics.lastSuccess.SetToCurrentTime()
}
