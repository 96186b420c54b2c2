package calculator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/defistate/lending-monitor-go/fixedpoint"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/defistate/lending-monitor-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// healthFactorPrecision keeps four decimal digits of the health factor.
	healthFactorPrecision = 10_000

	// compoundingPeriods is the APR to APY compounding frequency (daily).
	compoundingPeriods = 365
)

var (
	healthFactorScale = big.NewInt(healthFactorPrecision)

	// ErrMissingInput is returned when a required on-chain value is nil.
	ErrMissingInput = errors.New("missing calculator input")
)

// Inputs is everything one snapshot is computed from.
type Inputs struct {
	MarketID    morphoblue.MarketID
	User        common.Address
	Params      morphoblue.MarketParams
	Market      morphoblue.Market
	Position    morphoblue.Position
	OraclePrice *big.Int // collateral priced in loan token, scaled by 1e36
	BorrowRate  *big.Int // per rate period, scaled by 1e18

	// RatePeriodsPerYear is how many IRM rate periods make a year.
	// Nil means the rate is per second.
	RatePeriodsPerYear *big.Int

	LoanToken       tokenregistry.Token
	CollateralToken tokenregistry.Token
	Mismatches      []string
}

// Snapshot is the immutable result of one read-and-compute pass.
// Amounts are in the smallest unit of their token; ratios are plain fractions (0.05 is 5%).
type Snapshot struct {
	MarketID   morphoblue.MarketID `json:"marketId"`
	User       common.Address      `json:"user"`
	Mismatches []string            `json:"mismatches"`

	LoanToken       tokenregistry.Token `json:"loanToken"`
	CollateralToken tokenregistry.Token `json:"collateralToken"`

	CollateralAssets *big.Int `json:"collateralAssets"` // collateral token units
	CollateralValue  *big.Int `json:"collateralValue"`  // loan token units
	BorrowAssets     *big.Int `json:"borrowAssets"`     // loan token units
	DebtValue        *big.Int `json:"debtValue"`        // loan token units
	MaxBorrow        *big.Int `json:"maxBorrow"`        // loan token units
	LLTV             *big.Int `json:"lltv"`             // scaled by 1e18

	Utilization  float64  `json:"utilization"`
	HealthFactor float64  `json:"healthFactor"` // +Inf without debt
	BorrowRate   *big.Int `json:"borrowRate"`
	BorrowAPR    float64  `json:"borrowApr"`
	BorrowAPY    float64  `json:"borrowApy"`

	ComputedAt time.Time `json:"computedAt"`
}

// Compute derives a snapshot from raw on-chain values. It is pure apart from
// stamping ComputedAt. Every asset and value conversion is floor-rounded
// integer math; only the final ratios become float64.
func Compute(in Inputs) (*Snapshot, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	borrowAssets, err := ToAssetsDown(in.Position.BorrowShares, in.Market.TotalBorrowAssets, in.Market.TotalBorrowShares)
	if err != nil {
		return nil, fmt.Errorf("borrow assets: %w", err)
	}

	collateralValue, err := CollateralValue(in.Position.Collateral, in.OraclePrice)
	if err != nil {
		return nil, fmt.Errorf("collateral value: %w", err)
	}

	maxBorrow, err := fixedpoint.MulDivDown(collateralValue, in.Params.Lltv, fixedpoint.WAD)
	if err != nil {
		return nil, fmt.Errorf("max borrow: %w", err)
	}

	healthFactor, err := HealthFactor(maxBorrow, borrowAssets)
	if err != nil {
		return nil, fmt.Errorf("health factor: %w", err)
	}

	apr, err := BorrowAPR(in.BorrowRate, in.RatePeriodsPerYear)
	if err != nil {
		return nil, fmt.Errorf("borrow apr: %w", err)
	}

	mismatches := append([]string{}, in.Mismatches...)
	// Debt is already denominated in the loan token.
	debtValue := new(big.Int).Set(borrowAssets)

	return &Snapshot{
		MarketID:         in.MarketID,
		User:             in.User,
		Mismatches:       mismatches,
		LoanToken:        in.LoanToken,
		CollateralToken:  in.CollateralToken,
		CollateralAssets: new(big.Int).Set(in.Position.Collateral),
		CollateralValue:  collateralValue,
		BorrowAssets:     borrowAssets,
		DebtValue:        debtValue,
		MaxBorrow:        maxBorrow,
		LLTV:             new(big.Int).Set(in.Params.Lltv),
		Utilization:      fixedpoint.Ratio(debtValue, collateralValue),
		HealthFactor:     healthFactor,
		BorrowRate:       new(big.Int).Set(in.BorrowRate),
		BorrowAPR:        apr,
		BorrowAPY:        APY(apr),
		ComputedAt:       time.Now().UTC(),
	}, nil
}

func (in Inputs) validate() error {
	for _, f := range []struct {
		name  string
		value *big.Int
	}{
		{"lltv", in.Params.Lltv},
		{"totalBorrowAssets", in.Market.TotalBorrowAssets},
		{"totalBorrowShares", in.Market.TotalBorrowShares},
		{"borrowShares", in.Position.BorrowShares},
		{"collateral", in.Position.Collateral},
		{"oraclePrice", in.OraclePrice},
		{"borrowRate", in.BorrowRate},
	} {
		if f.value == nil {
			return fmt.Errorf("%w: %s", ErrMissingInput, f.name)
		}
	}
	return nil
}

// ToAssetsDown converts shares to assets at the pool exchange rate, rounding
// down like the pool's own ledger. An empty pool converts everything to zero.
func ToAssetsDown(shares, totalAssets, totalShares *big.Int) (*big.Int, error) {
	if totalShares != nil && totalShares.Sign() == 0 {
		return new(big.Int), nil
	}
	return fixedpoint.MulDivDown(shares, totalAssets, totalShares)
}

// CollateralValue prices a collateral amount in loan token units.
func CollateralValue(collateral, oraclePrice *big.Int) (*big.Int, error) {
	return fixedpoint.MulDivDown(collateral, oraclePrice, fixedpoint.OracleScale)
}

// HealthFactor is maxBorrow/borrowAssets floored to four decimals, or +Inf
// when there is no debt. Below 1.0 the position exceeds its LLTV ceiling.
func HealthFactor(maxBorrow, borrowAssets *big.Int) (float64, error) {
	if borrowAssets == nil || borrowAssets.Sign() == 0 {
		return math.Inf(1), nil
	}
	scaled, err := fixedpoint.MulDivDown(maxBorrow, healthFactorScale, borrowAssets)
	if err != nil {
		return 0, err
	}
	f, _ := new(big.Float).SetInt(scaled).Float64()
	return f / healthFactorPrecision, nil
}

// BorrowAPR annualizes a 1e18-scaled per-period rate by simple scaling.
// periodsPerYear defaults to the number of seconds in a 365-day year.
func BorrowAPR(rate, periodsPerYear *big.Int) (float64, error) {
	if periodsPerYear == nil {
		periodsPerYear = fixedpoint.SecondsPerYear
	}
	if periodsPerYear.Sign() <= 0 {
		return 0, fmt.Errorf("periods per year must be positive, got %s", periodsPerYear)
	}
	aprWad, err := fixedpoint.MulDivDown(rate, periodsPerYear, big.NewInt(1))
	if err != nil {
		return 0, err
	}
	return fixedpoint.Ratio(aprWad, fixedpoint.WAD), nil
}

// APY compounds an APR daily: (1 + apr/365)^365 - 1.
func APY(apr float64) float64 {
	if apr == 0 || math.IsNaN(apr) {
		return apr
	}
	apy := math.Pow(1+apr/compoundingPeriods, compoundingPeriods) - 1
	// For very small rates 1+apr/365 rounds to 1; compounding never yields less than the simple rate.
	if apy < apr {
		return apr
	}
	return apy
}

// MarshalJSON renders an infinite health factor as null, since JSON has no infinity.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type alias Snapshot
	var hf *float64
	if !math.IsInf(s.HealthFactor, 0) && !math.IsNaN(s.HealthFactor) {
		v := s.HealthFactor
		hf = &v
	}
	return json.Marshal(struct {
		alias
		HealthFactor *float64 `json:"healthFactor"`
	}{alias(s), hf})
}
