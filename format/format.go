// Package format renders snapshots for people: token amounts in whole units,
// ratios as percentages and the health factor to four places.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/big"
	"strings"

	"github.com/defistate/lending-monitor-go/protocols/morphoblue/calculator"
	"github.com/shopspring/decimal"
)

// DefaultTitle heads the text rendering when no title is configured.
const DefaultTitle = "Felix position monitor (HyperEVM)"

// FormatUnits renders an integer amount of the smallest token unit as a
// decimal string. The result always has a fractional part, so one whole
// 18-decimal token is "1.0".
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0.0"
	}
	s := decimal.NewFromBigInt(value, -int32(decimals)).String()
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Percent renders a fraction with two decimals, 0.1234 as "12.34%".
func Percent(x float64) string {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", x*100)
}

// HealthFactor renders hf with four decimals. A position without debt has an
// infinite health factor.
func HealthFactor(hf float64) string {
	switch {
	case math.IsInf(hf, 1):
		return "∞"
	case math.IsNaN(hf) || math.IsInf(hf, -1):
		return "N/A"
	}
	return fmt.Sprintf("%.4f", hf)
}

// Render writes the human-readable report. A configuration mismatch is
// printed first as a warning line.
func Render(w io.Writer, title string, s *calculator.Snapshot) error {
	if s == nil {
		return fmt.Errorf("render: nil snapshot")
	}
	if title == "" {
		title = DefaultTitle
	}

	var b strings.Builder
	if len(s.Mismatches) > 0 {
		fmt.Fprintf(&b, "WARN: MarketParams mismatch: %s (the market may have been migrated or upgraded)\n",
			strings.Join(s.Mismatches, ", "))
	}

	loan, collateral := s.LoanToken, s.CollateralToken
	debt := FormatUnits(s.BorrowAssets, loan.Decimals)

	fmt.Fprintln(&b, title)
	fmt.Fprintf(&b, "Collateral: %s %s  (~$%s)\n",
		FormatUnits(s.CollateralAssets, collateral.Decimals), collateral.Label(),
		FormatUnits(s.CollateralValue, loan.Decimals))
	fmt.Fprintf(&b, "Debt      : %s %s  (~$%s)\n", debt, loan.Label(), FormatUnits(s.DebtValue, loan.Decimals))
	fmt.Fprintf(&b, "Borrow APY: %s  (APR %s)\n", Percent(s.BorrowAPY), Percent(s.BorrowAPR))
	fmt.Fprintf(&b, "Util      : %s   HF %s\n", Percent(s.Utilization), HealthFactor(s.HealthFactor))

	_, err := io.WriteString(w, b.String())
	return err
}

// RenderJSON writes the snapshot as indented JSON.
func RenderJSON(w io.Writer, s *calculator.Snapshot) error {
	if s == nil {
		return fmt.Errorf("render: nil snapshot")
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
