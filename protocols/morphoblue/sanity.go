package morphoblue

import "github.com/ethereum/go-ethereum/common"

// Mismatch field names, in the order CheckMarketParams reports them.
const (
	FieldLoanToken       = "loanToken"
	FieldCollateralToken = "collateralToken"
	FieldOracle          = "oracle"
	FieldIrm             = "irm"
)

// CheckMarketParams lists the fields of params that differ from the pinned
// addresses. An empty result means the market matches. A mismatch is a warning:
// the market may have migrated, but the values read are still well-formed.
func CheckMarketParams(params MarketParams, pinned PinnedConfig) []string {
	mismatches := []string{}
	for _, f := range []struct {
		name          string
		got, expected common.Address
	}{
		{FieldLoanToken, params.LoanToken, pinned.LoanToken},
		{FieldCollateralToken, params.CollateralToken, pinned.CollateralToken},
		{FieldOracle, params.Oracle, pinned.Oracle},
		{FieldIrm, params.Irm, pinned.Irm},
	} {
		// Addresses compare as bytes, so hex casing and checksums never matter.
		if f.got != f.expected {
			mismatches = append(mismatches, f.name)
		}
	}
	return mismatches
}
