package morphoblue

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// MarketID is the bytes32 market identifier, keccak256 of the encoded MarketParams.
type MarketID = common.Hash

// MarketParams is the immutable configuration of a market, as returned by
// idToMarketParams. Field names follow the ABI so the struct can be packed
// and unpacked directly.
type MarketParams struct {
	LoanToken       common.Address `json:"loanToken"`
	CollateralToken common.Address `json:"collateralToken"`
	Oracle          common.Address `json:"oracle"`
	Irm             common.Address `json:"irm"`
	Lltv            *big.Int       `json:"lltv"` // scaled by 1e18
}

// Market holds the aggregate pool totals. All fields are uint128 on chain.
type Market struct {
	TotalSupplyAssets *big.Int `json:"totalSupplyAssets"`
	TotalSupplyShares *big.Int `json:"totalSupplyShares"`
	TotalBorrowAssets *big.Int `json:"totalBorrowAssets"`
	TotalBorrowShares *big.Int `json:"totalBorrowShares"`
	LastUpdate        *big.Int `json:"lastUpdate"`
	Fee               *big.Int `json:"fee"`
}

// Position is one user's stake in a market. Collateral is an absolute amount
// of the collateral token, not shares.
type Position struct {
	SupplyShares *big.Int `json:"supplyShares"`
	BorrowShares *big.Int `json:"borrowShares"`
	Collateral   *big.Int `json:"collateral"`
}

// PinnedConfig is the set of addresses the operator verified for the monitored market.
type PinnedConfig struct {
	LoanToken       common.Address `json:"loanToken"`
	CollateralToken common.Address `json:"collateralToken"`
	Oracle          common.Address `json:"oracle"`
	Irm             common.Address `json:"irm"`
}
