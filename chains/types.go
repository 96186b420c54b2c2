package chains

import (
	"context"
	"errors"
	"math/big"

	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/defistate/lending-monitor-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
)

// ErrSourceUnavailable wraps every failed read from the chain: transport,
// RPC, revert or undecodable return data.
var ErrSourceUnavailable = errors.New("source unavailable")

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MarketReader is the read contract the monitor depends on. Every method is
// side-effect free, independently failable and not retried.
type MarketReader interface {
	MarketParams(ctx context.Context, id morphoblue.MarketID) (morphoblue.MarketParams, error)
	Market(ctx context.Context, id morphoblue.MarketID) (morphoblue.Market, error)
	Position(ctx context.Context, id morphoblue.MarketID, user common.Address) (morphoblue.Position, error)

	// OraclePrice returns the oracle's 1e36-scaled price.
	OraclePrice(ctx context.Context, oracle common.Address) (*big.Int, error)

	// BorrowRate returns the IRM's 1e18-scaled borrow rate for the given market.
	BorrowRate(ctx context.Context, irm common.Address, params morphoblue.MarketParams, market morphoblue.Market) (*big.Int, error)

	// Token returns ERC-20 display metadata.
	Token(ctx context.Context, address common.Address) (tokenregistry.Token, error)
}
