package morphoblue

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Contract method names.
const (
	MethodIdToMarketParams = "idToMarketParams"
	MethodMarket           = "market"
	MethodPosition         = "position"
	MethodPrice            = "price"
	MethodBorrowRateView   = "borrowRateView"
	MethodSymbol           = "symbol"
	MethodDecimals         = "decimals"
)

const marketParamsComponents = `[
	{"internalType":"address","name":"loanToken","type":"address"},
	{"internalType":"address","name":"collateralToken","type":"address"},
	{"internalType":"address","name":"oracle","type":"address"},
	{"internalType":"address","name":"irm","type":"address"},
	{"internalType":"uint256","name":"lltv","type":"uint256"}
]`

const marketComponents = `[
	{"internalType":"uint128","name":"totalSupplyAssets","type":"uint128"},
	{"internalType":"uint128","name":"totalSupplyShares","type":"uint128"},
	{"internalType":"uint128","name":"totalBorrowAssets","type":"uint128"},
	{"internalType":"uint128","name":"totalBorrowShares","type":"uint128"},
	{"internalType":"uint128","name":"lastUpdate","type":"uint128"},
	{"internalType":"uint128","name":"fee","type":"uint128"}
]`

// MarketJSON is the subset of the Morpho Blue singleton ABI the monitor calls.
const MarketJSON = `[
	{"inputs":[{"internalType":"Id","name":"","type":"bytes32"}],"name":"idToMarketParams","outputs":` + marketParamsComponents + `,"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"Id","name":"","type":"bytes32"}],"name":"market","outputs":` + marketComponents + `,"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"Id","name":"","type":"bytes32"},{"internalType":"address","name":"","type":"address"}],"name":"position","outputs":[
		{"internalType":"uint256","name":"supplyShares","type":"uint256"},
		{"internalType":"uint128","name":"borrowShares","type":"uint128"},
		{"internalType":"uint128","name":"collateral","type":"uint128"}
	],"stateMutability":"view","type":"function"}
]`

// OracleJSON is IOracle: price() returns the collateral price in loan token, scaled by 1e36.
const OracleJSON = `[
	{"inputs":[],"name":"price","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// IrmJSON is IIrm.borrowRateView.
const IrmJSON = `[
	{"inputs":[
		{"components":` + marketParamsComponents + `,"internalType":"struct MarketParams","name":"marketParams","type":"tuple"},
		{"components":` + marketComponents + `,"internalType":"struct Market","name":"market","type":"tuple"}
	],"name":"borrowRateView","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// ERC20JSON covers the display metadata calls.
const ERC20JSON = `[
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

var (
	MarketABI = mustParseABI(MarketJSON)
	OracleABI = mustParseABI(OracleJSON)
	IrmABI    = mustParseABI(IrmJSON)
	ERC20ABI  = mustParseABI(ERC20JSON)

	// ErrUnexpectedOutput is returned when a call decodes to the wrong shape.
	ErrUnexpectedOutput = errors.New("unexpected call output")

	marketParamsArgs = mustTupleArguments()
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("morphoblue: invalid ABI definition: %v", err))
	}
	return parsed
}

func mustTupleArguments() abi.Arguments {
	address, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: address}, {Type: address}, {Type: address}, {Type: address}, {Type: uint256Ty}}
}

// ID derives the market id the way Morpho Blue does: keccak256(abi.encode(params)).
func (p MarketParams) ID() (MarketID, error) {
	lltv := p.Lltv
	if lltv == nil {
		lltv = new(big.Int)
	}
	encoded, err := marketParamsArgs.Pack(p.LoanToken, p.CollateralToken, p.Oracle, p.Irm, lltv)
	if err != nil {
		return MarketID{}, fmt.Errorf("encode market params: %w", err)
	}
	return crypto.Keccak256Hash(encoded), nil
}

// --- call data ---

func PackMarketParamsCall(id MarketID) ([]byte, error) {
	return MarketABI.Pack(MethodIdToMarketParams, id)
}

func PackMarketCall(id MarketID) ([]byte, error) {
	return MarketABI.Pack(MethodMarket, id)
}

func PackPositionCall(id MarketID, user common.Address) ([]byte, error) {
	return MarketABI.Pack(MethodPosition, id, user)
}

func PackPriceCall() ([]byte, error) {
	return OracleABI.Pack(MethodPrice)
}

func PackBorrowRateViewCall(params MarketParams, market Market) ([]byte, error) {
	return IrmABI.Pack(MethodBorrowRateView, params, market)
}

// --- return data ---

func UnpackMarketParams(data []byte) (MarketParams, error) {
	var out MarketParams
	if err := MarketABI.UnpackIntoInterface(&out, MethodIdToMarketParams, data); err != nil {
		return MarketParams{}, err
	}
	return out, nil
}

func UnpackMarket(data []byte) (Market, error) {
	var out Market
	if err := MarketABI.UnpackIntoInterface(&out, MethodMarket, data); err != nil {
		return Market{}, err
	}
	return out, nil
}

func UnpackPosition(data []byte) (Position, error) {
	var out Position
	if err := MarketABI.UnpackIntoInterface(&out, MethodPosition, data); err != nil {
		return Position{}, err
	}
	return out, nil
}

func UnpackPrice(data []byte) (*big.Int, error) {
	return unpackUint256(OracleABI, MethodPrice, data)
}

func UnpackBorrowRate(data []byte) (*big.Int, error) {
	return unpackUint256(IrmABI, MethodBorrowRateView, data)
}

func UnpackSymbol(data []byte) (string, error) {
	out, err := ERC20ABI.Unpack(MethodSymbol, data)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, MethodSymbol, len(out))
	}
	symbol, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, MethodSymbol, out[0])
	}
	return symbol, nil
}

func UnpackDecimals(data []byte) (uint8, error) {
	out, err := ERC20ABI.Unpack(MethodDecimals, data)
	if err != nil {
		return 0, err
	}
	if len(out) != 1 {
		return 0, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, MethodDecimals, len(out))
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, MethodDecimals, out[0])
	}
	return decimals, nil
}

func unpackUint256(contract abi.ABI, method string, data []byte) (*big.Int, error) {
	out, err := contract.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, method, out[0])
	}
	return value, nil
}
