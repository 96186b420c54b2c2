package hyperevm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/defistate/lending-monitor-go/chains"
	"github.com/defistate/lending-monitor-go/fixedpoint"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/defistate/lending-monitor-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

const (
	// ChainID is HyperEVM mainnet.
	ChainID = 999
	// DefaultURL is the public HyperEVM JSON-RPC endpoint.
	DefaultURL = "https://rpc.hyperliquid.xyz/evm"
)

// ContractCaller is the subset of ethclient.Client the reader needs.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client reads a Morpho Blue market through eth_call. It implements chains.MarketReader.
type Client struct {
	caller  ContractCaller
	closer  func()
	market  common.Address
	logger  chains.Logger
	metrics *metrics

	callTimeout     time.Duration
	blockNumber     *big.Int
	expectedChainID *big.Int
}

// Option configures the Client.
// The interface method is unexported to prevent external modification after Dial.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(c *Client) {
	f(c)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

// Dial connects to url and returns a reader for the Morpho Blue singleton at market.
func Dial(
	ctx context.Context,
	url string,
	market common.Address,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", chains.ErrSourceUnavailable, url, err)
	}

	c, err := newClient(ethclient.NewClient(rpcClient), market, logger, prometheusRegistry, opts...)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	c.closer = rpcClient.Close

	if c.expectedChainID != nil {
		if err := c.verifyChainID(ctx, ethclient.NewClient(rpcClient)); err != nil {
			rpcClient.Close()
			return nil, err
		}
	}

	c.logger.Info("Connected to chain RPC", "url", url, "market", market.Hex())
	return c, nil
}

// NewClient wraps an existing caller, such as an *ethclient.Client.
func NewClient(
	caller ContractCaller,
	market common.Address,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	return newClient(caller, market, logger, prometheusRegistry, opts...)
}

func newClient(
	caller ContractCaller,
	market common.Address,
	logger chains.Logger,
	prometheusRegistry prometheus.Registerer,
	opts ...Option,
) (*Client, error) {
	if caller == nil {
		return nil, errors.New("hyperevm: caller is required")
	}
	if logger == nil {
		return nil, errors.New("hyperevm: logger is required")
	}
	if prometheusRegistry == nil {
		return nil, errors.New("hyperevm: prometheus registry is required")
	}
	if market == (common.Address{}) {
		return nil, errors.New("hyperevm: market address is required")
	}

	m, err := newMetrics(prometheusRegistry)
	if err != nil {
		return nil, fmt.Errorf("hyperevm: register metrics: %w", err)
	}

	c := &Client{
		caller:  caller,
		market:  market,
		logger:  logger,
		metrics: m,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c, nil
}

// Close releases the underlying RPC connection when the client owns it.
func (c *Client) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *Client) verifyChainID(ctx context.Context, eth *ethclient.Client) error {
	got, err := eth.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("%w: eth_chainId: %w", chains.ErrSourceUnavailable, err)
	}
	if got.Cmp(c.expectedChainID) != 0 {
		return fmt.Errorf("hyperevm: connected to chain %s, expected %s", got, c.expectedChainID)
	}
	return nil
}

// MarketParams reads idToMarketParams(id).
func (c *Client) MarketParams(ctx context.Context, id morphoblue.MarketID) (morphoblue.MarketParams, error) {
	data, err := morphoblue.PackMarketParamsCall(id)
	if err != nil {
		return morphoblue.MarketParams{}, err
	}
	out, err := c.call(ctx, morphoblue.MethodIdToMarketParams, c.market, data)
	if err != nil {
		return morphoblue.MarketParams{}, err
	}
	params, err := morphoblue.UnpackMarketParams(out)
	if err != nil {
		return morphoblue.MarketParams{}, c.decodeErr(morphoblue.MethodIdToMarketParams, err)
	}
	return params, nil
}

// Market reads market(id).
func (c *Client) Market(ctx context.Context, id morphoblue.MarketID) (morphoblue.Market, error) {
	data, err := morphoblue.PackMarketCall(id)
	if err != nil {
		return morphoblue.Market{}, err
	}
	out, err := c.call(ctx, morphoblue.MethodMarket, c.market, data)
	if err != nil {
		return morphoblue.Market{}, err
	}
	market, err := morphoblue.UnpackMarket(out)
	if err != nil {
		return morphoblue.Market{}, c.decodeErr(morphoblue.MethodMarket, err)
	}
	return market, nil
}

// Position reads position(id, user).
func (c *Client) Position(ctx context.Context, id morphoblue.MarketID, user common.Address) (morphoblue.Position, error) {
	data, err := morphoblue.PackPositionCall(id, user)
	if err != nil {
		return morphoblue.Position{}, err
	}
	out, err := c.call(ctx, morphoblue.MethodPosition, c.market, data)
	if err != nil {
		return morphoblue.Position{}, err
	}
	position, err := morphoblue.UnpackPosition(out)
	if err != nil {
		return morphoblue.Position{}, c.decodeErr(morphoblue.MethodPosition, err)
	}
	return position, nil
}

// OraclePrice reads price() from oracle.
func (c *Client) OraclePrice(ctx context.Context, oracle common.Address) (*big.Int, error) {
	data, err := morphoblue.PackPriceCall()
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, morphoblue.MethodPrice, oracle, data)
	if err != nil {
		return nil, err
	}
	price, err := morphoblue.UnpackPrice(out)
	if err != nil {
		return nil, c.decodeErr(morphoblue.MethodPrice, err)
	}
	return price, nil
}

// BorrowRate reads borrowRateView(params, market) from irm.
func (c *Client) BorrowRate(ctx context.Context, irm common.Address, params morphoblue.MarketParams, market morphoblue.Market) (*big.Int, error) {
	if err := checkUint128(market); err != nil {
		return nil, err
	}
	data, err := morphoblue.PackBorrowRateViewCall(params, market)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", morphoblue.MethodBorrowRateView, err)
	}
	out, err := c.call(ctx, morphoblue.MethodBorrowRateView, irm, data)
	if err != nil {
		return nil, err
	}
	rate, err := morphoblue.UnpackBorrowRate(out)
	if err != nil {
		return nil, c.decodeErr(morphoblue.MethodBorrowRateView, err)
	}
	return rate, nil
}

// Token reads symbol() and decimals() concurrently.
func (c *Client) Token(ctx context.Context, address common.Address) (tokenregistry.Token, error) {
	token := tokenregistry.Token{Address: address}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := morphoblue.ERC20ABI.Pack(morphoblue.MethodSymbol)
		if err != nil {
			return err
		}
		out, err := c.call(gctx, morphoblue.MethodSymbol, address, data)
		if err != nil {
			return err
		}
		symbol, err := morphoblue.UnpackSymbol(out)
		if err != nil {
			return c.decodeErr(morphoblue.MethodSymbol, err)
		}
		token.Symbol = symbol
		return nil
	})
	g.Go(func() error {
		data, err := morphoblue.ERC20ABI.Pack(morphoblue.MethodDecimals)
		if err != nil {
			return err
		}
		out, err := c.call(gctx, morphoblue.MethodDecimals, address, data)
		if err != nil {
			return err
		}
		decimals, err := morphoblue.UnpackDecimals(out)
		if err != nil {
			return c.decodeErr(morphoblue.MethodDecimals, err)
		}
		token.Decimals = decimals
		return nil
	})
	if err := g.Wait(); err != nil {
		return tokenregistry.Token{}, err
	}
	return token, nil
}

// call performs one eth_call, recording its latency and failures.
func (c *Client) call(ctx context.Context, method string, to common.Address, data []byte) ([]byte, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	timer := prometheus.NewTimer(c.metrics.callDuration.WithLabelValues(method))
	defer timer.ObserveDuration()

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, c.blockNumber)
	if err != nil {
		c.metrics.callErrors.WithLabelValues(method).Inc()
		c.logger.Debug("eth_call failed", "method", method, "to", to.Hex(), "error", err)
		return nil, fmt.Errorf("%w: %s on %s: %w", chains.ErrSourceUnavailable, method, to.Hex(), err)
	}
	return out, nil
}

func (c *Client) decodeErr(method string, err error) error {
	c.metrics.callErrors.WithLabelValues(method).Inc()
	return fmt.Errorf("%w: decode %s: %w", chains.ErrSourceUnavailable, method, err)
}

// checkUint128 rejects market totals the IRM could not have been given on chain.
func checkUint128(market morphoblue.Market) error {
	for _, v := range []*big.Int{
		market.TotalSupplyAssets, market.TotalSupplyShares,
		market.TotalBorrowAssets, market.TotalBorrowShares,
		market.LastUpdate, market.Fee,
	} {
		word, err := fixedpoint.ToU256(v)
		if err != nil {
			return fmt.Errorf("market totals: %w", err)
		}
		if word.BitLen() > 128 {
			return fmt.Errorf("market totals: %s exceeds uint128", v)
		}
	}
	return nil
}

// Options Constructors for the Client

// WithCallTimeout bounds every eth_call. Zero leaves deadlines to the caller's context.
func WithCallTimeout(d time.Duration) Option {
	return newOption(func(c *Client) {
		c.callTimeout = d
	})
}

// WithBlockNumber pins every read to one block so all values are mutually consistent.
func WithBlockNumber(n *big.Int) Option {
	return newOption(func(c *Client) {
		c.blockNumber = n
	})
}

// WithExpectedChainID makes Dial fail when the endpoint serves another chain.
func WithExpectedChainID(id uint64) Option {
	return newOption(func(c *Client) {
		c.expectedChainID = new(big.Int).SetUint64(id)
	})
}
