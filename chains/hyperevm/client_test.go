package hyperevm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/defistate/lending-monitor-go/chains"
	"github.com/defistate/lending-monitor-go/fixedpoint"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	marketAddr = common.HexToAddress("0x68e37de8d93d3496ae143f2e900490f6280c57cd")
	usdhAddr   = common.HexToAddress("0x111111a1a0667d36bD57c0A9f569b98057111111")
	hypeAddr   = common.HexToAddress("0x5555555555555555555555555555555555555555")
	oracleAddr = common.HexToAddress("0x72f82357dc9916ef419fAe30eaE44b0899668474")
	irmAddr    = common.HexToAddress("0xD4a426F010986dCad727e8dd6eed44cA4A9b7483")
	userAddr   = common.HexToAddress("0xc69eC94F3dcE57B622D790E773899bc1d11A8074")
	marketID   = common.HexToHash("0x85e7ea4f16f2299a2e50a650164c4ca3a01d4892c66950e4c9c7863dc79e9ea4")
)

// --- Test Setup: Mock eth namespace ---

type callArgs struct {
	From  *common.Address `json:"from"`
	To    *common.Address `json:"to"`
	Data  *hexutil.Bytes  `json:"data"`
	Input *hexutil.Bytes  `json:"input"`
}

func (a callArgs) payload() []byte {
	if a.Input != nil {
		return *a.Input
	}
	if a.Data != nil {
		return *a.Data
	}
	return nil
}

type mockContract struct {
	abi     abi.ABI
	results map[string][]any
	errs    map[string]error
}

type mockEth struct {
	chainID   *big.Int
	contracts map[common.Address]*mockContract

	mu     sync.Mutex
	blocks []string
	inputs map[string][]byte
}

func (m *mockEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(m.chainID)
}

func (m *mockEth) Call(args callArgs, block *string) (hexutil.Bytes, error) {
	if args.To == nil {
		return nil, errors.New("missing to")
	}
	contract, ok := m.contracts[*args.To]
	if !ok {
		// calls to accounts without code return empty data
		return hexutil.Bytes{}, nil
	}
	data := args.payload()
	if len(data) < 4 {
		return nil, errors.New("execution reverted")
	}
	method, err := contract.abi.MethodById(data[:4])
	if err != nil {
		return nil, errors.New("execution reverted")
	}

	m.mu.Lock()
	if block != nil {
		m.blocks = append(m.blocks, *block)
	}
	m.inputs[method.Name] = append([]byte{}, data[4:]...)
	m.mu.Unlock()

	if err := contract.errs[method.Name]; err != nil {
		return nil, err
	}
	out, err := method.Outputs.Pack(contract.results[method.Name]...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newMockEth() *mockEth {
	wad := fixedpoint.WAD
	ether := func(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), wad) }

	return &mockEth{
		chainID: big.NewInt(ChainID),
		inputs:  map[string][]byte{},
		contracts: map[common.Address]*mockContract{
			marketAddr: {
				abi: morphoblue.MarketABI,
				results: map[string][]any{
					morphoblue.MethodIdToMarketParams: {usdhAddr, hypeAddr, oracleAddr, irmAddr, big.NewInt(770_000_000_000_000_000)},
					morphoblue.MethodMarket:           {ether(1000), ether(1000), big.NewInt(1100), big.NewInt(1000), big.NewInt(1_700_000_000), big.NewInt(0)},
					morphoblue.MethodPosition:         {big.NewInt(0), big.NewInt(100), ether(2)},
				},
				errs: map[string]error{},
			},
			oracleAddr: {
				abi: morphoblue.OracleABI,
				results: map[string][]any{
					morphoblue.MethodPrice: {new(big.Int).Mul(big.NewInt(25), fixedpoint.OracleScale)},
				},
				errs: map[string]error{},
			},
			irmAddr: {
				abi: morphoblue.IrmABI,
				results: map[string][]any{
					morphoblue.MethodBorrowRateView: {big.NewInt(1_585_489_599)},
				},
				errs: map[string]error{},
			},
			usdhAddr: {
				abi: morphoblue.ERC20ABI,
				results: map[string][]any{
					morphoblue.MethodSymbol:   {"USDH"},
					morphoblue.MethodDecimals: {uint8(6)},
				},
				errs: map[string]error{},
			},
		},
	}
}

func newTestClient(t *testing.T, mock *mockEth, opts ...Option) (*Client, *prometheus.Registry) {
	t.Helper()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", mock))
	rpcClient := rpc.DialInProc(srv)
	t.Cleanup(func() {
		rpcClient.Close()
		srv.Stop()
	})

	reg := prometheus.NewRegistry()
	client, err := NewClient(
		ethclient.NewClient(rpcClient),
		marketAddr,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		reg,
		opts...,
	)
	require.NoError(t, err)
	return client, reg
}

// --- Tests ---

func TestClient_MarketReads(t *testing.T) {
	client, _ := newTestClient(t, newMockEth())
	ctx := context.Background()

	params, err := client.MarketParams(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, usdhAddr, params.LoanToken)
	assert.Equal(t, hypeAddr, params.CollateralToken)
	assert.Equal(t, oracleAddr, params.Oracle)
	assert.Equal(t, irmAddr, params.Irm)
	assert.Equal(t, "770000000000000000", params.Lltv.String())

	market, err := client.Market(ctx, marketID)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), market.TotalBorrowAssets.Int64())
	assert.Equal(t, int64(1000), market.TotalBorrowShares.Int64())
	assert.Equal(t, int64(1_700_000_000), market.LastUpdate.Int64())

	position, err := client.Position(ctx, marketID, userAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(100), position.BorrowShares.Int64())
	assert.Equal(t, "2000000000000000000", position.Collateral.String())

	price, err := client.OraclePrice(ctx, oracleAddr)
	require.NoError(t, err)
	assert.Zero(t, new(big.Int).Mul(big.NewInt(25), fixedpoint.OracleScale).Cmp(price))
}

func TestClient_PositionEncodesMarketAndUser(t *testing.T) {
	mock := newMockEth()
	client, _ := newTestClient(t, mock)

	_, err := client.Position(context.Background(), marketID, userAddr)
	require.NoError(t, err)

	args, err := morphoblue.MarketABI.Methods[morphoblue.MethodPosition].Inputs.Unpack(mock.inputs[morphoblue.MethodPosition])
	require.NoError(t, err)
	require.Len(t, args, 2)
	assert.Equal(t, [32]byte(marketID), args[0])
	assert.Equal(t, userAddr, args[1])
}

func TestClient_BorrowRatePassesParamsAndMarket(t *testing.T) {
	mock := newMockEth()
	client, _ := newTestClient(t, mock)
	ctx := context.Background()

	params, err := client.MarketParams(ctx, marketID)
	require.NoError(t, err)
	market, err := client.Market(ctx, marketID)
	require.NoError(t, err)

	rate, err := client.BorrowRate(ctx, irmAddr, params, market)
	require.NoError(t, err)
	assert.Equal(t, int64(1_585_489_599), rate.Int64())

	// The IRM must see exactly what was read from the market.
	want, err := morphoblue.PackBorrowRateViewCall(params, market)
	require.NoError(t, err)
	assert.Equal(t, want[4:], mock.inputs[morphoblue.MethodBorrowRateView])
}

func TestClient_BorrowRateRejectsOversizedTotals(t *testing.T) {
	client, _ := newTestClient(t, newMockEth())
	market := morphoblue.Market{
		TotalSupplyAssets: new(big.Int).Lsh(big.NewInt(1), 128),
		TotalSupplyShares: big.NewInt(0),
		TotalBorrowAssets: big.NewInt(0),
		TotalBorrowShares: big.NewInt(0),
		LastUpdate:        big.NewInt(0),
		Fee:               big.NewInt(0),
	}
	_, err := client.BorrowRate(context.Background(), irmAddr, morphoblue.MarketParams{Lltv: big.NewInt(0)}, market)
	assert.Error(t, err)
}

func TestClient_Token(t *testing.T) {
	client, _ := newTestClient(t, newMockEth())

	token, err := client.Token(context.Background(), usdhAddr)
	require.NoError(t, err)
	assert.Equal(t, usdhAddr, token.Address)
	assert.Equal(t, "USDH", token.Symbol)
	assert.Equal(t, uint8(6), token.Decimals)
}

func TestClient_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(m *mockEth)
		read   func(c *Client) error
		method string
	}{
		{
			name: "revert",
			mutate: func(m *mockEth) {
				m.contracts[oracleAddr].errs[morphoblue.MethodPrice] = errors.New("execution reverted")
			},
			read: func(c *Client) error {
				_, err := c.OraclePrice(context.Background(), oracleAddr)
				return err
			},
			method: morphoblue.MethodPrice,
		},
		{
			name:   "account without code",
			mutate: func(m *mockEth) {},
			read: func(c *Client) error {
				_, err := c.Token(context.Background(), hypeAddr)
				return err
			},
			method: morphoblue.MethodSymbol,
		},
		{
			name: "market read failure",
			mutate: func(m *mockEth) {
				m.contracts[marketAddr].errs[morphoblue.MethodMarket] = errors.New("header not found")
			},
			read: func(c *Client) error {
				_, err := c.Market(context.Background(), marketID)
				return err
			},
			method: morphoblue.MethodMarket,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mock := newMockEth()
			tc.mutate(mock)
			client, _ := newTestClient(t, mock)

			err := tc.read(client)
			require.Error(t, err)
			assert.ErrorIs(t, err, chains.ErrSourceUnavailable)
			assert.GreaterOrEqual(t, testutil.ToFloat64(client.metrics.callErrors.WithLabelValues(tc.method)), 1.0)
		})
	}
}

func TestClient_BlockNumberOption(t *testing.T) {
	mock := newMockEth()
	client, _ := newTestClient(t, mock, WithBlockNumber(big.NewInt(0x1234)))

	_, err := client.OraclePrice(context.Background(), oracleAddr)
	require.NoError(t, err)

	mock.mu.Lock()
	defer mock.mu.Unlock()
	require.NotEmpty(t, mock.blocks)
	assert.Equal(t, "0x1234", mock.blocks[len(mock.blocks)-1])
}

func TestClient_CallTimeout(t *testing.T) {
	client, _ := newTestClient(t, newMockEth(), WithCallTimeout(time.Second))
	assert.Equal(t, time.Second, client.callTimeout)

	_, err := client.OraclePrice(context.Background(), oracleAddr)
	require.NoError(t, err)
}

func TestClient_CancelledContext(t *testing.T) {
	client, _ := newTestClient(t, newMockEth())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.MarketParams(ctx, marketID)
	require.Error(t, err)
	assert.ErrorIs(t, err, chains.ErrSourceUnavailable)
}

func TestClient_RecordsCallLatency(t *testing.T) {
	client, reg := newTestClient(t, newMockEth())
	_, err := client.OraclePrice(context.Background(), oracleAddr)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "lending_monitor_rpc_call_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewClient_Validation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	caller := ethclient.NewClient(rpc.DialInProc(rpc.NewServer()))

	_, err := NewClient(nil, marketAddr, logger, reg)
	assert.Error(t, err)
	_, err = NewClient(caller, marketAddr, nil, reg)
	assert.Error(t, err)
	_, err = NewClient(caller, marketAddr, logger, nil)
	assert.Error(t, err)
	_, err = NewClient(caller, common.Address{}, logger, reg)
	assert.Error(t, err)

	// two clients may share one registry
	_, err = NewClient(caller, marketAddr, logger, reg)
	require.NoError(t, err)
	_, err = NewClient(caller, marketAddr, logger, reg)
	require.NoError(t, err)
}

func TestDial(t *testing.T) {
	mock := newMockEth()
	srv := rpc.NewServer()
	require.NoError(t, srv.RegisterName("eth", mock))
	httpServer := httptest.NewServer(srv)
	defer httpServer.Close()
	defer srv.Stop()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	client, err := Dial(ctx, httpServer.URL, marketAddr, logger, prometheus.NewRegistry(), WithExpectedChainID(ChainID))
	require.NoError(t, err)
	defer client.Close()

	price, err := client.OraclePrice(ctx, oracleAddr)
	require.NoError(t, err)
	assert.Positive(t, price.Sign())

	_, err = Dial(ctx, httpServer.URL, marketAddr, logger, prometheus.NewRegistry(), WithExpectedChainID(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected 1")
}
