package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/defistate/defistate-clmm-go/engine"
	"github.com/defistate/defistate-clmm-go/ledger"
	"github.com/defistate/defistate-clmm-go/protocols/clmm"
	"github.com/defistate/defistate-clmm-go/storage/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	owner  = common.HexToAddress("0x0000000000000000000000000000000000001001")
)

func newTestAPI(t *testing.T) (*API, *engine.Engine, *ledger.Ledger) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New()
	e, err := engine.New(&engine.Config{
		Store:    memory.New(),
		Transfer: l,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	})
	require.NoError(t, err)

	api, err := NewAPI(Config{Engine: e, Logger: logger, BufferSize: 16})
	require.NoError(t, err)
	return api, e, l
}

func TestNewAPI(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &engine.Engine{}

	testCases := []struct {
		name   string
		cfg    Config
		errMsg string
	}{
		{"nil engine", Config{Logger: logger, BufferSize: 1}, "config: Engine is required"},
		{"nil logger", Config{Engine: e, BufferSize: 1}, "config: Logger is required"},
		{"zero buffer", Config{Engine: e, Logger: logger}, "config: BufferSize must be greater than 0"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			api, err := NewAPI(tc.cfg)
			assert.Nil(t, api)
			assert.EqualError(t, err, tc.errMsg)
		})
	}
}

func TestSubscribeEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	api, e, l := newTestAPI(t)
	pool, err := e.InitializePool(ctx, engine.InitializePoolParams{
		TokenA:      tokenA,
		TokenB:      tokenB,
		SqrtPrice:   clmm.Q64,
		TickSpacing: 1,
	})
	require.NoError(t, err)

	srv, err := NewServer(api)
	require.NoError(t, err)
	defer srv.Stop()
	client := rpc.DialInProc(srv)
	defer client.Close()

	rawCh := make(chan json.RawMessage, 4)
	sub, err := client.Subscribe(ctx, Namespace, rawCh, EventsSubscriptionMethod)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var msg struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		SentAt  int64           `json:"sentAt"`
	}
	receive := func() {
		t.Helper()
		select {
		case raw := <-rawCh:
			require.NoError(t, json.Unmarshal(raw, &msg))
		case err := <-sub.Err():
			t.Fatalf("subscription failed: %v", err)
		case <-ctx.Done():
			t.Fatal("Test timed out waiting for notification")
		}
	}

	receive()
	assert.Equal(t, EventTypeSnapshot, msg.Type)
	assert.NotZero(t, msg.SentAt)
	var snapshot Snapshot
	require.NoError(t, json.Unmarshal(msg.Payload, &snapshot))
	assert.Equal(t, uint64(1), snapshot.Sequence)
	require.Len(t, snapshot.Pools, 1)
	assert.Equal(t, pool.ID, snapshot.Pools[0].ID)
	assert.True(t, snapshot.Pools[0].SqrtPrice.Eq(clmm.Q64))

	require.NoError(t, l.AddBalance(tokenA, owner, 1_000_000))
	require.NoError(t, l.AddBalance(tokenB, owner, 1_000_000))
	_, err = e.ProvideLiquidity(ctx, engine.ProvideLiquidityParams{
		PoolID:    pool.ID,
		Owner:     owner,
		TickLower: -100,
		TickUpper: 100,
		Liquidity: uint256.NewInt(1_000_000),
	})
	require.NoError(t, err)

	receive()
	assert.Equal(t, EventTypeEvent, msg.Type)
	var ev engine.Event
	require.NoError(t, json.Unmarshal(msg.Payload, &ev))
	assert.Equal(t, uint64(2), ev.Sequence)
	assert.Equal(t, engine.EventProvide, ev.Type)
	assert.Equal(t, uint64(1_000_000), ev.Pool.Liquidity.Uint64())
	require.NotNil(t, ev.Position)
	assert.Equal(t, owner, ev.Position.Owner)
	assert.Len(t, ev.Transfers, 2)
}

func TestHandler(t *testing.T) {
	api, e, _ := newTestAPI(t)
	_, err := e.InitializePool(context.Background(), engine.InitializePoolParams{
		TokenA:      tokenA,
		TokenB:      tokenB,
		SqrtPrice:   clmm.Q64,
		TickSpacing: 1,
		FeeRate:     3000,
	})
	require.NoError(t, err)

	srv, err := NewServer(api)
	require.NoError(t, err)
	defer srv.Stop()
	httpServer := httptest.NewServer(Handler(srv, []string{"*"}))
	defer httpServer.Close()

	body := `{"jsonrpc":"2.0","id":1,"method":"clmm_poolFor","params":["` + tokenB.Hex() + `","` + tokenA.Hex() + `"]}`
	resp, err := http.Post(httpServer.URL, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reply struct {
		Result *clmm.Pool `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reply))
	require.Nil(t, reply.Error)
	require.NotNil(t, reply.Result)
	assert.Equal(t, tokenA, reply.Result.TokenA)
	assert.Equal(t, uint32(3000), reply.Result.FeeRate)

	wsClient, err := rpc.Dial("ws" + strings.TrimPrefix(httpServer.URL, "http"))
	require.NoError(t, err)
	defer wsClient.Close()
	var pools []*clmm.Pool
	require.NoError(t, wsClient.Call(&pools, Namespace+"_pools"))
	assert.Len(t, pools, 1)
}
