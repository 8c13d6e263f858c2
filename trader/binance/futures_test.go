package binance

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"envgrid/trader/exchangetest"
	"envgrid/trader/types"
)

type mockCall struct {
	Method string
	Path   string
	Form   url.Values
}

// mockFutures serves canned /fapi responses and records every call.
type mockFutures struct {
	server *httptest.Server

	mu         sync.Mutex
	calls      []mockCall
	marginCode int // non-zero makes /fapi/v1/marginType fail with this code
	openOrders []map[string]interface{}
	algoOrders []map[string]interface{}
	algoErrors map[string]int // algoId -> error code returned on cancel
}

func newTestExchange(t *testing.T) (*FuturesExchange, *mockFutures) {
	m := &mockFutures{}
	m.server = httptest.NewServer(http.HandlerFunc(m.serve))
	t.Cleanup(m.server.Close)

	client := futures.NewClient("test_api_key", "test_secret_key")
	client.BaseURL = m.server.URL
	client.HTTPClient = m.server.Client()

	ex := newWithClient(client)
	require.NoError(t, ex.LoadMarkets(context.Background()))
	return ex, m
}

// requestForm merges query and body params. net/http skips DELETE bodies in
// ParseForm, but go-binance sends signed DELETE params there.
func requestForm(r *http.Request) url.Values {
	form := url.Values{}
	for k, v := range r.URL.Query() {
		form[k] = v
	}
	body, _ := io.ReadAll(r.Body)
	if extra, err := url.ParseQuery(string(body)); err == nil {
		for k, v := range extra {
			form[k] = append(form[k], v...)
		}
	}
	return form
}

func writeAPIError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{"code": code, "msg": "api error"})
}

func (m *mockFutures) serve(w http.ResponseWriter, r *http.Request) {
	form := requestForm(r)
	m.mu.Lock()
	m.calls = append(m.calls, mockCall{Method: r.Method, Path: r.URL.Path, Form: form})
	marginCode := m.marginCode
	openOrders := m.openOrders
	algoOrders := m.algoOrders
	algoCode := m.algoErrors[form.Get("algoId")]
	m.mu.Unlock()

	var respBody interface{}
	switch {
	case r.URL.Path == "/fapi/v1/exchangeInfo":
		respBody = map[string]interface{}{
			"symbols": []map[string]interface{}{
				{
					"symbol": "BTCUSDT", "status": "TRADING", "contractType": "PERPETUAL",
					"baseAsset": "BTC", "quoteAsset": "USDT",
					"pricePrecision": 2, "quantityPrecision": 3,
					"filters": []map[string]interface{}{
						{"filterType": "PRICE_FILTER", "minPrice": "0.10", "maxPrice": "1000000", "tickSize": "0.10"},
						{"filterType": "LOT_SIZE", "minQty": "0.001", "maxQty": "1000", "stepSize": "0.001"},
					},
				},
				{
					"symbol": "BTCUSDT_251226", "status": "TRADING", "contractType": "CURRENT_QUARTER",
					"baseAsset": "BTC", "quoteAsset": "USDT",
				},
				{
					"symbol": "LUNAUSDT", "status": "SETTLING", "contractType": "PERPETUAL",
					"baseAsset": "LUNA", "quoteAsset": "USDT",
				},
			},
		}

	case r.URL.Path == "/fapi/v1/marginType":
		if marginCode != 0 {
			writeAPIError(w, marginCode)
			return
		}
		respBody = map[string]interface{}{"code": 200, "msg": "success"}

	case r.URL.Path == "/fapi/v1/leverage":
		respBody = map[string]interface{}{"leverage": 3, "maxNotionalValue": "1000000", "symbol": form.Get("symbol")}

	case r.URL.Path == "/fapi/v1/klines":
		respBody = []interface{}{
			[]interface{}{1700000000000, "100", "101", "99", "100.5", "12", 1700003599999, "1206", 10, "6", "603", "0"},
			[]interface{}{1700003600000, "101", "102", "100", "101.5", "11", 1700007199999, "1116", 10, "6", "603", "0"},
		}

	case r.URL.Path == "/fapi/v2/account" || r.URL.Path == "/fapi/v3/account":
		respBody = map[string]interface{}{
			"totalMarginBalance": "1000.50",
			"availableBalance":   "750.25",
			"assets":             []interface{}{},
			"positions":          []interface{}{},
		}

	case r.URL.Path == "/fapi/v2/positionRisk" || r.URL.Path == "/fapi/v3/positionRisk":
		respBody = []map[string]interface{}{
			{"symbol": "BTCUSDT", "positionAmt": "-0.020", "entryPrice": "50000", "markPrice": "49000", "leverage": "3", "marginType": "isolated", "positionSide": "BOTH"},
			{"symbol": "ETHUSDT", "positionAmt": "1.5", "entryPrice": "3000", "markPrice": "3000", "leverage": "3", "marginType": "cross", "positionSide": "BOTH"},
		}

	case r.URL.Path == "/fapi/v1/openOrders":
		respBody = openOrders

	case r.URL.Path == "/fapi/v1/batchOrders" && r.Method == http.MethodDelete:
		respBody = []map[string]interface{}{}

	case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodPost:
		respBody = map[string]interface{}{
			"orderId":       123456,
			"symbol":        form.Get("symbol"),
			"status":        "NEW",
			"clientOrderId": form.Get("newClientOrderId"),
			"type":          form.Get("type"),
			"side":          form.Get("side"),
		}

	case r.URL.Path == "/fapi/v1/openAlgoOrders":
		if algoOrders == nil {
			algoOrders = []map[string]interface{}{}
		}
		respBody = algoOrders

	case r.URL.Path == "/fapi/v1/algoOrder" && r.Method == http.MethodPost:
		respBody = map[string]interface{}{
			"algoId":       789,
			"clientAlgoId": form.Get("clientAlgoId"),
			"algoType":     form.Get("algoType"),
			"orderType":    form.Get("type"),
			"symbol":       form.Get("symbol"),
			"side":         form.Get("side"),
			"algoStatus":   "NEW",
		}

	case r.URL.Path == "/fapi/v1/algoOrder" && r.Method == http.MethodDelete:
		if algoCode != 0 {
			writeAPIError(w, algoCode)
			return
		}
		id, _ := strconv.Atoi(form.Get("algoId"))
		respBody = map[string]interface{}{"algoId": id, "code": "200", "msg": "success"}

	default:
		respBody = map[string]interface{}{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(respBody)
}

func (m *mockFutures) callsTo(method, path string) []mockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []mockCall
	for _, c := range m.calls {
		if c.Method == method && c.Path == path {
			out = append(out, c)
		}
	}
	return out
}

func TestLoadMarkets(t *testing.T) {
	ex, _ := newTestExchange(t)

	info, ok := ex.PairInfo("BTC/USDT:USDT")
	require.True(t, ok)
	assert.Equal(t, "BTCUSDT", info.Symbol)
	assert.InDelta(t, 0.1, info.TickSize, 1e-12)
	assert.InDelta(t, 0.001, info.StepSize, 1e-12)
	assert.InDelta(t, 0.001, info.MinSize, 1e-12)

	_, ok = ex.PairInfo("LUNA/USDT")
	assert.False(t, ok, "non-trading symbols are skipped")

	assert.InDelta(t, 0.123, ex.AmountToPrecision("BTC/USDT", 0.1239), 1e-12)
	assert.InDelta(t, 100.2, ex.PriceToPrecision("BTC/USDT", 100.16), 1e-9)
}

func TestSetMarginModeAndLeverage(t *testing.T) {
	ex, m := newTestExchange(t)

	require.NoError(t, ex.SetMarginModeAndLeverage(context.Background(), "BTC/USDT", types.MarginCrossed, 3))
	calls := m.callsTo(http.MethodPost, "/fapi/v1/marginType")
	require.Len(t, calls, 1)
	assert.Equal(t, "CROSSED", calls[0].Form.Get("marginType"))
	lev := m.callsTo(http.MethodPost, "/fapi/v1/leverage")
	require.Len(t, lev, 1)
	assert.Equal(t, "3", lev[0].Form.Get("leverage"))

	m.mu.Lock()
	m.marginCode = codeNoNeedToChangeMargin
	m.mu.Unlock()
	assert.NoError(t, ex.SetMarginModeAndLeverage(context.Background(), "BTC/USDT", types.MarginIsolated, 3),
		"margin type already set is not an error")

	m.mu.Lock()
	m.marginCode = -1121
	m.mu.Unlock()
	err := ex.SetMarginModeAndLeverage(context.Background(), "BTC/USDT", types.MarginIsolated, 3)
	require.Error(t, err)
	exErr, ok := types.IsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, "-1121", exErr.Code)
}

func TestCandles(t *testing.T) {
	ex, m := newTestExchange(t)

	candles, err := ex.Candles(context.Background(), "BTC/USDT", "1H", 2)
	require.NoError(t, err)
	require.Len(t, candles, 2)
	assert.Equal(t, 100.5, candles[0].Close)
	assert.Equal(t, 101.0, candles[1].Open)
	assert.Equal(t, int64(1700003600000), candles[1].OpenTime.UnixMilli())

	calls := m.callsTo(http.MethodGet, "/fapi/v1/klines")
	require.Len(t, calls, 1)
	assert.Equal(t, "1h", calls[0].Form.Get("interval"))
}

func TestBalanceAndPositions(t *testing.T) {
	ex, _ := newTestExchange(t)

	bal, err := ex.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000.5, bal.Total)
	assert.Equal(t, 750.25, bal.Free)

	positions, err := ex.OpenPositions(context.Background(), []string{"BTC/USDT"})
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, types.PositionShort, positions[0].Side)
	assert.Equal(t, 0.02, positions[0].Size)
	assert.InDelta(t, 980, positions[0].USDSize, 1e-9)
	assert.Equal(t, types.MarginIsolated, positions[0].MarginMode)
}

func TestOpenOrdersAndAlgoOrders(t *testing.T) {
	ex, m := newTestExchange(t)
	m.mu.Lock()
	m.openOrders = []map[string]interface{}{
		{"orderId": 1, "symbol": "BTCUSDT", "price": "49000", "origQty": "0.01", "side": "BUY", "type": "LIMIT", "reduceOnly": false, "time": 1700000000000},
	}
	m.algoOrders = []map[string]interface{}{
		{"algoId": 2, "clientAlgoId": "c2", "algoType": "CONDITIONAL", "orderType": "STOP_MARKET", "symbol": "BTCUSDT", "side": "SELL", "quantity": "0.02", "triggerPrice": "35000", "price": "0", "reduceOnly": true, "createTime": 1700000000000},
		{"algoId": 3, "clientAlgoId": "c3", "algoType": "CONDITIONAL", "orderType": "TAKE_PROFIT", "symbol": "BTCUSDT", "side": "BUY", "quantity": "0.01", "triggerPrice": "48240", "price": "48000", "reduceOnly": false, "createTime": 1700000000000},
	}
	m.mu.Unlock()

	orders, err := ex.OpenOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1", orders[0].ID)
	assert.Equal(t, types.OrderTypeLimit, orders[0].Type)

	triggers, err := ex.OpenTriggerOrders(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, triggers, 2)
	assert.Equal(t, "2", triggers[0].ID)
	assert.Equal(t, types.OrderTypeMarket, triggers[0].Type)
	assert.Equal(t, types.SideSell, triggers[0].Side)
	assert.True(t, triggers[0].ReduceOnly)
	assert.Equal(t, 35000.0, triggers[0].TriggerPrice)
	assert.Equal(t, 0.02, triggers[0].Size)
	assert.Equal(t, types.OrderTypeLimit, triggers[1].Type)
	assert.Equal(t, 48000.0, triggers[1].Price)

	calls := m.callsTo(http.MethodGet, "/fapi/v1/openAlgoOrders")
	require.Len(t, calls, 1)
	assert.Equal(t, "BTCUSDT", calls[0].Form.Get("symbol"))
	assert.Equal(t, "CONDITIONAL", calls[0].Form.Get("algoType"))
}

func TestCancelOrdersBatches(t *testing.T) {
	ex, m := newTestExchange(t)

	ids := make([]string, 25)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	require.NoError(t, ex.CancelOrders(context.Background(), "BTC/USDT", ids))
	assert.Len(t, m.callsTo(http.MethodDelete, "/fapi/v1/batchOrders"), 3)

	err := ex.CancelOrders(context.Background(), "BTC/USDT", []string{"abc"})
	assert.Error(t, err, "non-numeric ids are rejected")
}

func TestCancelTriggerOrders(t *testing.T) {
	ex, m := newTestExchange(t)
	m.mu.Lock()
	m.algoErrors = map[string]int{"8": codeUnknownOrder, "9": -1000}
	m.mu.Unlock()

	require.NoError(t, ex.CancelTriggerOrders(context.Background(), "BTC/USDT", []string{"7", "8"}))
	calls := m.callsTo(http.MethodDelete, "/fapi/v1/algoOrder")
	require.Len(t, calls, 2)
	assert.Equal(t, "7", calls[0].Form.Get("algoId"))
	assert.Equal(t, "8", calls[1].Form.Get("algoId"))
	assert.Empty(t, m.callsTo(http.MethodDelete, "/fapi/v1/batchOrders"), "algo orders never go through the order book batch")

	err := ex.CancelTriggerOrders(context.Background(), "BTC/USDT", []string{"9"})
	require.Error(t, err)
	exErr, ok := types.IsExchangeError(err)
	require.True(t, ok)
	assert.Equal(t, "-1000", exErr.Code)

	assert.Error(t, ex.CancelTriggerOrders(context.Background(), "BTC/USDT", []string{"abc"}))
}

func TestPlaceOrders(t *testing.T) {
	ex, m := newTestExchange(t)

	ack, err := ex.PlaceOrder(context.Background(), types.OrderRequest{
		Pair: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeLimit,
		Price: 50500.5, Size: 0.012, ReduceOnly: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "123456", ack.ID)

	calls := m.callsTo(http.MethodPost, "/fapi/v1/order")
	require.Len(t, calls, 1)
	assert.Equal(t, "LIMIT", calls[0].Form.Get("type"))
	assert.Equal(t, "GTC", calls[0].Form.Get("timeInForce"))
	assert.Equal(t, "50500.5", calls[0].Form.Get("price"))
	assert.Equal(t, "true", calls[0].Form.Get("reduceOnly"))

	_, err = ex.PlaceOrder(context.Background(), types.OrderRequest{Pair: "DOGE/USDT", Side: types.SideBuy, Type: types.OrderTypeMarket, Size: 1})
	assert.ErrorIs(t, err, types.ErrPairNotFound)
}

func TestPlaceTriggerOrders(t *testing.T) {
	ex, m := newTestExchange(t)

	ack, err := ex.PlaceTriggerOrder(context.Background(), types.TriggerOrderRequest{
		OrderRequest: types.OrderRequest{Pair: "BTC/USDT", Side: types.SideBuy, Type: types.OrderTypeLimit, Price: 48000, Size: 0.01},
		TriggerPrice: 48240,
	})
	require.NoError(t, err)
	assert.Equal(t, "789", ack.ID)
	assert.NotEmpty(t, ack.ClientID)

	_, err = ex.PlaceTriggerOrder(context.Background(), types.TriggerOrderRequest{
		OrderRequest: types.OrderRequest{Pair: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeMarket, Size: 0.02, ReduceOnly: true},
		TriggerPrice: 35000,
	})
	require.NoError(t, err)

	assert.Empty(t, m.callsTo(http.MethodPost, "/fapi/v1/order"), "conditional orders use the algo endpoint")
	calls := m.callsTo(http.MethodPost, "/fapi/v1/algoOrder")
	require.Len(t, calls, 2)

	tp := calls[0].Form
	assert.Equal(t, "CONDITIONAL", tp.Get("algoType"))
	assert.Equal(t, "TAKE_PROFIT", tp.Get("type"))
	assert.Equal(t, "48240", tp.Get("triggerPrice"))
	assert.Equal(t, "48000", tp.Get("price"))
	assert.Equal(t, "GTC", tp.Get("timeInForce"))
	assert.Equal(t, "MARK_PRICE", tp.Get("workingType"))
	assert.Equal(t, "false", tp.Get("reduceOnly"))

	stop := calls[1].Form
	assert.Equal(t, "STOP_MARKET", stop.Get("type"))
	assert.Equal(t, "SELL", stop.Get("side"))
	assert.Equal(t, "35000", stop.Get("triggerPrice"))
	assert.Equal(t, "0.02", stop.Get("quantity"))
	assert.Equal(t, "true", stop.Get("reduceOnly"))
	assert.Empty(t, stop.Get("price"))

	_, err = ex.PlaceTriggerOrder(context.Background(), types.TriggerOrderRequest{
		OrderRequest: types.OrderRequest{Pair: "BTC/USDT", Side: types.SideSell, Type: types.OrderTypeMarket, Size: 0.02},
	})
	assert.Error(t, err, "trigger price is required")
}

func TestInterval(t *testing.T) {
	for in, want := range map[string]string{"1m": "1m", "4H": "4h", "1d": "1d", "1W": "1w"} {
		got, err := interval(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestExchangeSuite(t *testing.T) {
	ex, _ := newTestExchange(t)
	exchangetest.NewExchangeSuite(t, ex, "BTC/USDT").RunAllTests()
}
