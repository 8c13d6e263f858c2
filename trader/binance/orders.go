package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"envgrid/market"
	"envgrid/trader/types"
)

func orderSide(s futures.SideType) types.OrderSide {
	if s == futures.SideTypeSell {
		return types.SideSell
	}
	return types.SideBuy
}

func standing(pair string, o *futures.Order) types.StandingOrder {
	price, _ := market.ParseDecimal(o.Price)
	size, _ := market.ParseDecimal(o.OrigQuantity)

	typ := types.OrderTypeLimit
	if o.Type != futures.OrderTypeLimit {
		typ = types.OrderTypeMarket
	}
	return types.StandingOrder{
		ID:         strconv.FormatInt(o.OrderID, 10),
		ClientID:   o.ClientOrderID,
		Pair:       pair,
		Side:       orderSide(o.Side),
		Type:       typ,
		Price:      price,
		Size:       size,
		ReduceOnly: o.ReduceOnly || o.ClosePosition,
		CreatedAt:  time.UnixMilli(o.Time).UTC(),
	}
}

func standingAlgo(pair string, o futures.GetAlgoOrderResp) types.StandingOrder {
	price, _ := market.ParseDecimal(o.Price)
	size, _ := market.ParseDecimal(o.Quantity)
	trigger, _ := market.ParseDecimal(o.TriggerPrice)

	typ := types.OrderTypeMarket
	switch o.OrderType {
	case futures.AlgoOrderTypeStop, futures.AlgoOrderTypeTakeProfit:
		typ = types.OrderTypeLimit
	}
	return types.StandingOrder{
		ID:           strconv.FormatInt(o.AlgoId, 10),
		ClientID:     o.ClientAlgoId,
		Pair:         pair,
		Side:         orderSide(o.Side),
		Type:         typ,
		Price:        price,
		TriggerPrice: trigger,
		Size:         size,
		ReduceOnly:   o.ReduceOnly || o.ClosePosition,
		CreatedAt:    time.UnixMilli(o.CreateTime).UTC(),
	}
}

// OpenOrders lists the regular order book. Conditional orders live in the
// algo book and are returned by OpenTriggerOrders.
func (e *FuturesExchange) OpenOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	symbol, err := e.symbol(pair)
	if err != nil {
		return nil, err
	}
	orders, err := e.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s open orders: %w", pair, wrap("open-orders", err))
	}
	out := make([]types.StandingOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, standing(pair, o))
	}
	return out, nil
}

// OpenTriggerOrders lists open CONDITIONAL algo orders.
func (e *FuturesExchange) OpenTriggerOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	symbol, err := e.symbol(pair)
	if err != nil {
		return nil, err
	}
	orders, err := e.client.NewListOpenAlgoOrdersService().
		Symbol(symbol).
		AlgoType(futures.OrderAlgoTypeConditional).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s trigger orders: %w", pair, wrap("open-algo-orders", err))
	}
	out := make([]types.StandingOrder, 0, len(orders))
	for _, o := range orders {
		out = append(out, standingAlgo(pair, o))
	}
	return out, nil
}

func parseIDs(ids []string) ([]int64, error) {
	numeric := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid order id %q", id)
		}
		numeric = append(numeric, n)
	}
	return numeric, nil
}

// CancelOrders cancels limit orders in batches of ten.
func (e *FuturesExchange) CancelOrders(ctx context.Context, pair string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	symbol, err := e.symbol(pair)
	if err != nil {
		return err
	}
	numeric, err := parseIDs(ids)
	if err != nil {
		return err
	}

	for start := 0; start < len(numeric); start += cancelBatchLimit {
		end := min(start+cancelBatchLimit, len(numeric))
		_, err := e.client.NewCancelMultipleOrdersService().
			Symbol(symbol).
			OrderIDList(numeric[start:end]).
			Do(ctx)
		if err != nil && apiCode(err) != codeUnknownOrder {
			return fmt.Errorf("failed to cancel %d %s orders: %w", len(ids), pair, wrap("batch-cancel", err))
		}
	}
	return nil
}

// CancelTriggerOrders cancels algo orders one by one; the algo API has no
// batch endpoint.
func (e *FuturesExchange) CancelTriggerOrders(ctx context.Context, pair string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := e.symbol(pair); err != nil {
		return err
	}
	numeric, err := parseIDs(ids)
	if err != nil {
		return err
	}

	for _, id := range numeric {
		_, err := e.client.NewCancelAlgoOrderService().AlgoID(id).Do(ctx)
		if err != nil && apiCode(err) != codeUnknownOrder {
			return fmt.Errorf("failed to cancel %s trigger order %d: %w", pair, id, wrap("cancel-algo-order", err))
		}
	}
	return nil
}

func sideType(s types.OrderSide) futures.SideType {
	if s == types.SideSell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func (e *FuturesExchange) checkRequest(req types.OrderRequest) (*types.PairInfo, string, error) {
	info, ok := e.PairInfo(req.Pair)
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", req.Pair, types.ErrPairNotFound)
	}
	if req.Size <= 0 {
		return nil, "", fmt.Errorf("invalid order size %v", req.Size)
	}
	if req.Type == types.OrderTypeLimit && req.Price <= 0 {
		return nil, "", fmt.Errorf("invalid limit price %v", req.Price)
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return info, clientID, nil
}

// PlaceOrder places a LIMIT (GTC) or MARKET order.
func (e *FuturesExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderAck, error) {
	info, clientID, err := e.checkRequest(req)
	if err != nil {
		return nil, err
	}
	svc := e.client.NewCreateOrderService().
		Symbol(info.Symbol).
		Side(sideType(req.Side)).
		Quantity(market.FormatDecimal(req.Size)).
		ReduceOnly(req.ReduceOnly).
		NewClientOrderID(clientID)
	if req.Type == types.OrderTypeLimit {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(market.FormatDecimal(req.Price))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place %s %s order on %s: %w", req.Type, req.Side, req.Pair, wrap("create-order", err))
	}
	return &types.OrderAck{ID: strconv.FormatInt(resp.OrderID, 10), ClientID: resp.ClientOrderID, Pair: req.Pair}, nil
}

// PlaceTriggerOrder places a CONDITIONAL algo order on the mark price.
// Limit triggers map to TAKE_PROFIT, market triggers to STOP_MARKET.
func (e *FuturesExchange) PlaceTriggerOrder(ctx context.Context, req types.TriggerOrderRequest) (*types.OrderAck, error) {
	if req.TriggerPrice <= 0 {
		return nil, fmt.Errorf("invalid trigger price %v", req.TriggerPrice)
	}
	info, clientID, err := e.checkRequest(req.OrderRequest)
	if err != nil {
		return nil, err
	}
	svc := e.client.NewCreateAlgoOrderService().
		Symbol(info.Symbol).
		Side(sideType(req.Side)).
		Quantity(market.FormatDecimal(req.Size)).
		TriggerPrice(market.FormatDecimal(req.TriggerPrice)).
		WorkingType(futures.WorkingTypeMarkPrice).
		ReduceOnly(req.ReduceOnly).
		ClientAlgoId(clientID)
	if req.Type == types.OrderTypeLimit {
		svc = svc.Type(futures.AlgoOrderTypeTakeProfit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(market.FormatDecimal(req.Price))
	} else {
		svc = svc.Type(futures.AlgoOrderTypeStopMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to place %s trigger at %v on %s: %w", req.Side, req.TriggerPrice, req.Pair, wrap("create-algo-order", err))
	}
	return &types.OrderAck{ID: strconv.FormatInt(resp.AlgoId, 10), ClientID: resp.ClientAlgoId, Pair: req.Pair}, nil
}
