package bitget

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"envgrid/market"
	"envgrid/trader/types"
)

const (
	pageLimit        = 100
	batchCancelLimit = 50
	normalPlan       = "normal_plan"
)

// Codes returned when the order to cancel is already gone.
var orderGoneCodes = map[string]bool{
	"40768": true,
	"43001": true,
	"43025": true,
}

type pendingOrder struct {
	Symbol       string `json:"symbol"`
	OrderID      string `json:"orderId"`
	ClientOid    string `json:"clientOid"`
	Size         string `json:"size"`
	Price        string `json:"price"`
	TriggerPrice string `json:"triggerPrice"`
	Side         string `json:"side"`
	OrderType    string `json:"orderType"`
	ReduceOnly   string `json:"reduceOnly"`
	CTime        string `json:"cTime"`
}

type pendingPage struct {
	EntrustedList []pendingOrder `json:"entrustedList"`
	EndID         string         `json:"endId"`
}

func (o pendingOrder) standing(pair string) types.StandingOrder {
	size, _ := market.ParseDecimal(o.Size)
	price, _ := market.ParseDecimal(o.Price)
	trigger, _ := market.ParseDecimal(o.TriggerPrice)
	side := types.SideBuy
	if strings.EqualFold(o.Side, "sell") {
		side = types.SideSell
	}
	typ := types.OrderTypeLimit
	if strings.EqualFold(o.OrderType, "market") {
		typ = types.OrderTypeMarket
	}
	var created time.Time
	if ms, err := strconv.ParseInt(o.CTime, 10, 64); err == nil {
		created = time.UnixMilli(ms).UTC()
	}
	return types.StandingOrder{
		ID:           o.OrderID,
		ClientID:     o.ClientOid,
		Pair:         pair,
		Side:         side,
		Type:         typ,
		Price:        price,
		TriggerPrice: trigger,
		Size:         size,
		ReduceOnly:   strings.EqualFold(o.ReduceOnly, "yes"),
		CreatedAt:    created,
	}
}

// pending walks a paginated pending-orders endpoint.
func (c *Client) pending(ctx context.Context, path, pair string, planType string) ([]types.StandingOrder, error) {
	symbol, err := c.symbol(pair)
	if err != nil {
		return nil, err
	}

	var out []types.StandingOrder
	cursor := ""
	for {
		q := c.queryFor(symbol)
		q.Set("limit", strconv.Itoa(pageLimit))
		if planType != "" {
			q.Set("planType", planType)
		}
		if cursor != "" {
			q.Set("idLessThan", cursor)
		}

		var page pendingPage
		if err := c.get(ctx, path, q, &page); err != nil {
			return nil, err
		}
		for _, o := range page.EntrustedList {
			out = append(out, o.standing(pair))
		}
		if len(page.EntrustedList) < pageLimit || page.EndID == "" || page.EndID == cursor {
			return out, nil
		}
		cursor = page.EndID
	}
}

// OpenOrders lists resting limit orders.
func (c *Client) OpenOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	orders, err := c.pending(ctx, ordersPendingPath, pair, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get %s open orders: %w", pair, err)
	}
	return orders, nil
}

// OpenTriggerOrders lists untriggered normal_plan orders.
func (c *Client) OpenTriggerOrders(ctx context.Context, pair string) ([]types.StandingOrder, error) {
	orders, err := c.pending(ctx, planPendingPath, pair, normalPlan)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s trigger orders: %w", pair, err)
	}
	return orders, nil
}

type orderRef struct {
	OrderID string `json:"orderId"`
}

type cancelResult struct {
	SuccessList []orderRef `json:"successList"`
	FailureList []struct {
		OrderID   string `json:"orderId"`
		ErrorCode string `json:"errorCode"`
		ErrorMsg  string `json:"errorMsg"`
	} `json:"failureList"`
}

func (r *cancelResult) err(path string) error {
	for _, f := range r.FailureList {
		if orderGoneCodes[f.ErrorCode] {
			continue
		}
		return &types.ExchangeError{
			Exchange: "bitget",
			Op:       path,
			Code:     f.ErrorCode,
			Message:  fmt.Sprintf("order %s: %s", f.OrderID, f.ErrorMsg),
		}
	}
	return nil
}

func (c *Client) cancel(ctx context.Context, path, pair string, ids []string, planType string) error {
	if len(ids) == 0 {
		return nil
	}
	symbol, err := c.symbol(pair)
	if err != nil {
		return err
	}

	for start := 0; start < len(ids); start += batchCancelLimit {
		end := min(start+batchCancelLimit, len(ids))
		refs := make([]orderRef, 0, end-start)
		for _, id := range ids[start:end] {
			refs = append(refs, orderRef{OrderID: id})
		}
		body := map[string]interface{}{
			"symbol":      symbol,
			"productType": c.opts.ProductType,
			"marginCoin":  c.opts.MarginCoin,
			"orderIdList": refs,
		}
		if planType != "" {
			body["planType"] = planType
		}

		var result cancelResult
		if err := c.post(ctx, path, body, &result); err != nil {
			return err
		}
		if err := result.err(path); err != nil {
			return err
		}
	}
	return nil
}

// CancelOrders cancels limit orders in batches.
func (c *Client) CancelOrders(ctx context.Context, pair string, ids []string) error {
	if err := c.cancel(ctx, batchCancelPath, pair, ids, ""); err != nil {
		return fmt.Errorf("failed to cancel %d %s orders: %w", len(ids), pair, err)
	}
	return nil
}

// CancelTriggerOrders cancels normal_plan orders in batches.
func (c *Client) CancelTriggerOrders(ctx context.Context, pair string, ids []string) error {
	if err := c.cancel(ctx, cancelPlanOrderPath, pair, ids, normalPlan); err != nil {
		return fmt.Errorf("failed to cancel %d %s trigger orders: %w", len(ids), pair, err)
	}
	return nil
}

type placeResult struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}

// orderBody builds the fields shared by place-order and place-plan-order.
func (c *Client) orderBody(req types.OrderRequest) (map[string]string, error) {
	info, ok := c.PairInfo(req.Pair)
	if !ok {
		return nil, fmt.Errorf("%s: %w", req.Pair, types.ErrPairNotFound)
	}
	if req.Size <= 0 {
		return nil, fmt.Errorf("invalid order size %v", req.Size)
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	mode := req.MarginMode
	if mode == "" {
		mode = types.MarginIsolated
	}

	body := map[string]string{
		"symbol":      info.Symbol,
		"productType": c.opts.ProductType,
		"marginMode":  string(mode),
		"marginCoin":  c.opts.MarginCoin,
		"size":        market.FormatDecimal(req.Size),
		"side":        string(req.Side),
		"orderType":   string(req.Type),
		"clientOid":   clientID,
		"reduceOnly":  yesNo(req.ReduceOnly),
	}
	if req.Type == types.OrderTypeLimit {
		if req.Price <= 0 {
			return nil, fmt.Errorf("invalid limit price %v", req.Price)
		}
		body["price"] = market.FormatDecimal(req.Price)
		body["force"] = "gtc"
	}
	return body, nil
}

// PlaceOrder places a limit or market order.
func (c *Client) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderAck, error) {
	body, err := c.orderBody(req)
	if err != nil {
		return nil, err
	}
	var result placeResult
	if err := c.post(ctx, placeOrderPath, body, &result); err != nil {
		return nil, fmt.Errorf("failed to place %s %s order on %s: %w", req.Type, req.Side, req.Pair, err)
	}
	return &types.OrderAck{ID: result.OrderID, ClientID: result.ClientOid, Pair: req.Pair}, nil
}

// PlaceTriggerOrder places a normal_plan order triggered on the mark price.
func (c *Client) PlaceTriggerOrder(ctx context.Context, req types.TriggerOrderRequest) (*types.OrderAck, error) {
	if req.TriggerPrice <= 0 {
		return nil, fmt.Errorf("invalid trigger price %v", req.TriggerPrice)
	}
	body, err := c.orderBody(req.OrderRequest)
	if err != nil {
		return nil, err
	}
	delete(body, "force")
	body["planType"] = normalPlan
	body["triggerPrice"] = market.FormatDecimal(req.TriggerPrice)
	body["triggerType"] = "mark_price"

	var result placeResult
	if err := c.post(ctx, placePlanOrderPath, body, &result); err != nil {
		return nil, fmt.Errorf("failed to place %s trigger at %v on %s: %w", req.Side, req.TriggerPrice, req.Pair, err)
	}
	return &types.OrderAck{ID: result.OrderID, ClientID: result.ClientOid, Pair: req.Pair}, nil
}
