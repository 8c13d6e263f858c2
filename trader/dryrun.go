package trader

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"envgrid/logger"
	"envgrid/trader/types"
)

// DryRunExchange forwards reads to the wrapped exchange and only logs writes.
type DryRunExchange struct {
	types.Exchange
}

// NewDryRun wraps ex so that no order, cancellation or leverage change is sent.
func NewDryRun(ex types.Exchange) *DryRunExchange {
	return &DryRunExchange{Exchange: ex}
}

// syntheticID marks acknowledgements that were never sent.
func syntheticID() string {
	return "dry-" + uuid.NewString()
}

func (d *DryRunExchange) SetMarginModeAndLeverage(ctx context.Context, pair string, mode types.MarginMode, leverage int) error {
	logger.Infof("[DryRun] set %s x%d on %s", mode, leverage, pair)
	return nil
}

func (d *DryRunExchange) CancelOrders(ctx context.Context, pair string, ids []string) error {
	logger.Infof("[DryRun] cancel %d orders on %s: %s", len(ids), pair, strings.Join(ids, ","))
	return nil
}

func (d *DryRunExchange) CancelTriggerOrders(ctx context.Context, pair string, ids []string) error {
	logger.Infof("[DryRun] cancel %d trigger orders on %s: %s", len(ids), pair, strings.Join(ids, ","))
	return nil
}

func (d *DryRunExchange) PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderAck, error) {
	logger.Infof("[DryRun] %s %s %s size=%g price=%g reduce=%v", req.Pair, req.Type, req.Side, req.Size, req.Price, req.ReduceOnly)
	return &types.OrderAck{ID: syntheticID(), ClientID: req.ClientID, Pair: req.Pair}, nil
}

func (d *DryRunExchange) PlaceTriggerOrder(ctx context.Context, req types.TriggerOrderRequest) (*types.OrderAck, error) {
	logger.Infof("[DryRun] %s trigger %s %s size=%g trigger=%g price=%g reduce=%v",
		req.Pair, req.Type, req.Side, req.Size, req.TriggerPrice, req.Price, req.ReduceOnly)
	return &types.OrderAck{ID: syntheticID(), ClientID: req.ClientID, Pair: req.Pair}, nil
}
