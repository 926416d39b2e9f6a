package broker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/fault"
	"github.com/camuig/hype-trader/internal/strategy"
)

type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusRejected        OrderStatus = "rejected"
	StatusCancelled       OrderStatus = "cancelled"
	StatusUnknown         OrderStatus = "unknown"
)

// Dead reports whether the broker will never fill the order.
func (s OrderStatus) Dead() bool {
	return s == StatusRejected || s == StatusCancelled
}

// BracketRequest is an entry at market plus protective stop and target legs.
// ClientOrderID is sent as the entry's idempotency key; leg ids derive from it.
type BracketRequest struct {
	ClientOrderID string
	Symbol        string
	Side          strategy.Side
	Quantity      int64 // shares
	Stop          decimal.Decimal
	Target        decimal.Decimal
	// Reduce closes part of an existing position; no protective legs are placed.
	Reduce bool
}

type OrderResult struct {
	OrderRef  string
	Status    OrderStatus
	FilledQty int64 // shares
	AvgPrice  decimal.Decimal
	StopRef   string
	TargetRef string
}

var legNamespace = uuid.MustParse("6f1c2a8e-3b9d-4f57-9a0e-2d7c1b4e8f90")

const (
	legStop    = "sl"
	legTarget  = "tp"
	legFlatten = "flatten"
)

// LegOrderID derives a stable order id for a bracket leg so a resubmitted bracket reuses it.
func LegOrderID(clientOrderID, leg string) string {
	return uuid.NewSHA1(legNamespace, []byte(clientOrderID+":"+leg)).String()
}

// SubmitBracket places the entry and then the protective legs. A leg failure cancels any placed
// leg and flattens the filled entry, and is reported as permanent.
func (c *Client) SubmitBracket(ctx context.Context, req BracketRequest) (*OrderResult, error) {
	inst, err := c.Instrument(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	lots := inst.Lots(req.Quantity)
	if lots < 1 {
		return nil, fault.Permanent("submit bracket",
			fmt.Errorf("%s: %d shares is below one lot of %d", req.Symbol, req.Quantity, inst.Lot))
	}

	res, err := c.postMarket(ctx, inst, req.Side, lots, req.ClientOrderID)
	if err != nil {
		return nil, err
	}
	if res.Status.Dead() {
		return res, fault.Permanent("submit bracket", fmt.Errorf("entry %s %s", res.OrderRef, res.Status))
	}
	if req.Reduce {
		return res, nil
	}
	if c.sandbox {
		c.logger.Info("bracket legs skipped in sandbox mode",
			"symbol", req.Symbol, "stop", req.Stop.String(), "target", req.Target.String())
		return res, nil
	}

	legLots := lots
	if filled := inst.Lots(res.FilledQty); filled > 0 {
		legLots = filled
	}
	exit := stopDirection(req.Side)

	res.StopRef, err = c.placeLeg(ctx, inst, legLots, inst.RoundPrice(req.Stop), exit,
		pb.StopOrderType_STOP_ORDER_TYPE_STOP_LOSS, LegOrderID(req.ClientOrderID, legStop))
	if err != nil {
		return nil, c.compensate(ctx, inst, req, res, err)
	}
	res.TargetRef, err = c.placeLeg(ctx, inst, legLots, inst.RoundPrice(req.Target), exit,
		pb.StopOrderType_STOP_ORDER_TYPE_TAKE_PROFIT, LegOrderID(req.ClientOrderID, legTarget))
	if err != nil {
		return nil, c.compensate(ctx, inst, req, res, err)
	}

	return res, nil
}

func (c *Client) compensate(ctx context.Context, inst Instrument, req BracketRequest, res *OrderResult, cause error) error {
	log := c.logger.With("symbol", req.Symbol, "order_ref", res.OrderRef)
	log.Error("bracket leg failed, unwinding entry", "error", cause)

	if res.StopRef != "" {
		if err := c.CancelStopOrder(ctx, res.StopRef); err != nil {
			log.Error("cancel stop leg", "stop_ref", res.StopRef, "error", err)
		}
	}

	if lots := inst.Lots(res.FilledQty); lots > 0 {
		_, err := c.postMarket(ctx, inst, req.Side.Opposite(), lots, LegOrderID(req.ClientOrderID, legFlatten))
		if err != nil {
			log.Error("flatten entry", "lots", lots, "error", err)
			return fault.Permanent("submit bracket", errors.Join(cause, fmt.Errorf("flatten entry: %w", err)))
		}
	}
	return fault.Permanent("submit bracket", cause)
}

func (c *Client) postMarket(ctx context.Context, inst Instrument, side strategy.Side, lots int64, orderID string) (*OrderResult, error) {
	direction := pb.OrderDirection_ORDER_DIRECTION_BUY
	if side == strategy.SideShort {
		direction = pb.OrderDirection_ORDER_DIRECTION_SELL
	}

	resp, err := call(ctx, c, "post order", func() (*investgo.PostOrderResponse, error) {
		if c.sandbox {
			return c.sdk.NewSandboxServiceClient().PostSandboxOrder(&investgo.PostOrderRequest{
				InstrumentId: inst.UID,
				Quantity:     lots,
				Direction:    direction,
				AccountId:    c.AccountID(),
				OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
				OrderId:      orderID,
			})
		}
		short := &investgo.PostOrderRequestShort{
			InstrumentId: inst.UID,
			Quantity:     lots,
			AccountId:    c.AccountID(),
			OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
			OrderId:      orderID,
		}
		orders := c.sdk.NewOrdersServiceClient()
		if direction == pb.OrderDirection_ORDER_DIRECTION_SELL {
			return orders.Sell(short)
		}
		return orders.Buy(short)
	})
	if err != nil {
		return nil, err
	}

	res := &OrderResult{
		OrderRef:  resp.GetOrderId(),
		Status:    statusFrom(resp.GetExecutionReportStatus()),
		FilledQty: resp.GetLotsExecuted() * inst.Lot,
	}
	if ep := resp.GetExecutedOrderPrice(); ep != nil {
		res.AvgPrice = decimal.NewFromFloat(ep.ToFloat())
	}
	return res, nil
}

// OrderState asks the broker for the current state of an entry order.
func (c *Client) OrderState(ctx context.Context, symbol, ref string) (*OrderResult, error) {
	inst, err := c.Instrument(ctx, symbol)
	if err != nil {
		return nil, err
	}

	resp, err := call(ctx, c, "get order state", func() (orderState, error) {
		if c.sandbox {
			r, err := c.sdk.NewSandboxServiceClient().GetSandboxOrderState(c.AccountID(), ref)
			if err != nil {
				return nil, err
			}
			return r.OrderState, nil
		}
		r, err := c.sdk.NewOrdersServiceClient().GetOrderState(c.AccountID(), ref, pb.PriceType_PRICE_TYPE_CURRENCY, nil)
		if err != nil {
			return nil, err
		}
		return r.OrderState, nil
	})
	if err != nil {
		return nil, err
	}

	res := &OrderResult{
		OrderRef:  ref,
		Status:    statusFrom(resp.GetExecutionReportStatus()),
		FilledQty: resp.GetLotsExecuted() * inst.Lot,
	}
	if ap := resp.GetAveragePositionPrice(); ap != nil {
		res.AvgPrice = decimal.NewFromFloat(ap.ToFloat())
	}
	return res, nil
}

type orderState interface {
	GetExecutionReportStatus() pb.OrderExecutionReportStatus
	GetLotsExecuted() int64
	GetAveragePositionPrice() *pb.MoneyValue
}

func statusFrom(s pb.OrderExecutionReportStatus) OrderStatus {
	switch s {
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_FILL:
		return StatusFilled
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_PARTIALLYFILL:
		return StatusPartiallyFilled
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_NEW:
		return StatusNew
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_REJECTED:
		return StatusRejected
	case pb.OrderExecutionReportStatus_EXECUTION_REPORT_STATUS_CANCELLED:
		return StatusCancelled
	default:
		return StatusUnknown
	}
}
