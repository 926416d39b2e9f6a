package broker

import (
	"context"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"

	"github.com/camuig/hype-trader/internal/strategy"
)

var nanosPerUnit = decimal.NewFromInt(1_000_000_000)

func (c *Client) placeLeg(ctx context.Context, inst Instrument, lots int64, price decimal.Decimal,
	direction pb.StopOrderDirection, kind pb.StopOrderType, orderID string) (string, error) {
	svc := c.sdk.NewStopOrdersServiceClient()
	return call(ctx, c, "post stop order", func() (string, error) {
		resp, err := svc.PostStopOrder(&investgo.PostStopOrderRequest{
			InstrumentId:   inst.UID,
			Quantity:       lots,
			StopPrice:      toQuotation(price),
			Direction:      direction,
			AccountId:      c.AccountID(),
			ExpirationType: pb.StopOrderExpirationType_STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_CANCEL,
			StopOrderType:  kind,
			OrderID:        orderID,
		})
		if err != nil {
			return "", err
		}
		return resp.GetStopOrderId(), nil
	})
}

func (c *Client) CancelStopOrder(ctx context.Context, id string) error {
	if c.sandbox || id == "" {
		return nil
	}
	svc := c.sdk.NewStopOrdersServiceClient()
	_, err := call(ctx, c, "cancel stop order", func() (struct{}, error) {
		_, err := svc.CancelStopOrder(c.AccountID(), id)
		return struct{}{}, err
	})
	return err
}

// stopDirection is the side protective legs trade on: opposite to the entry.
func stopDirection(entry strategy.Side) pb.StopOrderDirection {
	if entry == strategy.SideShort {
		return pb.StopOrderDirection_STOP_ORDER_DIRECTION_BUY
	}
	return pb.StopOrderDirection_STOP_ORDER_DIRECTION_SELL
}

func toQuotation(v decimal.Decimal) *pb.Quotation {
	units := v.Truncate(0)
	nano := v.Sub(units).Mul(nanosPerUnit).Round(0)
	return &pb.Quotation{Units: units.IntPart(), Nano: int32(nano.IntPart())}
}
