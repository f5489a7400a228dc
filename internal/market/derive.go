package market

import (
	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// derive computes the cheap per-flush fields for q given the previous
// update of the same symbol, if any.
func derive(q model.Quote, prev *model.Update) model.Derived {
	d := model.Derived{
		Direction: model.DirectionFlat,
		High:      q.Price,
		Low:       q.Price,
	}

	if prev != nil {
		prevPrice := prev.Tick.Payload.Price
		d.Change = q.Price.Sub(prevPrice)
		if !prevPrice.IsZero() {
			d.ChangePercent = d.Change.Div(prevPrice).Mul(hundred).Round(4)
		}
		switch d.Change.Sign() {
		case 1:
			d.Direction = model.DirectionUp
		case -1:
			d.Direction = model.DirectionDown
		}
		d.High = decimal.Max(prev.Derived.High, q.Price)
		d.Low = decimal.Min(prev.Derived.Low, q.Price)
	}

	if q.Bid.IsPositive() && q.Ask.IsPositive() {
		d.Mid = q.Bid.Add(q.Ask).Div(two)
		d.Spread = q.Ask.Sub(q.Bid)
	}
	return d
}
