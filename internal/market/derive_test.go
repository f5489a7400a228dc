package market

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDerive(t *testing.T) {
	t.Run("first update", func(t *testing.T) {
		got := derive(model.Quote{Price: d("10"), Bid: d("9.9"), Ask: d("10.1")}, nil)
		if got.Direction != model.DirectionFlat || !got.Change.IsZero() {
			t.Errorf("got %+v, want flat with zero change", got)
		}
		if !got.Mid.Equal(d("10")) || !got.Spread.Equal(d("0.2")) {
			t.Errorf("mid/spread = %s/%s, want 10/0.2", got.Mid, got.Spread)
		}
		if !got.High.Equal(d("10")) || !got.Low.Equal(d("10")) {
			t.Errorf("high/low = %s/%s, want 10/10", got.High, got.Low)
		}
	})

	t.Run("move down", func(t *testing.T) {
		prev := &model.Update{
			Tick:    model.Tick[model.Quote]{Payload: model.Quote{Price: d("200")}},
			Derived: model.Derived{High: d("210"), Low: d("195")},
		}
		got := derive(model.Quote{Price: d("190")}, prev)
		if got.Direction != model.DirectionDown {
			t.Errorf("Direction = %s, want down", got.Direction)
		}
		if !got.Change.Equal(d("-10")) || !got.ChangePercent.Equal(d("-5")) {
			t.Errorf("change = %s (%s%%), want -10 (-5%%)", got.Change, got.ChangePercent)
		}
		if !got.High.Equal(d("210")) || !got.Low.Equal(d("190")) {
			t.Errorf("high/low = %s/%s, want 210/190", got.High, got.Low)
		}
		if !got.Mid.IsZero() {
			t.Errorf("Mid = %s, want zero without a two-sided quote", got.Mid)
		}
	})

	t.Run("previous price zero", func(t *testing.T) {
		prev := &model.Update{Tick: model.Tick[model.Quote]{Payload: model.Quote{Price: d("0")}}}
		got := derive(model.Quote{Price: d("1")}, prev)
		if !got.ChangePercent.IsZero() || got.Direction != model.DirectionUp {
			t.Errorf("got %+v, want up with zero percent", got)
		}
	})
}
