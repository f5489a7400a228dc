package market

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketstream/internal/model"
)

// quoteWire is the upstream payload shape. Price is a pointer so that a
// missing price can be told apart from zero.
type quoteWire struct {
	Symbol string           `json:"symbol"`
	Price  *decimal.Decimal `json:"price"`
	Bid    decimal.Decimal  `json:"bid"`
	Ask    decimal.Decimal  `json:"ask"`
	Volume int64            `json:"volume"`
	Extra  json.RawMessage  `json:"extra"`
}

// ParseQuote validates a tick payload for topic. A missing symbol defaults
// to the topic; a different symbol is rejected.
func ParseQuote(topic string, raw json.RawMessage) (model.Quote, error) {
	var w quoteWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return model.Quote{}, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}

	symbol := NormalizeSymbol(w.Symbol)
	if symbol == "" {
		symbol = NormalizeSymbol(topic)
	}
	if symbol != NormalizeSymbol(topic) {
		return model.Quote{}, fmt.Errorf("%w: symbol %q does not match topic %q", ErrInvalidQuote, w.Symbol, topic)
	}
	if w.Price == nil {
		return model.Quote{}, fmt.Errorf("%w: price is required", ErrInvalidQuote)
	}
	if w.Price.IsNegative() || w.Bid.IsNegative() || w.Ask.IsNegative() {
		return model.Quote{}, fmt.Errorf("%w: negative price", ErrInvalidQuote)
	}
	if w.Volume < 0 {
		return model.Quote{}, fmt.Errorf("%w: negative volume", ErrInvalidQuote)
	}

	return model.Quote{
		Symbol: symbol,
		Price:  *w.Price,
		Bid:    w.Bid,
		Ask:    w.Ask,
		Volume: w.Volume,
		Extra:  w.Extra,
	}, nil
}

// NormalizeSymbol trims and upper-cases a symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
