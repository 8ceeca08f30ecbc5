package domain

import "time"

// PriceData is the latest traded price of a single outcome token. Prices are
// decimal strings in [0,1]; a zero-price fallback ("0") is synthesized when
// upstream data is absent so callers never need per-token nil checks.
type PriceData struct {
	TokenID   string `json:"tokenId"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// FallbackPrice returns the zero-price record used when no upstream price is
// available for a token.
func FallbackPrice(tokenID string) PriceData {
	return PriceData{
		TokenID:   tokenID,
		Price:     "0",
		Timestamp: time.Now().UnixMilli(),
	}
}

// PriceHistoryPoint is one sample of a token's price series.
type PriceHistoryPoint struct {
	T int64  `json:"t"` // unix seconds
	P string `json:"p"` // decimal price string
}

// Orderbook is a snapshot of resting bids and asks for a token.
type Orderbook struct {
	Market    string       `json:"market"`
	TokenID   string       `json:"tokenId"`
	Timestamp int64        `json:"timestamp"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// PriceLevel is a single orderbook level.
type PriceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}
