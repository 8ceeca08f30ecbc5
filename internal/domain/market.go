package domain

// MarketType distinguishes binary YES/NO markets from categorical markets
// whose outcomes are carried as child markets.
type MarketType int

const (
	MarketTypeBinary      MarketType = 0
	MarketTypeCategorical MarketType = 1
)

// Market is an immutable snapshot of an Opinion prediction market. Each fetch
// produces a fresh value; nothing mutates a Market after normalization.
//
// Binary markets carry a YES/NO token pair. Categorical markets carry their
// sub-outcomes in ChildMarkets, each flattened to a binary market.
type Market struct {
	ID           int64      `json:"marketId"`
	Title        string     `json:"title"`
	YesTokenID   string     `json:"yesTokenId"`
	NoTokenID    string     `json:"noTokenId"`
	CutoffAt     int64      `json:"cutoffAt"` // unix seconds; trading stops at this time
	Status       string     `json:"status"`
	Volume24h    string     `json:"volume24h"` // decimal string, upstream precision preserved
	MarketType   MarketType `json:"marketType"`
	ChildMarkets []Market   `json:"childMarkets,omitempty"`
}

// IsBinary reports whether the market has a direct YES/NO token pair.
func (m Market) IsBinary() bool {
	return m.MarketType == MarketTypeBinary
}

// TokenIDs returns the YES/NO token ids of the market and all child markets.
func (m Market) TokenIDs() []string {
	var ids []string
	if m.YesTokenID != "" {
		ids = append(ids, m.YesTokenID)
	}
	if m.NoTokenID != "" {
		ids = append(ids, m.NoTokenID)
	}
	for _, child := range m.ChildMarkets {
		ids = append(ids, child.TokenIDs()...)
	}
	return ids
}

// MarketList is a single page of markets together with the upstream total.
type MarketList struct {
	Markets []Market `json:"markets"`
	Total   int      `json:"total"`
}
