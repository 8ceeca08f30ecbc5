package domain

// UserPosition is a single outcome-token holding of a wallet address as
// reported by the Opinion positions endpoint.
type UserPosition struct {
	MarketID    int64  `json:"marketId"`
	MarketTitle string `json:"marketTitle"`
	TokenID     string `json:"tokenId"`
	Outcome     string `json:"outcome"` // "YES" or "NO"
	Shares      string `json:"shares"`
	AvgPrice    string `json:"avgPrice"`
}
