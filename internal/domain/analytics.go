package domain

// MarketMover is a market ranked by price change over a timeframe.
type MarketMover struct {
	MarketID  int64   `json:"marketId"`
	Title     string  `json:"title"`
	YesPrice  float64 `json:"yesPrice"`
	NoPrice   float64 `json:"noPrice"`
	ChangePct float64 `json:"changePct"`
	Volume24h float64 `json:"volume24h"`
	Timeframe string  `json:"timeframe"`
}

// ArbitrageOpportunity is a market whose YES/NO prices do not sum to 1.
type ArbitrageOpportunity struct {
	MarketID int64   `json:"marketId"`
	Title    string  `json:"title"`
	YesPrice float64 `json:"yesPrice"`
	NoPrice  float64 `json:"noPrice"`
	ArbPct   float64 `json:"arbPct"` // (yes + no - 1) * 100
}

// EndingSoonMarket is a market whose trading cutoff falls within a window.
type EndingSoonMarket struct {
	MarketID  int64   `json:"marketId"`
	Title     string  `json:"title"`
	CutoffAt  int64   `json:"cutoffAt"`
	HoursLeft float64 `json:"hoursLeft"`
	YesPrice  float64 `json:"yesPrice"`
	NoPrice   float64 `json:"noPrice"`
}

// MarketWithPrices decorates a market with its current YES/NO prices for the
// list endpoint.
type MarketWithPrices struct {
	Market
	YesPrice float64 `json:"yesPrice"`
	NoPrice  float64 `json:"noPrice"`
}
