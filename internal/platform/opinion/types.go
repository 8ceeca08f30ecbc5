package opinion

import (
	"encoding/json"

	"github.com/alanyoungcy/opinionproxy/internal/domain"
)

// Most Opinion endpoints wrap their payload in {code, result}; the positions
// endpoint uses {errno, errmsg, result} instead. A non-zero code/errno or a
// missing result means "no data", never a transport failure.

// APIMarket is the upstream market record.
type APIMarket struct {
	MarketID     int64       `json:"marketId"`
	MarketTitle  string      `json:"marketTitle"`
	YesTokenID   string      `json:"yesTokenId"`
	NoTokenID    string      `json:"noTokenId"`
	CutoffAt     int64       `json:"cutoffAt"`
	StatusEnum   json.Number `json:"statusEnum"`
	Volume24h    string      `json:"volume24h"`
	MarketType   int         `json:"marketType"`
	ChildMarkets []APIMarket `json:"childMarkets"`
}

// ToDomainMarket normalizes the upstream record. Child markets are parsed
// recursively and flattened to binary, since each categorical sub-outcome
// carries its own YES/NO pair.
func (m *APIMarket) ToDomainMarket() domain.Market {
	market := domain.Market{
		ID:         m.MarketID,
		Title:      m.MarketTitle,
		YesTokenID: m.YesTokenID,
		NoTokenID:  m.NoTokenID,
		CutoffAt:   m.CutoffAt,
		Status:     m.StatusEnum.String(),
		Volume24h:  m.Volume24h,
		MarketType: domain.MarketType(m.MarketType),
	}
	for i := range m.ChildMarkets {
		child := m.ChildMarkets[i].ToDomainMarket()
		child.MarketType = domain.MarketTypeBinary
		market.ChildMarkets = append(market.ChildMarkets, child)
	}
	return market
}

type marketListEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		Total int         `json:"total"`
		List  []APIMarket `json:"list"`
	} `json:"result"`
}

type marketDetailEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		Data *APIMarket `json:"data"`
	} `json:"result"`
}

type priceEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		TokenID   string `json:"tokenId"`
		Price     string `json:"price"`
		Timestamp int64  `json:"timestamp"`
	} `json:"result"`
}

type historyEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		History []domain.PriceHistoryPoint `json:"history"`
	} `json:"result"`
}

type orderbookEnvelope struct {
	Code   int `json:"code"`
	Result struct {
		Market    string              `json:"market"`
		TokenID   string              `json:"tokenId"`
		Timestamp int64               `json:"timestamp"`
		Bids      []domain.PriceLevel `json:"bids"`
		Asks      []domain.PriceLevel `json:"asks"`
	} `json:"result"`
}

// APIPosition is the upstream user-position record.
type APIPosition struct {
	MarketID    int64  `json:"marketId"`
	MarketTitle string `json:"marketTitle"`
	TokenID     string `json:"tokenId"`
	Outcome     string `json:"outcome"`
	Shares      string `json:"shares"`
	AvgPrice    string `json:"avgPrice"`
}

// ToDomainPosition normalizes the upstream record.
func (p *APIPosition) ToDomainPosition() domain.UserPosition {
	return domain.UserPosition{
		MarketID:    p.MarketID,
		MarketTitle: p.MarketTitle,
		TokenID:     p.TokenID,
		Outcome:     p.Outcome,
		Shares:      p.Shares,
		AvgPrice:    p.AvgPrice,
	}
}

type positionsEnvelope struct {
	Errno  int    `json:"errno"`
	Errmsg string `json:"errmsg"`
	Result struct {
		Total int           `json:"total"`
		List  []APIPosition `json:"list"`
	} `json:"result"`
}
