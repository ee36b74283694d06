package polymarket

import "encoding/json"

// gammaMarket is a market as the Gamma API reports it. Numeric fields are
// plain JSON numbers; clobTokenIds and outcomePrices arrive either as
// arrays or as JSON-encoded strings depending on the endpoint.
type gammaMarket struct {
	ID            string          `json:"id"`
	Slug          string          `json:"slug"`
	Question      string          `json:"question"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	EndDate       string          `json:"endDate"`
	Active        bool            `json:"active"`
	Closed        bool            `json:"closed"`
	Volume24hr    float64         `json:"volume24hr"`
	VolumeNum     float64         `json:"volumeNum"`
	LiquidityNum  float64         `json:"liquidityNum"`
	OutcomePrices json.RawMessage `json:"outcomePrices"`
	ClobTokenIDs  json.RawMessage `json:"clobTokenIds"`
	Events        []gammaEvent    `json:"events"`
}

// gammaEvent is the event grouping a market belongs to.
type gammaEvent struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

// clobPricePoint is one sample from the CLOB prices-history endpoint.
type clobPricePoint struct {
	T int64   `json:"t"`
	P float64 `json:"p"`
}

// clobHistoryResponse wraps the prices-history response.
type clobHistoryResponse struct {
	History []clobPricePoint `json:"history"`
}
