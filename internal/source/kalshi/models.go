package kalshi

// apiMarket is a market as the Kalshi trade API reports it. Prices are in
// cents.
type apiMarket struct {
	Ticker         string   `json:"ticker"`
	EventTicker    string   `json:"event_ticker"`
	SeriesTicker   string   `json:"series_ticker"`
	Title          string   `json:"title"`
	Subtitle       string   `json:"subtitle"`
	Category       string   `json:"category"`
	Status         string   `json:"status"`
	LastPrice      float64  `json:"last_price"`
	Volume24h      int64    `json:"volume_24h"`
	Liquidity      int64    `json:"liquidity"`
	OpenTime       string   `json:"open_time"`
	CloseTime      string   `json:"close_time"`
	ExpirationTime string   `json:"expiration_time"`
	RulesPrimary   string   `json:"rules_primary"`
	Tags           []string `json:"tags"`
}

// marketsResponse wraps the paginated /markets response.
type marketsResponse struct {
	Markets []apiMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

// candleSide holds one side's OHLC values for a candlestick, in cents.
type candleSide struct {
	Open  float64 `json:"open"`
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Close float64 `json:"close"`
}

// candlestick is one period from the candlesticks endpoint.
type candlestick struct {
	EndPeriodTS int64      `json:"end_period_ts"`
	Volume      int64      `json:"volume"`
	YesBid      candleSide `json:"yes_bid"`
	YesAsk      candleSide `json:"yes_ask"`
}

// candlesticksResponse wraps the candlesticks endpoint response.
type candlesticksResponse struct {
	Candlesticks []candlestick `json:"candlesticks"`
}
