package storage

import (
	"time"
)

// Market is the persisted market record, keyed by ticker. Markets are
// never hard-deleted; a market that leaves the source's listing keeps its
// last known status.
type Market struct {
	Ticker          string     `gorm:"primaryKey;size:128"`
	Source          string     `gorm:"size:32;not null;index"`
	Title           string     `gorm:"size:512;not null"`
	Subtitle        string     `gorm:"type:text"`
	Category        string     `gorm:"size:128;index:idx_markets_status_category,priority:2"`
	Status          string     `gorm:"size:32;not null;index:idx_markets_status_category,priority:1"`
	CurrentPrice    float64    `gorm:"type:decimal(10,6);not null"`
	Volume24h       int64      `gorm:"column:volume_24h;not null;default:0"`
	Liquidity       int64      `gorm:"not null;default:0;index"`
	OpenTime        *time.Time `gorm:"index"`
	CloseTime       *time.Time
	ExpirationTime  *time.Time
	SeriesTicker    string `gorm:"size:128"`
	ResolutionRules string `gorm:"type:text"`
	Tags            string `gorm:"type:text"` // JSON array
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Market) TableName() string {
	return "markets"
}

// PricePoint is one observed price for a market. Append-only: the
// composite (ticker, timestamp) key makes repeated inserts no-ops.
type PricePoint struct {
	Ticker    string    `gorm:"primaryKey;size:128"`
	Timestamp time.Time `gorm:"primaryKey"`
	Price     float64   `gorm:"type:decimal(10,6);not null"`
	Volume    int64     `gorm:"not null;default:0"`
	CreatedAt time.Time
}

func (PricePoint) TableName() string {
	return "price_points"
}

// MarketChange is the materialized change statistics for one (ticker,
// window) pair. Overwritten every run; always reproducible from
// price_points.
type MarketChange struct {
	Ticker           string    `gorm:"primaryKey;size:128"`
	WindowDays       int       `gorm:"primaryKey"`
	PriceChange      float64   `gorm:"type:decimal(10,6);not null;index"`
	MinPrice         float64   `gorm:"type:decimal(10,6)"`
	MaxPrice         float64   `gorm:"type:decimal(10,6)"`
	ChangePercentage float64   `gorm:"type:decimal(12,6)"`
	CalculatedAt     time.Time `gorm:"not null;index"`
}

func (MarketChange) TableName() string {
	return "market_changes"
}
