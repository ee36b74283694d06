package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marketpulse/ingestor/internal/config"
	"github.com/marketpulse/ingestor/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// marketUpdateColumns are the fields refreshed on every upsert. ticker,
// source and created_at are preserved.
var marketUpdateColumns = []string{
	"title", "subtitle", "category", "status", "current_price",
	"volume_24h", "liquidity", "open_time", "close_time",
	"expiration_time", "series_ticker", "resolution_rules", "tags",
	"updated_at",
}

// DB wraps the GORM database connection and implements the persistence
// gateway consumed by the coordinator.
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// New creates a new database connection with GORM.
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	conn, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("Database connection established")

	return &DB{conn: conn, log: log}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs GORM auto-migration.
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&Market{},
		&PricePoint{},
		&MarketChange{},
	)
}

// UpsertMarket inserts or updates a market keyed by ticker. created_at is
// preserved on conflict; all mutable fields and updated_at refresh.
func (db *DB) UpsertMarket(ctx context.Context, mkt *Market) error {
	start := time.Now()
	mkt.UpdatedAt = time.Now().UTC()
	if mkt.CreatedAt.IsZero() {
		mkt.CreatedAt = mkt.UpdatedAt
	}

	err := db.conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ticker"}},
		DoUpdates: clause.AssignmentColumns(marketUpdateColumns),
	}).Create(mkt).Error
	metrics.RecordDatabaseQuery("upsert_market", time.Since(start), err)
	return err
}

// AppendPricePoints inserts the points that do not already exist, in one
// transaction so a market's append step is all-or-nothing. Returns the
// number of rows actually inserted; existing (ticker, timestamp) pairs
// are silently skipped.
func (db *DB) AppendPricePoints(ctx context.Context, points []PricePoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	start := time.Now()
	inserted := 0
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range points {
			p := &points[i]
			if p.Price < 0 || p.Price > 1 {
				return fmt.Errorf("price point %s@%s: price %v outside [0,1]", p.Ticker, p.Timestamp, p.Price)
			}
			if p.CreatedAt.IsZero() {
				p.CreatedAt = time.Now().UTC()
			}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
			if res.Error != nil {
				return res.Error
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	metrics.RecordDatabaseQuery("append_price_points", time.Since(start), err)
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// LatestPricePoint returns the most recent point for a ticker, nil when
// no history exists yet.
func (db *DB) LatestPricePoint(ctx context.Context, ticker string) (*PricePoint, error) {
	start := time.Now()
	var point PricePoint
	result := db.conn.WithContext(ctx).
		Where("ticker = ?", ticker).
		Order("timestamp DESC").
		First(&point)
	metrics.RecordDatabaseQuery("latest_price_point", time.Since(start), result.Error)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &point, nil
}

// HistorySince returns a ticker's price points at or after since,
// ascending by timestamp.
func (db *DB) HistorySince(ctx context.Context, ticker string, since time.Time) ([]PricePoint, error) {
	start := time.Now()
	var points []PricePoint
	result := db.conn.WithContext(ctx).
		Where("ticker = ? AND timestamp >= ?", ticker, since).
		Order("timestamp ASC").
		Find(&points)
	metrics.RecordDatabaseQuery("history_since", time.Since(start), result.Error)
	return points, result.Error
}

// SetCurrentPrice updates a market's current price to its latest observed
// point.
func (db *DB) SetCurrentPrice(ctx context.Context, ticker string, price float64) error {
	start := time.Now()
	err := db.conn.WithContext(ctx).
		Model(&Market{}).
		Where("ticker = ?", ticker).
		Updates(map[string]interface{}{
			"current_price": price,
			"updated_at":    time.Now().UTC(),
		}).Error
	metrics.RecordDatabaseQuery("set_current_price", time.Since(start), err)
	return err
}

// UpsertMarketChanges overwrites a market's change rows, all windows in
// one transaction. Keyed by (ticker, window_days).
func (db *DB) UpsertMarketChanges(ctx context.Context, changes []MarketChange) error {
	if len(changes) == 0 {
		return nil
	}

	start := time.Now()
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range changes {
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "ticker"}, {Name: "window_days"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"price_change", "min_price", "max_price",
					"change_percentage", "calculated_at",
				}),
			}).Create(&changes[i]).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
	metrics.RecordDatabaseQuery("upsert_market_changes", time.Since(start), err)
	return err
}

// gormLogAdapter adapts logrus to GORM's logger interface.
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
