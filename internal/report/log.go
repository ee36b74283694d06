package report

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogSender writes the run summary to the logger
type LogSender struct {
	log *logrus.Logger
}

// NewLogSender creates a new log sender
func NewLogSender(log *logrus.Logger) *LogSender {
	return &LogSender{log: log}
}

// Send logs one line per source plus a run-level line
func (s *LogSender) Send(ctx context.Context, summary *RunSummary) error {
	for i := range summary.Sources {
		src := &summary.Sources[i]
		fields := logrus.Fields{
			"source":                src.Source,
			"pages_fetched":         src.PagesFetched,
			"markets_fetched":       src.MarketsFetched,
			"markets_processed":     src.MarketsProcessed,
			"markets_failed":        src.MarketsFailed,
			"records_skipped":       src.RecordsSkipped,
			"price_points_inserted": src.PricePointsInserted,
			"duration":              src.Duration.String(),
		}
		if src.Error != "" {
			fields["error"] = src.Error
			s.log.WithFields(fields).Error("Source run finished with error")
			continue
		}
		s.log.WithFields(fields).Info("Source run finished")
	}

	s.log.WithFields(logrus.Fields{
		"started_at":  summary.StartedAt,
		"finished_at": summary.FinishedAt,
		"environment": summary.Environment,
		"sources":     len(summary.Sources),
		"failed":      summary.Failed(),
	}).Info("Run finished")
	return nil
}
