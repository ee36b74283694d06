package report

import (
	"context"
	"fmt"
)

// MultiSender delivers the summary to multiple destinations
type MultiSender struct {
	senders []Sender
}

// NewMultiSender creates a new multi-sender
func NewMultiSender(senders ...Sender) *MultiSender {
	return &MultiSender{
		senders: senders,
	}
}

// Send delivers the summary to all configured senders
func (s *MultiSender) Send(ctx context.Context, summary *RunSummary) error {
	var errs []error
	for i, sender := range s.senders {
		if err := sender.Send(ctx, summary); err != nil {
			errs = append(errs, fmt.Errorf("sender %d: %w", i, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("multi-sender errors: %v", errs)
	}

	return nil
}
