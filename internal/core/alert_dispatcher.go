package core

import (
	"context"

	"github.com/pagetally/pagetally/internal/domain/model"
)

// AlertDispatcher delivers overage alerts to configured webhook sinks.
type AlertDispatcher interface {
	// Dispatch sends an alert to all enabled webhook sinks.
	// Returns error if dispatch fails for all sinks, but logs individual failures.
	Dispatch(ctx context.Context, alert *model.OverageAlert) error
}
