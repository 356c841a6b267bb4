package billing

import (
	"context"
	"log/slog"
)

// ErrorReporter is a fire-and-forget sink for events that need operator
// attention beyond logs, such as unresolvable webhook linkage. Implementations
// must never block or fail event processing. Adapt your exception-tracking
// SDK behind this interface.
type ErrorReporter interface {
	Report(ctx context.Context, err error, tags map[string]string)
}

type logReporter struct {
	log *slog.Logger
}

// NewLogReporter returns an ErrorReporter that writes to the given logger.
// It is the default sink when no tracking integration is configured.
func NewLogReporter(log *slog.Logger) ErrorReporter {
	if log == nil {
		log = slog.Default()
	}
	return &logReporter{log: log}
}

func (r *logReporter) Report(ctx context.Context, err error, tags map[string]string) {
	attrs := make([]any, 0, len(tags)+1)
	attrs = append(attrs, slog.Any("error", err))
	for k, v := range tags {
		attrs = append(attrs, slog.String(k, v))
	}
	r.log.ErrorContext(ctx, "billing reconciliation escalation", attrs...)
}
