package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openlend/lenderd/internal/domain"
)

// Event names emitted by the record watcher.
const (
	EventFlowComplete = "flow_complete"
	EventFlowFailed   = "flow_failed"
)

// RecordSource is a live feed of tracking-store mutations, typically the
// Redis record bus.
type RecordSource interface {
	Subscribe(ctx context.Context) (<-chan domain.TxRecord, error)
}

// RecordWatcher consumes record updates and notifies operators when an
// operation reaches a terminal status. Intermediate step updates are ignored.
type RecordWatcher struct {
	source   RecordSource
	notifier *Notifier
	logger   *slog.Logger
}

// NewRecordWatcher creates a RecordWatcher over the given source and notifier.
func NewRecordWatcher(source RecordSource, notifier *Notifier, logger *slog.Logger) *RecordWatcher {
	return &RecordWatcher{
		source:   source,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "record_watcher")),
	}
}

// Run subscribes to the record feed and blocks until the context is
// cancelled. Notification failures are logged and never interrupt the loop.
func (w *RecordWatcher) Run(ctx context.Context) error {
	ch, err := w.source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("notify: subscribe records: %w", err)
	}

	w.logger.InfoContext(ctx, "record watcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-ch:
			if !ok {
				return nil
			}
			w.handle(ctx, rec)
		}
	}
}

func (w *RecordWatcher) handle(ctx context.Context, rec domain.TxRecord) {
	var event, title, message string

	switch rec.Status {
	case domain.RecordComplete:
		event = EventFlowComplete
		title = fmt.Sprintf("✅ %s complete", rec.Flow)
		message = fmt.Sprintf("%s\nTx: %s", rec.Meta.Title, rec.TxHash)
	case domain.RecordFailed:
		event = EventFlowFailed
		title = fmt.Sprintf("❌ %s failed", rec.Flow)
		message = fmt.Sprintf("%s\n%s", rec.Meta.Title, rec.Error)
	default:
		return
	}

	if err := w.notifier.Notify(ctx, event, title, message); err != nil {
		w.logger.WarnContext(ctx, "notification failed",
			slog.String("record_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}
