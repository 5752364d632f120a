package broadcast

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/lib/pq"
)

// DefaultNotifyChannel is the channel reports are announced on.
const DefaultNotifyChannel = "reportpipe_reports"

// Notification is the payload sent on the notify channel. Field values are
// left out; listeners load the report by id.
type Notification struct {
	ReportID       string           `json:"report_id"`
	PathwayID      models.PathwayID `json:"pathway_id"`
	ConversationID string           `json:"conversation_id"`
	CreatedAt      time.Time        `json:"created_at"`
}

// PostgresNotifier announces reports with PostgreSQL NOTIFY.
type PostgresNotifier struct {
	db      *sql.DB
	channel string
}

// NewPostgresNotifier creates a notifier on channel (DefaultNotifyChannel if empty).
func NewPostgresNotifier(db *sql.DB, channel string) *PostgresNotifier {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	return &PostgresNotifier{db: db, channel: channel}
}

// Channel returns the notify channel name.
func (n *PostgresNotifier) Channel() string {
	return n.channel
}

// Publish implements flow.Publisher.
func (n *PostgresNotifier) Publish(ctx context.Context, report models.Report) error {
	slog.Debug("PostgresNotifier Publish invoked", "reportID", report.ID, "channel", n.channel)
	payload, err := json.Marshal(Notification{
		ReportID:       report.ID,
		PathwayID:      report.PathwayID,
		ConversationID: report.ConversationID,
		CreatedAt:      report.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	// NOTIFY does not accept bind parameters.
	query := fmt.Sprintf("NOTIFY %s, %s", pq.QuoteIdentifier(n.channel), pq.QuoteLiteral(string(payload)))
	if _, err := n.db.ExecContext(ctx, query); err != nil {
		slog.Error("PostgresNotifier NOTIFY failed", "error", err, "reportID", report.ID)
		return fmt.Errorf("notify %s: %w", n.channel, err)
	}
	return nil
}

// Listen subscribes to the notify channel with a pq.Listener and delivers
// decoded notifications until ctx is done.
func Listen(ctx context.Context, dsn, channel string) (<-chan Notification, error) {
	if channel == "" {
		channel = DefaultNotifyChannel
	}
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("Broadcast listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", channel, err)
	}

	out := make(chan Notification)
	go func() {
		defer close(out)
		defer listener.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				if n == nil {
					// Connection re-established; notifications may have been lost.
					continue
				}
				var note Notification
				if err := json.Unmarshal([]byte(n.Extra), &note); err != nil {
					slog.Warn("Broadcast listener dropping malformed payload", "error", err)
					continue
				}
				select {
				case out <- note:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
