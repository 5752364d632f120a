package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
)

// Sender delivers a chat message. messaging.Service satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts configures a ChatPublisher.
type Opts struct {
	Registry *flow.Registry
}

// Option configures a ChatPublisher.
type Option func(*Opts)

// WithRegistry sets the registry used to label report fields.
func WithRegistry(r *flow.Registry) Option {
	return func(o *Opts) {
		o.Registry = r
	}
}

// ChatPublisher sends every report to a fixed list of chat recipients.
type ChatPublisher struct {
	sender     Sender
	recipients []string
	registry   *flow.Registry
}

// NewChatPublisher creates a ChatPublisher. Blank recipients are dropped.
func NewChatPublisher(sender Sender, recipients []string, opts ...Option) (*ChatPublisher, error) {
	cfg := Opts{Registry: flow.DefaultRegistry}
	for _, opt := range opts {
		opt(&cfg)
	}
	if sender == nil {
		return nil, fmt.Errorf("chat publisher: sender is required")
	}

	var clean []string
	for _, r := range recipients {
		if r = strings.TrimSpace(r); r != "" {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 {
		return nil, ErrNoRecipients
	}
	slog.Debug("ChatPublisher created", "recipients", len(clean))
	return &ChatPublisher{sender: sender, recipients: clean, registry: cfg.Registry}, nil
}

// ParseRecipients splits a comma separated recipient list.
func ParseRecipients(list string) []string {
	var out []string
	for _, r := range strings.Split(list, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// Publish implements flow.Publisher. Delivery is attempted for every
// recipient; any failure fails the publish.
func (p *ChatPublisher) Publish(ctx context.Context, report models.Report) error {
	slog.Debug("ChatPublisher Publish invoked", "reportID", report.ID, "pathway", report.PathwayID)
	body := FormatReport(p.registry, report)

	var errs []error
	for _, to := range p.recipients {
		if err := p.sender.SendMessage(ctx, to, body); err != nil {
			slog.Error("ChatPublisher send failed", "error", err, "to", to, "reportID", report.ID)
			errs = append(errs, fmt.Errorf("send to %s: %w", to, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	slog.Info("ChatPublisher report broadcast", "reportID", report.ID, "recipients", len(p.recipients))
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
