// Package broadcast announces finalized reports to the people and systems
// that follow them: chat recipients and PostgreSQL listeners.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
)

// ErrNoRecipients is returned when a chat publisher has nobody to send to.
var ErrNoRecipients = errors.New("broadcast has no recipients")

// MultiPublisher fans a report out to several publishers. Every publisher is
// attempted; the failures are joined.
type MultiPublisher struct {
	publishers []flow.Publisher
}

// NewMultiPublisher creates a MultiPublisher. Nil publishers are skipped.
func NewMultiPublisher(publishers ...flow.Publisher) *MultiPublisher {
	mp := &MultiPublisher{}
	for _, p := range publishers {
		if p != nil {
			mp.publishers = append(mp.publishers, p)
		}
	}
	return mp
}

// Len returns the number of wrapped publishers.
func (mp *MultiPublisher) Len() int {
	return len(mp.publishers)
}

// Publish implements flow.Publisher.
func (mp *MultiPublisher) Publish(ctx context.Context, report models.Report) error {
	slog.Debug("MultiPublisher Publish invoked", "reportID", report.ID, "publishers", len(mp.publishers))
	var errs []error
	for _, p := range mp.publishers {
		if err := p.Publish(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatReport renders a report as chat text using the pathway's step labels
// and order. Fields the pathway does not know are appended by key.
func FormatReport(registry *flow.Registry, report models.Report) string {
	var b strings.Builder

	title := string(report.PathwayID)
	steps, err := registry.Steps(report.PathwayID)
	if p, perr := registry.Pathway(report.PathwayID); perr == nil && p.Label != "" {
		title = p.Label
	}
	fmt.Fprintf(&b, "📋 %s\nReport %s\n", title, report.ID)

	seen := make(map[string]bool, len(report.Fields))
	if err == nil {
		for _, step := range steps {
			value, ok := report.Fields[string(step)]
			if !ok {
				continue
			}
			label := string(step)
			if spec, serr := registry.Step(report.PathwayID, step); serr == nil && spec.Label != "" {
				label = spec.Label
			}
			fmt.Fprintf(&b, "\n%s: %s", label, value)
			seen[string(step)] = true
		}
	}
	for _, key := range sortedKeys(report.Fields) {
		if !seen[key] {
			fmt.Fprintf(&b, "\n%s: %s", key, report.Fields[key])
		}
	}
	return b.String()
}
