package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
)

// FormatPrompt renders a prompt as a chat message. Option lists are numbered
// so the user can reply with the number; the confirm screen lists its
// commands instead.
func FormatPrompt(p flow.Prompt) string {
	var sections []string
	if p.Notice != "" {
		sections = append(sections, "ℹ️ "+p.Notice)
	}
	if p.Error != "" {
		sections = append(sections, "⚠️ "+p.Error)
	}

	var b strings.Builder
	if p.Title != "" {
		fmt.Fprintf(&b, "*%s*\n", p.Title)
	}
	b.WriteString(p.Text)
	sections = append(sections, b.String())

	if len(p.Summary) > 0 {
		sections = append(sections, strings.Join(p.Summary, "\n"))
	}

	if len(p.Options) > 0 {
		if p.Step == models.StateConfirm {
			sections = append(sections, "Reply: "+strings.Join(p.Options, " / "))
		} else {
			lines := make([]string, len(p.Options))
			for i, opt := range p.Options {
				lines[i] = fmt.Sprintf("%d. %s", i+1, opt)
			}
			sections = append(sections, strings.Join(lines, "\n"))
		}
	}

	if p.HasPrefill {
		sections = append(sections, fmt.Sprintf("Current answer: %s\nSend \"keep\" to keep it.", p.Prefill))
	}
	return strings.Join(sections, "\n\n")
}

// Presenter sends engine outcomes to the user.
type Presenter struct {
	service Service
}

// NewPresenter creates a Presenter that sends through service.
func NewPresenter(service Service) *Presenter {
	return &Presenter{service: service}
}

// Present renders the outcome's prompt and sends it to the conversation.
func (p *Presenter) Present(ctx context.Context, out flow.Outcome) error {
	return p.service.SendMessage(ctx, out.ConversationID, FormatPrompt(out.Prompt))
}

// Notify sends a plain notice to a conversation.
func (p *Presenter) Notify(ctx context.Context, conversationID, text string) error {
	return p.service.SendMessage(ctx, conversationID, "ℹ️ "+text)
}
