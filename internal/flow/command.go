package flow

import (
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/validate"
)

// CommandKind enumerates what a user can ask the executor to do.
type CommandKind string

const (
	CommandAnswer  CommandKind = "answer"
	CommandBack    CommandKind = "back"
	CommandCancel  CommandKind = "cancel"
	CommandConfirm CommandKind = "confirm"
	CommandEdit    CommandKind = "edit"
	CommandKeep    CommandKind = "keep"
	CommandStart   CommandKind = "start"
	CommandMenu    CommandKind = "menu"
)

// Command is one parsed user message.
type Command struct {
	Kind CommandKind `json:"kind"`
	// Text is the raw message. Edit and start commands keep it so they can
	// be taken as an answer outside the confirmation screen.
	Text string `json:"text,omitempty"`
	// Field is a step key or a 1-based summary number for CommandEdit.
	Field string `json:"field,omitempty"`
	// Pathway is the requested pathway for CommandStart.
	Pathway models.PathwayID `json:"pathway,omitempty"`
}

var commandAliases = map[string]CommandKind{
	"back":     CommandBack,
	"/back":    CommandBack,
	"رجوع":     CommandBack,
	"السابق":   CommandBack,
	"cancel":   CommandCancel,
	"/cancel":  CommandCancel,
	"إلغاء":    CommandCancel,
	"الغاء":    CommandCancel,
	"confirm":  CommandConfirm,
	"/confirm": CommandConfirm,
	"publish":  CommandConfirm,
	"تأكيد":    CommandConfirm,
	"تاكيد":    CommandConfirm,
	"نشر":      CommandConfirm,
	"keep":     CommandKeep,
	"=":        CommandKeep,
	"كما هو":   CommandKeep,
	"menu":     CommandMenu,
	"start":    CommandMenu,
	"/start":   CommandMenu,
	"/menu":    CommandMenu,
	"القائمة":  CommandMenu,
	"بدء":      CommandMenu,
}

var editPrefixes = []string{"edit:", "edit ", "/edit ", "تعديل:", "تعديل "}

var startPrefixes = []string{"start:", "/start "}

// ParseCommand maps a chat message to a Command. Anything that is not a
// recognised control word is an answer.
func ParseCommand(raw string) Command {
	text := validate.Fold(raw)
	if kind, ok := commandAliases[text]; ok {
		return Command{Kind: kind}
	}
	for _, prefix := range editPrefixes {
		if rest, ok := strings.CutPrefix(text, prefix); ok && strings.TrimSpace(rest) != "" {
			return Command{Kind: CommandEdit, Field: strings.TrimSpace(rest), Text: raw}
		}
	}
	for _, prefix := range startPrefixes {
		if rest, ok := strings.CutPrefix(text, prefix); ok && strings.TrimSpace(rest) != "" {
			return Command{Kind: CommandStart, Pathway: models.PathwayID(strings.TrimSpace(rest)), Text: raw}
		}
	}
	return Command{Kind: CommandAnswer, Text: raw}
}
