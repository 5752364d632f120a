// Package messaging connects chat transports (WhatsApp via whatsmeow, WhatsApp
// via Twilio) to the report engine.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

// ConversationEngine handles one parsed chat command. *flow.Engine satisfies it.
type ConversationEngine interface {
	Handle(ctx context.Context, conversationID string, cmd flow.Command) flow.Outcome
}

// ResponseStore records inbound traffic. store.Store satisfies it.
type ResponseStore interface {
	AddResponse(r models.Response) error
	AddReceipt(r models.Receipt) error
	store.DedupRepo
}

// ResponseHandler routes incoming messages to the engine and sends the
// resulting prompt back to the sender.
type ResponseHandler struct {
	msgService Service
	engine     ConversationEngine
	store      ResponseStore
	presenter  *Presenter
}

// NewResponseHandler creates a new ResponseHandler. st may be nil, which
// disables persistence and de-duplication.
func NewResponseHandler(msgService Service, engine ConversationEngine, st ResponseStore) *ResponseHandler {
	return &ResponseHandler{
		msgService: msgService,
		engine:     engine,
		store:      st,
		presenter:  NewPresenter(msgService),
	}
}

// ProcessResponse handles one inbound message. Messages carrying an id that
// was already recorded are dropped.
func (rh *ResponseHandler) ProcessResponse(ctx context.Context, response models.Response) error {
	canonicalFrom, err := rh.msgService.ValidateAndCanonicalizeRecipient(response.From)
	if err != nil {
		slog.Error("ResponseHandler ProcessResponse validation failed", "error", err, "from", response.From)
		return fmt.Errorf("invalid sender: %w", err)
	}
	response.From = canonicalFrom
	slog.Debug("ResponseHandler processing response", "from", canonicalFrom, "body_length", len(response.Body), "messageID", response.ID)

	if rh.store != nil && response.ID != "" {
		fresh, err := rh.store.RecordInbound(response.ID, canonicalFrom)
		if err != nil {
			slog.Warn("ResponseHandler dedup check failed, processing anyway", "error", err, "messageID", response.ID)
		} else if !fresh {
			slog.Info("ResponseHandler dropping duplicate message", "from", canonicalFrom, "messageID", response.ID)
			return nil
		}
	}
	if rh.store != nil {
		if err := rh.store.AddResponse(response); err != nil {
			slog.Error("ResponseHandler failed to store response", "error", err, "from", canonicalFrom)
		}
	}

	out := rh.engine.Handle(ctx, canonicalFrom, flow.ParseCommand(response.Body))
	if out.Err != nil {
		slog.Debug("ResponseHandler engine outcome carries error", "error", out.Err, "from", canonicalFrom, "state", out.State)
	}
	if err := rh.presenter.Present(ctx, out); err != nil {
		slog.Error("ResponseHandler failed to send prompt", "error", err, "from", canonicalFrom)
		return fmt.Errorf("send prompt: %w", err)
	}

	if rh.store != nil && response.ID != "" {
		if err := rh.store.MarkProcessed(response.ID); err != nil {
			slog.Warn("ResponseHandler MarkProcessed failed", "error", err, "messageID", response.ID)
		}
	}
	return nil
}

// Start begins processing responses and receipts from the messaging service.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler starting response processing")

	go func() {
		defer slog.Info("ResponseHandler stopped response processing")
		for {
			select {
			case response, ok := <-rh.msgService.Responses():
				if !ok {
					slog.Debug("ResponseHandler responses channel closed")
					return
				}
				if err := rh.ProcessResponse(ctx, response); err != nil {
					slog.Error("ResponseHandler failed to process response", "error", err, "from", response.From)
				}
			case <-ctx.Done():
				slog.Debug("ResponseHandler stopping due to context cancellation")
				return
			}
		}
	}()

	go func() {
		for {
			select {
			case receipt, ok := <-rh.msgService.Receipts():
				if !ok {
					return
				}
				if rh.store == nil {
					continue
				}
				if receipt.Time == 0 {
					receipt.Time = time.Now().Unix()
				}
				if err := rh.store.AddReceipt(receipt); err != nil {
					slog.Error("ResponseHandler failed to store receipt", "error", err, "to", receipt.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
