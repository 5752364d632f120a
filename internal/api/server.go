package api

import (
	"log/slog"
	"net/http"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/messaging"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

// Server exposes the report engine, stored reports and reference data over HTTP.
type Server struct {
	engine     *flow.Engine
	states     flow.StateManager
	st         store.Store
	references reference.Registry
	twilio     *messaging.TwilioService
}

// NewServer creates a Server. twilio may be nil when the Twilio transport is
// not in use; the webhook route is then not registered.
func NewServer(engine *flow.Engine, states flow.StateManager, st store.Store, references reference.Registry, twilio *messaging.TwilioService) *Server {
	return &Server{
		engine:     engine,
		states:     states,
		st:         st,
		references: references,
		twilio:     twilio,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)

	mux.HandleFunc("POST /conversations/{id}/messages", s.messageHandler)
	mux.HandleFunc("GET /conversations/{id}/draft", s.getDraftHandler)
	mux.HandleFunc("DELETE /conversations/{id}/draft", s.deleteDraftHandler)

	mux.HandleFunc("GET /reports", s.listReportsHandler)
	mux.HandleFunc("GET /reports/{id}", s.getReportHandler)

	mux.HandleFunc("GET /pathways", s.listPathwaysHandler)
	mux.HandleFunc("GET /pathways/{id}", s.getPathwayHandler)

	mux.HandleFunc("GET /reference/{kind}", s.listReferenceHandler)
	mux.HandleFunc("POST /reference/{kind}", s.addReferenceHandler)
	mux.HandleFunc("DELETE /reference/{kind}", s.deleteReferenceHandler)

	mux.HandleFunc("GET /receipts", s.receiptsHandler)
	mux.HandleFunc("GET /responses", s.responsesHandler)

	if s.twilio != nil {
		mux.HandleFunc("POST /webhook/twilio", s.twilio.TwilioWebhookHandler)
		slog.Debug("Server Twilio webhook route registered")
	}
	return mux
}
