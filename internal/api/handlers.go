package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/ReportPipe/internal/flow"
	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/reference"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

// maxListLimit caps GET /reports.
const maxListLimit = 500

type messageRequest struct {
	Text string `json:"text"`
}

type messageResult struct {
	flow.Outcome
	Error string `json:"error,omitempty"`
}

type stepView struct {
	ID        models.StepID        `json:"id"`
	Label     string               `json:"label"`
	Prompt    string               `json:"prompt"`
	Kind      flow.StepKind        `json:"kind"`
	Options   []string             `json:"options,omitempty"`
	Reference models.ReferenceKind `json:"reference,omitempty"`
}

type pathwayView struct {
	ID      models.PathwayID `json:"id"`
	Label   string           `json:"label"`
	Aliases []string         `json:"aliases,omitempty"`
	Default bool             `json:"default,omitempty"`
	Steps   []stepView       `json:"steps"`
}

type referenceRequest struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

// messageHandler feeds one chat message into a conversation, exactly as a
// transport would, and returns the engine's outcome.
func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	id := strings.TrimSpace(r.PathValue("id"))
	slog.Debug("Server.messageHandler: processing message", "conversationID", id)

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.messageHandler: failed to decode JSON", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if id == "" || strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: text")
		return
	}

	out := s.engine.Handle(r.Context(), id, flow.ParseCommand(req.Text))
	result := messageResult{Outcome: out}
	if out.Err != nil {
		result.Error = out.Err.Error()
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) getDraftHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	draft, err := s.states.GetDraft(r.Context(), id)
	if err != nil {
		slog.Error("Server.getDraftHandler: failed to load draft", "error", err, "conversationID", id)
		writeError(w, http.StatusInternalServerError, "Failed to load draft")
		return
	}
	if draft == nil {
		writeError(w, http.StatusNotFound, "No draft for conversation")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(draft))
}

func (s *Server) deleteDraftHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.engine.Reset(r.Context(), id); err != nil {
		slog.Error("Server.deleteDraftHandler: failed to reset draft", "error", err, "conversationID", id)
		writeError(w, http.StatusInternalServerError, "Failed to discard draft")
		return
	}
	slog.Info("Server.deleteDraftHandler: draft discarded", "conversationID", id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Draft discarded", nil))
}

func (s *Server) listReportsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReportFilter{
		PathwayID:      models.PathwayID(q.Get("pathway")),
		ConversationID: q.Get("conversation"),
		Limit:          100,
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = min(n, maxListLimit)
	}
	if filter.PathwayID != "" && !s.engine.Registry().IsRegistered(filter.PathwayID) {
		writeError(w, http.StatusBadRequest, "Unknown pathway")
		return
	}

	reports, err := s.st.ListReports(filter)
	if err != nil {
		slog.Error("Server.listReportsHandler: failed to list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list reports")
		return
	}
	if reports == nil {
		reports = []models.Report{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(reports))
}

func (s *Server) getReportHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	report, err := s.st.GetReport(id)
	if err != nil {
		slog.Error("Server.getReportHandler: failed to load report", "error", err, "reportID", id)
		writeError(w, http.StatusInternalServerError, "Failed to load report")
		return
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "Report not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(report))
}

func (s *Server) listPathwaysHandler(w http.ResponseWriter, r *http.Request) {
	registry := s.engine.Registry()
	pathways := registry.Pathways()
	views := make([]pathwayView, 0, len(pathways))
	for _, p := range pathways {
		views = append(views, s.pathwayView(p))
	}
	writeJSONResponse(w, http.StatusOK, models.Success(views))
}

func (s *Server) getPathwayHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Registry().Pathway(models.PathwayID(r.PathValue("id")))
	if errors.Is(err, models.ErrUnknownPathway) {
		writeError(w, http.StatusNotFound, "Pathway not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load pathway")
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.pathwayView(p)))
}

func (s *Server) pathwayView(p flow.Pathway) pathwayView {
	registry := s.engine.Registry()
	view := pathwayView{
		ID:      p.ID,
		Label:   p.Label,
		Aliases: p.Aliases,
		Default: registry.Default() == p.ID,
		Steps:   make([]stepView, 0, len(p.Steps)),
	}
	for _, id := range p.Steps {
		spec, err := registry.Step(p.ID, id)
		if err != nil {
			continue
		}
		view.Steps = append(view.Steps, stepView{
			ID:        spec.ID,
			Label:     spec.Label,
			Prompt:    spec.Prompt,
			Kind:      spec.Kind,
			Options:   spec.Options,
			Reference: spec.Reference,
		})
	}
	return view
}

func referenceKind(r *http.Request) (models.ReferenceKind, bool) {
	kind := models.ReferenceKind(r.PathValue("kind"))
	return kind, models.IsValidReferenceKind(kind)
}

func (s *Server) listReferenceHandler(w http.ResponseWriter, r *http.Request) {
	kind, ok := referenceKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown reference kind")
		return
	}
	names, err := s.references.ListOptions(r.Context(), kind, r.URL.Query().Get("parent"))
	if err != nil {
		slog.Error("Server.listReferenceHandler: failed to list options", "error", err, "kind", kind)
		writeError(w, http.StatusInternalServerError, "Failed to list reference options")
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(names))
}

func (s *Server) addReferenceHandler(w http.ResponseWriter, r *http.Request) {
	s.changeReference(w, r, true)
}

func (s *Server) deleteReferenceHandler(w http.ResponseWriter, r *http.Request) {
	s.changeReference(w, r, false)
}

func (s *Server) changeReference(w http.ResponseWriter, r *http.Request, add bool) {
	defer r.Body.Close()
	kind, ok := referenceKind(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown reference kind")
		return
	}
	var req referenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	opt := models.ReferenceOption{Kind: kind, Name: strings.TrimSpace(req.Name), Parent: strings.TrimSpace(req.Parent)}

	var err error
	if add {
		err = s.references.Add(r.Context(), opt)
	} else {
		err = s.references.Remove(r.Context(), opt)
	}
	switch {
	case errors.Is(err, reference.ErrInvalidOption):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		slog.Error("Server.changeReference: store failed", "error", err, "kind", kind, "add", add)
		writeError(w, http.StatusInternalServerError, "Failed to update reference options")
	case add:
		slog.Info("Server.changeReference: option added", "kind", kind, "name", opt.Name, "parent", opt.Parent)
		writeJSONResponse(w, http.StatusCreated, models.Success(opt))
	default:
		slog.Info("Server.changeReference: option removed", "kind", kind, "name", opt.Name, "parent", opt.Parent)
		writeJSONResponse(w, http.StatusOK, models.Success(opt))
	}
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.st.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch receipts")
		return
	}
	if receipts == nil {
		receipts = []models.Receipt{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}

func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	responses, err := s.st.GetResponses()
	if err != nil {
		slog.Error("Server.responsesHandler: failed to fetch responses", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch responses")
		return
	}
	if responses == nil {
		responses = []models.Response{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}
