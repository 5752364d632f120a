// Package store provides storage backends for ReportPipe.
//
// It includes an in-memory store for tests and development, an SQLite store
// (the default) and a PostgreSQL store. Drafts may alternatively live in
// Redis via RedisFlowStateStore.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// FlowStateStore persists per-conversation flow state.
type FlowStateStore interface {
	SaveFlowState(state models.FlowState) error
	// GetFlowState returns nil, nil when there is no state.
	GetFlowState(participantID, flowType string) (*models.FlowState, error)
	DeleteFlowState(participantID, flowType string) error
	ListFlowStates(flowType string) ([]models.FlowState, error)
}

// ReportFilter narrows ListReports. Zero values match everything.
type ReportFilter struct {
	PathwayID      models.PathwayID
	ConversationID string
	Limit          int
}

// ReportStore persists finalized reports.
type ReportStore interface {
	SaveReport(report models.Report) error
	// GetReport returns nil, nil when the report does not exist.
	GetReport(id string) (*models.Report, error)
	// ListReports returns the newest reports first.
	ListReports(filter ReportFilter) ([]models.Report, error)
}

// ReferenceStore persists reference options (hospitals, departments, doctors,
// translators). Options with an empty parent apply under every parent.
type ReferenceStore interface {
	AddReferenceOption(opt models.ReferenceOption) error
	ListReferenceOptions(kind models.ReferenceKind, parent string) ([]models.ReferenceOption, error)
	DeleteReferenceOption(opt models.ReferenceOption) error
}

// Store is the full persistence surface used by the application.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	AddResponse(r models.Response) error
	GetResponses() ([]models.Response, error)
	FlowStateStore
	ReportStore
	ReferenceStore
	DedupRepo
	Close() error
}

// Opts holds configuration options for store implementations.
type Opts struct {
	DSN string
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DSNType is the backend a DSN points at.
type DSNType string

const (
	DSNTypeSQLite   DSNType = "sqlite"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType distinguishes PostgreSQL connection strings from SQLite paths.
func DetectDSNType(dsn string) DSNType {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") ||
		strings.Contains(d, "host=") || strings.Contains(d, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

// Compile-time check that InMemoryStore implements Store.
var _ Store = (*InMemoryStore)(nil)

// InMemoryStore keeps everything in process memory. It is safe for concurrent use.
type InMemoryStore struct {
	mu         sync.RWMutex
	receipts   []models.Receipt
	responses  []models.Response
	flowStates map[string]models.FlowState
	reports    map[string]models.Report
	references []models.ReferenceOption
	inbound    map[string]*DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flowStates: make(map[string]models.FlowState),
		reports:    make(map[string]models.Report),
		inbound:    make(map[string]*DedupRecord),
	}
}

func flowKey(participantID, flowType string) string {
	return flowType + "\x00" + participantID
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Receipt(nil), s.receipts...), nil
}

func (s *InMemoryStore) AddResponse(r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, r)
	return nil
}

func (s *InMemoryStore) GetResponses() ([]models.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Response(nil), s.responses...), nil
}

// SaveFlowState stores a copy of state.
func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state.StateData = copyMap(state.StateData)
	s.flowStates[flowKey(state.ParticipantID, state.FlowType)] = state
	return nil
}

func (s *InMemoryStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowKey(participantID, flowType)]
	if !ok {
		return nil, nil
	}
	state.StateData = copyMap(state.StateData)
	return &state, nil
}

func (s *InMemoryStore) DeleteFlowState(participantID, flowType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey(participantID, flowType))
	return nil
}

func (s *InMemoryStore) ListFlowStates(flowType string) ([]models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowState
	for _, state := range s.flowStates {
		if state.FlowType == flowType {
			state.StateData = copyMap(state.StateData)
			out = append(out, state)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out, nil
}

func (s *InMemoryStore) SaveReport(report models.Report) error {
	if report.ID == "" {
		return fmt.Errorf("report id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.reports[report.ID]; exists {
		return fmt.Errorf("report %s already exists", report.ID)
	}
	report.Fields = copyMap(report.Fields)
	s.reports[report.ID] = report
	return nil
}

func (s *InMemoryStore) GetReport(id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, ok := s.reports[id]
	if !ok {
		return nil, nil
	}
	report.Fields = copyMap(report.Fields)
	return &report, nil
}

func (s *InMemoryStore) ListReports(filter ReportFilter) ([]models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Report
	for _, r := range s.reports {
		if filter.PathwayID != "" && r.PathwayID != filter.PathwayID {
			continue
		}
		if filter.ConversationID != "" && r.ConversationID != filter.ConversationID {
			continue
		}
		r.Fields = copyMap(r.Fields)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *InMemoryStore) AddReferenceOption(opt models.ReferenceOption) error {
	if !models.IsValidReferenceKind(opt.Kind) || strings.TrimSpace(opt.Name) == "" {
		return fmt.Errorf("invalid reference option %+v", opt)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.references {
		if existing == opt {
			return nil
		}
	}
	s.references = append(s.references, opt)
	return nil
}

func (s *InMemoryStore) ListReferenceOptions(kind models.ReferenceKind, parent string) ([]models.ReferenceOption, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ReferenceOption
	for _, opt := range s.references {
		if opt.Kind == kind && (opt.Parent == parent || opt.Parent == "") {
			out = append(out, opt)
		}
	}
	return out, nil
}

func (s *InMemoryStore) DeleteReferenceOption(opt models.ReferenceOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.references {
		if existing == opt {
			s.references = append(s.references[:i], s.references[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.inbound[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, participantID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[messageID]; ok {
		return false, nil
	}
	s.inbound[messageID] = &DedupRecord{MessageID: messageID, ParticipantID: participantID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.inbound[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	slog.Debug("InMemoryStore Close invoked")
	return nil
}

func copyMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
