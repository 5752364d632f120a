// This file implements an SQLite-backed store, the default backend.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/ReportPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows a single writer; one connection avoids "database is locked".
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

func (s *SQLiteStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (message_id, sender, body, time) VALUES (?, ?, ?, ?)`, r.ID, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("SQLiteStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *SQLiteStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT message_id, sender, body, time FROM responses ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var responses []models.Response
	for rows.Next() {
		var r models.Response
		if err := rows.Scan(&r.ID, &r.From, &r.Body, &r.Time); err != nil {
			return nil, err
		}
		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}

// SaveFlowState stores or updates flow state for a participant.
func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT OR REPLACE INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	stateDataJSON, err := encodeStateData(state.StateData)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
		return err
	}

	_, err = s.db.Exec(query, state.ParticipantID, state.FlowType, state.CurrentState,
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "participantID", state.ParticipantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *SQLiteStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = ? AND flow_type = ?`

	state, err := scanFlowState(s.db.QueryRow(query, participantID, flowType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}
	return state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *SQLiteStore) DeleteFlowState(participantID, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE participant_id = ? AND flow_type = ?`, participantID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}
	slog.Debug("SQLiteStore DeleteFlowState succeeded", "participantID", participantID, "flowType", flowType)
	return nil
}

// ListFlowStates returns every flow state of flowType.
func (s *SQLiteStore) ListFlowStates(flowType string) ([]models.FlowState, error) {
	rows, err := s.db.Query(`SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE flow_type = ? ORDER BY participant_id`, flowType)
	if err != nil {
		slog.Error("SQLiteStore ListFlowStates failed", "error", err, "flowType", flowType)
		return nil, err
	}
	defer rows.Close()

	var states []models.FlowState
	for rows.Next() {
		state, err := scanFlowState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, *state)
	}
	return states, rows.Err()
}

// SaveReport inserts a finalized report. Report ids are never overwritten.
func (s *SQLiteStore) SaveReport(report models.Report) error {
	fields, err := json.Marshal(report.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode report fields: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO reports (id, pathway_id, conversation_id, fields, created_at) VALUES (?, ?, ?, ?, ?)`,
		report.ID, report.PathwayID, report.ConversationID, string(fields), report.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveReport failed", "error", err, "reportID", report.ID)
		return fmt.Errorf("failed to insert report %s: %w", report.ID, err)
	}
	slog.Debug("SQLiteStore SaveReport succeeded", "reportID", report.ID, "pathway", report.PathwayID)
	return nil
}

func (s *SQLiteStore) GetReport(id string) (*models.Report, error) {
	report, err := scanReport(s.db.QueryRow(`SELECT id, pathway_id, conversation_id, fields, created_at FROM reports WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetReport failed", "error", err, "reportID", id)
		return nil, err
	}
	return report, nil
}

func (s *SQLiteStore) ListReports(filter ReportFilter) ([]models.Report, error) {
	query := `SELECT id, pathway_id, conversation_id, fields, created_at FROM reports
		WHERE (? = '' OR pathway_id = ?) AND (? = '' OR conversation_id = ?)
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{filter.PathwayID, filter.PathwayID, filter.ConversationID, filter.ConversationID}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListReports failed", "error", err)
		return nil, err
	}
	defer rows.Close()

	var reports []models.Report
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *report)
	}
	return reports, rows.Err()
}

func (s *SQLiteStore) AddReferenceOption(opt models.ReferenceOption) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO reference_options (kind, parent, name) VALUES (?, ?, ?)`, opt.Kind, opt.Parent, opt.Name)
	if err != nil {
		slog.Error("SQLiteStore AddReferenceOption failed", "error", err, "kind", opt.Kind, "name", opt.Name)
		return fmt.Errorf("failed to insert reference option: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListReferenceOptions(kind models.ReferenceKind, parent string) ([]models.ReferenceOption, error) {
	rows, err := s.db.Query(`SELECT kind, parent, name FROM reference_options
		WHERE kind = ? AND (parent = ? OR parent = '') ORDER BY id`, kind, parent)
	if err != nil {
		slog.Error("SQLiteStore ListReferenceOptions failed", "error", err, "kind", kind)
		return nil, err
	}
	defer rows.Close()
	return scanReferenceOptions(rows)
}

func (s *SQLiteStore) DeleteReferenceOption(opt models.ReferenceOption) error {
	_, err := s.db.Exec(`DELETE FROM reference_options WHERE kind = ? AND parent = ? AND name = ?`, opt.Kind, opt.Parent, opt.Name)
	if err != nil {
		return fmt.Errorf("failed to delete reference option: %w", err)
	}
	return nil
}
