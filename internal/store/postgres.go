// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/ReportPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

// DB exposes the connection pool, e.g. for LISTEN/NOTIFY publishers.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetReceipts query failed", "error", err)
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

func (s *PostgresStore) AddResponse(r models.Response) error {
	_, err := s.db.Exec(`INSERT INTO responses (message_id, sender, body, time) VALUES ($1, $2, $3, $4)`, r.ID, r.From, r.Body, r.Time)
	if err != nil {
		slog.Error("PostgresStore AddResponse failed", "error", err, "from", r.From)
		return fmt.Errorf("failed to insert response from %s: %w", r.From, err)
	}
	return nil
}

func (s *PostgresStore) GetResponses() ([]models.Response, error) {
	rows, err := s.db.Query(`SELECT message_id, sender, body, time FROM responses ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
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

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}

// SaveFlowState stores or updates flow state for a participant.
func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_id, flow_type)
		DO UPDATE SET current_state = EXCLUDED.current_state, state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`

	stateDataJSON, err := encodeStateData(state.StateData)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
		return err
	}

	_, err = s.db.Exec(query, state.ParticipantID, state.FlowType, state.CurrentState,
		nilIfEmpty(stateDataJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("PostgresStore SaveFlowState succeeded", "participantID", state.ParticipantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *PostgresStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = $1 AND flow_type = $2`

	state, err := scanFlowState(s.db.QueryRow(query, participantID, flowType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}
	return state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *PostgresStore) DeleteFlowState(participantID, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE participant_id = $1 AND flow_type = $2`, participantID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}
	return nil
}

// ListFlowStates returns every flow state of flowType.
func (s *PostgresStore) ListFlowStates(flowType string) ([]models.FlowState, error) {
	rows, err := s.db.Query(`SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE flow_type = $1 ORDER BY participant_id`, flowType)
	if err != nil {
		slog.Error("PostgresStore ListFlowStates failed", "error", err, "flowType", flowType)
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
func (s *PostgresStore) SaveReport(report models.Report) error {
	fields, err := json.Marshal(report.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode report fields: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO reports (id, pathway_id, conversation_id, fields, created_at) VALUES ($1, $2, $3, $4, $5)`,
		report.ID, report.PathwayID, report.ConversationID, string(fields), report.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveReport failed", "error", err, "reportID", report.ID)
		return fmt.Errorf("failed to insert report %s: %w", report.ID, err)
	}
	slog.Debug("PostgresStore SaveReport succeeded", "reportID", report.ID, "pathway", report.PathwayID)
	return nil
}

func (s *PostgresStore) GetReport(id string) (*models.Report, error) {
	report, err := scanReport(s.db.QueryRow(`SELECT id, pathway_id, conversation_id, fields, created_at FROM reports WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetReport failed", "error", err, "reportID", id)
		return nil, err
	}
	return report, nil
}

func (s *PostgresStore) ListReports(filter ReportFilter) ([]models.Report, error) {
	query := `SELECT id, pathway_id, conversation_id, fields, created_at FROM reports
		WHERE ($1 = '' OR pathway_id = $1) AND ($2 = '' OR conversation_id = $2)
		ORDER BY created_at DESC, id DESC`
	args := []interface{}{string(filter.PathwayID), filter.ConversationID}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListReports failed", "error", err)
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

func (s *PostgresStore) AddReferenceOption(opt models.ReferenceOption) error {
	_, err := s.db.Exec(`INSERT INTO reference_options (kind, parent, name) VALUES ($1, $2, $3)
		ON CONFLICT (kind, parent, name) DO NOTHING`, opt.Kind, opt.Parent, opt.Name)
	if err != nil {
		slog.Error("PostgresStore AddReferenceOption failed", "error", err, "kind", opt.Kind, "name", opt.Name)
		return fmt.Errorf("failed to insert reference option: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListReferenceOptions(kind models.ReferenceKind, parent string) ([]models.ReferenceOption, error) {
	rows, err := s.db.Query(`SELECT kind, parent, name FROM reference_options
		WHERE kind = $1 AND (parent = $2 OR parent = '') ORDER BY id`, kind, parent)
	if err != nil {
		slog.Error("PostgresStore ListReferenceOptions failed", "error", err, "kind", kind)
		return nil, err
	}
	defer rows.Close()
	return scanReferenceOptions(rows)
}

func (s *PostgresStore) DeleteReferenceOption(opt models.ReferenceOption) error {
	_, err := s.db.Exec(`DELETE FROM reference_options WHERE kind = $1 AND parent = $2 AND name = $3`, opt.Kind, opt.Parent, opt.Name)
	if err != nil {
		return fmt.Errorf("failed to delete reference option: %w", err)
	}
	return nil
}
