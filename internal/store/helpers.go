package store

import (
	"database/sql"
	"encoding/json"
	"log/slog"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func encodeStateData(data map[string]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanFlowState(row rowScanner) (*models.FlowState, error) {
	var state models.FlowState
	var stateDataJSON sql.NullString
	if err := row.Scan(&state.ParticipantID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt); err != nil {
		return nil, err
	}
	state.StateData = make(map[string]string)
	if stateDataJSON.Valid && stateDataJSON.String != "" {
		if err := json.Unmarshal([]byte(stateDataJSON.String), &state.StateData); err != nil {
			// Continue with empty map rather than failing
			slog.Error("Flow state JSON unmarshal failed", "error", err, "participantID", state.ParticipantID)
			state.StateData = make(map[string]string)
		}
	}
	return &state, nil
}

func scanReport(row rowScanner) (*models.Report, error) {
	var report models.Report
	var fields []byte
	if err := row.Scan(&report.ID, &report.PathwayID, &report.ConversationID, &fields, &report.CreatedAt); err != nil {
		return nil, err
	}
	report.Fields = make(map[string]string)
	if err := json.Unmarshal(fields, &report.Fields); err != nil {
		return nil, err
	}
	return &report, nil
}

func scanReferenceOptions(rows *sql.Rows) ([]models.ReferenceOption, error) {
	var out []models.ReferenceOption
	for rows.Next() {
		var opt models.ReferenceOption
		if err := rows.Scan(&opt.Kind, &opt.Parent, &opt.Name); err != nil {
			return nil, err
		}
		out = append(out, opt)
	}
	return out, rows.Err()
}

func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
