package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

const (
	stateSchemaVersion = 1
	sessionDateLayout  = "2006-01-02"
)

// persistedState is the on-disk document at state_file_path. It is the
// breaker's entire mutable state; everything else is derivable from config.
type persistedState struct {
	SchemaVersion      int         `json:"schema_version"`
	SessionDate        string      `json:"session_date"`
	State              State       `json:"state"`
	TripReason         TripReason  `json:"trip_reason"`
	TripTime           time.Time   `json:"trip_time"`
	StartingBalance    float64     `json:"starting_balance"`
	CurrentBalance     float64     `json:"current_balance"`
	PeakBalance        float64     `json:"peak_balance"`
	ConsecutiveLosses  int         `json:"consecutive_losses"`
	APIErrorTimestamps []time.Time `json:"api_error_timestamps"`
	RecoverySuccesses  int         `json:"recovery_successes"`
}

func freshState() persistedState {
	return persistedState{
		SchemaVersion:      stateSchemaVersion,
		State:              StateClosed,
		TripReason:         ReasonNone,
		APIErrorTimestamps: make([]time.Time, 0),
	}
}

// saveStateFile writes st atomically: marshal, write to a temp file next to
// the target, then rename over it. A crash mid-write never leaves a torn file.
func saveStateFile(path string, st *persistedState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary state file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// loadStateFile reads a persisted session if one exists. It returns ok=false
// (and no error) when the file is absent, from another day, or from an
// unknown schema version: those all mean "start fresh", not "abort".
// A file that exists but cannot be read or parsed is an error; a breaker
// whose state cannot be trusted must not silently fall back to CLOSED.
func loadStateFile(path string, now time.Time) (persistedState, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return persistedState{}, false, nil
		}
		return persistedState{}, false, err
	}
	if len(data) == 0 {
		return persistedState{}, false, nil
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return persistedState{}, false, fmt.Errorf("state file %s is corrupt: %w", path, err)
	}

	if st.SchemaVersion != stateSchemaVersion {
		return persistedState{}, false, nil
	}
	if st.SessionDate != now.Format(sessionDateLayout) {
		return persistedState{}, false, nil
	}
	if st.APIErrorTimestamps == nil {
		st.APIErrorTimestamps = make([]time.Time, 0)
	}
	return st, true, nil
}
