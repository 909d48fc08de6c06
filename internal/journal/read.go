package journal

import (
	"database/sql"
	"fmt"
)

// RunRecord is one row of the runs table.
type RunRecord struct {
	RunToken   string
	StartedAt  string
	FinishedAt string
	FinalState string
	Steps      int
}

// FiringRecord is one row of the firings table.
type FiringRecord struct {
	RunToken   string
	Seq        int64
	RuleID     string
	BindingKey string
	Binding    string
	Result     string
	Err        string
}

// FactEventRecord is one row of the fact_events table.
type FactEventRecord struct {
	RunToken    string
	Kind        string
	Seq         int64
	FactID      int64
	Payload     string
	PayloadHash string
}

// Runs returns every recorded run in start order.
func (j *Journal) Runs() ([]RunRecord, error) {
	rows, err := j.db.Query(
		`SELECT run_token, started_at, COALESCE(finished_at, ''), COALESCE(final_state, ''), COALESCE(steps, 0)
		 FROM runs ORDER BY started_at, run_token`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunToken, &r.StartedAt, &r.FinishedAt, &r.FinalState, &r.Steps); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Firings returns a run's firings in execution order.
func (j *Journal) Firings(runToken string) ([]FiringRecord, error) {
	rows, err := j.db.Query(
		`SELECT run_token, seq, rule_id, binding_key, binding, COALESCE(result, ''), COALESCE(error, '')
		 FROM firings WHERE run_token = ? ORDER BY seq`, runToken)
	if err != nil {
		return nil, fmt.Errorf("querying firings: %w", err)
	}
	defer rows.Close()

	var out []FiringRecord
	for rows.Next() {
		var f FiringRecord
		if err := rows.Scan(&f.RunToken, &f.Seq, &f.RuleID, &f.BindingKey, &f.Binding, &f.Result, &f.Err); err != nil {
			return nil, fmt.Errorf("scanning firing: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// FactEvents returns a run's working-memory change events in clock
// order. An empty token selects the events recorded outside any run.
func (j *Journal) FactEvents(runToken string) ([]FactEventRecord, error) {
	rows, err := j.db.Query(
		`SELECT run_token, kind, seq, fact_id, payload, payload_hash
		 FROM fact_events WHERE run_token = ? ORDER BY seq`, runToken)
	if err != nil {
		return nil, fmt.Errorf("querying fact events: %w", err)
	}
	defer rows.Close()

	var out []FactEventRecord
	for rows.Next() {
		var e FactEventRecord
		if err := rows.Scan(&e.RunToken, &e.Kind, &e.Seq, &e.FactID, &e.Payload, &e.PayloadHash); err != nil {
			return nil, fmt.Errorf("scanning fact event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DB exposes the underlying connection for ad-hoc queries.
func (j *Journal) DB() *sql.DB {
	return j.db
}
