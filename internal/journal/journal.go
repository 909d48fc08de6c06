// Package journal persists a durable trace of inference runs to
// SQLite: run boundaries, working-memory change events and firings.
//
// The journal is an audit artifact. Nothing is ever read back into
// working memory; the engine starts empty every time. Write failures
// are logged and swallowed so a full disk cannot stall inference, but
// the first failure stays observable through Err.
package journal

import (
	"database/sql"
	"encoding/json"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fluvius-io/ordinal/internal/canon"
	"github.com/fluvius-io/ordinal/internal/engine"
)

//go:embed schema.sql
var schemaSQL string

// Journal records engine activity in a SQLite database. It implements
// engine.Observer; attach it with engine.WithObserver.
//
// The firings table is keyed UNIQUE(run_token, rule_id, binding_key)
// with inserts ignoring conflicts: refractoriness guarantees one firing
// per activation per run, so a duplicate row indicates a replayed
// notification, not a second firing.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger

	currentRun string
	firstErr   error
}

// Open creates or opens a journal database at path. The database is
// configured the same way for every caller: WAL mode, NORMAL
// synchronous, a busy timeout and a single writer connection.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to journal: %w", err)
	}

	// SQLite allows one writer; more connections only buy SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	return &Journal{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Err returns the first write failure, or nil. Failures never abort a
// run; callers that care check after the run finishes.
func (j *Journal) Err() error {
	return j.firstErr
}

// RunStarted implements engine.Observer.
func (j *Journal) RunStarted(runToken string) {
	j.currentRun = runToken
	j.exec("recording run start",
		`INSERT INTO runs (run_token, started_at) VALUES (?, ?)`,
		runToken, time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// RunFinished implements engine.Observer.
func (j *Journal) RunFinished(runToken string, final engine.State, steps int) {
	j.currentRun = ""
	j.exec("recording run finish",
		`UPDATE runs SET finished_at = ?, final_state = ?, steps = ? WHERE run_token = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), final.String(), steps, runToken,
	)
}

// FactAsserted implements engine.Observer. Events outside any run are
// recorded with an empty run token: initial facts are loaded before
// the first run starts.
func (j *Journal) FactAsserted(ev engine.Event) {
	j.recordFactEvent(ev)
}

// FactRetracted implements engine.Observer.
func (j *Journal) FactRetracted(ev engine.Event) {
	j.recordFactEvent(ev)
}

// RuleFired implements engine.Observer.
func (j *Journal) RuleFired(f engine.Firing) {
	binding, err := json.Marshal(f.Binding)
	if err != nil {
		j.fail("encoding binding", err)
		return
	}

	var result any
	if f.Result != nil {
		encoded, err := json.Marshal(f.Result)
		if err != nil {
			j.fail("encoding result", err)
			return
		}
		result = string(encoded)
	}

	var firingErr any
	if f.Err != nil {
		firingErr = f.Err.Error()
	}

	j.exec("recording firing",
		`INSERT INTO firings (run_token, seq, rule_id, binding_key, binding, result, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_token, rule_id, binding_key) DO NOTHING`,
		f.RunToken, f.Seq, f.RuleID, f.BindingKey, string(binding), result, firingErr,
	)
}

func (j *Journal) recordFactEvent(ev engine.Event) {
	payload, err := json.Marshal(ev.Fact.Value)
	if err != nil {
		j.fail("encoding fact payload", err)
		return
	}

	j.exec("recording fact event",
		`INSERT INTO fact_events (run_token, kind, seq, fact_id, payload, payload_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		j.currentRun, ev.Kind.String(), ev.Seq, int64(ev.Fact.ID),
		string(payload), canon.HashWithDomain(canon.DomainFact, payload),
	)
}

func (j *Journal) exec(what, query string, args ...any) {
	if _, err := j.db.Exec(query, args...); err != nil {
		j.fail(what, err)
	}
}

func (j *Journal) fail(what string, err error) {
	if j.firstErr == nil {
		j.firstErr = fmt.Errorf("%s: %w", what, err)
	}
	j.logger.Error("journal write failed", "op", what, "error", err)
}
