// Package history - sqlite ledger of selection runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one recorded invocation.
type Run struct {
	ID        string
	Command   string
	Source    string
	StartedAt time.Time
	Duration  time.Duration

	// Frame selection.
	Target      int
	TotalFrames int
	Selected    int
	Policy      string
	QualityMin  float64
	QualityMax  float64

	// Mask selection.
	Segmented   int
	Unsegmented int
	// FellBack is set when nothing segmented and the original frames were kept.
	FellBack bool

	Diagnostics []string
	// Stages maps stage name to its total duration.
	Stages map[string]time.Duration
}

// Store is the run ledger.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	source TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	target INTEGER NOT NULL DEFAULT 0,
	total_frames INTEGER NOT NULL DEFAULT 0,
	selected INTEGER NOT NULL DEFAULT 0,
	policy TEXT NOT NULL DEFAULT '',
	quality_min DOUBLE NOT NULL DEFAULT 0,
	quality_max DOUBLE NOT NULL DEFAULT 0,
	segmented INTEGER NOT NULL DEFAULT 0,
	unsegmented INTEGER NOT NULL DEFAULT 0,
	fell_back INTEGER NOT NULL DEFAULT 0,
	diagnostics TEXT NOT NULL DEFAULT '[]',
	stages TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// Open opens or creates the ledger at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create history dir %s", dir)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create history schema")
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts run, assigning an ID when it has none, and returns the ID.
func (s *Store) Record(ctx context.Context, run *Run) (string, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	diagnostics, err := json.Marshal(nonNil(run.Diagnostics))
	if err != nil {
		return "", err
	}
	stages := make(map[string]int64, len(run.Stages))
	for name, d := range run.Stages {
		stages[name] = d.Milliseconds()
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return "", err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, command, source, started_at, duration_ms,
			target, total_frames, selected, policy, quality_min, quality_max,
			segmented, unsegmented, fell_back, diagnostics, stages
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Command, run.Source, run.StartedAt.UnixNano(), run.Duration.Milliseconds(),
		run.Target, run.TotalFrames, run.Selected, run.Policy, run.QualityMin, run.QualityMax,
		run.Segmented, run.Unsegmented, run.FellBack, string(diagnostics), string(stagesJSON),
	)
	if err != nil {
		return "", errors.Wrap(err, "record run")
	}
	return run.ID, nil
}

const selectRuns = `
	SELECT id, command, source, started_at, duration_ms,
		target, total_frames, selected, policy, quality_min, quality_max,
		segmented, unsegmented, fell_back, diagnostics, stages
	FROM runs`

// List returns the most recent runs first, at most limit of them (all when limit <= 0).
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + " ORDER BY started_at DESC, rowid DESC"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// Get returns the run with id.
func (s *Store) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, errors.Wrap(ErrNotFound, id)
	}
	return run, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var (
		run                   Run
		startedNS, durationMS int64
		diagnostics, stages   string
	)
	err := row.Scan(
		&run.ID, &run.Command, &run.Source, &startedNS, &durationMS,
		&run.Target, &run.TotalFrames, &run.Selected, &run.Policy, &run.QualityMin, &run.QualityMax,
		&run.Segmented, &run.Unsegmented, &run.FellBack, &diagnostics, &stages,
	)
	if err != nil {
		return Run{}, err
	}
	run.StartedAt = time.Unix(0, startedNS)
	run.Duration = time.Duration(durationMS) * time.Millisecond

	if err := json.Unmarshal([]byte(diagnostics), &run.Diagnostics); err != nil {
		return Run{}, errors.Wrapf(err, "decode diagnostics of %s", run.ID)
	}
	var ms map[string]int64
	if err := json.Unmarshal([]byte(stages), &ms); err != nil {
		return Run{}, errors.Wrapf(err, "decode stages of %s", run.ID)
	}
	run.Stages = make(map[string]time.Duration, len(ms))
	for name, v := range ms {
		run.Stages[name] = time.Duration(v) * time.Millisecond
	}
	return run, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
