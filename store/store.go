// Package store persists training run histories in SQLite.
package store

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned by LoadRun and DeleteRun for an unknown run id.
var ErrRunNotFound = errors.New("store: run not found")

// Point is one value of a series at an epoch
type Point struct {
	Epoch int
	Value float64
}

// ParamSnapshot holds posterior means recorded at an epoch
type ParamSnapshot struct {
	Epoch  int
	Values map[string][]float64
}

// Run is the recorded history of one fit
type Run struct {
	ID        string
	Model     string
	CreatedAt time.Time
	Epochs    int
	Stopped   bool
	Series    map[string][]Point
	Params    []ParamSnapshot
}

// SeriesNames returns the run's series names in sorted order
func (r *Run) SeriesNames() []string {
	names := make([]string, 0, len(r.Series))
	for name := range r.Series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunSummary is a row of the runs table
type RunSummary struct {
	ID        string
	Model     string
	CreatedAt time.Time
	Epochs    int
	Stopped   bool
}

// Store provides SQLite persistence for runs.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path. ":memory:" is
// allowed; the pool is limited to one connection so the in-memory database
// is shared.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "store: failed to open database")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: failed to initialize schema")
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			model TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			epochs INTEGER NOT NULL DEFAULT 0,
			stopped INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS series (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			value REAL,
			PRIMARY KEY (run_id, name, epoch)
		);

		CREATE TABLE IF NOT EXISTS params (
			run_id TEXT NOT NULL,
			epoch INTEGER NOT NULL,
			name TEXT NOT NULL,
			idx INTEGER NOT NULL,
			value REAL,
			PRIMARY KEY (run_id, epoch, name, idx)
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run, replacing any earlier run with the same id
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("store: run has no id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	if err := deleteRun(ctx, tx, run.ID); err != nil {
		return errors.Wrap(err, "store: replace run")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, model, created_at, epochs, stopped) VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Model, run.CreatedAt.UnixNano(), run.Epochs, boolToInt(run.Stopped),
	); err != nil {
		return errors.Wrap(err, "store: insert run")
	}

	seriesStmt, err := tx.PrepareContext(ctx, `INSERT INTO series (run_id, name, epoch, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare series")
	}
	defer seriesStmt.Close()
	for name, points := range run.Series {
		for _, p := range points {
			if _, err := seriesStmt.ExecContext(ctx, run.ID, name, p.Epoch, encodeFloat(p.Value)); err != nil {
				return errors.Wrapf(err, "store: insert series %s epoch %d", name, p.Epoch)
			}
		}
	}

	paramStmt, err := tx.PrepareContext(ctx, `INSERT INTO params (run_id, epoch, name, idx, value) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "store: prepare params")
	}
	defer paramStmt.Close()
	for _, snap := range run.Params {
		for name, values := range snap.Values {
			for i, v := range values {
				if _, err := paramStmt.ExecContext(ctx, run.ID, snap.Epoch, name, i, encodeFloat(v)); err != nil {
					return errors.Wrapf(err, "store: insert param %s epoch %d", name, snap.Epoch)
				}
			}
		}
	}

	return errors.Wrap(tx.Commit(), "store: commit")
}

// LoadRun reads a run with all of its series and parameter snapshots
func (s *Store) LoadRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{ID: id, Series: make(map[string][]Point)}
	var createdAt int64
	var stopped int
	err := s.db.QueryRowContext(ctx,
		`SELECT model, created_at, epochs, stopped FROM runs WHERE run_id = ?`, id,
	).Scan(&run.Model, &createdAt, &run.Epochs, &stopped)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(ErrRunNotFound, "%q", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: load run")
	}
	run.CreatedAt = time.Unix(0, createdAt)
	run.Stopped = stopped != 0

	if err := s.loadSeries(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadParams(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// loadSeries and loadParams close their rows before returning; with a single
// pooled connection a second open cursor would block.
func (s *Store) loadSeries(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, epoch, value FROM series WHERE run_id = ? ORDER BY name, epoch`, run.ID)
	if err != nil {
		return errors.Wrap(err, "store: load series")
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var p Point
		var v sql.NullFloat64
		if err := rows.Scan(&name, &p.Epoch, &v); err != nil {
			return errors.Wrap(err, "store: scan series")
		}
		p.Value = decodeFloat(v)
		run.Series[name] = append(run.Series[name], p)
	}
	return errors.Wrap(rows.Err(), "store: load series")
}

func (s *Store) loadParams(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT epoch, name, idx, value FROM params WHERE run_id = ? ORDER BY epoch, name, idx`, run.ID)
	if err != nil {
		return errors.Wrap(err, "store: load params")
	}
	defer rows.Close()
	for rows.Next() {
		var epoch, idx int
		var name string
		var v sql.NullFloat64
		if err := rows.Scan(&epoch, &name, &idx, &v); err != nil {
			return errors.Wrap(err, "store: scan params")
		}
		n := len(run.Params)
		if n == 0 || run.Params[n-1].Epoch != epoch {
			run.Params = append(run.Params, ParamSnapshot{Epoch: epoch, Values: make(map[string][]float64)})
			n++
		}
		run.Params[n-1].Values[name] = append(run.Params[n-1].Values[name], decodeFloat(v))
	}
	return errors.Wrap(rows.Err(), "store: load params")
}

// ListRuns returns run summaries, newest first
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, model, created_at, epochs, stopped FROM runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, errors.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var createdAt int64
		var stopped int
		if err := rows.Scan(&r.ID, &r.Model, &createdAt, &r.Epochs, &stopped); err != nil {
			return nil, errors.Wrap(err, "store: scan run")
		}
		r.CreatedAt = time.Unix(0, createdAt)
		r.Stopped = stopped != 0
		out = append(out, r)
	}
	return out, errors.Wrap(rows.Err(), "store: list runs")
}

// DeleteRun removes a run and its history
func (s *Store) DeleteRun(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: begin")
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE run_id = ?`, id).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "store: delete run")
	}
	if exists == 0 {
		return errors.Wrapf(ErrRunNotFound, "%q", id)
	}
	if err := deleteRun(ctx, tx, id); err != nil {
		return errors.Wrap(err, "store: delete run")
	}
	return errors.Wrap(tx.Commit(), "store: commit")
}

// deleteRun removes a run's rows explicitly rather than relying on the
// per-connection foreign_keys pragma.
func deleteRun(ctx context.Context, tx *sql.Tx, id string) error {
	for _, q := range []string{
		`DELETE FROM series WHERE run_id = ?`,
		`DELETE FROM params WHERE run_id = ?`,
		`DELETE FROM runs WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// encodeFloat stores NaN as NULL; SQLite has no NaN.
func encodeFloat(v float64) interface{} {
	if math.IsNaN(v) {
		return nil
	}
	return v
}

func decodeFloat(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
