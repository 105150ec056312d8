// Package runlog persists training runs and their per-epoch validation
// history in a SQLite database, so several runs can be compared after the
// fact.
package runlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs(
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	config TEXT,
	final_ppl REAL
);
CREATE TABLE IF NOT EXISTS epochs(
	run_id INTEGER NOT NULL REFERENCES runs(id),
	epoch INTEGER NOT NULL,
	train_loss REAL,
	dev_loss REAL,
	dev_ppl REAL,
	logged_at INTEGER NOT NULL,
	PRIMARY KEY(run_id, epoch)
);
`

// Store is a SQLite-backed run log
type Store struct {
	db *sql.DB
}

// Open opens or creates the run log at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log %s: %w", path, err)
	}
	// One writer; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create run log schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RunInfo describes a stored run
type RunInfo struct {
	ID        int64
	Name      string
	StartedAt time.Time
	Config    string
	FinalPPL  *float64
}

// EpochRecord is one stored epoch summary
type EpochRecord struct {
	Epoch     int
	TrainLoss float64
	DevLoss   float64
	DevPPL    float64
}

// Run records a single training run. It satisfies training.EpochLogger.
type Run struct {
	store *Store
	id    int64
}

// StartRun inserts a run row. config is stored as JSON.
func (s *Store) StartRun(name string, config interface{}) (*Run, error) {
	var configJSON sql.NullString
	if config != nil {
		data, err := json.Marshal(config)
		if err != nil {
			return nil, fmt.Errorf("failed to encode run config: %w", err)
		}
		configJSON = sql.NullString{String: string(data), Valid: true}
	}

	res, err := s.db.Exec("INSERT INTO runs(name, started_at, config) VALUES(?,?,?)",
		name, time.Now().UnixNano(), configJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read run id: %w", err)
	}
	return &Run{store: s, id: id}, nil
}

func (r *Run) ID() int64 {
	return r.id
}

// AddEpochLog stores an epoch summary. Logging the same epoch twice replaces
// the earlier row.
func (r *Run) AddEpochLog(epoch int, trainLoss, devLoss, devPPL float64) error {
	_, err := r.store.db.Exec(
		"INSERT OR REPLACE INTO epochs(run_id, epoch, train_loss, dev_loss, dev_ppl, logged_at) VALUES(?,?,?,?,?,?)",
		r.id, epoch, nullable(trainLoss), nullable(devLoss), nullable(devPPL), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("run %d: failed to log epoch %d: %w", r.id, epoch, err)
	}
	return nil
}

// SetFinalPPL stores the test perplexity of the run
func (r *Run) SetFinalPPL(ppl float64) error {
	if _, err := r.store.db.Exec("UPDATE runs SET final_ppl = ? WHERE id = ?", nullable(ppl), r.id); err != nil {
		return fmt.Errorf("run %d: failed to set final perplexity: %w", r.id, err)
	}
	return nil
}

// Runs lists stored runs, oldest first
func (s *Store) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query("SELECT id, name, started_at, config, final_ppl FROM runs ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var (
			info      RunInfo
			startedAt int64
			config    sql.NullString
			finalPPL  sql.NullFloat64
		)
		if err := rows.Scan(&info.ID, &info.Name, &startedAt, &config, &finalPPL); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		info.StartedAt = time.Unix(0, startedAt)
		info.Config = config.String
		if finalPPL.Valid {
			v := finalPPL.Float64
			info.FinalPPL = &v
		}
		runs = append(runs, info)
	}
	return runs, rows.Err()
}

// Epochs returns the epoch history of a run in epoch order. Values that were
// not finite when logged come back as NaN.
func (s *Store) Epochs(runID int64) ([]EpochRecord, error) {
	rows, err := s.db.Query(
		"SELECT epoch, train_loss, dev_loss, dev_ppl FROM epochs WHERE run_id = ? ORDER BY epoch ASC", runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epochs of run %d: %w", runID, err)
	}
	defer rows.Close()

	var records []EpochRecord
	for rows.Next() {
		var (
			rec                    EpochRecord
			trainLoss, devLoss, pp sql.NullFloat64
		)
		if err := rows.Scan(&rec.Epoch, &trainLoss, &devLoss, &pp); err != nil {
			return nil, fmt.Errorf("failed to scan epoch: %w", err)
		}
		rec.TrainLoss = orNaN(trainLoss)
		rec.DevLoss = orNaN(devLoss)
		rec.DevPPL = orNaN(pp)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// BestRun returns the finished run with the lowest final perplexity
func (s *Store) BestRun() (*RunInfo, error) {
	runs, err := s.Runs()
	if err != nil {
		return nil, err
	}
	var best *RunInfo
	for i := range runs {
		if runs[i].FinalPPL == nil {
			continue
		}
		if best == nil || *runs[i].FinalPPL < *best.FinalPPL {
			best = &runs[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("no finished runs")
	}
	return best, nil
}

// SQLite has no representation for NaN or infinities
func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
