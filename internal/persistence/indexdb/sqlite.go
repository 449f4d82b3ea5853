package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// Check outcomes.
const (
	StatusPass  = "pass"
	StatusFail  = "fail"
	StatusError = "error"
	StatusSkip  = "skip"
)

// Run is one invocation of the conformance suite.
type Run struct {
	ID        string
	Target    string
	Seed      uint64
	StartedAt time.Time
}

// CheckResult is the outcome of one named check within a run.
type CheckResult struct {
	RunID     string
	Check     string
	Seed      uint64
	Status    string
	Detail    string
	TracePath string
	StartedAt time.Time
	Duration  time.Duration
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropRun   atomic.Uint64
	dropCheck atomic.Uint64
}

type Stats struct {
	DropRunTotal   uint64
	DropCheckTotal uint64
}

type reqKind int

const (
	reqRun reqKind = iota + 1
	reqCheck
)

type req struct {
	kind reqKind

	run   Run
	check CheckResult
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS configs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			body TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			target TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checks (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			seed INTEGER NOT NULL,
			status TEXT NOT NULL,
			detail TEXT,
			trace_path TEXT,
			started_at TEXT NOT NULL,
			started_ns INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL,
			PRIMARY KEY (run_id, name)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	// Indexes written before started_ns existed lack the column.
	has, err := hasColumn(db, "checks", "started_ns")
	if err != nil {
		return err
	}
	if !has {
		if _, err := db.Exec(`ALTER TABLE checks ADD COLUMN started_ns INTEGER NOT NULL DEFAULT 0;`); err != nil {
			return err
		}
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_checks_name_status_ns ON checks(name, status, started_ns);`)
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close drains pending writes and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropRunTotal:   s.dropRun.Load(),
		DropCheckTotal: s.dropCheck.Load(),
	}
}

func (s *SQLiteIndex) RecordRun(r Run) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
		s.dropRun.Add(1)
	}
}

func (s *SQLiteIndex) RecordCheck(c CheckResult) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCheck, check: c}:
	default:
		// Drop if the indexer falls behind; traces remain the source of truth.
		s.dropCheck.Add(1)
	}
}

// UpsertConfig stores the game config a run was checked against, keyed by
// name with a sha256 digest of its bytes.
func (s *SQLiteIndex) UpsertConfig(ctx context.Context, name string, body []byte) (string, error) {
	if s == nil {
		return "", nil
	}
	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO configs(name,digest,body,updated_at) VALUES(?,?,?,?)`,
		name, digest, string(body), now); err != nil {
		return "", err
	}
	return digest, tx.Commit()
}

// LastFailure returns the most recent failed result of check, so its seed
// can be replayed.
func (s *SQLiteIndex) LastFailure(ctx context.Context, check string) (CheckResult, bool, error) {
	var (
		c       CheckResult
		seed    int64
		started string
		durMs   int64
		detail  sql.NullString
		trace   sql.NullString
	)
	row := s.db.QueryRowContext(ctx, `SELECT run_id,name,seed,status,detail,trace_path,started_at,duration_ms
		FROM checks WHERE name=? AND status IN (?,?) ORDER BY started_ns DESC, rowid DESC LIMIT 1`, check, StatusFail, StatusError)
	err := row.Scan(&c.RunID, &c.Check, &seed, &c.Status, &detail, &trace, &started, &durMs)
	if errors.Is(err, sql.ErrNoRows) {
		return c, false, nil
	}
	if err != nil {
		return c, false, err
	}
	c.Seed = uint64(seed)
	c.Detail = detail.String
	c.TracePath = trace.String
	c.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	c.Duration = time.Duration(durMs) * time.Millisecond
	return c, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,target,seed,started_at) VALUES(?,?,?,?)`)
	insertCheck, _ := s.db.Prepare(`INSERT OR REPLACE INTO checks(run_id,name,seed,status,detail,trace_path,started_at,started_ns,duration_ms) VALUES(?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertRun != nil {
			_ = insertRun.Close()
		}
		if insertCheck != nil {
			_ = insertCheck.Close()
		}
	}()

	var tx *sql.Tx
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			if insertRun == nil {
				break
			}
			if _, err := tx.Stmt(insertRun).Exec(
				r.run.ID,
				r.run.Target,
				int64(r.run.Seed),
				r.run.StartedAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				rollback()
				continue
			}

		case reqCheck:
			c := r.check
			if insertCheck == nil {
				break
			}
			if _, err := tx.Stmt(insertCheck).Exec(
				c.RunID,
				c.Check,
				int64(c.Seed),
				c.Status,
				c.Detail,
				c.TracePath,
				c.StartedAt.UTC().Format(time.RFC3339Nano),
				c.StartedAt.UnixNano(),
				c.Duration.Milliseconds(),
			); err != nil {
				rollback()
				continue
			}
		}
		// Batch while a burst is queued; release the single connection
		// as soon as the queue is empty so readers are not starved.
		if len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
