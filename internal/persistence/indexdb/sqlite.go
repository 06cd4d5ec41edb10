package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voxelmarch.ai/internal/persistence/bufferfile"
	"voxelmarch.ai/internal/sim/scene"
	"voxelmarch.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index over exports and edits. Writes
// are queued to a single writer goroutine and batched into transactions;
// the JSONL edit log and the export files remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqExport
	reqFlush
)

type req struct {
	kind reqKind

	edit   scene.EditEntry
	export ExportRow
	done   chan struct{}
}

type ExportRow struct {
	ID        string
	Revision  uint64
	Path      string
	LogExtent int
	Nodes     int
	Words     int
	SHA256    string
	CreatedAt time.Time
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
		ch: make(chan req, 16384),
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
		`CREATE TABLE IF NOT EXISTS exports (
			id TEXT PRIMARY KEY,
			revision INTEGER NOT NULL,
			path TEXT NOT NULL,
			log_extent INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			words INTEGER NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_exports_revision ON exports(revision);`,
		`CREATE TABLE IF NOT EXISTS edits (
			revision INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			actor TEXT,
			x INTEGER, y INTEGER, z INTEGER,
			ex INTEGER, ey INTEGER, ez INTEGER,
			value INTEGER,
			log_extent INTEGER NOT NULL,
			nodes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_actor ON edits(actor, revision);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

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

// Dropped counts writes discarded because the queue was full.
func (s *SQLiteIndex) Dropped() uint64 { return s.dropped.Load() }

func (s *SQLiteIndex) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		s.dropped.Add(1)
	}
}

// WriteEdit lets the index sit behind scene.EditLogger.
func (s *SQLiteIndex) WriteEdit(e scene.EditEntry) error {
	s.enqueue(req{kind: reqEdit, edit: e})
	return nil
}

// RecordExport indexes a written buffer file and returns its id.
func (s *SQLiteIndex) RecordExport(path string, h bufferfile.Header) string {
	id := uuid.NewString()
	s.enqueue(req{kind: reqExport, export: ExportRow{
		ID:        id,
		Revision:  h.Revision,
		Path:      path,
		LogExtent: h.LogExtent,
		Nodes:     h.Nodes,
		Words:     h.Words(),
		SHA256:    h.SHA256,
		CreatedAt: time.Now().UTC(),
	}})
	return id
}

// Flush waits until everything queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertTuning stores the tuning in effect, for later inspection.
func (s *SQLiteIndex) UpsertTuning(tune tuning.Tuning) error {
	b, err := json.Marshal(tune)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('tuning',?)`, string(b)); err != nil {
		return err
	}
	return tx.Commit()
}

// LatestExport returns the indexed export with the highest revision.
func (s *SQLiteIndex) LatestExport(ctx context.Context) (ExportRow, bool, error) {
	var r ExportRow
	var created string
	err := s.db.QueryRowContext(ctx, `SELECT id,revision,path,log_extent,nodes,words,sha256,created_at
		FROM exports ORDER BY revision DESC, created_at DESC LIMIT 1`).
		Scan(&r.ID, &r.Revision, &r.Path, &r.LogExtent, &r.Nodes, &r.Words, &r.SHA256, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, err
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return r, true, nil
}

// EditCount returns how many edits an actor made; an empty actor counts all.
func (s *SQLiteIndex) EditCount(ctx context.Context, actor string) (int, error) {
	var n int
	var err error
	if actor == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edits`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edits WHERE actor=?`, actor).Scan(&n)
	}
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(revision,kind,actor,x,y,z,ex,ey,ez,value,log_extent,nodes,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertExport, _ := s.db.Prepare(`INSERT OR REPLACE INTO exports(id,revision,path,log_extent,nodes,words,sha256,created_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if insertExport != nil {
			_ = insertExport.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
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
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEdit:
			if insertEdit == nil {
				break
			}
			e := r.edit
			raw, _ := json.Marshal(e)
			var off, ext [3]any
			var val any
			if e.Offset != nil {
				off = [3]any{e.Offset[0], e.Offset[1], e.Offset[2]}
			}
			if e.Extent != nil {
				ext = [3]any{e.Extent[0], e.Extent[1], e.Extent[2]}
			}
			if e.Value != nil {
				val = int64(*e.Value)
			}
			if _, err := tx.Stmt(insertEdit).Exec(
				int64(e.Revision), e.Kind, e.Actor,
				off[0], off[1], off[2],
				ext[0], ext[1], ext[2],
				val, e.LogExtent, e.Nodes, string(raw),
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqExport:
			if insertExport == nil {
				break
			}
			x := r.export
			if _, err := tx.Stmt(insertExport).Exec(
				x.ID, int64(x.Revision), x.Path, x.LogExtent, x.Nodes, x.Words, x.SHA256,
				x.CreatedAt.Format(time.RFC3339Nano),
			); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery {
			commit()
		}
	}
}
