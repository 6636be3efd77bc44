// Package memory implements the project-scoped memory store for tinyMem.
//
// It uses SQLite with FTS5 full-text search. Every read and write takes an
// explicit project ID; no query crosses project scopes.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/daverage/tinymem/internal/evidence"
	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds memory store configuration.
type Config struct {
	DataDir          string
	DBName           string
	MaxDetailLength  int
	MaxSearchResults int
	MaxRecentResults int
}

// DefaultConfig returns the default configuration for a store kept in dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:          dataDir,
		DBName:           "store.sqlite3",
		MaxDetailLength:  8000,
		MaxSearchResults: 50,
		MaxRecentResults: 10,
	}
}

// EvidenceChecker evaluates predicates. *evidence.Engine satisfies it.
type EvidenceChecker interface {
	Evaluate(ctx context.Context, refs []evidence.Ref) evidence.Report
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the persistent memory engine backed by SQLite + FTS5.
// Writes are serialised; reads run concurrently under WAL.
type Store struct {
	db    *sql.DB
	cfg   Config
	path  string
	mu    sync.Mutex
	hooks storeHooks
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

type sqlRowScanner struct {
	rows *sql.Rows
}

func (r sqlRowScanner) Next() bool             { return r.rows.Next() }
func (r sqlRowScanner) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r sqlRowScanner) Err() error             { return r.rows.Err() }
func (r sqlRowScanner) Close() error           { return r.rows.Close() }

type storeHooks struct {
	exec    func(db execer, query string, args ...any) (sql.Result, error)
	queryIt func(db queryer, query string, args ...any) (rowScanner, error)
	beginTx func(db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(db, query, args...)
	}
	return db.Exec(query, args...)
}

func (s *Store) queryItHook(db queryer, query string, args ...any) (rowScanner, error) {
	if s.hooks.queryIt != nil {
		return s.hooks.queryIt(db, query, args...)
	}
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRowScanner{rows: rows}, nil
}

func (s *Store) beginTxHook() (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(s.db)
	}
	return s.db.Begin()
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New creates a new Store with the given configuration.
// It creates the data directory if needed, opens SQLite with WAL mode,
// and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.DBName == "" {
		cfg.DBName = "store.sqlite3"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("memory: create data dir: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, cfg.DBName)
	// Per-connection settings go in the DSN so every pooled connection gets them.
	db, err := openDB("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}

	// SQLite performance pragmas
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("memory: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg, path: dbPath}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("memory: migration: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS memories (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id  TEXT    NOT NULL,
			type        TEXT    NOT NULL,
			summary     TEXT    NOT NULL,
			detail      TEXT    NOT NULL DEFAULT '',
			source      TEXT,
			truth_state TEXT    NOT NULL,
			embedding   BLOB,
			created_at  TEXT    NOT NULL,
			updated_at  TEXT    NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mem_project ON memories(project_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_mem_type    ON memories(project_id, type);

		CREATE TABLE IF NOT EXISTS memory_evidence (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_id     INTEGER NOT NULL,
			kind          TEXT    NOT NULL,
			target        TEXT    NOT NULL,
			expected_exit INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT    NOT NULL,
			FOREIGN KEY (memory_id) REFERENCES memories(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_evidence_memory ON memory_evidence(memory_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
			summary,
			detail,
			type,
			content='memories',
			content_rowid='id'
		);

		CREATE TABLE IF NOT EXISTS cove_stats (
			project_id           TEXT PRIMARY KEY,
			candidates_evaluated INTEGER NOT NULL DEFAULT 0,
			candidates_discarded INTEGER NOT NULL DEFAULT 0,
			confidence_sum       REAL    NOT NULL DEFAULT 0,
			confidence_count     INTEGER NOT NULL DEFAULT 0,
			cove_errors          INTEGER NOT NULL DEFAULT 0,
			last_updated         TEXT    NOT NULL
		);
	`
	if _, err := s.execHook(s.db, schema); err != nil {
		return err
	}

	// Create FTS triggers (idempotent)
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='trigger' AND name='mem_fts_insert'",
	).Scan(&name)

	if errors.Is(err, sql.ErrNoRows) {
		triggers := `
			CREATE TRIGGER mem_fts_insert AFTER INSERT ON memories BEGIN
				INSERT INTO memories_fts(rowid, summary, detail, type)
				VALUES (new.id, new.summary, new.detail, new.type);
			END;

			CREATE TRIGGER mem_fts_delete AFTER DELETE ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, summary, detail, type)
				VALUES ('delete', old.id, old.summary, old.detail, old.type);
			END;

			CREATE TRIGGER mem_fts_update AFTER UPDATE OF type, summary, detail ON memories BEGIN
				INSERT INTO memories_fts(memories_fts, rowid, summary, detail, type)
				VALUES ('delete', old.id, old.summary, old.detail, old.type);
				INSERT INTO memories_fts(rowid, summary, detail, type)
				VALUES (new.id, new.summary, new.detail, new.type);
			END;
		`
		if _, err := s.execHook(s.db, triggers); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return nil
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Write stores a new non-fact record. Facts are rejected with
// ErrDirectFactCreation; they must go through CreateFactWithEvidence.
func (s *Store) Write(projectID string, p WriteParams) (*Memory, error) {
	if err := validateWrite(projectID, p); err != nil {
		return nil, err
	}
	if p.Type == Fact {
		return nil, ErrDirectFactCreation
	}
	return s.insert(projectID, p, nil)
}

// CreateFactWithEvidence stores a fact after checking that every predicate
// currently holds.
func (s *Store) CreateFactWithEvidence(ctx context.Context, projectID string, p WriteParams, refs []evidence.Ref, checker EvidenceChecker) (*Memory, error) {
	p.Type = Fact
	if err := validateWrite(projectID, p); err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, ErrEvidenceRequired
	}
	report := checker.Evaluate(ctx, refs)
	if !report.AllSatisfied {
		return nil, &EvidenceError{Report: report}
	}
	return s.insert(projectID, p, refs)
}

// PromoteToFact turns an existing record into a verified fact once every
// predicate holds. Promoting a fact again is a no-op.
func (s *Store) PromoteToFact(ctx context.Context, projectID string, id int64, refs []evidence.Ref, checker EvidenceChecker) (*Memory, error) {
	m, err := s.Get(projectID, id)
	if err != nil {
		return nil, err
	}
	if m.Type == Fact {
		return m, nil
	}
	if len(refs) == 0 {
		return nil, ErrEvidenceRequired
	}
	report := checker.Evaluate(ctx, refs)
	if !report.AllSatisfied {
		return nil, &EvidenceError{Report: report}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("memory: begin promote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := Now()
	if _, err := s.execHook(tx,
		`UPDATE memories SET type = ?, truth_state = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
		string(Fact), string(Verified), now, id, projectID,
	); err != nil {
		return nil, fmt.Errorf("memory: promote: %w", err)
	}
	if err := s.insertEvidence(tx, id, refs, now); err != nil {
		return nil, err
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("memory: commit promote: %w", err)
	}

	m.Type = Fact
	m.TruthState = Verified
	m.UpdatedAt = now
	m.Evidence = append(m.Evidence, refs...)
	return m, nil
}

func validateWrite(projectID string, p WriteParams) error {
	if strings.TrimSpace(projectID) == "" {
		return &ValidationError{Field: "project_id", Message: "project scope is required"}
	}
	if !p.Type.IsValid() {
		return invalidType(p.Type)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return &ValidationError{Field: "summary", Message: "summary is required"}
	}
	return nil
}

func (s *Store) insert(projectID string, p WriteParams, refs []evidence.Ref) (*Memory, error) {
	detail := p.Detail
	if r := []rune(detail); s.cfg.MaxDetailLength > 0 && len(r) > s.cfg.MaxDetailLength {
		detail = string(r[:s.cfg.MaxDetailLength]) + "... [truncated]"
	}
	m := &Memory{
		ProjectID:  projectID,
		Type:       p.Type,
		Summary:    strings.TrimSpace(p.Summary),
		Detail:     detail,
		Source:     p.Source,
		TruthState: DefaultTruthState(p.Type),
		Evidence:   refs,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.beginTxHook()
	if err != nil {
		return nil, fmt.Errorf("memory: begin write: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	m.CreatedAt = Now()
	m.UpdatedAt = m.CreatedAt
	res, err := s.execHook(tx,
		`INSERT INTO memories (project_id, type, summary, detail, source, truth_state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ProjectID, string(m.Type), m.Summary, m.Detail, nullableString(m.Source),
		string(m.TruthState), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: insert: %w", err)
	}
	if m.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("memory: insert id: %w", err)
	}
	if err := s.insertEvidence(tx, m.ID, refs, m.CreatedAt); err != nil {
		return nil, err
	}
	if err := s.commitHook(tx); err != nil {
		return nil, fmt.Errorf("memory: commit write: %w", err)
	}
	return m, nil
}

func (s *Store) insertEvidence(tx *sql.Tx, memoryID int64, refs []evidence.Ref, now string) error {
	for _, ref := range refs {
		if _, err := s.execHook(tx,
			`INSERT INTO memory_evidence (memory_id, kind, target, expected_exit, created_at) VALUES (?, ?, ?, ?, ?)`,
			memoryID, string(ref.Kind), ref.Target, ref.ExpectedExit, now,
		); err != nil {
			return fmt.Errorf("memory: insert evidence: %w", err)
		}
	}
	return nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

const memoryColumns = `m.id, m.project_id, m.type, m.summary, m.detail, m.source, m.truth_state, m.created_at, m.updated_at`

// Get returns one record from the project.
func (s *Store) Get(projectID string, id int64) (*Memory, error) {
	list, err := s.queryMemories(
		`SELECT `+memoryColumns+` FROM memories m WHERE m.id = ? AND m.project_id = ?`,
		id, projectID,
	)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return &list[0], nil
}

// GetMany returns the listed records that belong to the project, ordered by ID.
func (s *Store) GetMany(projectID string, ids []int64) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := []any{projectID}
	for _, id := range ids {
		args = append(args, id)
	}
	return s.queryMemories(
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE m.project_id = ? AND m.id IN (`+placeholders(len(ids))+`)
		 ORDER BY m.id`,
		args...,
	)
}

// Recent returns the newest records first.
func (s *Store) Recent(projectID string, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = s.cfg.MaxRecentResults
	}
	return s.queryMemories(
		`SELECT `+memoryColumns+` FROM memories m
		 WHERE m.project_id = ?
		 ORDER BY m.created_at DESC, m.id DESC
		 LIMIT ?`,
		projectID, limit,
	)
}

// Count returns the number of records in the project.
func (s *Store) Count(projectID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE project_id = ?`, projectID).Scan(&n)
	return n, err
}

// ─── Search (FTS5) ───────────────────────────────────────────────────────────

// Search performs full-text search over summary and detail. Any query term
// may match. An empty query falls back to the most recent records.
func (s *Store) Search(projectID, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 || limit > s.cfg.MaxSearchResults {
		limit = s.cfg.MaxSearchResults
	}

	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		recent, err := s.Recent(projectID, limit)
		if err != nil {
			return nil, fmt.Errorf("search recent: %w", err)
		}
		results := make([]SearchResult, len(recent))
		for i, m := range recent {
			results[i] = SearchResult{Memory: m}
		}
		return results, nil
	}

	rows, err := s.queryItHook(s.db,
		`SELECT `+memoryColumns+`, fts.rank
		 FROM memories_fts fts
		 JOIN memories m ON m.id = fts.rowid
		 WHERE memories_fts MATCH ? AND m.project_id = ?
		 ORDER BY fts.rank, m.id DESC
		 LIMIT ?`,
		ftsQuery, projectID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		var sr SearchResult
		var source sql.NullString
		if err := rows.Scan(
			&sr.ID, &sr.ProjectID, &sr.Type, &sr.Summary, &sr.Detail, &source,
			&sr.TruthState, &sr.CreatedAt, &sr.UpdatedAt, &sr.Rank,
		); err != nil {
			return nil, err
		}
		sr.Source = source.String
		results = append(results, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	byID, err := s.loadEvidence(searchIDs(results))
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Evidence = byID[results[i].ID]
	}
	return results, nil
}

// ─── Embeddings ──────────────────────────────────────────────────────────────

// SetEmbedding attaches a vector to a record in the project.
func (s *Store) SetEmbedding(projectID string, id int64, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.execHook(s.db,
		`UPDATE memories SET embedding = ? WHERE id = ? AND project_id = ?`,
		encodeVector(vec), id, projectID,
	)
	if err != nil {
		return fmt.Errorf("memory: set embedding: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Embeddings returns every stored vector in the project, ordered by ID.
func (s *Store) Embeddings(projectID string) ([]Embedded, error) {
	rows, err := s.queryItHook(s.db,
		`SELECT id, embedding FROM memories WHERE project_id = ? AND embedding IS NOT NULL ORDER BY id`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Embedded
	for rows.Next() {
		var e Embedded
		var blob []byte
		if err := rows.Scan(&e.ID, &blob); err != nil {
			return nil, err
		}
		if e.Vector = decodeVector(blob); e.Vector != nil {
			out = append(out, e)
		}
	}
	return out, rows.Err()
}

// ─── Stats ───────────────────────────────────────────────────────────────────

// Stats returns per-type counts for the project.
func (s *Store) Stats(projectID string) (*Stats, error) {
	stats := &Stats{ByType: make(map[Type]int)}

	rows, err := s.queryItHook(s.db,
		`SELECT type, COUNT(*) FROM memories WHERE project_id = ? GROUP BY type ORDER BY type`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: stats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		stats.ByType[Type(t)] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	stats.Facts = stats.ByType[Fact]

	var last sql.NullString
	_ = s.db.QueryRow(`SELECT MAX(created_at) FROM memories WHERE project_id = ?`, projectID).Scan(&last)
	stats.Last = last.String
	return stats, nil
}

// FactsWithoutEvidence counts facts that have no stored predicate.
func (s *Store) FactsWithoutEvidence(projectID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM memories m
		 WHERE m.project_id = ? AND m.type = ?
		   AND NOT EXISTS (SELECT 1 FROM memory_evidence e WHERE e.memory_id = m.id)`,
		projectID, string(Fact),
	).Scan(&n)
	return n, err
}

// ─── Health ──────────────────────────────────────────────────────────────────

// HealthCheck probes the database. Failures are reported in the result.
func (s *Store) HealthCheck() Health {
	var h Health
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Connectivity = true

	rows, err := s.queryItHook(s.db, `SELECT COUNT(*) FROM memories`)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer func() { _ = rows.Close() }()
	if rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			h.Error = err.Error()
			return h
		}
	}
	if err := rows.Err(); err != nil {
		h.Error = err.Error()
		return h
	}
	h.QueryOK = true
	return h
}

// ─── CoVe Stats ──────────────────────────────────────────────────────────────

// RecordCoVeStats adds one verification run to the project's counters.
// confidences holds the scores returned in confidence mode, if any.
func (s *Store) RecordCoVeStats(projectID string, evaluated, discarded int, confidences []float64, failed bool) error {
	var sum float64
	for _, c := range confidences {
		sum += c
	}
	errCount := 0
	if failed {
		errCount = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.execHook(s.db,
		`INSERT INTO cove_stats (project_id, candidates_evaluated, candidates_discarded, confidence_sum, confidence_count, cove_errors, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET
		     candidates_evaluated = candidates_evaluated + excluded.candidates_evaluated,
		     candidates_discarded = candidates_discarded + excluded.candidates_discarded,
		     confidence_sum       = confidence_sum + excluded.confidence_sum,
		     confidence_count     = confidence_count + excluded.confidence_count,
		     cove_errors          = cove_errors + excluded.cove_errors,
		     last_updated         = excluded.last_updated`,
		projectID, evaluated, discarded, sum, len(confidences), errCount, Now(),
	)
	if err != nil {
		return fmt.Errorf("memory: record cove stats: %w", err)
	}
	return nil
}

// CoVeStats loads the project's verification counters. A project with no
// runs yet gets zero values.
func (s *Store) CoVeStats(projectID string) (*CoVeStats, error) {
	var st CoVeStats
	var sum float64
	var count int
	err := s.db.QueryRow(
		`SELECT candidates_evaluated, candidates_discarded, confidence_sum, confidence_count, cove_errors, last_updated
		 FROM cove_stats WHERE project_id = ?`, projectID,
	).Scan(&st.Evaluated, &st.Discarded, &sum, &count, &st.Errors, &st.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("memory: cove stats: %w", err)
	}
	if count > 0 {
		st.AvgConfidence = sum / float64(count)
	}
	return &st, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Store) queryMemories(query string, args ...any) ([]Memory, error) {
	rows, err := s.queryItHook(s.db, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []Memory
	for rows.Next() {
		var m Memory
		var source sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ProjectID, &m.Type, &m.Summary, &m.Detail, &source,
			&m.TruthState, &m.CreatedAt, &m.UpdatedAt,
		); err != nil {
			return nil, err
		}
		m.Source = source.String
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]int64, len(results))
	for i := range results {
		ids[i] = results[i].ID
	}
	byID, err := s.loadEvidence(ids)
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Evidence = byID[results[i].ID]
	}
	return results, nil
}

func (s *Store) loadEvidence(ids []int64) (map[int64][]evidence.Ref, error) {
	out := make(map[int64][]evidence.Ref)
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.queryItHook(s.db,
		`SELECT memory_id, kind, target, expected_exit FROM memory_evidence
		 WHERE memory_id IN (`+placeholders(len(ids))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("memory: load evidence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var ref evidence.Ref
		var kind string
		if err := rows.Scan(&id, &kind, &ref.Target, &ref.ExpectedExit); err != nil {
			return nil, err
		}
		ref.Kind = evidence.Kind(kind)
		out[id] = append(out[id], ref)
	}
	return out, rows.Err()
}

func searchIDs(results []SearchResult) []int64 {
	ids := make([]int64, len(results))
	for i := range results {
		ids[i] = results[i].ID
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Truncate shortens a string to max runes with ellipsis.
func Truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

// sanitizeFTS quotes each word for safe FTS5 queries and ORs them together.
// "fix auth bug" → `"fix" OR "auth" OR "bug"`
func sanitizeFTS(query string) string {
	words := strings.Fields(query)
	out := words[:0]
	for _, w := range words {
		w = strings.ReplaceAll(w, `"`, "")
		if w == "" {
			continue
		}
		out = append(out, `"`+w+`"`)
	}
	return strings.Join(out, " OR ")
}

// Now returns the current time formatted for SQLite with microsecond
// precision, so text ordering matches creation order.
func Now() string {
	return time.Now().UTC().Format("2006-01-02 15:04:05.000000")
}
