package memory_test

import (
	"context"
	"testing"

	"github.com/daverage/tinymem/internal/evidence"
	"github.com/daverage/tinymem/internal/memory"
)

func TestSchema_Pragmas(t *testing.T) {
	s := newTestStore(t)
	db := s.DB()

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
}

// ftsCount returns how many FTS rows match q for the given memory.
func ftsCount(t *testing.T, s *memory.Store, id int64, q string) int {
	t.Helper()
	var n int
	err := s.DB().QueryRow(
		"SELECT COUNT(*) FROM memories_fts WHERE memories_fts MATCH ? AND rowid = ?", q, id,
	).Scan(&n)
	if err != nil {
		t.Fatalf("fts query %q: %v", q, err)
	}
	return n
}

func TestSchema_FTSFollowsInsertUpdateDelete(t *testing.T) {
	s := newTestStore(t)
	m := mustWrite(t, s, testProject, memory.Claim, "Migrations run on boot", "goose applies pending files")

	if got := ftsCount(t, s, m.ID, `"goose"`); got != 1 {
		t.Fatalf("after insert: %d rows match goose", got)
	}
	if got := ftsCount(t, s, m.ID, `"claim"`); got != 1 {
		t.Fatalf("type column should be indexed, got %d", got)
	}

	// Promotion rewrites the type column; the update trigger must reindex it.
	checker := &stubChecker{ok: true}
	refs := []evidence.Ref{{Kind: evidence.KindFileExists, Target: "go.mod"}}
	if _, err := s.PromoteToFact(context.Background(), testProject, m.ID, refs, checker); err != nil {
		t.Fatalf("PromoteToFact: %v", err)
	}
	if got := ftsCount(t, s, m.ID, `"claim"`); got != 0 {
		t.Errorf("stale type still indexed after promotion: %d", got)
	}
	if got := ftsCount(t, s, m.ID, `"fact"`); got != 1 {
		t.Errorf("new type not indexed after promotion: %d", got)
	}

	if _, err := s.DB().Exec("DELETE FROM memories WHERE id = ?", m.ID); err != nil {
		t.Fatal(err)
	}
	if got := ftsCount(t, s, m.ID, `"goose"`); got != 0 {
		t.Errorf("after delete: %d rows still match", got)
	}
	var ev int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM memory_evidence WHERE memory_id = ?", m.ID).Scan(&ev); err != nil {
		t.Fatal(err)
	}
	if ev != 0 {
		t.Errorf("evidence rows not cascaded: %d", ev)
	}
}

func TestSchema_SanitizedQueriesNeverError(t *testing.T) {
	s := newTestStore(t)
	mustWrite(t, s, testProject, memory.Note, "hello world test data", "")

	hostile := []string{
		`fix auth bug`,
		`hello*`,
		`"hello world"`,
		`hello OR world`,
		`NEAR(hello world)`,
		`col:value`,
		`-hello`,
		`(unbalanced`,
		`"`,
		`^start`,
	}
	for _, q := range hostile {
		t.Run(q, func(t *testing.T) {
			fts := memory.SanitizeFTS(q)
			if fts == "" {
				return
			}
			rows, err := s.DB().Query("SELECT rowid FROM memories_fts WHERE memories_fts MATCH ?", fts)
			if err != nil {
				t.Fatalf("sanitized %q as %q, MATCH failed: %v", q, fts, err)
			}
			rows.Close()
			if _, err := s.Search(testProject, q, 10); err != nil {
				t.Errorf("Search(%q): %v", q, err)
			}
		})
	}
}
