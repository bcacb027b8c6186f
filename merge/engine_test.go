package merge_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jacentio/graft/merge"
	"github.com/jacentio/graft/relation"
)

var (
	booksRel  = relation.Relationship{OwnerType: "author", Name: "Books", DependentType: "book", BackRef: "author_id"}
	essaysRel = relation.Relationship{OwnerType: "author", Name: "Essays", DependentType: "essay", BackRef: "author_id"}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine() *merge.Engine {
	reg := relation.NewRegistry().MustRegister(booksRel, essaysRel)
	return merge.New(reg, quietLogger())
}

// fixture builds two authors; the source owns three books and two essays.
func fixture() (*fakeSession, *node, *node, []*node, []*node) {
	sess := newFakeSession()
	src := &node{kind: "author", id: "src"}
	dst := &node{kind: "author", id: "dst"}

	books := []*node{{kind: "book", id: "b1"}, {kind: "book", id: "b2"}, {kind: "book", id: "b3"}}
	essays := []*node{{kind: "essay", id: "e1"}, {kind: "essay", id: "e2"}}

	sess.add(src, booksRel, books[0], books[1], books[2])
	sess.add(src, essaysRel, essays[0], essays[1])
	sess.add(dst, booksRel)
	sess.add(dst, essaysRel)
	return sess, src, dst, books, essays
}

func TestNew_Defaults(t *testing.T) {
	if merge.New(nil, nil) == nil {
		t.Fatal("expected non-nil Engine")
	}
}

func TestMerge_ReparentsEveryDependentExactlyOnce(t *testing.T) {
	sess, src, dst, books, _ := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{
		Relationships:  []string{"Books"},
		PreserveSource: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	counts := reparentCounts(sess.reparented)
	if len(counts) != 3 {
		t.Fatalf("expected 3 distinct dependents re-parented, got %d", len(counts))
	}
	for _, b := range books {
		if counts[b.EntityRef()] != 1 {
			t.Errorf("expected %s re-parented once, got %d", b.EntityRef(), counts[b.EntityRef()])
		}
	}
	for _, r := range sess.reparented {
		if r.owner != dst.EntityRef() {
			t.Errorf("expected owner %q, got %q", dst.EntityRef(), r.owner)
		}
		if r.backRef != "author_id" {
			t.Errorf("expected back-reference 'author_id', got %q", r.backRef)
		}
	}
	if report.Reparented["Books"] != 3 {
		t.Errorf("expected 3 books in report, got %d", report.Reparented["Books"])
	}
}

func TestMerge_PreserveSource(t *testing.T) {
	sess, src, dst, _, _ := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{
		Relationships:  []string{"Books"},
		PreserveSource: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sess.deleted) != 0 {
		t.Errorf("expected nothing deleted, got %v", sess.deleted)
	}
	if sess.commits != 1 {
		t.Errorf("expected 1 commit, got %d", sess.commits)
	}
	if !report.Committed {
		t.Error("expected report to be committed")
	}
}

func TestMerge_DeletesSourceAndUnmergedDependents(t *testing.T) {
	sess, src, dst, books, essays := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{
		Relationships: []string{"Books"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !contains(sess.deleted, src.EntityRef()) {
		t.Error("expected source to be deleted")
	}
	for _, e := range essays {
		if !contains(sess.deleted, e.EntityRef()) {
			t.Errorf("expected unmerged %s to be deleted", e.EntityRef())
		}
	}
	for _, b := range books {
		if contains(sess.deleted, b.EntityRef()) {
			t.Errorf("expected merged %s to survive", b.EntityRef())
		}
	}
	if report.Deleted != 3 {
		t.Errorf("expected 3 deletions (2 essays + source), got %d", report.Deleted)
	}
}

func TestMerge_SparesMovedDependentsWithoutFixup(t *testing.T) {
	sess, src, dst, books, _ := fixture()
	sess.fixup = false

	_, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, b := range books {
		if contains(sess.deleted, b.EntityRef()) {
			t.Errorf("expected moved %s not to be deleted", b.EntityRef())
		}
	}
	if len(sess.deleted) != 1 || sess.deleted[0] != src.EntityRef() {
		t.Errorf("expected only the source deleted, got %v", sess.deleted)
	}
}

func TestMerge_AutoDiscoversRelationships(t *testing.T) {
	sess, src, dst, _, _ := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Reparented["Books"] != 3 || report.Reparented["Essays"] != 2 {
		t.Errorf("expected 3 books and 2 essays, got %v", report.Reparented)
	}
	if report.Total() != 5 {
		t.Errorf("expected total 5, got %d", report.Total())
	}
	if report.Deleted != 1 {
		t.Errorf("expected only the source deleted, got %d", report.Deleted)
	}
}

func TestMerge_UnresolvableNameIsIgnored(t *testing.T) {
	withBogus, src, dst, _, _ := fixture()
	plain, src2, dst2, _, _ := fixture()
	engine := newEngine()

	r1, err := engine.Merge(context.Background(), withBogus, src, dst, merge.MergeOptions{
		Relationships:  []string{"Books", "Nonexistent"},
		PreserveSource: true,
	})
	if err != nil {
		t.Fatalf("unexpected error with bogus name: %v", err)
	}
	r2, err := engine.Merge(context.Background(), plain, src2, dst2, merge.MergeOptions{
		Relationships:  []string{"Books"},
		PreserveSource: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(withBogus.reparented) != len(plain.reparented) {
		t.Errorf("expected identical re-parent counts, got %d and %d", len(withBogus.reparented), len(plain.reparented))
	}
	if r1.Total() != r2.Total() {
		t.Errorf("expected identical totals, got %d and %d", r1.Total(), r2.Total())
	}
	if len(r1.Skipped) != 1 || r1.Skipped[0] != "Nonexistent" {
		t.Errorf("expected Skipped [Nonexistent], got %v", r1.Skipped)
	}
}

func TestMerge_EmptyRelationshipListMergesNothing(t *testing.T) {
	sess, src, dst, _, _ := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{
		Relationships: []string{},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(sess.reparented) != 0 {
		t.Errorf("expected nothing re-parented, got %d", len(sess.reparented))
	}
	// 3 books + 2 essays + source
	if report.Deleted != 6 {
		t.Errorf("expected 6 deletions, got %d", report.Deleted)
	}
}

func TestMerge_SkipCommit(t *testing.T) {
	sess, src, dst, _, _ := fixture()

	report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{SkipCommit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.commits != 0 {
		t.Errorf("expected no commit, got %d", sess.commits)
	}
	if report.Committed {
		t.Error("expected report not to be committed")
	}
}

func TestMerge_LoadsUnloadedCollectionsOnce(t *testing.T) {
	sess, src, dst, _, _ := fixture()
	books := sess.collections[src.EntityRef()+"/Books"]

	if _, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if books.loads != 1 {
		t.Errorf("expected Books loaded once, got %d", books.loads)
	}
}

func TestMerge_InvalidPairs(t *testing.T) {
	a := &node{kind: "author", id: "a"}
	b := &node{kind: "author", id: "b"}
	book := &node{kind: "book", id: "x"}

	tests := []struct {
		name string
		src  merge.Entity
		dst  merge.Entity
	}{
		{"nil source", nil, b},
		{"nil destination", a, nil},
		{"typed nil source", (*node)(nil), b},
		{"typed nil destination", a, (*node)(nil)},
		{"type mismatch", a, book},
		{"same entity", a, &node{kind: "author", id: "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := newFakeSession()
			_, err := newEngine().Merge(context.Background(), sess, tt.src, tt.dst, merge.MergeOptions{})
			if !errors.Is(err, merge.ErrInvalidMerge) {
				t.Errorf("expected ErrInvalidMerge, got %v", err)
			}
			if sess.commits != 0 {
				t.Error("expected no commit on invalid merge")
			}
		})
	}
}

func TestMerge_NilSession(t *testing.T) {
	_, err := newEngine().Merge(context.Background(), nil, &node{kind: "a", id: "1"}, &node{kind: "a", id: "2"}, merge.MergeOptions{})
	if !errors.Is(err, merge.ErrNilSession) {
		t.Errorf("expected ErrNilSession, got %v", err)
	}
}

func TestMerge_StoreFaultsPropagate(t *testing.T) {
	fault := errors.New("connection reset")

	tests := []struct {
		name   string
		inject func(*fakeSession)
	}{
		{"resolve", func(s *fakeSession) { s.resolveErr = fault }},
		{"load", func(s *fakeSession) {
			for _, c := range s.collections {
				c.loadErr = fault
			}
		}},
		{"set back reference", func(s *fakeSession) { s.setErr = fault }},
		{"mark deleted", func(s *fakeSession) { s.deleteErr = fault }},
		{"commit", func(s *fakeSession) { s.commitErr = fault }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, src, dst, _, _ := fixture()
			tt.inject(sess)

			report, err := newEngine().Merge(context.Background(), sess, src, dst, merge.MergeOptions{})
			if !errors.Is(err, fault) {
				t.Errorf("expected wrapped fault, got %v", err)
			}
			if report != nil {
				t.Error("expected nil report on failure")
			}
			if sess.commits != 0 {
				t.Error("expected no successful commit")
			}
		})
	}
}

func TestDelete_OneLevelDeep(t *testing.T) {
	sess := newFakeSession()
	author := &node{kind: "author", id: "a1"}
	book := &node{kind: "book", id: "b1"}
	chapter := &node{kind: "chapter", id: "c1"}

	chaptersRel := relation.Relationship{OwnerType: "book", Name: "Chapters", DependentType: "chapter", BackRef: "book_id"}
	sess.add(author, booksRel, book)
	sess.add(book, chaptersRel, chapter)

	reg := relation.NewRegistry().MustRegister(booksRel, chaptersRel)
	report, err := merge.New(reg, quietLogger()).Delete(context.Background(), sess, author, merge.DeleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !contains(sess.deleted, author.EntityRef()) || !contains(sess.deleted, book.EntityRef()) {
		t.Errorf("expected author and book deleted, got %v", sess.deleted)
	}
	if contains(sess.deleted, chapter.EntityRef()) {
		t.Error("expected chapter (dependent of dependent) to be untouched")
	}
	if report.Deleted != 2 {
		t.Errorf("expected 2 deletions, got %d", report.Deleted)
	}
	if sess.commits != 0 || report.Committed {
		t.Error("expected Delete not to commit by default")
	}
}

func TestDelete_Commit(t *testing.T) {
	sess, src, _, _, _ := fixture()

	report, err := newEngine().Delete(context.Background(), sess, src, merge.DeleteOptions{Commit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sess.commits != 1 || !report.Committed {
		t.Error("expected Delete to commit when asked")
	}
	if report.Deleted != 6 {
		t.Errorf("expected 6 deletions, got %d", report.Deleted)
	}
}

func TestDelete_SkipsStructuralFalsePositives(t *testing.T) {
	type shelf struct {
		node
		Labels []string
		Books  []*node
	}
	sess := newFakeSession()
	s := &shelf{node: node{kind: "shelf", id: "s1"}}
	sess.add(s, relation.Relationship{OwnerType: "shelf", Name: "Books", DependentType: "book", BackRef: "shelf"},
		&node{kind: "book", id: "b1"})

	report, err := merge.New(relation.StructDiscoverer{}, quietLogger()).Delete(context.Background(), sess, s, merge.DeleteOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(report.Skipped) != 1 || report.Skipped[0] != "Labels" {
		t.Errorf("expected Skipped [Labels], got %v", report.Skipped)
	}
	if report.Deleted != 2 {
		t.Errorf("expected book and shelf deleted, got %d", report.Deleted)
	}
}

func TestDelete_Errors(t *testing.T) {
	if _, err := newEngine().Delete(context.Background(), nil, &node{kind: "a", id: "1"}, merge.DeleteOptions{}); !errors.Is(err, merge.ErrNilSession) {
		t.Errorf("expected ErrNilSession, got %v", err)
	}
	if _, err := newEngine().Delete(context.Background(), newFakeSession(), nil, merge.DeleteOptions{}); !errors.Is(err, merge.ErrNilEntity) {
		t.Errorf("expected ErrNilEntity, got %v", err)
	}
	if _, err := newEngine().Delete(context.Background(), newFakeSession(), (*node)(nil), merge.DeleteOptions{}); !errors.Is(err, merge.ErrNilEntity) {
		t.Errorf("expected ErrNilEntity for typed nil, got %v", err)
	}

	fault := errors.New("commit conflict")
	sess, src, _, _, _ := fixture()
	sess.commitErr = fault
	if _, err := newEngine().Delete(context.Background(), sess, src, merge.DeleteOptions{Commit: true}); !errors.Is(err, fault) {
		t.Errorf("expected wrapped commit fault, got %v", err)
	}
}

func TestReport_IDsAreUnique(t *testing.T) {
	engine := newEngine()
	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		sess, src, dst, _, _ := fixture()
		report, err := engine.Merge(context.Background(), sess, src, dst, merge.MergeOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.ID == "" || seen[report.ID] {
			t.Errorf("expected unique non-empty report ID, got %q", report.ID)
		}
		seen[report.ID] = true
		if report.Operation != merge.OperationMerge {
			t.Errorf("expected operation %q, got %q", merge.OperationMerge, report.Operation)
		}
	}
}

func TestMerge_LogsOperationAndID(t *testing.T) {
	var buf bytes.Buffer
	reg := relation.NewRegistry().MustRegister(booksRel, essaysRel)
	engine := merge.New(reg, slog.New(slog.NewJSONHandler(&buf, nil)))
	sess, src, dst, _, _ := fixture()

	report, err := engine.Merge(context.Background(), sess, src, dst, merge.MergeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if line["op"] != merge.OperationMerge {
		t.Errorf("expected op=%q, got %v", merge.OperationMerge, line["op"])
	}
	if line["id"] != report.ID {
		t.Errorf("expected id=%q, got %v", report.ID, line["id"])
	}
}
