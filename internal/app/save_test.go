package app

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	"sketchdeck/api/internal/store"
)

// casStore backs SaveDiagramContent with an in-memory compare-and-increment
// so concurrent savers contend on a real version counter.
type casStore struct {
	mu      sync.Mutex
	diagram store.Diagram
}

func newCASStore(diagram store.Diagram) *casStore {
	return &casStore{diagram: diagram}
}

func (c *casStore) wire(fs *fakeStore) {
	fs.getDiagramFn = func(_ context.Context, diagramID string) (store.Diagram, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if diagramID != c.diagram.ID {
			return store.Diagram{}, sql.ErrNoRows
		}
		return c.diagram, nil
	}
	fs.saveDiagramContentFn = func(_ context.Context, diagramID string, expectedVersion int64, content []byte, encoding, updatedBy string) (bool, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if diagramID != c.diagram.ID || c.diagram.Version != expectedVersion {
			return false, nil
		}
		c.diagram.Version++
		c.diagram.Content = content
		c.diagram.Encoding = encoding
		c.diagram.UpdatedBy = updatedBy
		return true, nil
	}
}

func TestSaveDiagramHappyPath(t *testing.T) {
	cas := newCASStore(store.Diagram{
		ID:       "dgm_1",
		OwnerID:  "usr_owner",
		Version:  3,
		Content:  []byte(`{"nodes":["a"]}`),
		Encoding: "json",
	})
	fs := &fakeStore{}
	cas.wire(fs)
	svc := newTestService(fs)

	result, err := svc.SaveDiagram(context.Background(), "usr_owner", "dgm_1", 3, []byte(`{"nodes":["a","b"]}`), "json")
	if err != nil {
		t.Fatalf("SaveDiagram() error = %v", err)
	}
	if result.Status != SaveStatusSaved {
		t.Fatalf("status = %s, want saved", result.Status)
	}
	if result.Version != 4 {
		t.Fatalf("version = %d, want 4", result.Version)
	}
}

func TestSaveDiagramStaleVersionConflicts(t *testing.T) {
	cas := newCASStore(store.Diagram{
		ID:        "dgm_1",
		OwnerID:   "usr_owner",
		Version:   5,
		Content:   []byte(`{"nodes":["server"]}`),
		Encoding:  "json",
		UpdatedBy: "Marcus K.",
	})
	fs := &fakeStore{}
	cas.wire(fs)
	svc := newTestService(fs)

	result, err := svc.SaveDiagram(context.Background(), "usr_owner", "dgm_1", 3, []byte(`{"nodes":["stale"]}`), "json")
	if err != nil {
		t.Fatalf("a stale save is a conflict result, not an error: %v", err)
	}
	if result.Status != SaveStatusConflict {
		t.Fatalf("status = %s, want conflict", result.Status)
	}
	if result.Version != 5 {
		t.Fatalf("conflict version = %d, want the server's 5", result.Version)
	}
	if !bytes.Equal(result.Content, []byte(`{"nodes":["server"]}`)) {
		t.Fatalf("conflict should carry the winner's content, got %s", result.Content)
	}
	if result.UpdatedBy != "Marcus K." {
		t.Fatalf("conflict updatedBy = %q, want the winner's author", result.UpdatedBy)
	}
}

func TestSaveDiagramConcurrentSaversExactlyOneWins(t *testing.T) {
	folderID := "fld_shared"
	cas := newCASStore(store.Diagram{
		ID:       "dgm_1",
		OwnerID:  "usr_a",
		FolderID: &folderID,
		Version:  3,
		Content:  []byte(`{"rev":"base"}`),
		Encoding: "json",
	})
	fs := &fakeStore{
		getShareRoleFn: func(_ context.Context, _, _, subjectID string) (string, bool, error) {
			if subjectID == "usr_b" || subjectID == "usr_c" {
				return "editor", true, nil
			}
			return "", false, nil
		},
	}
	cas.wire(fs)
	svc := newTestService(fs)

	const savers = 8
	actors := []string{"usr_a", "usr_b", "usr_c"}
	results := make([]SaveResult, savers)
	errs := make([]error, savers)

	var wg sync.WaitGroup
	for i := 0; i < savers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := actors[i%len(actors)]
			content := []byte(fmt.Sprintf(`{"rev":"saver-%d"}`, i))
			results[i], errs[i] = svc.SaveDiagram(context.Background(), actor, "dgm_1", 3, content, "json")
		}(i)
	}
	wg.Wait()

	saved := 0
	for i := 0; i < savers; i++ {
		if errs[i] != nil {
			t.Fatalf("saver %d errored: %v", i, errs[i])
		}
		switch results[i].Status {
		case SaveStatusSaved:
			saved++
			if results[i].Version != 4 {
				t.Fatalf("winner's version = %d, want 4", results[i].Version)
			}
		case SaveStatusConflict:
			if results[i].Version != 4 {
				t.Fatalf("loser %d saw version %d, want the winner's 4", i, results[i].Version)
			}
			if len(results[i].Content) == 0 {
				t.Fatalf("loser %d got no server content", i)
			}
		default:
			t.Fatalf("saver %d got unexpected status %s", i, results[i].Status)
		}
	}
	if saved != 1 {
		t.Fatalf("exactly one saver must win, got %d", saved)
	}

	cas.mu.Lock()
	defer cas.mu.Unlock()
	if cas.diagram.Version != 4 {
		t.Fatalf("stored version = %d, want 4", cas.diagram.Version)
	}
}

func TestSaveDiagramViewerForbidden(t *testing.T) {
	cas := newCASStore(store.Diagram{ID: "dgm_1", OwnerID: "usr_owner", Version: 1})
	fs := &fakeStore{
		getShareRoleFn: func(_ context.Context, _, _, subjectID string) (string, bool, error) {
			if subjectID == "usr_viewer" {
				return "viewer", true, nil
			}
			return "", false, nil
		},
	}
	cas.wire(fs)
	svc := newTestService(fs)

	_, err := svc.SaveDiagram(context.Background(), "usr_viewer", "dgm_1", 1, []byte(`{}`), "json")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestSaveDiagramMissingIsForbidden(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SaveDiagram(context.Background(), "usr_any", "dgm_ghost", 1, []byte(`{}`), "json")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestSaveDiagramRejectsBadVersion(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SaveDiagram(context.Background(), "usr_any", "dgm_1", 0, []byte(`{}`), "json")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestSaveDiagramStorageFailure(t *testing.T) {
	fs := &fakeStore{
		getDiagramFn: func(_ context.Context, diagramID string) (store.Diagram, error) {
			return store.Diagram{ID: diagramID, OwnerID: "usr_owner", Version: 1}, nil
		},
		saveDiagramContentFn: func(context.Context, string, int64, []byte, string, string) (bool, error) {
			return false, fmt.Errorf("connection refused")
		},
	}
	svc := newTestService(fs)

	_, err := svc.SaveDiagram(context.Background(), "usr_owner", "dgm_1", 1, []byte(`{}`), "json")
	assertDomainCode(t, err, "STORAGE_UNAVAILABLE")
}
