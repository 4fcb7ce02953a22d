package app

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"

	"sketchdeck/api/internal/store"
)

// shareRegistry upserts on (resource, subject) like the shares table does.
type shareRegistry struct {
	mu     sync.Mutex
	shares []store.Share
}

func (reg *shareRegistry) wire(fs *fakeStore) {
	fs.upsertShareFn = func(_ context.Context, share store.Share) (string, error) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		for i, existing := range reg.shares {
			if existing.ResourceType == share.ResourceType &&
				existing.ResourceID == share.ResourceID &&
				existing.SubjectID == share.SubjectID {
				share.ID = existing.ID
				reg.shares[i] = share
				return existing.ID, nil
			}
		}
		reg.shares = append(reg.shares, share)
		return share.ID, nil
	}
	fs.deleteShareFn = func(_ context.Context, resourceType, resourceID, subjectID string) error {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		kept := reg.shares[:0]
		for _, share := range reg.shares {
			if share.ResourceType == resourceType && share.ResourceID == resourceID && share.SubjectID == subjectID {
				continue
			}
			kept = append(kept, share)
		}
		reg.shares = kept
		return nil
	}
	fs.listSharesFn = func(_ context.Context, resourceType, resourceID string) ([]store.Share, error) {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		var out []store.Share
		for _, share := range reg.shares {
			if share.ResourceType == resourceType && share.ResourceID == resourceID {
				out = append(out, share)
			}
		}
		return out, nil
	}
}

func sharesFixture() (*fakeStore, *shareRegistry) {
	reg := &shareRegistry{}
	fs := &fakeStore{
		getDiagramFn: func(_ context.Context, diagramID string) (store.Diagram, error) {
			if diagramID != "dgm_1" {
				return store.Diagram{}, sql.ErrNoRows
			}
			return store.Diagram{ID: "dgm_1", OwnerID: "usr_owner"}, nil
		},
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			if folderID != "fld_1" {
				return store.Folder{}, sql.ErrNoRows
			}
			return store.Folder{ID: "fld_1", OwnerID: "usr_owner"}, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			switch userID {
			case "usr_owner":
				return store.User{ID: userID, DisplayName: "Avery"}, nil
			case "usr_marcus":
				return store.User{ID: userID, Email: "marcus@example.com", Username: "marcus", DisplayName: "Marcus K."}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		findUserByIdentifierFn: func(_ context.Context, identifier string) (store.User, error) {
			if identifier == "marcus@example.com" || identifier == "marcus" {
				return store.User{ID: "usr_marcus", Email: "marcus@example.com", Username: "marcus", DisplayName: "Marcus K."}, nil
			}
			return store.User{}, sql.ErrNoRows
		},
	}
	reg.wire(fs)
	return fs, reg
}

func TestGrantShareByEmail(t *testing.T) {
	fs, reg := sharesFixture()
	svc := newTestService(fs)

	share, err := svc.GrantShare(context.Background(), "usr_owner", store.ResourceDiagram, "dgm_1", "marcus@example.com", "viewer")
	if err != nil {
		t.Fatalf("GrantShare() error = %v", err)
	}
	if share.SubjectID != "usr_marcus" || share.Role != "viewer" {
		t.Fatalf("unexpected share: %+v", share)
	}
	if len(reg.shares) != 1 {
		t.Fatalf("registry holds %d shares, want 1", len(reg.shares))
	}
}

func TestGrantShareUpsertsRole(t *testing.T) {
	fs, reg := sharesFixture()
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.GrantShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "marcus", "viewer"); err != nil {
		t.Fatalf("first grant error = %v", err)
	}
	if _, err := svc.GrantShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "usr_marcus", "editor"); err != nil {
		t.Fatalf("regrant error = %v", err)
	}

	if len(reg.shares) != 1 {
		t.Fatalf("regrant must replace, not duplicate: %d shares", len(reg.shares))
	}
	if reg.shares[0].Role != "editor" {
		t.Fatalf("role = %s, want the latest grant's editor", reg.shares[0].Role)
	}
}

func TestGrantShareUnknownSubject(t *testing.T) {
	fs, _ := sharesFixture()
	svc := newTestService(fs)

	_, err := svc.GrantShare(context.Background(), "usr_owner", store.ResourceDiagram, "dgm_1", "ghost@example.com", "viewer")
	assertDomainCode(t, err, "SUBJECT_NOT_FOUND")
}

func TestGrantShareToOwnerRejected(t *testing.T) {
	fs, _ := sharesFixture()
	fs.getUserByIDFn = func(_ context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, DisplayName: "Avery"}, nil
	}
	svc := newTestService(fs)

	_, err := svc.GrantShare(context.Background(), "usr_owner", store.ResourceDiagram, "dgm_1", "usr_owner", "editor")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestGrantShareInvalidRole(t *testing.T) {
	fs, _ := sharesFixture()
	svc := newTestService(fs)

	_, err := svc.GrantShare(context.Background(), "usr_owner", store.ResourceDiagram, "dgm_1", "marcus", "admin")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestGrantShareRequiresSharePermission(t *testing.T) {
	fs, _ := sharesFixture()
	fs.getShareRoleFn = func(_ context.Context, _, _, subjectID string) (string, bool, error) {
		if subjectID == "usr_editor" {
			return "editor", true, nil
		}
		return "", false, nil
	}
	svc := newTestService(fs)

	_, err := svc.GrantShare(context.Background(), "usr_editor", store.ResourceDiagram, "dgm_1", "marcus", "viewer")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestGrantShareDelegateMayShare(t *testing.T) {
	fs, _ := sharesFixture()
	fs.getShareRoleFn = func(_ context.Context, _, _, subjectID string) (string, bool, error) {
		if subjectID == "usr_delegate" {
			return "delegate", true, nil
		}
		return "", false, nil
	}
	svc := newTestService(fs)

	if _, err := svc.GrantShare(context.Background(), "usr_delegate", store.ResourceDiagram, "dgm_1", "marcus", "viewer"); err != nil {
		t.Fatalf("delegate should be able to share: %v", err)
	}
}

func TestGrantShareOnFolder(t *testing.T) {
	fs, reg := sharesFixture()
	svc := newTestService(fs)

	share, err := svc.GrantShare(context.Background(), "usr_owner", store.ResourceFolder, "fld_1", "marcus", "editor")
	if err != nil {
		t.Fatalf("GrantShare(folder) error = %v", err)
	}
	if share.ResourceType != store.ResourceFolder {
		t.Fatalf("resource type = %s", share.ResourceType)
	}
	if len(reg.shares) != 1 {
		t.Fatalf("registry holds %d shares, want 1", len(reg.shares))
	}
}

func TestGrantShareBadResourceType(t *testing.T) {
	fs, _ := sharesFixture()
	svc := newTestService(fs)

	_, err := svc.GrantShare(context.Background(), "usr_owner", "workspace", "dgm_1", "marcus", "viewer")
	assertDomainCode(t, err, "VALIDATION_ERROR")
}

func TestRevokeShareIdempotent(t *testing.T) {
	fs, reg := sharesFixture()
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.GrantShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "marcus", "viewer"); err != nil {
		t.Fatalf("grant error = %v", err)
	}
	if err := svc.RevokeShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "usr_marcus"); err != nil {
		t.Fatalf("revoke error = %v", err)
	}
	if len(reg.shares) != 0 {
		t.Fatalf("share not removed: %v", reg.shares)
	}

	// Revoking again, or revoking a grant that never existed, is a no-op.
	if err := svc.RevokeShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "usr_marcus"); err != nil {
		t.Fatalf("second revoke should be a no-op, got %v", err)
	}
	if err := svc.RevokeShare(ctx, "usr_owner", store.ResourceDiagram, "dgm_1", "usr_never"); err != nil {
		t.Fatalf("revoking an absent grant should be a no-op, got %v", err)
	}
}

func TestResolveSubjectsTrimsQuery(t *testing.T) {
	var gotQuery string
	fs := &fakeStore{
		searchUsersFn: func(_ context.Context, query string, limit int) ([]store.User, error) {
			gotQuery = query
			return []store.User{{ID: "usr_1"}}, nil
		},
	}
	svc := newTestService(fs)

	users, err := svc.ResolveSubjects(context.Background(), "  marcus  ")
	if err != nil {
		t.Fatalf("ResolveSubjects() error = %v", err)
	}
	if gotQuery != "marcus" {
		t.Fatalf("query = %q, want trimmed", gotQuery)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}

	users, err = svc.ResolveSubjects(context.Background(), strings.Repeat(" ", 3))
	if err != nil {
		t.Fatalf("blank query error = %v", err)
	}
	if len(users) != 0 {
		t.Fatal("blank query should return no users without hitting the store")
	}
}
