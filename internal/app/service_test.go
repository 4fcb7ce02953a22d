package app

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"sketchdeck/api/internal/config"
	"sketchdeck/api/internal/store"
)

type fakeStore struct {
	createUserFn              func(context.Context, store.User) error
	getUserByIDFn             func(context.Context, string) (store.User, error)
	getUserByEmailFn          func(context.Context, string) (store.User, error)
	findUserByIdentifierFn    func(context.Context, string) (store.User, error)
	searchUsersFn             func(context.Context, string, int) ([]store.User, error)
	countUsersFn              func(context.Context) (int, error)
	insertDiagramFn           func(context.Context, store.Diagram) error
	getDiagramFn              func(context.Context, string) (store.Diagram, error)
	listAccessibleDiagramsFn  func(context.Context, string) ([]store.Diagram, error)
	listDiagramsInFolderFn    func(context.Context, string) ([]store.Diagram, error)
	saveDiagramContentFn      func(context.Context, string, int64, []byte, string, string) (bool, error)
	moveDiagramFn             func(context.Context, string, *string) error
	renameDiagramFn           func(context.Context, string, string) error
	deleteDiagramFn           func(context.Context, string) error
	insertFolderFn            func(context.Context, store.Folder) error
	getFolderFn               func(context.Context, string) (store.Folder, error)
	listChildFoldersFn        func(context.Context, string, *string) ([]store.Folder, error)
	moveFolderFn              func(context.Context, string, *string) (bool, error)
	countFolderChildrenFn     func(context.Context, string) (int, int, error)
	reparentFolderChildrenFn  func(context.Context, string, *string) error
	deleteFolderFn            func(context.Context, string) error
	deleteFolderSubtreeFn     func(context.Context, string) error
	upsertShareFn             func(context.Context, store.Share) (string, error)
	deleteShareFn             func(context.Context, string, string, string) error
	listSharesFn              func(context.Context, string, string) ([]store.Share, error)
	getShareRoleFn            func(context.Context, string, string, string) (string, bool, error)
	listInheritedShareRolesFn func(context.Context, string, string) ([]string, error)
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: userID}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, emailAddr string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, emailAddr)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) FindUserByIdentifier(ctx context.Context, identifier string) (store.User, error) {
	if f.findUserByIdentifierFn != nil {
		return f.findUserByIdentifierFn(ctx, identifier)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) SearchUsers(ctx context.Context, query string, limit int) ([]store.User, error) {
	if f.searchUsersFn != nil {
		return f.searchUsersFn(ctx, query, limit)
	}
	return nil, nil
}
func (f *fakeStore) CountUsers(ctx context.Context) (int, error) {
	if f.countUsersFn != nil {
		return f.countUsersFn(ctx)
	}
	return 0, nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error { return nil }
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) InsertDiagram(ctx context.Context, item store.Diagram) error {
	if f.insertDiagramFn != nil {
		return f.insertDiagramFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetDiagram(ctx context.Context, diagramID string) (store.Diagram, error) {
	if f.getDiagramFn != nil {
		return f.getDiagramFn(ctx, diagramID)
	}
	return store.Diagram{}, sql.ErrNoRows
}
func (f *fakeStore) ListAccessibleDiagrams(ctx context.Context, actorID string) ([]store.Diagram, error) {
	if f.listAccessibleDiagramsFn != nil {
		return f.listAccessibleDiagramsFn(ctx, actorID)
	}
	return nil, nil
}
func (f *fakeStore) ListDiagramsInFolder(ctx context.Context, folderID string) ([]store.Diagram, error) {
	if f.listDiagramsInFolderFn != nil {
		return f.listDiagramsInFolderFn(ctx, folderID)
	}
	return nil, nil
}
func (f *fakeStore) SaveDiagramContent(ctx context.Context, diagramID string, expectedVersion int64, content []byte, encoding, updatedBy string) (bool, error) {
	if f.saveDiagramContentFn != nil {
		return f.saveDiagramContentFn(ctx, diagramID, expectedVersion, content, encoding, updatedBy)
	}
	return false, nil
}
func (f *fakeStore) MoveDiagram(ctx context.Context, diagramID string, folderID *string) error {
	if f.moveDiagramFn != nil {
		return f.moveDiagramFn(ctx, diagramID, folderID)
	}
	return nil
}
func (f *fakeStore) RenameDiagram(ctx context.Context, diagramID, title string) error {
	if f.renameDiagramFn != nil {
		return f.renameDiagramFn(ctx, diagramID, title)
	}
	return nil
}
func (f *fakeStore) DeleteDiagram(ctx context.Context, diagramID string) error {
	if f.deleteDiagramFn != nil {
		return f.deleteDiagramFn(ctx, diagramID)
	}
	return nil
}
func (f *fakeStore) InsertFolder(ctx context.Context, item store.Folder) error {
	if f.insertFolderFn != nil {
		return f.insertFolderFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetFolder(ctx context.Context, folderID string) (store.Folder, error) {
	if f.getFolderFn != nil {
		return f.getFolderFn(ctx, folderID)
	}
	return store.Folder{}, sql.ErrNoRows
}
func (f *fakeStore) ListChildFolders(ctx context.Context, ownerID string, parentID *string) ([]store.Folder, error) {
	if f.listChildFoldersFn != nil {
		return f.listChildFoldersFn(ctx, ownerID, parentID)
	}
	return nil, nil
}
func (f *fakeStore) MoveFolder(ctx context.Context, folderID string, newParentID *string) (bool, error) {
	if f.moveFolderFn != nil {
		return f.moveFolderFn(ctx, folderID, newParentID)
	}
	return true, nil
}
func (f *fakeStore) CountFolderChildren(ctx context.Context, folderID string) (int, int, error) {
	if f.countFolderChildrenFn != nil {
		return f.countFolderChildrenFn(ctx, folderID)
	}
	return 0, 0, nil
}
func (f *fakeStore) ReparentFolderChildren(ctx context.Context, folderID string, newParentID *string) error {
	if f.reparentFolderChildrenFn != nil {
		return f.reparentFolderChildrenFn(ctx, folderID, newParentID)
	}
	return nil
}
func (f *fakeStore) DeleteFolder(ctx context.Context, folderID string) error {
	if f.deleteFolderFn != nil {
		return f.deleteFolderFn(ctx, folderID)
	}
	return nil
}
func (f *fakeStore) DeleteFolderSubtree(ctx context.Context, folderID string) error {
	if f.deleteFolderSubtreeFn != nil {
		return f.deleteFolderSubtreeFn(ctx, folderID)
	}
	return nil
}
func (f *fakeStore) UpsertShare(ctx context.Context, share store.Share) (string, error) {
	if f.upsertShareFn != nil {
		return f.upsertShareFn(ctx, share)
	}
	return share.ID, nil
}
func (f *fakeStore) DeleteShare(ctx context.Context, resourceType, resourceID, subjectID string) error {
	if f.deleteShareFn != nil {
		return f.deleteShareFn(ctx, resourceType, resourceID, subjectID)
	}
	return nil
}
func (f *fakeStore) ListShares(ctx context.Context, resourceType, resourceID string) ([]store.Share, error) {
	if f.listSharesFn != nil {
		return f.listSharesFn(ctx, resourceType, resourceID)
	}
	return nil, nil
}
func (f *fakeStore) GetShareRole(ctx context.Context, resourceType, resourceID, subjectID string) (string, bool, error) {
	if f.getShareRoleFn != nil {
		return f.getShareRoleFn(ctx, resourceType, resourceID, subjectID)
	}
	return "", false, nil
}
func (f *fakeStore) ListInheritedShareRoles(ctx context.Context, folderID, subjectID string) ([]string, error) {
	if f.listInheritedShareRolesFn != nil {
		return f.listInheritedShareRolesFn(ctx, folderID, subjectID)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Minute,
			RefreshTTL:  time.Hour,
		},
		store:    fs,
		sessions: fs,
	}
}

func strptr(value string) *string {
	return &value
}

func TestCreateDiagramDefaults(t *testing.T) {
	var inserted store.Diagram
	fs := &fakeStore{
		insertDiagramFn: func(_ context.Context, item store.Diagram) error {
			inserted = item
			return nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery"}, nil
		},
	}
	svc := newTestService(fs)

	diagram, err := svc.CreateDiagram(context.Background(), "usr_owner", "  ", nil, nil, "")
	if err != nil {
		t.Fatalf("CreateDiagram() error = %v", err)
	}
	if diagram.Title != "Untitled Diagram" {
		t.Fatalf("blank title should default, got %q", diagram.Title)
	}
	if diagram.Version != 1 {
		t.Fatalf("new diagrams start at version 1, got %d", diagram.Version)
	}
	if diagram.Encoding != "json" {
		t.Fatalf("encoding should default to json, got %q", diagram.Encoding)
	}
	if inserted.OwnerID != "usr_owner" || inserted.UpdatedBy != "Avery" {
		t.Fatalf("unexpected insert: %+v", inserted)
	}
}

func TestCreateDiagramInForeignFolderDenied(t *testing.T) {
	fs := &fakeStore{
		getFolderFn: func(_ context.Context, folderID string) (store.Folder, error) {
			return store.Folder{ID: folderID, OwnerID: "usr_other"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateDiagram(context.Background(), "usr_actor", "Flow", strptr("fld_1"), nil, "json")
	assertDomainCode(t, err, "FORBIDDEN")
}

func TestSessionRoundTrip(t *testing.T) {
	fs := &fakeStore{
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			return store.User{ID: userID, DisplayName: "Avery"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "usr_1")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatal("session missing tokens")
	}

	parsed, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if parsed.UserID != "usr_1" || parsed.UserName != "Avery" {
		t.Fatalf("unexpected session: %+v", parsed)
	}
}

func assertDomainCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	domainErr, ok := err.(*DomainError)
	if !ok {
		t.Fatalf("expected DomainError, got %T: %v", err, err)
	}
	if domainErr.Code != code {
		t.Fatalf("error code = %s, want %s", domainErr.Code, code)
	}
}
