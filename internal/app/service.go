package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"sketchdeck/api/internal/auth"
	"sketchdeck/api/internal/authpw"
	"sketchdeck/api/internal/config"
	"sketchdeck/api/internal/email"
	"sketchdeck/api/internal/rbac"
	"sketchdeck/api/internal/search"
	"sketchdeck/api/internal/store"
	"sketchdeck/api/internal/thumbs"
	"sketchdeck/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	FindUserByIdentifier(context.Context, string) (store.User, error)
	SearchUsers(context.Context, string, int) ([]store.User, error)
	CountUsers(context.Context) (int, error)

	InsertDiagram(context.Context, store.Diagram) error
	GetDiagram(context.Context, string) (store.Diagram, error)
	ListAccessibleDiagrams(context.Context, string) ([]store.Diagram, error)
	ListDiagramsInFolder(context.Context, string) ([]store.Diagram, error)
	SaveDiagramContent(context.Context, string, int64, []byte, string, string) (bool, error)
	MoveDiagram(context.Context, string, *string) error
	RenameDiagram(context.Context, string, string) error
	DeleteDiagram(context.Context, string) error

	InsertFolder(context.Context, store.Folder) error
	GetFolder(context.Context, string) (store.Folder, error)
	ListChildFolders(context.Context, string, *string) ([]store.Folder, error)
	MoveFolder(context.Context, string, *string) (bool, error)
	CountFolderChildren(context.Context, string) (int, int, error)
	ReparentFolderChildren(context.Context, string, *string) error
	DeleteFolder(context.Context, string) error
	DeleteFolderSubtree(context.Context, string) error

	UpsertShare(context.Context, store.Share) (string, error)
	DeleteShare(context.Context, string, string, string) error
	ListShares(context.Context, string, string) ([]store.Share, error)
	GetShareRole(context.Context, string, string, string) (string, bool, error)
	ListInheritedShareRoles(context.Context, string, string) ([]string, error)

	Ping(ctx context.Context) error
}

// refreshStore holds refresh sessions. Redis when configured, otherwise the
// primary store's refresh_sessions table.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	authpw   *authpw.Service
	search   *search.Service
	thumbs   *thumbs.Service
	email    *email.Service
}

func New(cfg config.Config, pg *store.PostgresStore) *Service {
	return &Service{
		cfg:      cfg,
		store:    pg,
		sessions: pg,
		authpw:   authpw.NewService(pg),
	}
}

// UseSessionStore routes refresh sessions through Redis instead of Postgres.
func (s *Service) UseSessionStore(sessions refreshStore) {
	s.sessions = sessions
}

func (s *Service) UseSearch(sv *search.Service) {
	s.search = sv
}

func (s *Service) UseThumbnails(sv *thumbs.Service) {
	s.thumbs = sv
}

func (s *Service) UseEmail(sv *email.Service) {
	s.email = sv
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds a demo workspace on an empty database.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	avery, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       "avery@example.com",
		Username:    "avery",
		Password:    "sketchdeck-demo",
		DisplayName: "Avery",
	})
	if err != nil {
		return err
	}
	marcus, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:       "marcus@example.com",
		Username:    "marcus",
		Password:    "sketchdeck-demo",
		DisplayName: "Marcus K.",
	})
	if err != nil {
		return err
	}

	designs := store.Folder{ID: util.NewID("fld"), OwnerID: avery.ID, Name: "Designs"}
	if err := s.store.InsertFolder(ctx, designs); err != nil {
		return err
	}
	onboarding := store.Folder{ID: util.NewID("fld"), OwnerID: avery.ID, ParentID: &designs.ID, Name: "Onboarding Flows"}
	if err := s.store.InsertFolder(ctx, onboarding); err != nil {
		return err
	}

	seeds := []store.Diagram{
		{
			ID:       util.NewID("dgm"),
			OwnerID:  avery.ID,
			FolderID: &onboarding.ID,
			Title:    "Signup Flow v2",
			Content:  []byte(`{"nodes":[],"edges":[]}`),
			Encoding: "json",
		},
		{
			ID:       util.NewID("dgm"),
			OwnerID:  avery.ID,
			Title:    "Service Topology",
			Content:  []byte(`{"nodes":[],"edges":[]}`),
			Encoding: "json",
		},
	}
	for _, seed := range seeds {
		seed.Version = 1
		seed.UpdatedBy = avery.DisplayName
		if err := s.store.InsertDiagram(ctx, seed); err != nil {
			return err
		}
	}

	if _, err := s.store.UpsertShare(ctx, store.Share{
		ID:           util.NewID("shr"),
		ResourceType: store.ResourceFolder,
		ResourceID:   designs.ID,
		SubjectID:    marcus.ID,
		Role:         string(rbac.RoleEditor),
		GrantedBy:    avery.ID,
	}); err != nil {
		return err
	}
	return nil
}

// CreateSession issues an access token plus a refresh token for a user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The session store may only carry the user ID; rehydrate the profile.
	if user.DisplayName == "" {
		if full, err := s.store.GetUserByID(ctx, user.ID); err == nil {
			user = full
		}
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	if refreshToken != "" {
		return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateDiagram creates a diagram owned by the actor. Placing it inside a
// folder requires write access to that folder.
func (s *Service) CreateDiagram(ctx context.Context, actorID, title string, folderID *string, content []byte, encoding string) (store.Diagram, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Untitled Diagram"
	}
	if encoding == "" {
		encoding = "json"
	}
	if len(content) == 0 {
		content = []byte(`{"nodes":[],"edges":[]}`)
	}

	if folderID != nil {
		allowed, err := s.authorizeFolder(ctx, actorID, *folderID, rbac.ActionWrite)
		if err != nil {
			return store.Diagram{}, err
		}
		if !allowed {
			return store.Diagram{}, errForbidden()
		}
	}

	actor, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		return store.Diagram{}, err
	}

	diagram := store.Diagram{
		ID:        util.NewID("dgm"),
		OwnerID:   actorID,
		FolderID:  folderID,
		Title:     title,
		Content:   content,
		Encoding:  encoding,
		Version:   1,
		UpdatedBy: actor.DisplayName,
	}
	if err := s.store.InsertDiagram(ctx, diagram); err != nil {
		return store.Diagram{}, err
	}
	s.reindexDiagram(ctx, diagram.ID)
	return diagram, nil
}

// GetDiagram returns a diagram the actor can read. Denied and missing
// diagrams produce the same error.
func (s *Service) GetDiagram(ctx context.Context, actorID, diagramID string) (store.Diagram, error) {
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Diagram{}, errForbidden()
	}
	if err != nil {
		return store.Diagram{}, err
	}
	allowed, err := s.authorizeDiagram(ctx, actorID, diagram, rbac.ActionRead)
	if err != nil {
		return store.Diagram{}, err
	}
	if !allowed {
		return store.Diagram{}, errForbidden()
	}
	return diagram, nil
}

func (s *Service) ListDiagrams(ctx context.Context, actorID string) ([]store.Diagram, error) {
	return s.store.ListAccessibleDiagrams(ctx, actorID)
}

// MoveDiagram moves a diagram into a folder (or to the root with nil).
// Only the owner can move a diagram, and the target folder must accept
// writes from the actor.
func (s *Service) MoveDiagram(ctx context.Context, actorID, diagramID string, folderID *string) error {
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return errForbidden()
	}
	if err != nil {
		return err
	}
	if diagram.OwnerID != actorID {
		return errForbidden()
	}
	if folderID != nil {
		allowed, err := s.authorizeFolder(ctx, actorID, *folderID, rbac.ActionWrite)
		if err != nil {
			return err
		}
		if !allowed {
			return errForbidden()
		}
	}
	return s.store.MoveDiagram(ctx, diagramID, folderID)
}

func (s *Service) RenameDiagram(ctx context.Context, actorID, diagramID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return errForbidden()
	}
	if err != nil {
		return err
	}
	allowed, err := s.authorizeDiagram(ctx, actorID, diagram, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if !allowed {
		return errForbidden()
	}
	if err := s.store.RenameDiagram(ctx, diagramID, title); err != nil {
		return err
	}
	s.reindexDiagram(ctx, diagramID)
	return nil
}

func (s *Service) DeleteDiagram(ctx context.Context, actorID, diagramID string) error {
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return errForbidden()
	}
	if err != nil {
		return err
	}
	allowed, err := s.authorizeDiagram(ctx, actorID, diagram, rbac.ActionDelete)
	if err != nil {
		return err
	}
	if !allowed {
		return errForbidden()
	}
	if err := s.store.DeleteDiagram(ctx, diagramID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.RemoveDiagram(diagramID)
	}
	if s.thumbs != nil {
		_ = s.thumbs.Delete(ctx, diagramID)
	}
	return nil
}

// SearchDiagrams runs a full-text search scoped to the actor's reachable set.
func (s *Service) SearchDiagrams(ctx context.Context, actorID, text string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(ctx, search.Query{
		Text:    text,
		ActorID: actorID,
		Limit:   limit,
		Offset:  offset,
	}), nil
}

// SaveThumbnail stores a rendered thumbnail for a diagram the actor can write.
func (s *Service) SaveThumbnail(ctx context.Context, actorID, diagramID string, png []byte) error {
	if s.thumbs == nil {
		return domainError(http.StatusServiceUnavailable, "THUMBNAILS_UNAVAILABLE", "Thumbnail storage not configured", nil)
	}
	allowed, err := s.Authorize(ctx, actorID, diagramID, rbac.ActionWrite)
	if err != nil {
		return err
	}
	if !allowed {
		return errForbidden()
	}
	return s.thumbs.Put(ctx, diagramID, png)
}

func (s *Service) GetThumbnail(ctx context.Context, actorID, diagramID string) ([]byte, error) {
	if s.thumbs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "THUMBNAILS_UNAVAILABLE", "Thumbnail storage not configured", nil)
	}
	allowed, err := s.Authorize(ctx, actorID, diagramID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errForbidden()
	}
	data, err := s.thumbs.Get(ctx, diagramID)
	if thumbs.IsNotFound(err) {
		return nil, sql.ErrNoRows
	}
	return data, err
}

// reindexDiagram rebuilds the diagram's search record, including the access
// list used for per-actor filtering.
func (s *Service) reindexDiagram(ctx context.Context, diagramID string) {
	if s.search == nil {
		return
	}
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if err != nil {
		return
	}
	shares, err := s.store.ListShares(ctx, store.ResourceDiagram, diagramID)
	if err != nil {
		return
	}
	accessIDs := make([]string, 0, len(shares)+1)
	accessIDs = append(accessIDs, diagram.OwnerID)
	for _, share := range shares {
		accessIDs = append(accessIDs, share.SubjectID)
	}
	record := search.DiagramRecord{
		ID:        diagram.ID,
		Title:     diagram.Title,
		OwnerID:   diagram.OwnerID,
		AccessIDs: accessIDs,
	}
	if diagram.FolderID != nil {
		record.FolderID = *diagram.FolderID
	}
	s.search.IndexDiagram(record)
}

func errForbidden() *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}
