package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// =========================================================================
// Users
// =========================================================================

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, username, display_name, password_hash)
		VALUES ($1, LOWER($2), LOWER($3), $4, $5)
	`, user.ID, user.Email, user.Username, user.DisplayName, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Email, &user.Username, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE email=LOWER($1)
	`, email).Scan(&user.ID, &user.Email, &user.Username, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// FindUserByIdentifier resolves a share subject from an email address or a
// username. Returns sql.ErrNoRows when no actor matches.
func (s *PostgresStore) FindUserByIdentifier(ctx context.Context, identifier string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, username, display_name, password_hash, created_at, updated_at
		FROM users
		WHERE email=LOWER($1) OR username=LOWER($1)
		LIMIT 1
	`, identifier).Scan(&user.ID, &user.Email, &user.Username, &user.DisplayName, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, username, display_name, created_at, updated_at
		FROM users
		WHERE email ILIKE '%' || $1 || '%'
		   OR username ILIKE '%' || $1 || '%'
		   OR display_name ILIKE '%' || $1 || '%'
		ORDER BY username ASC
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Username, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// =========================================================================
// Refresh sessions (Postgres fallback when Redis is not configured)
// =========================================================================

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.username, u.display_name
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.Username, &user.DisplayName)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// =========================================================================
// Diagrams
// =========================================================================

func (s *PostgresStore) InsertDiagram(ctx context.Context, item Diagram) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diagrams (id, owner_id, folder_id, title, content, encoding, version, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.OwnerID, item.FolderID, item.Title, item.Content, item.Encoding, item.Version, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert diagram: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDiagram(ctx context.Context, diagramID string) (Diagram, error) {
	var item Diagram
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, folder_id, title, content, encoding, version, updated_by, created_at, updated_at
		FROM diagrams
		WHERE id=$1
	`, diagramID).Scan(
		&item.ID,
		&item.OwnerID,
		&item.FolderID,
		&item.Title,
		&item.Content,
		&item.Encoding,
		&item.Version,
		&item.UpdatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Diagram{}, err
	}
	return item, nil
}

// ListAccessibleDiagrams returns every diagram the actor owns, holds a direct
// share on, or inherits through a folder share anywhere up the tree. Content
// is omitted to keep dashboard responses light.
func (s *PostgresStore) ListAccessibleDiagrams(ctx context.Context, actorID string) ([]Diagram, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE shared_folders AS (
			SELECT s.resource_id AS id
			FROM shares s
			WHERE s.resource_type='folder' AND s.subject_id=$1
			UNION
			SELECT f.id
			FROM folders f
			JOIN shared_folders sf ON f.parent_id = sf.id
		)
		SELECT d.id, d.owner_id, d.folder_id, d.title, d.encoding, d.version, d.updated_by, d.created_at, d.updated_at
		FROM diagrams d
		WHERE d.owner_id=$1
		   OR EXISTS (
				SELECT 1 FROM shares s
				WHERE s.resource_type='diagram' AND s.resource_id=d.id AND s.subject_id=$1
		   )
		   OR d.folder_id IN (SELECT id FROM shared_folders)
		ORDER BY d.updated_at DESC
	`, actorID)
	if err != nil {
		return nil, fmt.Errorf("list accessible diagrams: %w", err)
	}
	defer rows.Close()

	items := make([]Diagram, 0)
	for rows.Next() {
		var item Diagram
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.FolderID,
			&item.Title,
			&item.Encoding,
			&item.Version,
			&item.UpdatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan diagram: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagrams: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDiagramsInFolder(ctx context.Context, folderID string) ([]Diagram, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, folder_id, title, encoding, version, updated_by, created_at, updated_at
		FROM diagrams
		WHERE folder_id=$1
		ORDER BY title ASC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list diagrams in folder: %w", err)
	}
	defer rows.Close()

	items := make([]Diagram, 0)
	for rows.Next() {
		var item Diagram
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.FolderID,
			&item.Title,
			&item.Encoding,
			&item.Version,
			&item.UpdatedBy,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan diagram: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagrams: %w", err)
	}
	return items, nil
}

// SaveDiagramContent is the optimistic-concurrency write behind autosave: a
// single conditional UPDATE keyed on (id, version). Two callers racing with
// the same expected version hit the same row lock; exactly one sees a row
// affected, the other reports false and the caller surfaces a conflict.
func (s *PostgresStore) SaveDiagramContent(ctx context.Context, diagramID string, expectedVersion int64, content []byte, encoding, updatedBy string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE diagrams
		SET content=$3, encoding=$4, version=version+1, updated_by=$5, updated_at=NOW()
		WHERE id=$1 AND version=$2
	`, diagramID, expectedVersion, content, encoding, updatedBy)
	if err != nil {
		return false, fmt.Errorf("save diagram content: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("save diagram content rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) MoveDiagram(ctx context.Context, diagramID string, folderID *string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE diagrams SET folder_id=$2, updated_at=NOW() WHERE id=$1`, diagramID, folderID)
	if err != nil {
		return fmt.Errorf("move diagram: %w", err)
	}
	return nil
}

func (s *PostgresStore) RenameDiagram(ctx context.Context, diagramID, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE diagrams SET title=$2, updated_at=NOW() WHERE id=$1`, diagramID, title)
	if err != nil {
		return fmt.Errorf("rename diagram: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteDiagram(ctx context.Context, diagramID string) error {
	// Share rows cascade via FK.
	_, err := s.db.ExecContext(ctx, `DELETE FROM diagrams WHERE id=$1`, diagramID)
	if err != nil {
		return fmt.Errorf("delete diagram: %w", err)
	}
	return nil
}

// =========================================================================
// Folders
// =========================================================================

func (s *PostgresStore) InsertFolder(ctx context.Context, item Folder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, owner_id, parent_id, name)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.OwnerID, item.ParentID, item.Name)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFolder(ctx context.Context, folderID string) (Folder, error) {
	var item Folder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, parent_id, name, created_at, updated_at
		FROM folders
		WHERE id=$1
	`, folderID).Scan(&item.ID, &item.OwnerID, &item.ParentID, &item.Name, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Folder{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListChildFolders(ctx context.Context, ownerID string, parentID *string) ([]Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, parent_id, name, created_at, updated_at
		FROM folders
		WHERE owner_id=$1 AND parent_id IS NOT DISTINCT FROM $2
		ORDER BY name ASC
	`, ownerID, parentID)
	if err != nil {
		return nil, fmt.Errorf("list child folders: %w", err)
	}
	defer rows.Close()

	items := make([]Folder, 0)
	for rows.Next() {
		var item Folder
		if err := rows.Scan(&item.ID, &item.OwnerID, &item.ParentID, &item.Name, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate folders: %w", err)
	}
	return items, nil
}

// MoveFolder re-parents a folder. The cycle guard is re-validated inside the
// UPDATE itself: the new parent must not sit in the folder's own subtree, so
// a concurrent move cannot slip a cycle past an earlier application check.
// Returns false when the guard (or a missing folder) prevented the move.
func (s *PostgresStore) MoveFolder(ctx context.Context, folderID string, newParentID *string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE folders
		SET parent_id=$2, updated_at=NOW()
		WHERE id=$1
		  AND ($2::text IS NULL OR $2 NOT IN (
			WITH RECURSIVE subtree AS (
				SELECT id FROM folders WHERE id=$1
				UNION ALL
				SELECT f.id FROM folders f JOIN subtree st ON f.parent_id = st.id
			)
			SELECT id FROM subtree
		  ))
	`, folderID, newParentID)
	if err != nil {
		return false, fmt.Errorf("move folder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("move folder rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) CountFolderChildren(ctx context.Context, folderID string) (folders int, diagrams int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM folders WHERE parent_id=$1`, folderID).Scan(&folders); err != nil {
		err = fmt.Errorf("count child folders: %w", err)
		return
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM diagrams WHERE folder_id=$1`, folderID).Scan(&diagrams); err != nil {
		err = fmt.Errorf("count child diagrams: %w", err)
		return
	}
	return
}

// ReparentFolderChildren moves a folder's direct children (folders and
// diagrams) to a new parent in one transaction, for the relocate cascade.
func (s *PostgresStore) ReparentFolderChildren(ctx context.Context, folderID string, newParentID *string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reparent tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE folders SET parent_id=$2, updated_at=NOW() WHERE parent_id=$1`, folderID, newParentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reparent child folders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE diagrams SET folder_id=$2, updated_at=NOW() WHERE folder_id=$1`, folderID, newParentID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("reparent child diagrams: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reparent tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFolder(ctx context.Context, folderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// DeleteFolderSubtree removes a folder, every descendant folder, and every
// diagram they contain, in one transaction. Destructive; the caller confirms.
func (s *PostgresStore) DeleteFolderSubtree(ctx context.Context, folderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin subtree delete tx: %w", err)
	}
	const subtree = `
		WITH RECURSIVE subtree AS (
			SELECT id FROM folders WHERE id=$1
			UNION ALL
			SELECT f.id FROM folders f JOIN subtree st ON f.parent_id = st.id
		)
		SELECT id FROM subtree
	`
	if _, err := tx.ExecContext(ctx, `DELETE FROM diagrams WHERE folder_id IN (`+subtree+`)`, folderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete subtree diagrams: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id IN (`+subtree+`) AND id <> $1`, folderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete subtree folders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM folders WHERE id=$1`, folderID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("delete subtree root: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subtree delete tx: %w", err)
	}
	return nil
}

// =========================================================================
// Shares
// =========================================================================

func (s *PostgresStore) UpsertShare(ctx context.Context, share Share) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO shares (id, resource_type, resource_id, subject_id, role, granted_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (resource_type, resource_id, subject_id)
		DO UPDATE SET role=EXCLUDED.role, granted_by=EXCLUDED.granted_by, granted_at=NOW()
		RETURNING id
	`, share.ID, share.ResourceType, share.ResourceID, share.SubjectID, share.Role, share.GrantedBy).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert share: %w", err)
	}
	return id, nil
}

// DeleteShare is idempotent: deleting a share that does not exist succeeds.
func (s *PostgresStore) DeleteShare(ctx context.Context, resourceType, resourceID, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM shares
		WHERE resource_type=$1 AND resource_id=$2 AND subject_id=$3
	`, resourceType, resourceID, subjectID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListShares(ctx context.Context, resourceType, resourceID string) ([]Share, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sh.id, sh.resource_type, sh.resource_id, sh.subject_id, sh.role, sh.granted_by, sh.granted_at,
			u.email, u.display_name
		FROM shares sh
		JOIN users u ON u.id = sh.subject_id
		WHERE sh.resource_type=$1 AND sh.resource_id=$2
		ORDER BY sh.granted_at ASC, sh.subject_id ASC
	`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("list shares: %w", err)
	}
	defer rows.Close()

	items := make([]Share, 0)
	for rows.Next() {
		var item Share
		if err := rows.Scan(
			&item.ID,
			&item.ResourceType,
			&item.ResourceID,
			&item.SubjectID,
			&item.Role,
			&item.GrantedBy,
			&item.GrantedAt,
			&item.SubjectEmail,
			&item.SubjectName,
		); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetShareRole(ctx context.Context, resourceType, resourceID, subjectID string) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM shares
		WHERE resource_type=$1 AND resource_id=$2 AND subject_id=$3
	`, resourceType, resourceID, subjectID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get share role: %w", err)
	}
	return role, true, nil
}

// ListInheritedShareRoles walks the folder ancestry from folderID to the root
// and returns every folder-share role the subject holds along the way.
func (s *PostgresStore) ListInheritedShareRoles(ctx context.Context, folderID, subjectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH RECURSIVE ancestry AS (
			SELECT id, parent_id FROM folders WHERE id=$1
			UNION ALL
			SELECT f.id, f.parent_id FROM folders f JOIN ancestry a ON f.id = a.parent_id
		)
		SELECT sh.role
		FROM shares sh
		JOIN ancestry a ON sh.resource_type='folder' AND sh.resource_id = a.id
		WHERE sh.subject_id=$2
	`, folderID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list inherited share roles: %w", err)
	}
	defer rows.Close()

	roles := make([]string, 0)
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan inherited role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inherited roles: %w", err)
	}
	return roles, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
