package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"sketchdeck/api/internal/rbac"
	"sketchdeck/api/internal/store"
	"sketchdeck/api/internal/util"
)

// CascadePolicy controls what happens to a folder's children when the
// folder is deleted.
type CascadePolicy string

const (
	CascadeReject           CascadePolicy = "reject"
	CascadeRelocateChildren CascadePolicy = "relocate_children"
	CascadeDeleteSubtree    CascadePolicy = "delete_subtree"
)

// maxFolderDepth bounds ancestor walks so a corrupted parent chain cannot
// loop forever.
const maxFolderDepth = 100

// FolderContents is a folder plus its immediate children.
type FolderContents struct {
	Folder   store.Folder
	Folders  []store.Folder
	Diagrams []store.Diagram
}

func (s *Service) CreateFolder(ctx context.Context, actorID, name string, parentID *string) (store.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Folder{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if parentID != nil {
		parent, err := s.store.GetFolder(ctx, *parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, errForbidden()
		}
		if err != nil {
			return store.Folder{}, err
		}
		if parent.OwnerID != actorID {
			return store.Folder{}, errForbidden()
		}
	}

	folder := store.Folder{
		ID:       util.NewID("fld"),
		OwnerID:  actorID,
		ParentID: parentID,
		Name:     name,
	}
	if err := s.store.InsertFolder(ctx, folder); err != nil {
		return store.Folder{}, err
	}
	return folder, nil
}

// GetFolderContents lists a folder's child folders and diagrams for an
// actor with read access.
func (s *Service) GetFolderContents(ctx context.Context, actorID, folderID string) (FolderContents, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return FolderContents{}, errForbidden()
	}
	if err != nil {
		return FolderContents{}, err
	}
	allowed, err := s.authorizeFolder(ctx, actorID, folderID, rbac.ActionRead)
	if err != nil {
		return FolderContents{}, err
	}
	if !allowed {
		return FolderContents{}, errForbidden()
	}

	children, err := s.store.ListChildFolders(ctx, folder.OwnerID, &folderID)
	if err != nil {
		return FolderContents{}, err
	}
	diagrams, err := s.store.ListDiagramsInFolder(ctx, folderID)
	if err != nil {
		return FolderContents{}, err
	}
	return FolderContents{Folder: folder, Folders: children, Diagrams: diagrams}, nil
}

// ListRootFolders lists the actor's own top-level folders.
func (s *Service) ListRootFolders(ctx context.Context, actorID string) ([]store.Folder, error) {
	return s.store.ListChildFolders(ctx, actorID, nil)
}

// MoveFolder reparents a folder. Moving a folder under itself or under any
// of its descendants is rejected; the store re-checks the invariant inside
// the update so a concurrent move cannot slip a cycle in between the
// validation and the write.
func (s *Service) MoveFolder(ctx context.Context, actorID, folderID string, newParentID *string) (store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Folder{}, errForbidden()
	}
	if err != nil {
		return store.Folder{}, err
	}
	if folder.OwnerID != actorID {
		return store.Folder{}, errForbidden()
	}

	if newParentID != nil {
		if *newParentID == folderID {
			return store.Folder{}, errCycle()
		}
		parent, err := s.store.GetFolder(ctx, *newParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return store.Folder{}, errForbidden()
		}
		if err != nil {
			return store.Folder{}, err
		}
		if parent.OwnerID != actorID {
			return store.Folder{}, errForbidden()
		}

		// Walk up from the target: if we hit the folder being moved, the
		// move would create a cycle.
		cursor := parent
		for depth := 0; depth < maxFolderDepth; depth++ {
			if cursor.ID == folderID {
				return store.Folder{}, errCycle()
			}
			if cursor.ParentID == nil {
				break
			}
			next, err := s.store.GetFolder(ctx, *cursor.ParentID)
			if errors.Is(err, sql.ErrNoRows) {
				return store.Folder{}, domainError(http.StatusNotFound, "NOT_FOUND", "Folder hierarchy is broken", nil)
			}
			if err != nil {
				return store.Folder{}, err
			}
			cursor = next
		}
	}

	moved, err := s.store.MoveFolder(ctx, folderID, newParentID)
	if err != nil {
		return store.Folder{}, err
	}
	if !moved {
		// The atomic guard refused the update after our pre-checks passed.
		return store.Folder{}, errCycle()
	}

	folder.ParentID = newParentID
	return folder, nil
}

// FolderPath returns the breadcrumb from the root down to the folder,
// inclusive.
func (s *Service) FolderPath(ctx context.Context, actorID, folderID string) ([]store.Folder, error) {
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errForbidden()
	}
	if err != nil {
		return nil, err
	}
	allowed, err := s.authorizeFolder(ctx, actorID, folderID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errForbidden()
	}

	path := []store.Folder{folder}
	cursor := folder
	for depth := 0; depth < maxFolderDepth; depth++ {
		if cursor.ParentID == nil {
			// Reverse into root-first order.
			for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
				path[i], path[j] = path[j], path[i]
			}
			return path, nil
		}
		parent, err := s.store.GetFolder(ctx, *cursor.ParentID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Folder hierarchy is broken", nil)
		}
		if err != nil {
			return nil, err
		}
		path = append(path, parent)
		cursor = parent
	}
	return nil, domainError(http.StatusInternalServerError, "SERVER_ERROR", "Folder nesting too deep", nil)
}

// DeleteFolder removes a folder according to the cascade policy. With
// CascadeReject a non-empty folder is refused; CascadeRelocateChildren
// reparents children to the deleted folder's parent; CascadeDeleteSubtree
// removes the folder and everything beneath it.
func (s *Service) DeleteFolder(ctx context.Context, actorID, folderID string, policy CascadePolicy) error {
	if policy == "" {
		policy = CascadeReject
	}
	switch policy {
	case CascadeReject, CascadeRelocateChildren, CascadeDeleteSubtree:
	default:
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "policy must be one of reject, relocate_children, delete_subtree", nil)
	}

	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return errForbidden()
	}
	if err != nil {
		return err
	}
	if folder.OwnerID != actorID {
		return errForbidden()
	}

	switch policy {
	case CascadeReject:
		childFolders, childDiagrams, err := s.store.CountFolderChildren(ctx, folderID)
		if err != nil {
			return err
		}
		if childFolders > 0 || childDiagrams > 0 {
			return domainError(http.StatusConflict, "FOLDER_NOT_EMPTY", "Folder has children", map[string]any{
				"folders":  childFolders,
				"diagrams": childDiagrams,
			})
		}
		return s.store.DeleteFolder(ctx, folderID)
	case CascadeRelocateChildren:
		if err := s.store.ReparentFolderChildren(ctx, folderID, folder.ParentID); err != nil {
			return err
		}
		return s.store.DeleteFolder(ctx, folderID)
	default:
		return s.store.DeleteFolderSubtree(ctx, folderID)
	}
}

func errCycle() *DomainError {
	return domainError(http.StatusConflict, "CYCLE_DETECTED", "Move would create a cycle in the folder tree", nil)
}
