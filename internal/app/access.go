package app

import (
	"context"
	"database/sql"
	"errors"

	"sketchdeck/api/internal/rbac"
	"sketchdeck/api/internal/store"
)

// Authorize reports whether the actor may perform the action on the diagram.
// Evaluation order: ownership, then a direct share on the diagram, then
// shares inherited from the diagram's folder chain. A direct share decides
// the outcome even when a folder share would grant more. Missing diagrams
// evaluate to a plain deny so callers cannot probe for existence; store
// failures deny closed and surface the error.
func (s *Service) Authorize(ctx context.Context, actorID, diagramID string, action rbac.Action) (bool, error) {
	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.authorizeDiagram(ctx, actorID, diagram, action)
}

func (s *Service) authorizeDiagram(ctx context.Context, actorID string, diagram store.Diagram, action rbac.Action) (bool, error) {
	if actorID == "" || !rbac.ValidAction(string(action)) {
		return false, nil
	}
	if diagram.OwnerID == actorID {
		return true, nil
	}

	role, found, err := s.store.GetShareRole(ctx, store.ResourceDiagram, diagram.ID, actorID)
	if err != nil {
		return false, err
	}
	if found {
		return rbac.Can(rbac.Normalize(role), action), nil
	}

	if diagram.FolderID == nil {
		return false, nil
	}
	return s.inheritedFolderDecision(ctx, actorID, *diagram.FolderID, action)
}

// authorizeFolder evaluates the actor's access to a folder itself: ownership
// first, then folder shares on the folder or any of its ancestors.
func (s *Service) authorizeFolder(ctx context.Context, actorID, folderID string, action rbac.Action) (bool, error) {
	if actorID == "" || !rbac.ValidAction(string(action)) {
		return false, nil
	}
	folder, err := s.store.GetFolder(ctx, folderID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if folder.OwnerID == actorID {
		return true, nil
	}
	return s.inheritedFolderDecision(ctx, actorID, folderID, action)
}

// inheritedFolderDecision combines every folder share along the ancestor
// chain; the strongest role wins.
func (s *Service) inheritedFolderDecision(ctx context.Context, actorID, folderID string, action rbac.Action) (bool, error) {
	roles, err := s.store.ListInheritedShareRoles(ctx, folderID, actorID)
	if err != nil {
		return false, err
	}
	if len(roles) == 0 {
		return false, nil
	}
	strongest := rbac.Normalize(roles[0])
	for _, role := range roles[1:] {
		strongest = rbac.Strongest(strongest, rbac.Normalize(role))
	}
	return rbac.Can(strongest, action), nil
}
