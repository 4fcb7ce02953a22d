package app

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"strings"

	"sketchdeck/api/internal/email"
	"sketchdeck/api/internal/rbac"
	"sketchdeck/api/internal/store"
	"sketchdeck/api/internal/util"
)

// GrantShare grants or updates a subject's role on a diagram or folder.
// Regranting to the same subject replaces the previous role in place; the
// registry never holds two grants for the same (resource, subject) pair.
func (s *Service) GrantShare(ctx context.Context, actorID, resourceType, resourceID, subjectRef, role string) (store.Share, error) {
	if resourceType != store.ResourceDiagram && resourceType != store.ResourceFolder {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resource type must be diagram or folder", nil)
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !rbac.ValidRole(role) {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of viewer, editor, delegate", nil)
	}

	ownerID, err := s.authorizeSharing(ctx, actorID, resourceType, resourceID)
	if err != nil {
		return store.Share{}, err
	}

	subject, err := s.resolveSubject(ctx, subjectRef)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Share{}, domainError(http.StatusNotFound, "SUBJECT_NOT_FOUND", "No such user", nil)
	}
	if err != nil {
		return store.Share{}, err
	}
	if subject.ID == ownerID {
		return store.Share{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "owner already has full access", nil)
	}

	share := store.Share{
		ID:           util.NewID("shr"),
		ResourceType: resourceType,
		ResourceID:   resourceID,
		SubjectID:    subject.ID,
		Role:         role,
		GrantedBy:    actorID,
	}
	shareID, err := s.store.UpsertShare(ctx, share)
	if err != nil {
		return store.Share{}, err
	}
	share.ID = shareID
	share.SubjectEmail = subject.Email
	share.SubjectName = subject.DisplayName

	if resourceType == store.ResourceDiagram {
		s.reindexDiagram(ctx, resourceID)
	}
	s.notifyShare(ctx, actorID, resourceType, resourceID, subject, role)
	return share, nil
}

// RevokeShare removes a subject's grant. Revoking a grant that does not
// exist is a no-op.
func (s *Service) RevokeShare(ctx context.Context, actorID, resourceType, resourceID, subjectID string) error {
	if resourceType != store.ResourceDiagram && resourceType != store.ResourceFolder {
		return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resource type must be diagram or folder", nil)
	}
	if _, err := s.authorizeSharing(ctx, actorID, resourceType, resourceID); err != nil {
		return err
	}
	if err := s.store.DeleteShare(ctx, resourceType, resourceID, subjectID); err != nil {
		return err
	}
	if resourceType == store.ResourceDiagram {
		s.reindexDiagram(ctx, resourceID)
	}
	return nil
}

// ListShares returns every grant on a resource, newest last.
func (s *Service) ListShares(ctx context.Context, actorID, resourceType, resourceID string) ([]store.Share, error) {
	if resourceType != store.ResourceDiagram && resourceType != store.ResourceFolder {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "resource type must be diagram or folder", nil)
	}
	if _, err := s.authorizeSharing(ctx, actorID, resourceType, resourceID); err != nil {
		return nil, err
	}
	return s.store.ListShares(ctx, resourceType, resourceID)
}

// ResolveSubjects finds share candidates by email, username, or display name.
func (s *Service) ResolveSubjects(ctx context.Context, query string) ([]store.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []store.User{}, nil
	}
	return s.store.SearchUsers(ctx, query, 10)
}

// authorizeSharing checks that the actor may manage grants on the resource
// and returns the resource owner's ID. Owners and delegates can share.
func (s *Service) authorizeSharing(ctx context.Context, actorID, resourceType, resourceID string) (string, error) {
	switch resourceType {
	case store.ResourceDiagram:
		diagram, err := s.store.GetDiagram(ctx, resourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", errForbidden()
		}
		if err != nil {
			return "", err
		}
		allowed, err := s.authorizeDiagram(ctx, actorID, diagram, rbac.ActionShare)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", errForbidden()
		}
		return diagram.OwnerID, nil
	default:
		folder, err := s.store.GetFolder(ctx, resourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return "", errForbidden()
		}
		if err != nil {
			return "", err
		}
		allowed, err := s.authorizeFolder(ctx, actorID, resourceID, rbac.ActionShare)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", errForbidden()
		}
		return folder.OwnerID, nil
	}
}

// resolveSubject accepts a user ID, email, or username.
func (s *Service) resolveSubject(ctx context.Context, ref string) (store.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return store.User{}, sql.ErrNoRows
	}
	if strings.HasPrefix(ref, "usr_") {
		user, err := s.store.GetUserByID(ctx, ref)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return store.User{}, err
		}
	}
	return s.store.FindUserByIdentifier(ctx, strings.ToLower(ref))
}

func (s *Service) notifyShare(ctx context.Context, actorID, resourceType, resourceID string, subject store.User, role string) {
	if s.email == nil || !s.email.IsConfigured() || subject.Email == "" {
		return
	}

	granterName := actorID
	if granter, err := s.store.GetUserByID(ctx, actorID); err == nil {
		granterName = granter.DisplayName
	}
	resourceName := resourceID
	if resourceType == store.ResourceDiagram {
		if diagram, err := s.store.GetDiagram(ctx, resourceID); err == nil {
			resourceName = diagram.Title
		}
	} else {
		if folder, err := s.store.GetFolder(ctx, resourceID); err == nil {
			resourceName = folder.Name
		}
	}

	go func() {
		err := s.email.SendShareNotification(subject.Email, email.ShareNotificationData{
			SubjectName:  subject.DisplayName,
			GranterName:  granterName,
			ResourceName: resourceName,
			ResourceKind: resourceType,
			Role:         role,
		})
		if err != nil {
			log.Printf("share notification to %s failed: %v", subject.Email, err)
		}
	}()
}
