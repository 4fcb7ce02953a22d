package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"sketchdeck/api/internal/rbac"
)

type SaveStatus string

const (
	SaveStatusSaved    SaveStatus = "saved"
	SaveStatusConflict SaveStatus = "conflict"
)

// SaveResult is the outcome of an autosave attempt. On conflict it carries
// the current server-side state so the editor can rebase without a second
// round trip.
type SaveResult struct {
	Status    SaveStatus
	Version   int64
	Content   []byte
	Encoding  string
	UpdatedBy string
	UpdatedAt time.Time
}

// SaveDiagram persists new content if and only if the diagram's stored
// version still equals expectedVersion. The compare and the increment happen
// in one statement, so of any number of concurrent savers with the same
// expected version exactly one wins; the rest get a conflict result, never
// an error.
func (s *Service) SaveDiagram(ctx context.Context, actorID, diagramID string, expectedVersion int64, content []byte, encoding string) (SaveResult, error) {
	if expectedVersion < 1 {
		return SaveResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "expectedVersion must be at least 1", nil)
	}
	if encoding == "" {
		encoding = "json"
	}

	diagram, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		return SaveResult{}, errForbidden()
	}
	if err != nil {
		return SaveResult{}, storageUnavailable(err)
	}
	allowed, err := s.authorizeDiagram(ctx, actorID, diagram, rbac.ActionWrite)
	if err != nil {
		return SaveResult{}, err
	}
	if !allowed {
		return SaveResult{}, errForbidden()
	}

	actor, err := s.store.GetUserByID(ctx, actorID)
	if err != nil {
		return SaveResult{}, err
	}

	saved, err := s.store.SaveDiagramContent(ctx, diagramID, expectedVersion, content, encoding, actor.DisplayName)
	if err != nil {
		return SaveResult{}, storageUnavailable(err)
	}

	if saved {
		return SaveResult{
			Status:    SaveStatusSaved,
			Version:   expectedVersion + 1,
			Encoding:  encoding,
			UpdatedBy: actor.DisplayName,
			UpdatedAt: time.Now(),
		}, nil
	}

	current, err := s.store.GetDiagram(ctx, diagramID)
	if errors.Is(err, sql.ErrNoRows) {
		// Deleted between the CAS attempt and the re-read.
		return SaveResult{}, domainError(http.StatusNotFound, "NOT_FOUND", "Diagram no longer exists", nil)
	}
	if err != nil {
		return SaveResult{}, storageUnavailable(err)
	}

	return SaveResult{
		Status:    SaveStatusConflict,
		Version:   current.Version,
		Content:   current.Content,
		Encoding:  current.Encoding,
		UpdatedBy: current.UpdatedBy,
		UpdatedAt: current.UpdatedAt,
	}, nil
}

func storageUnavailable(err error) *DomainError {
	return domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Storage unavailable: "+err.Error(), nil)
}
