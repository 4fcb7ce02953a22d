package store

import "time"

type User struct {
	ID           string
	Email        string
	Username     string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Folder struct {
	ID        string
	OwnerID   string
	ParentID  *string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Diagram content is opaque to the server: a byte blob plus the encoding tag
// the editor declared when it saved ("json", "json+gzip", ...).
type Diagram struct {
	ID        string
	OwnerID   string
	FolderID  *string
	Title     string
	Content   []byte
	Encoding  string
	Version   int64
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	ResourceDiagram = "diagram"
	ResourceFolder  = "folder"
)

// Share grants a role on a diagram or a folder to a subject. At most one
// active row exists per (resource, subject) pair; grants upsert.
type Share struct {
	ID           string
	ResourceType string // 'diagram' or 'folder'
	ResourceID   string
	SubjectID    string
	Role         string // 'viewer', 'editor', 'delegate'
	GrantedBy    string
	GrantedAt    time.Time
	// Joined fields for API responses
	SubjectEmail string
	SubjectName  string
}
