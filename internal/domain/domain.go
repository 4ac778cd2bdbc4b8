package domain

import (
	"fmt"
	"strings"
)

type Project struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description,omitempty"`
	OwnerID        string  `json:"owner_id"`
	ParentID       *string `json:"parent_id,omitempty"`
	Status         string  `json:"status" enum:"CREATED,IN_PROGRESS,COMPLETED,ON_HOLD,CANCELLED,DELETED"`
	Visibility     string  `json:"visibility" enum:"PUBLIC,PRIVATE"`
	StorageSize    int64   `json:"storage_size"`
	MaxStorageSize int64   `json:"max_storage_size"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	UpdatedAt      string  `json:"updated_at" format:"date-time"`
}

const (
	ProjectCreated    = "CREATED"
	ProjectInProgress = "IN_PROGRESS"
	ProjectCompleted  = "COMPLETED"
	ProjectOnHold     = "ON_HOLD"
	ProjectCancelled  = "CANCELLED"
	ProjectDeleted    = "DELETED"

	VisibilityPublic  = "PUBLIC"
	VisibilityPrivate = "PRIVATE"
)

type Team struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// TeamMember is a user's seat in one team. Roles is a set kept in
// declaration order of the TeamRole enum.
type TeamMember struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TeamID    string     `json:"team_id"`
	Roles     []TeamRole `json:"roles"`
	CreatedAt string     `json:"created_at" format:"date-time"`
}

// HasRole reports whether the member holds role.
func (m TeamMember) HasRole(role TeamRole) bool {
	for _, r := range m.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type Stage struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"project_id"`
	Name      string      `json:"name"`
	Roles     []StageRole `json:"roles"`
	Executors []string    `json:"executors"`
	Version   int         `json:"version"`
	CreatedAt string      `json:"created_at" format:"date-time"`
	UpdatedAt string      `json:"updated_at" format:"date-time"`
}

// StageRole is a required (role, count) pair on a stage.
type StageRole struct {
	Role  TeamRole `json:"role"`
	Count int      `json:"count" minimum:"0"`
}

// HasExecutor reports whether memberID is already an executor.
func (s Stage) HasExecutor(memberID string) bool {
	for _, id := range s.Executors {
		if id == memberID {
			return true
		}
	}
	return false
}

// RequiresRole reports whether any requirement names role.
func (s Stage) RequiresRole(role TeamRole) bool {
	for _, r := range s.Roles {
		if r.Role == role {
			return true
		}
	}
	return false
}

type Task struct {
	ID          string  `json:"id"`
	ProjectID   string  `json:"project_id"`
	StageID     *string `json:"stage_id,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status" enum:"TODO,IN_PROGRESS,TESTING,DONE,CANCELLED"`
	PerformerID *string `json:"performer_id,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

const (
	TaskTodo       = "TODO"
	TaskInProgress = "IN_PROGRESS"
	TaskTesting    = "TESTING"
	TaskDone       = "DONE"
	TaskCancelled  = "CANCELLED"
)

// StageInvitation offers a stage seat to a team member. AuthorID is nil
// for invitations issued by role fulfillment.
type StageInvitation struct {
	ID        string  `json:"id"`
	StageID   string  `json:"stage_id"`
	AuthorID  *string `json:"author_id,omitempty"`
	InvitedID string  `json:"invited_id"`
	// Role is set on invitations issued to cover a stage requirement.
	Role        TeamRole `json:"role,omitempty"`
	Status      string   `json:"status" enum:"PENDING,ACCEPTED,REJECTED"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"created_at" format:"date-time"`
	UpdatedAt   string   `json:"updated_at" format:"date-time"`
}

const (
	InvitationPending  = "PENDING"
	InvitationAccepted = "ACCEPTED"
	InvitationRejected = "REJECTED"
)

type Event struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	Type        string `json:"type"`
	ProjectID   string `json:"project_id"`
	EntityKind  string `json:"entity_kind"`
	EntityID    string `json:"entity_id"`
	ActorID     string `json:"actor_id"`
	PayloadJSON string `json:"payload_json"`
}

// IsValidProjectStatus reports whether s names a project status.
func IsValidProjectStatus(s string) bool {
	switch s {
	case ProjectCreated, ProjectInProgress, ProjectCompleted, ProjectOnHold, ProjectCancelled, ProjectDeleted:
		return true
	}
	return false
}

func IsValidVisibility(s string) bool {
	return s == VisibilityPublic || s == VisibilityPrivate
}

func IsValidTaskStatus(s string) bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskTesting, TaskDone, TaskCancelled:
		return true
	}
	return false
}

func IsValidInvitationStatus(s string) bool {
	switch s {
	case InvitationPending, InvitationAccepted, InvitationRejected:
		return true
	}
	return false
}

// NormalizeStatus upper-cases and trims a user supplied enum value.
func NormalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ParseTaskStatus validates a task status pattern.
func ParseTaskStatus(s string) (string, error) {
	v := NormalizeStatus(s)
	if !IsValidTaskStatus(v) {
		return "", fmt.Errorf("invalid task status %q", s)
	}
	return v, nil
}
