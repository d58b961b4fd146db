// Package models provides data structures and constants for opsgate.
//
// This package contains the core domain models used throughout opsgate:
//   - PendingChange: A proposed remote mutation awaiting human approval
//   - CommandResult: The captured output of one remote command
//   - ComposeService: One row of docker-compose service status
//
// All models are designed for database persistence and JSON serialization.
package models

import "time"

// ChangeStatus represents the current state of a pending change.
//
// The state machine enforces valid transitions:
//
//	PENDING → (APPLIED|REJECTED|EXPIRED)
//
// All three right-hand states are terminal. A change leaves PENDING exactly
// once; duplicate approve or reject attempts fail rather than racing.
type ChangeStatus string

const (
	// ChangePending is the initial state: proposed, previewed, not executed.
	ChangePending ChangeStatus = "PENDING"
	// ChangeApplied indicates every command in the plan ran successfully.
	ChangeApplied ChangeStatus = "APPLIED"
	// ChangeRejected indicates the change was declined, or a command in the
	// plan failed partway through execution.
	ChangeRejected ChangeStatus = "REJECTED"
	// ChangeExpired indicates the change outlived the approval window.
	ChangeExpired ChangeStatus = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s ChangeStatus) Terminal() bool {
	switch s {
	case ChangeApplied, ChangeRejected, ChangeExpired:
		return true
	}
	return false
}

// ChangeKind discriminates the target shape of a pending change.
type ChangeKind string

const (
	// KindFileEdit replaces the full content of a whitelisted config file.
	KindFileEdit ChangeKind = "FILE_EDIT"
	// KindCrontabEdit replaces a user's crontab wholesale.
	KindCrontabEdit ChangeKind = "CRONTAB_EDIT"
	// KindServiceAction runs a docker-compose verb against a project.
	KindServiceAction ChangeKind = "SERVICE_ACTION"
)

// ServiceVerb is the closed set of docker-compose actions a change may carry.
type ServiceVerb string

const (
	ServiceUp      ServiceVerb = "up"
	ServiceDown    ServiceVerb = "down"
	ServiceRestart ServiceVerb = "restart"
	ServicePull    ServiceVerb = "pull"
)

// ValidServiceVerb reports whether verb is one of the permitted actions.
func ValidServiceVerb(verb ServiceVerb) bool {
	switch verb {
	case ServiceUp, ServiceDown, ServiceRestart, ServicePull:
		return true
	}
	return false
}

// PendingChange is a staged remote mutation identified by an opaque id.
//
// The command plan is resolved in full at proposal time and never
// regenerated: what was previewed is exactly what executes on approval.
// Only Status and UpdatedAt mutate after creation.
//
// Fields:
//   - ID: Opaque unique token (chg_<hex>), the sole approval handle
//   - Kind: Discriminates which target fields are set
//   - Path: Absolute config file path (FILE_EDIT)
//   - Owner: Crontab owner username (CRONTAB_EDIT)
//   - ProjectDir, Service, Action: Compose target triple (SERVICE_ACTION)
//   - Preview: Human-readable diff or action description, never executable
//   - CommandPlan: Ordered remote commands implementing the change
//   - Status: Current lifecycle state
//   - CreatedAt: Proposal time, basis for expiry
//   - UpdatedAt: Last status transition time
type PendingChange struct {
	ID          string       `json:"id"`
	Kind        ChangeKind   `json:"kind"`
	Path        string       `json:"path,omitempty"`
	Owner       string       `json:"owner,omitempty"`
	ProjectDir  string       `json:"project_dir,omitempty"`
	Service     string       `json:"service,omitempty"`
	Action      ServiceVerb  `json:"action,omitempty"`
	Preview     string       `json:"preview"`
	CommandPlan []string     `json:"command_plan"`
	Status      ChangeStatus `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Target returns the semantic locator of the change for logs and previews.
func (c PendingChange) Target() string {
	switch c.Kind {
	case KindFileEdit:
		return c.Path
	case KindCrontabEdit:
		return "crontab:" + c.Owner
	case KindServiceAction:
		return c.ProjectDir + "/" + c.Service
	}
	return ""
}

// CommandResult captures one remote command execution for apply summaries
// and the audit trail.
type CommandResult struct {
	Command  string `json:"command"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ComposeService is one parsed row of docker-compose ps output.
type ComposeService struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Ports string `json:"ports,omitempty"`
}
