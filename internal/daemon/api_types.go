package daemon

import (
	"time"

	"github.com/opsgate/opsgate/internal/models"
)

type fileEditRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type crontabEditRequest struct {
	Owner   string `json:"owner"`
	Content string `json:"content"`
}

type serviceActionRequest struct {
	ProjectDir string `json:"project_dir"`
	Service    string `json:"service"`
	Action     string `json:"action"`
}

type changeResponse struct {
	ID        string              `json:"id"`
	Kind      models.ChangeKind   `json:"kind"`
	Target    string              `json:"target"`
	Preview   string              `json:"preview"`
	Status    models.ChangeStatus `json:"status"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

type changeDetailResponse struct {
	changeResponse
	CommandPlan []string `json:"command_plan"`
}

type applyResponse struct {
	Change  changeResponse         `json:"change"`
	Results []models.CommandResult `json:"results"`
}

type changeListResponse struct {
	Changes []changeResponse `json:"changes"`
}

type servicesResponse struct {
	Services []models.ComposeService `json:"services"`
}

type logsResponse struct {
	Target string `json:"target"`
	Lines  string `json:"lines"`
}

type fileResponse struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type crontabResponse struct {
	Owner   string `json:"owner"`
	Content string `json:"content"`
}

type eventResponse struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Message   string    `json:"msg,omitempty"`
	JSON      string    `json:"json,omitempty"`
}

type eventsResponse struct {
	Events []eventResponse `json:"events"`
}

func toChangeResponse(change models.PendingChange) changeResponse {
	return changeResponse{
		ID:        change.ID,
		Kind:      change.Kind,
		Target:    change.Target(),
		Preview:   change.Preview,
		Status:    change.Status,
		CreatedAt: change.CreatedAt,
		UpdatedAt: change.UpdatedAt,
	}
}

func toChangeDetailResponse(change models.PendingChange) changeDetailResponse {
	return changeDetailResponse{
		changeResponse: toChangeResponse(change),
		CommandPlan:    change.CommandPlan,
	}
}
