package daemon

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/opsgate/opsgate/internal/change"
	"github.com/opsgate/opsgate/internal/db"
	"github.com/opsgate/opsgate/internal/models"
	"github.com/opsgate/opsgate/internal/remote"
)

const (
	maxJSONBytes      = 1 << 20 // Maximum size for JSON request bodies (1MB)
	defaultEventLimit = 200
)

// OpsAPI handles the local control plane HTTP requests over the Unix
// socket. The hosting agent and the opsgate CLI are its only callers.
//
// Endpoints:
//   - GET  /v1/services                    - List compose services
//   - GET  /v1/logs                        - Tail container/service logs
//   - GET  /v1/files                       - Read a whitelisted config file
//   - GET  /v1/crontabs/{owner}            - Read a user's crontab
//   - POST /v1/changes/file-edit           - Propose a config file edit
//   - POST /v1/changes/crontab-edit        - Propose a crontab edit
//   - POST /v1/changes/service-action      - Propose a compose action
//   - GET  /v1/changes                     - List changes (?status=)
//   - GET  /v1/changes/{id}                - Get change details + plan
//   - GET  /v1/changes/{id}/events         - Get change audit trail
//   - POST /v1/changes/{id}/apply          - Approve and execute
//   - POST /v1/changes/{id}/reject         - Reject without executing
type OpsAPI struct {
	store             *db.Store
	manager           *change.Manager
	readers           *remote.Client
	defaultProjectDir string
	metrics           *Metrics
	logger            *log.Logger
}

// NewOpsAPI creates the control API. metrics may be nil.
func NewOpsAPI(store *db.Store, manager *change.Manager, readers *remote.Client, defaultProjectDir string, metrics *Metrics, logger *log.Logger) *OpsAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &OpsAPI{
		store:             store,
		manager:           manager,
		readers:           readers,
		defaultProjectDir: defaultProjectDir,
		metrics:           metrics,
		logger:            logger,
	}
}

// Register installs the API routes on a mux.
func (api *OpsAPI) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/v1/services", api.handleServices)
	mux.HandleFunc("/v1/logs", api.handleLogs)
	mux.HandleFunc("/v1/files", api.handleFiles)
	mux.HandleFunc("/v1/crontabs/", api.handleCrontabByOwner)
	mux.HandleFunc("/v1/changes", api.handleChanges)
	mux.HandleFunc("/v1/changes/", api.handleChangeByID)
}

func (api *OpsAPI) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	projectDir := strings.TrimSpace(r.URL.Query().Get("project_dir"))
	if projectDir == "" {
		projectDir = api.defaultProjectDir
	}
	services, err := api.readers.ListServices(r.Context(), projectDir)
	if err != nil {
		api.metrics.IncRead("services", "error")
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncRead("services", "ok")
	writeJSON(w, http.StatusOK, servicesResponse{Services: services})
}

func (api *OpsAPI) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	query := r.URL.Query()
	lines := 0
	if raw := strings.TrimSpace(query.Get("lines")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "lines must be an integer", errCodeBadRequest)
			return
		}
		lines = parsed
	}
	container := strings.TrimSpace(query.Get("container"))
	service := strings.TrimSpace(query.Get("service"))
	switch {
	case container != "":
		output, err := api.readers.ReadContainerLogs(r.Context(), container, lines)
		if err != nil {
			api.metrics.IncRead("logs", "error")
			api.writeDomainError(w, err)
			return
		}
		api.metrics.IncRead("logs", "ok")
		writeJSON(w, http.StatusOK, logsResponse{Target: container, Lines: output})
	case service != "":
		projectDir := strings.TrimSpace(query.Get("project_dir"))
		if projectDir == "" {
			projectDir = api.defaultProjectDir
		}
		output, err := api.readers.ReadComposeLogs(r.Context(), projectDir, service, lines)
		if err != nil {
			api.metrics.IncRead("logs", "error")
			api.writeDomainError(w, err)
			return
		}
		api.metrics.IncRead("logs", "ok")
		writeJSON(w, http.StatusOK, logsResponse{Target: projectDir + "/" + service, Lines: output})
	default:
		writeError(w, http.StatusBadRequest, "container or service is required", errCodeBadRequest)
	}
}

func (api *OpsAPI) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	path := strings.TrimSpace(r.URL.Query().Get("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required", errCodeBadRequest)
		return
	}
	content, err := api.readers.ReadFile(r.Context(), path)
	if err != nil {
		api.metrics.IncRead("file", "error")
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncRead("file", "ok")
	writeJSON(w, http.StatusOK, fileResponse{Path: path, Content: content})
}

func (api *OpsAPI) handleCrontabByOwner(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	owner := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/crontabs/"), "/")
	if owner == "" {
		writeError(w, http.StatusBadRequest, "owner is required", errCodeBadRequest)
		return
	}
	content, err := api.readers.ReadCrontab(r.Context(), owner)
	if err != nil {
		api.metrics.IncRead("crontab", "error")
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncRead("crontab", "ok")
	writeJSON(w, http.StatusOK, crontabResponse{Owner: owner, Content: content})
}

func (api *OpsAPI) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	status := models.ChangeStatus(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status"))))
	changes, err := api.manager.List(r.Context(), status)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	out := changeListResponse{Changes: []changeResponse{}}
	for _, c := range changes {
		out.Changes = append(out.Changes, toChangeResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *OpsAPI) handleChangeByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/v1/changes/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "change not found", errCodeNotFound)
		return
	}

	// Proposal endpoints share the /v1/changes/ prefix.
	if len(parts) == 1 && r.Method == http.MethodPost {
		switch parts[0] {
		case "file-edit":
			api.handleProposeFileEdit(w, r)
			return
		case "crontab-edit":
			api.handleProposeCrontabEdit(w, r)
			return
		case "service-action":
			api.handleProposeServiceAction(w, r)
			return
		}
	}

	id := parts[0]
	switch len(parts) {
	case 1:
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w, []string{http.MethodGet})
			return
		}
		api.handleChangeGet(w, r, id)
	case 2:
		switch parts[1] {
		case "events":
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, []string{http.MethodGet})
				return
			}
			api.handleChangeEvents(w, r, id)
		case "apply":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleChangeApply(w, r, id)
		case "reject":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleChangeReject(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "unknown change operation", errCodeNotFound)
		}
	default:
		writeError(w, http.StatusNotFound, "unknown change operation", errCodeNotFound)
	}
}

func (api *OpsAPI) handleProposeFileEdit(w http.ResponseWriter, r *http.Request) {
	var req fileEditRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	proposed, err := api.manager.ProposeFileEdit(r.Context(), strings.TrimSpace(req.Path), req.Content)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncProposal(proposed.Kind)
	writeJSON(w, http.StatusCreated, toChangeDetailResponse(proposed))
}

func (api *OpsAPI) handleProposeCrontabEdit(w http.ResponseWriter, r *http.Request) {
	var req crontabEditRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	proposed, err := api.manager.ProposeCrontabEdit(r.Context(), strings.TrimSpace(req.Owner), req.Content)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncProposal(proposed.Kind)
	writeJSON(w, http.StatusCreated, toChangeDetailResponse(proposed))
}

func (api *OpsAPI) handleProposeServiceAction(w http.ResponseWriter, r *http.Request) {
	var req serviceActionRequest
	if !api.decodeJSON(w, r, &req) {
		return
	}
	projectDir := strings.TrimSpace(req.ProjectDir)
	if projectDir == "" {
		projectDir = api.defaultProjectDir
	}
	proposed, err := api.manager.ProposeServiceAction(r.Context(), projectDir,
		strings.TrimSpace(req.Service), models.ServiceVerb(strings.ToLower(strings.TrimSpace(req.Action))))
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncProposal(proposed.Kind)
	writeJSON(w, http.StatusCreated, toChangeDetailResponse(proposed))
}

func (api *OpsAPI) handleChangeGet(w http.ResponseWriter, r *http.Request, id string) {
	found, err := api.manager.Get(r.Context(), id)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeDetailResponse(found))
}

func (api *OpsAPI) handleChangeEvents(w http.ResponseWriter, r *http.Request, id string) {
	events, err := api.store.ListEventsByChange(r.Context(), id, defaultEventLimit)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	out := eventsResponse{Events: []eventResponse{}}
	for _, ev := range events {
		out.Events = append(out.Events, eventResponse{
			Timestamp: ev.Timestamp,
			Kind:      ev.Kind,
			Message:   ev.Message,
			JSON:      ev.JSON,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *OpsAPI) handleChangeApply(w http.ResponseWriter, r *http.Request, id string) {
	start := time.Now()
	summary, err := api.manager.Approve(r.Context(), id)
	if err != nil {
		api.metrics.ObserveApply("error", time.Since(start))
		if len(summary.Results) > 0 {
			// Partial execution: surface the failure alongside what ran.
			api.metrics.IncTransition(models.ChangeRejected)
			status, code := classifyError(err)
			writeJSONError(w, status, err.Error(), code, applyResponse{
				Change:  toChangeResponse(summary.Change),
				Results: summary.Results,
			})
			return
		}
		api.writeDomainError(w, err)
		return
	}
	api.metrics.ObserveApply("ok", time.Since(start))
	api.metrics.IncTransition(models.ChangeApplied)
	writeJSON(w, http.StatusOK, applyResponse{
		Change:  toChangeResponse(summary.Change),
		Results: summary.Results,
	})
}

func (api *OpsAPI) handleChangeReject(w http.ResponseWriter, r *http.Request, id string) {
	rejected, err := api.manager.Reject(r.Context(), id)
	if err != nil {
		api.writeDomainError(w, err)
		return
	}
	api.metrics.IncTransition(models.ChangeRejected)
	writeJSON(w, http.StatusOK, toChangeResponse(rejected))
}

func (api *OpsAPI) decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read request body", errCodeBadRequest)
		return false
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, "request body is required", errCodeBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", errCodeBadRequest)
		return false
	}
	return true
}

func (api *OpsAPI) writeDomainError(w http.ResponseWriter, err error) {
	status, code := classifyError(err)
	if status >= http.StatusInternalServerError {
		api.logger.Printf("opsgated: internal error: %v", err)
	}
	writeError(w, status, err.Error(), code)
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, apiError{Error: msg, Code: code})
}

// writeJSONError emits an error payload that also carries a partial apply
// summary, so the caller sees exactly which commands ran before failure.
func writeJSONError(w http.ResponseWriter, status int, msg, code string, summary applyResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := struct {
		Error   string                 `json:"error"`
		Code    string                 `json:"code"`
		Change  changeResponse         `json:"change"`
		Results []models.CommandResult `json:"results"`
	}{Error: msg, Code: code, Change: summary.Change, Results: summary.Results}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = w.Write(data)
}

func writeMethodNotAllowed(w http.ResponseWriter, methods []string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed", errCodeMethodNotAllowed)
}
