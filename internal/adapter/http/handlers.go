package http

import (
	"encoding/json"
	"net/http"

	"github.com/Strob0t/PostForge/internal/domain/run"
	"github.com/Strob0t/PostForge/internal/domain/settings"
	"github.com/Strob0t/PostForge/internal/domain/steplog"
	"github.com/Strob0t/PostForge/internal/port/messagequeue"
	"github.com/Strob0t/PostForge/internal/service"
)

// Handlers holds the HTTP handler dependencies. Bus, Hub and Queue are
// optional and only feed /health.
type Handlers struct {
	Runs     *service.RunService
	Settings *service.SettingsService
	Version  string

	Bus   *service.EventBus
	Hub   ConnectionCounter
	Queue messagequeue.Queue
}

// ConnectionCounter reports live streaming clients.
type ConnectionCounter interface {
	ConnectionCount() int
}

// --- Runs ---

// CreateRun handles POST /api/v1/runs
func (h *Handlers) CreateRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.CreateRequest](w, r)
	if !ok {
		return
	}
	created, err := h.Runs.CreateRun(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

// ListRuns handles GET /api/v1/runs?status=
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	status := run.Status(r.URL.Query().Get("status"))
	if status != "" && !run.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "unknown status "+string(status))
		return
	}

	runs, err := h.Runs.ListRuns(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	out := make([]run.Run, 0, len(runs))
	for i := range runs {
		if status == "" || runs[i].Status == status {
			out = append(out, runs[i])
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRun handles GET /api/v1/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	got, err := h.Runs.GetRun(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// ListRunLogs handles GET /api/v1/runs/{id}/logs
func (h *Handlers) ListRunLogs(w http.ResponseWriter, r *http.Request) {
	h.writeLogs(w, r, urlParam(r, "id"))
}

// ListLogs handles GET /api/v1/logs?runId=
func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	h.writeLogs(w, r, r.URL.Query().Get("runId"))
}

func (h *Handlers) writeLogs(w http.ResponseWriter, r *http.Request, runID string) {
	logs, err := h.Runs.ListLogs(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	if logs == nil {
		logs = []steplog.Log{}
	}
	writeJSON(w, http.StatusOK, logs)
}

type retryRequest struct {
	Step steplog.StepName `json:"step"`
}

// RetryStep handles POST /api/v1/runs/{id}/retry
func (h *Handlers) RetryStep(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[retryRequest](w, r)
	if !ok {
		return
	}
	if req.Step == "" {
		writeError(w, http.StatusBadRequest, "step is required")
		return
	}

	got, err := h.Runs.RetryStep(r.Context(), urlParam(r, "id"), req.Step)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	code := http.StatusAccepted
	if req.Step == steplog.StepTeamsDelivery {
		code = http.StatusOK
	}
	writeJSON(w, code, got)
}

type postRequest struct {
	TeamID    string `json:"teamId"`
	ChannelID string `json:"channelId"`
}

// PostToTeams handles POST /api/v1/runs/{id}/post. The body is optional;
// missing ids fall back to the configured defaults.
func (h *Handlers) PostToTeams(w http.ResponseWriter, r *http.Request) {
	req, ok := readOptionalJSON[postRequest](w, r)
	if !ok {
		return
	}

	got, err := h.Runs.PostToTeams(r.Context(), urlParam(r, "id"), service.Destination{
		TeamID:    req.TeamID,
		ChannelID: req.ChannelID,
	})
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, got)
}

// Analytics handles GET /api/v1/analytics
func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Runs.Analytics(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// --- Settings ---

// ListSettings handles GET /api/v1/settings
func (h *Handlers) ListSettings(w http.ResponseWriter, r *http.Request) {
	list, err := h.Settings.List(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if list == nil {
		list = []settings.Setting{}
	}
	writeJSON(w, http.StatusOK, list)
}

// GetSetting handles GET /api/v1/settings/{key}
func (h *Handlers) GetSetting(w http.ResponseWriter, r *http.Request) {
	st, err := h.Settings.Get(r.Context(), urlParam(r, "key"))
	if err != nil {
		writeDomainError(w, err, "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// UpdateSetting handles PUT /api/v1/settings/{key}. The body is the raw
// JSON value.
func (h *Handlers) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	value, ok := readJSON[json.RawMessage](w, r)
	if !ok {
		return
	}
	key := urlParam(r, "key")
	if err := h.Settings.Update(r.Context(), key, value); err != nil {
		writeDomainError(w, err, "setting not found")
		return
	}
	st, err := h.Settings.Get(r.Context(), key)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetDeliveryDefaults handles GET /api/v1/settings/delivery
func (h *Handlers) GetDeliveryDefaults(w http.ResponseWriter, r *http.Request) {
	d, err := h.Settings.DeliveryDefaults(r.Context())
	if err != nil {
		writeInternalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// SetDeliveryDefaults handles PUT /api/v1/settings/delivery
func (h *Handlers) SetDeliveryDefaults(w http.ResponseWriter, r *http.Request) {
	d, ok := readJSON[settings.DeliveryDefaults](w, r)
	if !ok {
		return
	}
	if err := h.Settings.SetDeliveryDefaults(r.Context(), d); err != nil {
		writeDomainError(w, err, "setting not found")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// --- Health ---

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version,omitempty"`
	QueueSize int    `json:"queueSize"`
	Listeners int    `json:"listeners"`
	WSClients int    `json:"wsClients"`
	NATS      string `json:"nats,omitempty"`
}

// Health handles GET /health. A disconnected NATS link reports "degraded"
// with status 200.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Version:   h.Version,
		QueueSize: h.Runs.QueueSize(),
	}
	if h.Bus != nil {
		resp.Listeners = h.Bus.ListenerCount()
	}
	if h.Hub != nil {
		resp.WSClients = h.Hub.ConnectionCount()
	}
	if h.Queue != nil {
		resp.NATS = "connected"
		if !h.Queue.IsConnected() {
			resp.NATS = "disconnected"
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
