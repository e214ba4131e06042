package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deepquery/guardrail/internal/audit"
	"github.com/deepquery/guardrail/internal/budget"
	"github.com/deepquery/guardrail/internal/contextwindow"
	"github.com/deepquery/guardrail/internal/domain"
)

// maxReserveBody caps how much prompt text a reservation may carry.
const maxReserveBody = 10 << 20

// ReserveRequest asks for provider-budget clearance for one model call.
type ReserveRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// ReserveResponse carries the shaped prompt and what the reservation
// cost. The caller proceeds with its provider call once this returns.
type ReserveResponse struct {
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`
	PromptTokens int    `json:"prompt_tokens"`
	Truncated    bool   `json:"truncated"`
	WaitedMS     int64  `json:"waited_ms"`
}

// ReserveHandler is the outbound-governance endpoint: it fits the prompt
// into the model's context window, then blocks until the model's minute
// windows admit the call. Daily-quota exhaustion fails with 429 and a
// typed error body; waiting does not help within the same day.
type ReserveHandler struct {
	Governor *budget.Governor
	Logger   *slog.Logger
	Recorder DecisionRecorder // optional
}

func (h *ReserveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReserveBody))
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Model == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}

	limits := h.Governor.Limits(req.Model)
	cw := contextwindow.New(req.Model, limits.MaxTokens, limits.MaxOutputTokens)

	shaped := cw.TruncateToFit(req.Prompt)
	truncated := shaped != req.Prompt
	estimated := cw.EstimateTokens(shaped)

	waited, err := h.Governor.WaitIfNeeded(r.Context(), req.Model, estimated)
	if err != nil {
		var ge *domain.GovernanceError
		if errors.As(err, &ge) {
			h.Logger.Warn("model budget exhausted",
				slog.String("model", req.Model),
				slog.String("kind", string(ge.Kind)),
			)
			h.record(r, audit.Decision{
				Component: "budget",
				Outcome:   string(ge.Kind),
				Model:     req.Model,
				Path:      r.URL.Path,
			})
			writeJSONError(w, ge.HTTPStatusCode(), ge.Error())
			return
		}
		// Context cancellation while waiting.
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if waited > 0 {
		h.record(r, audit.Decision{
			Component: "budget",
			Outcome:   "wait",
			Model:     req.Model,
			Path:      r.URL.Path,
			WaitMS:    waited.Milliseconds(),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(ReserveResponse{
		Model:        req.Model,
		Prompt:       shaped,
		PromptTokens: estimated,
		Truncated:    truncated,
		WaitedMS:     waited.Milliseconds(),
	})
}

func (h *ReserveHandler) record(r *http.Request, d audit.Decision) {
	if h.Recorder == nil {
		return
	}
	if err := h.Recorder.Record(r.Context(), d); err != nil {
		h.Logger.Error("audit record failed", slog.String("error", err.Error()))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
