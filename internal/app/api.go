package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Enntity/cortex-sub003/internal/agent"
)

// maxRequestBody bounds JSON request bodies at 1 MiB.
const maxRequestBody = 1 << 20

// registerAPI wires the JSON invocation endpoints onto mux.
func (a *App) registerAPI(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/turn", a.handleTurn)
	mux.HandleFunc("POST /v1/pathways/{name}", a.handleInvoke)
	mux.HandleFunc("GET /v1/tools", a.handleTools)
}

// turnRequest is the JSON body for POST /v1/turn.
type turnRequest struct {
	EntityID string `json:"entityId"`
	UserID   string `json:"userId"`
	Query    string `json:"query"`
	Files    string `json:"files,omitempty"`
	Voice    bool   `json:"voice,omitempty"`
	Budget   int    `json:"budget,omitempty"`
}

// turnResponse mirrors the pathway invocation shape.
type turnResponse struct {
	Result   string   `json:"result"`
	Tool     string   `json:"tool,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// handleTurn runs one entity turn through the agent.
func (a *App) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.agent.RunTurn(r.Context(), agent.TurnRequest{
		EntityID:     req.EntityID,
		UserID:       req.UserID,
		Query:        req.Query,
		FilesSummary: req.Files,
		Voice:        req.Voice,
		Budget:       req.Budget,
	})
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrNotVisible) {
			status = http.StatusForbidden
		}
		writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, turnResponse{
		Result:   resp.Result,
		Tool:     resp.Tool,
		Errors:   resp.Errors,
		Warnings: resp.Warnings,
	})
}

// handleInvoke runs an arbitrary registered pathway by name.
func (a *App) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var args map[string]any
	if err := decodeJSON(w, r, &args); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, ok := a.registry.Resolve(name); !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown pathway"))
		return
	}

	res, err := a.engine.InvokePathway(r.Context(), name, args)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// toolInfo is one entry of GET /v1/tools.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// handleTools lists the registered tool surface.
func (a *App) handleTools(w http.ResponseWriter, r *http.Request) {
	names := a.registry.ToolNames()
	tools := make([]toolInfo, 0, len(names))
	for _, name := range names {
		info := toolInfo{Name: name}
		if schema, ok := a.registry.Schema(name); ok {
			info.Description = schema.Description
		}
		tools = append(tools, info)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

// ─── JSON plumbing ───────────────────────────────────────────────────────────

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
