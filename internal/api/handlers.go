package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/config"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/pipelinestore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/positionstore"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/internal/validator"
	"github.com/flexinfer/mentatlab/services/pipelinegraph-go/pkg/types"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	store     pipelinestore.Store
	positions positionstore.Store
	validator *validator.Validator
	config    *config.Config
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store pipelinestore.Store, positions positionstore.Store, v *validator.Validator, cfg *config.Config, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.Load()
	}
	return &Handlers{
		store:     store,
		positions: positions,
		validator: v,
		config:    cfg,
		logger:    logger,
	}
}

// --- Health Endpoints ---

// Health handles the /health and /healthz endpoints.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready handles the /ready endpoint, checking the pipeline store.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListPipelines(r.Context(), &pipelinestore.ListOptions{Limit: 1}); err != nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "pipeline store unhealthy", err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Pipelines ---

// CreatePipeline handles POST /api/v1/pipelines
func (h *Handlers) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelinestore.CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid pipeline", err)
		return
	}

	p, err := h.store.CreatePipeline(r.Context(), &req)
	if err != nil {
		h.respondStoreError(w, r, "failed to create pipeline", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, p)
}

// ListPipelines handles GET /api/v1/pipelines
func (h *Handlers) ListPipelines(w http.ResponseWriter, r *http.Request) {
	opts := &pipelinestore.ListOptions{
		Limit:  queryInt(r, "limit", 0),
		Offset: queryInt(r, "offset", 0),
	}
	pipelines, err := h.store.ListPipelines(r.Context(), opts)
	if err != nil {
		h.respondStoreError(w, r, "failed to list pipelines", err)
		return
	}
	if pipelines == nil {
		pipelines = []*types.Pipeline{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"pipelines": pipelines})
}

// GetPipeline handles GET /api/v1/pipelines/{uuid}
func (h *Handlers) GetPipeline(w http.ResponseWriter, r *http.Request) {
	graph, err := h.store.GetPipeline(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.respondStoreError(w, r, "failed to get pipeline", err)
		return
	}
	h.respondJSON(w, http.StatusOK, graph)
}

// DeletePipeline handles DELETE /api/v1/pipelines/{uuid}
func (h *Handlers) DeletePipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	pipelineUUID := mux.Vars(r)["uuid"]

	if err := h.store.DeletePipeline(ctx, pipelineUUID); err != nil {
		h.respondStoreError(w, r, "failed to delete pipeline", err)
		return
	}
	if h.positions != nil {
		if err := h.positions.Clear(ctx, pipelineUUID); err != nil {
			h.logger.Warn("failed to clear saved positions",
				slog.String("pipeline_uuid", pipelineUUID),
				slog.String("error", err.Error()),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Nodes ---

// CreateNode handles POST /api/v1/pipelines/{uuid}/nodes
func (h *Handlers) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req types.NewNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.Validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid node", err)
		return
	}

	n, err := h.store.CreateNode(r.Context(), mux.Vars(r)["uuid"], &req)
	if err != nil {
		h.respondStoreError(w, r, "failed to create node", err)
		return
	}
	h.respondJSON(w, http.StatusCreated, n)
}

// GetNode handles GET /api/v1/pipelines/{uuid}/nodes/{node}
func (h *Handlers) GetNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := h.store.GetNode(r.Context(), vars["uuid"], vars["node"])
	if err != nil {
		h.respondStoreError(w, r, "failed to get node", err)
		return
	}
	h.respondJSON(w, http.StatusOK, n)
}

// UpdateNode handles PATCH /api/v1/pipelines/{uuid}/nodes/{node}
func (h *Handlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	var patch types.NodePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	n, err := h.store.UpdateNode(r.Context(), vars["uuid"], vars["node"], &patch)
	if err != nil {
		h.respondStoreError(w, r, "failed to update node", err)
		return
	}
	h.respondJSON(w, http.StatusOK, n)
}

// DeleteNode handles DELETE /api/v1/pipelines/{uuid}/nodes/{node}
func (h *Handlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.store.DeleteNode(r.Context(), vars["uuid"], vars["node"]); err != nil {
		h.respondStoreError(w, r, "failed to delete node", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ExecuteNode handles POST /api/v1/pipelines/{uuid}/nodes/{node}/execute
func (h *Handlers) ExecuteNode(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	n, err := pipelinestore.Execute(r.Context(), h.store, vars["uuid"], vars["node"])
	if err != nil {
		h.respondStoreError(w, r, "failed to execute node", err)
		return
	}
	h.logger.Info("node executed",
		slog.String("pipeline_uuid", vars["uuid"]),
		slog.String("node_uuid", vars["node"]),
		slog.String("status", string(n.Status)),
	)
	h.respondJSON(w, http.StatusAccepted, n)
}

// --- Connections ---

// ConnectionRequest is the body of connection calls.
type ConnectionRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Slot   string `json:"slot"`
}

func (c *ConnectionRequest) validate() error {
	if c.Source == "" || c.Target == "" || c.Slot == "" {
		return errors.New("source, target and slot are required")
	}
	return nil
}

// Connect handles POST /api/v1/pipelines/{uuid}/connections
func (h *Handlers) Connect(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := req.validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid connection", err)
		return
	}

	if err := h.store.Connect(r.Context(), mux.Vars(r)["uuid"], req.Source, req.Target, req.Slot); err != nil {
		h.respondStoreError(w, r, "failed to connect nodes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Disconnect handles DELETE /api/v1/pipelines/{uuid}/connections. The
// connection comes from the source, target and slot query parameters, or
// from a JSON body when they are absent.
func (h *Handlers) Disconnect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ConnectionRequest{Source: q.Get("source"), Target: q.Get("target"), Slot: q.Get("slot")}
	if req.validate() != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	if err := req.validate(); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid connection", err)
		return
	}

	if err := h.store.Disconnect(r.Context(), mux.Vars(r)["uuid"], req.Source, req.Target, req.Slot); err != nil {
		h.respondStoreError(w, r, "failed to disconnect nodes", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Positions ---

// PositionsBody is the saved arrangement of a pipeline.
type PositionsBody struct {
	Positions map[string]types.Position `json:"positions"`
}

// GetPositions handles GET /api/v1/pipelines/{uuid}/positions
func (h *Handlers) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.Load(r.Context(), mux.Vars(r)["uuid"])
	if err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to load positions", err)
		return
	}
	if positions == nil {
		positions = map[string]types.Position{}
	}
	h.respondJSON(w, http.StatusOK, PositionsBody{Positions: positions})
}

// PutPositions handles PUT /api/v1/pipelines/{uuid}/positions
func (h *Handlers) PutPositions(w http.ResponseWriter, r *http.Request) {
	var body PositionsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.positions.Save(r.Context(), mux.Vars(r)["uuid"], body.Positions); err != nil {
		h.respondError(w, r, http.StatusInternalServerError, "failed to save positions", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Node Types ---

// SlotInfo describes one input slot of a node type.
type SlotInfo struct {
	Key            string             `json:"key"`
	MaxConnections int                `json:"maxConnections"`
	Accepts        []types.OutputType `json:"accepts,omitempty"`
}

// NodeTypeInfo describes a node type for palettes.
type NodeTypeInfo struct {
	Type   types.NodeType `json:"type"`
	Name   string         `json:"name"`
	Output string         `json:"output,omitempty"`
	Slots  []SlotInfo     `json:"slots"`
}

// ListNodeTypes handles GET /api/v1/node-types
func (h *Handlers) ListNodeTypes(w http.ResponseWriter, r *http.Request) {
	var out []NodeTypeInfo
	for _, t := range types.AllNodeTypes() {
		info := NodeTypeInfo{Type: t, Name: types.KindName(t), Slots: []SlotInfo{}}
		if t != types.NodeTypeAsset {
			info.Output = string(types.OutputTypeOf(&types.Node{Type: t}))
		}
		for _, s := range types.Slots(t) {
			info.Slots = append(info.Slots, SlotInfo{Key: s.Key, MaxConnections: s.MaxConnections, Accepts: s.Accepts})
		}
		out = append(out, info)
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"nodeTypes": out})
}

// ValidateRequest carries editor text to check before saving.
type ValidateRequest struct {
	Config *string `json:"config,omitempty"`
	Asset  *string `json:"asset,omitempty"`
}

// ValidateNodeInput handles POST /api/v1/node-types/{type}/validate
func (h *Handlers) ValidateNodeInput(w http.ResponseWriter, r *http.Request) {
	kind := types.NodeType(mux.Vars(r)["type"])
	if !kind.Valid() {
		h.respondError(w, r, http.StatusNotFound, "unknown node type", types.ErrUnknownNodeType)
		return
	}
	if h.validator == nil {
		h.respondError(w, r, http.StatusServiceUnavailable, "validator not available", errors.New("validator not configured"))
		return
	}

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result := &validator.ValidationResult{Valid: true}
	if req.Config != nil {
		merge(result, h.validator.ValidateConfigJSON(kind, *req.Config))
	}
	if req.Asset != nil {
		merge(result, h.validator.ValidateAssetJSON(*req.Asset))
	}
	h.respondJSON(w, http.StatusOK, result)
}

func merge(into, from *validator.ValidationResult) {
	if !from.Valid {
		into.Valid = false
	}
	into.Errors = append(into.Errors, from.Errors...)
}

// --- Helper Methods ---

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, "error", err, "status", status)
	} else {
		h.logger.Debug(message, "error", err, "status", status)
	}
	var details map[string]interface{}
	if err != nil {
		details = map[string]interface{}{"reason": err.Error()}
	}
	writeErrorResponse(w, r, status, HTTPStatusToErrorCode(status), message, details)
}

// respondStoreError maps pipeline store errors onto HTTP statuses.
func (h *Handlers) respondStoreError(w http.ResponseWriter, r *http.Request, message string, err error) {
	h.respondError(w, r, statusForError(err), message, err)
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return defaultVal
}
