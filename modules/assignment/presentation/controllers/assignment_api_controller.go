package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/orgtree/modules/assignment/services"
	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	hierarchy "github.com/iota-uz/orgtree/modules/hierarchy/services"
	"github.com/iota-uz/orgtree/pkg/composables"
	"github.com/iota-uz/orgtree/pkg/configuration"
)

// AssignmentAPIController exposes person-to-node assignments over JSON.
type AssignmentAPIController struct {
	service  *services.AssignmentService
	basePath string
}

func NewAssignmentAPIController(service *services.AssignmentService) *AssignmentAPIController {
	return &AssignmentAPIController{
		service:  service,
		basePath: "/assignment/api",
	}
}

func (c *AssignmentAPIController) Key() string {
	return c.basePath
}

func (c *AssignmentAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath).Subrouter()
	router.HandleFunc("/assignments", c.Create).Methods(http.MethodPost)
	router.HandleFunc("/assignments/{id}:end", c.End).Methods(http.MethodPost)
	router.HandleFunc("/{kind}/nodes/{node_id}/assignments", c.ListForNode).Methods(http.MethodGet)
	router.HandleFunc("/{kind}/nodes/{node_id}/assignments:subtree", c.ListForSubtree).Methods(http.MethodGet)
}

type assignmentResponse struct {
	ID            string `json:"id"`
	Pernr         int64  `json:"pernr"`
	Kind          string `json:"kind"`
	NodeID        string `json:"node_id"`
	EffectiveDate string `json:"effective_date"`
	EndDate       string `json:"end_date"`
}

func toAssignmentResponse(a services.AssignmentRow) assignmentResponse {
	return assignmentResponse{
		ID:            a.ID.String(),
		Pernr:         a.Pernr,
		Kind:          a.Kind.String(),
		NodeID:        a.NodeID.String(),
		EffectiveDate: a.EffectiveDate.UTC().Format("2006-01-02"),
		EndDate:       a.EndDate.UTC().Format("2006-01-02"),
	}
}

type createAssignmentRequest struct {
	Pernr         int64  `json:"pernr"`
	Kind          string `json:"kind"`
	NodeID        string `json:"node_id"`
	EffectiveDate string `json:"effective_date"`
}

func (c *AssignmentAPIController) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var req createAssignmentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid json")
		return
	}
	k, ok := kind.Parse(req.Kind)
	if !ok {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "unknown hierarchy kind")
		return
	}
	nodeID, err := uuid.Parse(req.NodeID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid node_id")
		return
	}
	effective, err := parseDate(req.EffectiveDate)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid effective_date")
		return
	}
	created, err := c.service.Create(r.Context(), tenantID, services.CreateAssignmentInput{
		Pernr:         req.Pernr,
		Kind:          k,
		NodeID:        nodeID,
		EffectiveDate: effective,
	})
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentResponse(*created))
}

type endAssignmentRequest struct {
	EndDate string `json:"end_date"`
}

func (c *AssignmentAPIController) End(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid assignment id")
		return
	}
	var req endAssignmentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid json")
		return
	}
	endDate, err := parseDate(req.EndDate)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid end_date")
		return
	}
	if err := c.service.End(r.Context(), tenantID, id, endDate); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *AssignmentAPIController) ListForNode(w http.ResponseWriter, r *http.Request) {
	c.list(w, r, c.service.ListForNode)
}

func (c *AssignmentAPIController) ListForSubtree(w http.ResponseWriter, r *http.Request) {
	c.list(w, r, c.service.ListForSubtree)
}

func (c *AssignmentAPIController) list(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, asOf time.Time) ([]services.AssignmentRow, error)) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	k, ok := kind.Parse(vars["kind"])
	if !ok {
		writeAPIError(w, http.StatusNotFound, requestID, "ASG_NOT_FOUND", "unknown hierarchy kind")
		return
	}
	nodeID, err := uuid.Parse(vars["node_id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid node id")
		return
	}
	asOf, err := parseDate(r.URL.Query().Get("as_of"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_INVALID_BODY", "invalid as_of")
		return
	}
	rows, err := fn(r.Context(), tenantID, k, nodeID, asOf)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	out := make([]assignmentResponse, 0, len(rows))
	for _, a := range rows {
		out = append(out, toAssignmentResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func writeJSON[T any](w http.ResponseWriter, status int, payload T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	meta := map[string]string{}
	if requestID != "" {
		meta["request_id"] = requestID
	}
	writeJSON(w, status, map[string]any{"code": code, "message": message, "meta": meta})
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *hierarchy.ServiceError
	if errors.As(err, &svcErr) {
		writeAPIError(w, svcErr.Status, requestID, svcErr.Code, svcErr.Message)
		return
	}
	writeAPIError(w, http.StatusInternalServerError, requestID, "ASG_INTERNAL", err.Error())
}

func ensureRequestID(r *http.Request) string {
	conf := configuration.Use()
	v := strings.TrimSpace(r.Header.Get(conf.RequestIDHeader))
	if v != "" {
		return v
	}
	v = uuid.NewString()
	r.Header.Set(conf.RequestIDHeader, v)
	return v
}

func requireTenant(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	requestID := ensureRequestID(r)
	tid, err := composables.UseTenantID(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "ASG_NO_TENANT", "no tenant")
		return uuid.Nil, requestID, false
	}
	return tid, requestID, true
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}
