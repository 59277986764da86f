package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/kind"
	"github.com/iota-uz/orgtree/modules/hierarchy/services"
)

// HierarchyAPIController exposes the tree engine over JSON. Every route is
// scoped by hierarchy kind, so the same handler set serves departments,
// jobs, teams and projects regardless of the storage layout behind each.
type HierarchyAPIController struct {
	service  *services.HierarchyService
	basePath string
}

func NewHierarchyAPIController(service *services.HierarchyService) *HierarchyAPIController {
	return &HierarchyAPIController{
		service:  service,
		basePath: "/hierarchy/api",
	}
}

func (c *HierarchyAPIController) Key() string {
	return c.basePath
}

func (c *HierarchyAPIController) Register(r *mux.Router) {
	router := r.PathPrefix(c.basePath + "/{kind}").Subrouter()

	router.HandleFunc("/nodes", c.instrumentAPI("create", c.Create)).Methods(http.MethodPost)
	router.HandleFunc("/nodes:search", c.instrumentAPI("search", c.Search)).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}", c.instrumentAPI("get", c.Get)).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}", c.instrumentAPI("update", c.Update)).Methods(http.MethodPatch)
	router.HandleFunc("/nodes/{id}", c.instrumentAPI("delete", c.Delete)).Methods(http.MethodDelete)
	router.HandleFunc("/nodes/{id}/children", c.instrumentAPI("children", c.Children)).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/descendants", c.instrumentAPI("descendants", c.Descendants)).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/ancestors", c.instrumentAPI("ancestors", c.Ancestors)).Methods(http.MethodGet)
	router.HandleFunc("/nodes/{id}/parent", c.instrumentAPI("parent", c.Parent)).Methods(http.MethodGet)
}

type nodeResponse struct {
	ID       string  `json:"id"`
	Kind     string  `json:"kind"`
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

func toNodeResponse(n services.Node) nodeResponse {
	out := nodeResponse{ID: n.ID.String(), Kind: n.Kind.String(), Name: n.Name}
	if n.ParentID != nil {
		v := n.ParentID.String()
		out.ParentID = &v
	}
	return out
}

func toNodeResponses(nodes []services.Node) []nodeResponse {
	out := make([]nodeResponse, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toNodeResponse(n))
	}
	return out
}

type pageResponse struct {
	Items  []nodeResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func toPageResponse(p *services.Page) pageResponse {
	return pageResponse{
		Items:  toNodeResponses(p.Items),
		Total:  p.Total,
		Limit:  p.Limit,
		Offset: p.Offset,
	}
}

func requireKind(w http.ResponseWriter, r *http.Request, requestID string) (kind.Kind, bool) {
	k, ok := kind.Parse(mux.Vars(r)["kind"])
	if !ok {
		writeAPIError(w, http.StatusNotFound, requestID, "HIER_NOT_FOUND", "unknown hierarchy kind")
		return "", false
	}
	return k, true
}

func requireNodeID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_QUERY", "invalid node id")
		return uuid.Nil, false
	}
	return id, true
}

func parsePageParams(r *http.Request) (services.PageParams, error) {
	var p services.PageParams
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, err
		}
		p.Limit = n
	}
	if v := strings.TrimSpace(r.URL.Query().Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, err
		}
		p.Offset = n
	}
	return p, nil
}

type createNodeRequest struct {
	Name     string  `json:"name"`
	ParentID *string `json:"parent_id"`
}

func (c *HierarchyAPIController) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	var req createNodeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_BODY", "invalid json")
		return
	}
	in := services.CreateNodeInput{Name: req.Name}
	if req.ParentID != nil {
		pid, err := uuid.Parse(*req.ParentID)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_BODY", "invalid parent_id")
			return
		}
		in.ParentID = &pid
	}
	node, err := c.service.CreateNode(r.Context(), tenantID, k, in)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNodeResponse(*node))
}

// optionalUUID distinguishes an absent field from an explicit null: absent
// leaves the value alone, null clears it.
type optionalUUID struct {
	Set   bool
	Value *uuid.UUID
}

func (o *optionalUUID) UnmarshalJSON(data []byte) error {
	o.Set = true
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		o.Value = nil
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type updateNodeRequest struct {
	Name     *string      `json:"name"`
	ParentID optionalUUID `json:"parent_id"`
}

func (c *HierarchyAPIController) Update(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	id, ok := requireNodeID(w, r, requestID)
	if !ok {
		return
	}
	var req updateNodeRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_BODY", "invalid json")
		return
	}
	in := services.UpdateNodeInput{NodeID: id, Name: req.Name}
	if req.ParentID.Set {
		in.NewParentID = &req.ParentID.Value
	}
	node, err := c.service.UpdateNode(r.Context(), tenantID, k, in)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeResponse(*node))
}

func (c *HierarchyAPIController) Delete(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	id, ok := requireNodeID(w, r, requestID)
	if !ok {
		return
	}
	cascade := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("cascade")), "true")
	if err := c.service.DeleteNode(r.Context(), tenantID, k, id, cascade); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *HierarchyAPIController) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	id, ok := requireNodeID(w, r, requestID)
	if !ok {
		return
	}
	node, err := c.service.GetNode(r.Context(), tenantID, k, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeResponse(*node))
}

func (c *HierarchyAPIController) Children(w http.ResponseWriter, r *http.Request) {
	c.listPage(w, r, c.service.GetChildrenPage)
}

func (c *HierarchyAPIController) Descendants(w http.ResponseWriter, r *http.Request) {
	c.listPage(w, r, c.service.GetDescendantsPage)
}

type pageFunc func(ctx context.Context, tenantID uuid.UUID, k kind.Kind, nodeID uuid.UUID, p services.PageParams) (*services.Page, error)

func (c *HierarchyAPIController) listPage(w http.ResponseWriter, r *http.Request, fn pageFunc) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	id, ok := requireNodeID(w, r, requestID)
	if !ok {
		return
	}
	p, err := parsePageParams(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_QUERY", "invalid limit or offset")
		return
	}
	page, err := fn(r.Context(), tenantID, k, id, p)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}

func (c *HierarchyAPIController) Ancestors(w http.ResponseWriter, r *http.Request) {
	c.listPage(w, r, c.service.GetAncestorsPage)
}

func (c *HierarchyAPIController) Parent(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	id, ok := requireNodeID(w, r, requestID)
	if !ok {
		return
	}
	node, err := c.service.GetParent(r.Context(), tenantID, k, id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeResponse(*node))
}

func (c *HierarchyAPIController) Search(w http.ResponseWriter, r *http.Request) {
	tenantID, requestID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	k, ok := requireKind(w, r, requestID)
	if !ok {
		return
	}
	p, err := parsePageParams(r)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "HIER_INVALID_QUERY", "invalid limit or offset")
		return
	}
	page, err := c.service.SearchNodesPage(r.Context(), tenantID, k, r.URL.Query().Get("q"), p)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page))
}
