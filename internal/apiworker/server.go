package apiworker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rakunlabs/ada"
)

// Server is the thin HTTP ingress surface that turns REST calls into
// Commands for a Worker. It is intentionally minimal — no auth, no
// CRUD, no UI — spec.md scopes the GUI/SSE surface as a non-goal; this
// exists only so the command queue has a caller outside integration
// tests. Grounded on the teacher's server.go (ada.New/mux.Group
// wiring) and triggers.go's thin JSON-in/JSON-out handler shape
// (response.go's httpResponse helper).
type Server struct {
	mux    *ada.Server
	worker *Worker
	tenant string
}

// NewServer wires a Server around worker. tenant is the default tenant
// attached to every command this surface produces.
func NewServer(worker *Worker, tenant string) *Server {
	s := &Server{mux: ada.New(), worker: worker, tenant: tenant}

	api := s.mux.Group("/api/v1")
	api.POST("/graphs", s.loadGraph)
	api.POST("/nodes/*/trigger", s.triggerNode)
	api.POST("/workflows/*/trigger", s.triggerWorkflow)
	api.POST("/nodes/*/pin", s.pinNode)
	api.POST("/definitions/reload", s.reloadDefinitions)
	api.POST("/checkpoints/*/resume", s.resume)

	return s
}

// ServeHTTP lets Server be used directly as an http.Handler (e.g. with
// httptest.NewServer in integration tests).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// submitAndWait enqueues cmd and blocks for its Reply, bounded by ctx,
// so operator-facing failures come back synchronously per
// SPEC_FULL.md §7 instead of being reported only through the event bus.
func (s *Server) submitAndWait(ctx context.Context, cmd Command) error {
	reply := make(chan error, 1)
	cmd.Reply = reply
	s.worker.Submit(cmd)

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) loadGraph(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpResponse(w, "failed to read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = s.submitAndWait(ctx, Command{Kind: KindLoadGraph, Tenant: s.tenant, YAML: string(body)})
	s.respond(w, err)
}

func (s *Server) triggerNode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	nodeUUID := pathParam(r)
	payload, err := decodePayload(r)
	if err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = s.submitAndWait(ctx, Command{Kind: KindTriggerNode, Tenant: s.tenant, NodeUUID: nodeUUID, Payload: payload})
	s.respond(w, err)
}

func (s *Server) triggerWorkflow(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	workflowID := pathParam(r)
	payload, err := decodePayload(r)
	if err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err = s.submitAndWait(ctx, Command{Kind: KindTriggerWorkflow, Tenant: s.tenant, WorkflowID: workflowID, Payload: payload})
	s.respond(w, err)
}

func (s *Server) pinNode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	nodeUUID := pathParam(r)
	var body struct {
		TicketUUID string `json:"ticket_uuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpResponse(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	err := s.submitAndWait(ctx, Command{Kind: KindPinNode, Tenant: s.tenant, NodeUUID: nodeUUID, TicketUUID: body.TicketUUID})
	s.respond(w, err)
}

func (s *Server) reloadDefinitions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	err := s.submitAndWait(ctx, Command{Kind: KindReloadDefinitions, Tenant: s.tenant})
	s.respond(w, err)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	token := pathParam(r)
	err := s.submitAndWait(ctx, Command{Kind: KindResume, Tenant: s.tenant, Token: token})
	s.respond(w, err)
}

func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		httpResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	httpResponse(w, "ok", http.StatusOK)
}

func decodePayload(r *http.Request) (map[string]any, error) {
	if r.Body == nil {
		return nil, nil
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// pathParam reads the single "*" wildcard segment every route in this
// package uses, the convention native-proxy.go documents explicitly
// ("wildcard value has no leading '/'").
func pathParam(r *http.Request) string {
	return r.PathValue("*")
}
