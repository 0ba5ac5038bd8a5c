// Package httpworker implements the HTTP node described in
// SPEC_FULL.md §4.5: a two-phase (dispatch/poll) worker that offloads
// the blocking network call to a goroutine and reports completion back
// to the tick loop over a buffered channel. Grounded on the teacher's
// nodes/http-request.go (klient client construction, mugo template
// rendering) and original_source/.../systems/io/http.rs's async
// dispatch/poll split.
package httpworker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rytsh/mugo/templatex"
	"github.com/worldline-go/klient"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/render"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// dispatchResult is what a spawned request goroutine reports back on
// the worker's shared result channel.
type dispatchResult struct {
	node     ecs.EntityID
	traceID  string
	metadata map[string]string
	body     string // "Error: ..." prefixed on failure, per spec.md §4.5
	status   int
}

// Worker implements the HTTP node. The loader's factory builds one
// Worker per "http_request" node, and New parses that node's config into
// the fields below once; in-flight requests are tracked through the
// worker's resultCh.
type Worker struct {
	urlTmpl     string
	methodTmpl  string
	headerTmpls map[string]string
	bodyTmpl    string
	resultKey   string
	timeout     time.Duration
	proxy       string
	insecure    bool
	retry       bool
	auth        AuthConfig
	connSlug    string

	resolver secrets.Store
	tenant   string

	resultCh chan dispatchResult
}

// New constructs a Worker from a node's raw configuration. resolver may
// be nil if the node never sets connection_slug.
func New(config map[string]any, resolver secrets.Store, tenant string) (*Worker, error) {
	urlTmpl, _ := config["url"].(string)
	if urlTmpl == "" {
		return nil, fmt.Errorf("httpworker: 'url' is required")
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = "GET"
	}

	timeout := 30.0
	if t, ok := config["timeout"].(float64); ok && t > 0 {
		timeout = t
	}

	headers := make(map[string]string)
	if h, ok := config["headers"].(map[string]any); ok {
		for k, v := range h {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	bodyTmpl, _ := config["body"].(string)
	resultKey, _ := config["result_key"].(string)
	proxy, _ := config["proxy"].(string)
	insecure, _ := config["insecure_skip_verify"].(bool)
	retry, _ := config["retry"].(bool)
	connSlug, _ := config["connection_slug"].(string)

	auth, err := parseAuthConfig(toMap(config["auth"]))
	if err != nil {
		return nil, err
	}

	return &Worker{
		urlTmpl:     urlTmpl,
		methodTmpl:  strings.ToUpper(method),
		headerTmpls: headers,
		bodyTmpl:    bodyTmpl,
		resultKey:   resultKey,
		timeout:     time.Duration(timeout * float64(time.Second)),
		proxy:       proxy,
		insecure:    insecure,
		retry:       retry,
		auth:        auth,
		connSlug:    connSlug,
		resolver:    resolver,
		tenant:      tenant,
		resultCh:    make(chan dispatchResult, 256),
	}, nil
}

func toMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func (w *Worker) NodeType() string { return "http_request" }

// Tick runs Phase A (poll completed requests, emit to outbox) then
// Phase B (claim pending inbox tickets, spawn dispatch goroutines).
func (w *Worker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	w.pollCompletions(world, deps)

	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()

	for _, item := range items {
		w.dispatch(ctx, world, id, deps, item)
	}

	return nil
}

// pollCompletions drains every result currently buffered on resultCh
// without blocking, matching spec.md §4.5 Phase A.
func (w *Worker) pollCompletions(world *ecs.World, deps workers.Deps) {
	for {
		select {
		case res := <-w.resultCh:
			w.finish(world, deps, res)
		default:
			return
		}
	}
}

func (w *Worker) finish(world *ecs.World, deps workers.Deps, res dispatchResult) {
	blobID, err := deps.Blob.CheckInWithMetadata(context.Background(), []byte(res.body), res.metadata)
	if err != nil {
		if deps.Bus != nil {
			deps.Bus.NodeError(workers.NodeUUID(world, res.node), res.traceID, err)
		}
		return
	}

	world.Outbox(res.node).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: res.traceID, Metadata: res.metadata})

	if deps.Bus != nil {
		deps.Bus.Publish(events.Event{
			Kind:     events.KindAgentActivity,
			NodeUUID: workers.NodeUUID(world, res.node),
			TraceID:  res.traceID,
			Details:  map[string]any{"action": "Completed", "content": res.body, "status_code": res.status},
		})
	}
}

// dispatch claims item's blob, renders the templated request, and
// spawns a goroutine that performs the network call and reports onto
// resultCh, per spec.md §4.5 Phase B.
func (w *Worker) dispatch(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps, item ecs.InboxItem) {
	data, payload, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
	if err != nil {
		w.sendError(id, item, err)
		return
	}

	tmplCtx := map[string]any{"data": data}
	if m, ok := data.(map[string]any); ok {
		for k, v := range m {
			tmplCtx[k] = v
		}
	}

	resolvedURL, err := renderTemplate("url", w.urlTmpl, tmplCtx)
	if err != nil {
		w.sendError(id, item, err)
		return
	}

	resolvedMethod, err := renderTemplate("method", w.methodTmpl, tmplCtx)
	if err != nil {
		w.sendError(id, item, err)
		return
	}
	resolvedMethod = strings.ToUpper(strings.TrimSpace(resolvedMethod))
	if resolvedMethod == "" {
		resolvedMethod = "GET"
	}

	var bodyBytes []byte
	if w.bodyTmpl != "" {
		rendered, err := renderTemplate("body", w.bodyTmpl, tmplCtx)
		if err != nil {
			w.sendError(id, item, err)
			return
		}
		bodyBytes = []byte(rendered)
	} else if resolvedMethod == http.MethodPost || resolvedMethod == http.MethodPut || resolvedMethod == http.MethodPatch {
		bodyBytes = payload
	}

	headers := make(map[string]string, len(w.headerTmpls))
	for k, tmpl := range w.headerTmpls {
		val, err := renderTemplate("header:"+k, tmpl, tmplCtx)
		if err != nil {
			w.sendError(id, item, err)
			return
		}
		headers[k] = val
	}

	auth := w.auth
	baseURL := ""
	if w.connSlug != "" && w.resolver != nil {
		conn, err := w.resolver.ResolveConnection(ctx, w.tenant, w.connSlug)
		if err != nil {
			w.sendError(id, item, err)
			return
		}
		if v, ok := conn["base_url"].(string); ok {
			baseURL = v
		}
		if v, ok := conn["bearer_token"].(string); ok && v != "" {
			auth = AuthConfig{Kind: AuthBearer, Token: v}
		} else if v, ok := conn["api_key"].(string); ok && v != "" {
			auth = AuthConfig{Kind: AuthBearer, Token: v}
		}
		if h, ok := conn["headers"].(map[string]any); ok {
			for k, v := range h {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
		}
	}

	if baseURL != "" {
		resolvedURL = baseURL + resolvedURL
	}

	traceID := item.Ticket.TraceID
	metadata := item.Ticket.Metadata
	timeout := w.timeout
	proxy := w.proxy
	insecure := w.insecure
	retry := w.retry

	go func() {
		body, status, err := performRequest(resolvedMethod, resolvedURL, bodyBytes, headers, auth, timeout, proxy, insecure, retry)

		label := "ok"
		result := body
		if err != nil {
			result = "Error: " + err.Error()
			if strings.HasPrefix(err.Error(), "ssrf:") {
				label = "error_blocked"
			} else {
				label = "error"
			}
		} else if status >= 400 {
			label = "error"
			result = fmt.Sprintf("Error: HTTP %d: %s", status, body)
		}

		md := make(map[string]string, len(metadata)+1)
		for k, v := range metadata {
			md[k] = v
		}
		md["status"] = label

		w.resultCh <- dispatchResult{node: id, traceID: traceID, metadata: md, body: result, status: status}
	}()
}

func (w *Worker) sendError(id ecs.EntityID, item ecs.InboxItem, err error) {
	md := make(map[string]string, len(item.Ticket.Metadata)+1)
	for k, v := range item.Ticket.Metadata {
		md[k] = v
	}
	md["status"] = "error"
	w.resultCh <- dispatchResult{node: id, traceID: item.Ticket.TraceID, metadata: md, body: "Error: " + err.Error()}
}

// performRequest validates the URL against the SSRF blocklist, builds a
// klient.Client with the node's proxy/TLS/retry settings, and executes
// the request.
func performRequest(method, url string, body []byte, headers map[string]string, auth AuthConfig, timeout time.Duration, proxy string, insecure, retry bool) (string, int, error) {
	if err := validateURL(url); err != nil {
		return "", 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if err := auth.apply(req); err != nil {
		return "", 0, err
	}

	client, err := buildClient(proxy, insecure, retry)
	if err != nil {
		return "", 0, fmt.Errorf("build client: %w", err)
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	return string(respBody), resp.StatusCode, nil
}

func buildClient(proxy string, insecure, retry bool) (*klient.Client, error) {
	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	}
	if proxy != "" {
		opts = append(opts, klient.WithProxy(proxy))
	}
	if insecure {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	opts = append(opts, klient.WithDisableRetry(!retry))

	return klient.New(opts...)
}

func renderTemplate(name, tmplText string, ctx map[string]any) (string, error) {
	if tmplText == "" {
		return "", nil
	}
	result, err := render.ExecuteWithData(tmplText, ctx, templatex.WithExecFuncMap(map[string]any{}))
	if err != nil {
		return "", fmt.Errorf("template %q: %w", name, err)
	}
	return string(result), nil
}
