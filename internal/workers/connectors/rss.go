// Package connectors implements the RSS/XML, SSH, and FTP node workers
// named but not detailed in spec.md's NodeWorkers list. Grounded on
// original_source/.../systems/connectors/{rss,xml,ssh,ftp}.rs.
package connectors

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/security"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// rssChannel is the minimal RSS 2.0 shape the poller reads.
type rssChannel struct {
	XMLName xml.Name  `xml:"rss"`
	Items   []rssItem `xml:"channel>item"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
	GUID        string `xml:"guid"`
}

// RssConfig is an rss_feed node's static configuration.
type RssConfig struct {
	URL             string
	IntervalSeconds int
}

func parseRSSConfig(raw map[string]any) RssConfig {
	cfg := RssConfig{IntervalSeconds: 60}
	cfg.URL, _ = raw["url"].(string)
	if v, ok := raw["interval_seconds"].(float64); ok && v >= 0 {
		cfg.IntervalSeconds = int(v)
	}
	return cfg
}

// RssWorker polls an RSS feed on an interval and emits one ticket per
// item newer than the last one seen, generalizing control.rs's
// global-10s throttle to a per-node interval tracked in the lastPoll map.
type RssWorker struct {
	client *http.Client

	mu       sync.Mutex
	lastPoll map[ecs.EntityID]time.Time
	lastSeen map[ecs.EntityID]time.Time
}

// NewRssWorker constructs an RssWorker.
func NewRssWorker() *RssWorker {
	return &RssWorker{
		client:   &http.Client{Timeout: 15 * time.Second},
		lastPoll: make(map[ecs.EntityID]time.Time),
		lastSeen: make(map[ecs.EntityID]time.Time),
	}
}

func (r *RssWorker) NodeType() string { return "rss_feed" }

func (r *RssWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	def, _ := world.NodeDefinition(id)
	var rawConfig map[string]any
	if def != nil {
		rawConfig = def.Config
	}
	cfg := parseRSSConfig(rawConfig)
	if cfg.URL == "" {
		return nil
	}

	r.mu.Lock()
	last, polled := r.lastPoll[id]
	due := !polled || time.Since(last) >= time.Duration(cfg.IntervalSeconds)*time.Second
	if due {
		r.lastPoll[id] = time.Now()
	}
	r.mu.Unlock()
	if !due {
		return nil
	}

	nodeUUID := workers.NodeUUID(world, id)

	if err := security.ValidateURL(cfg.URL); err != nil {
		r.reportError(deps, nodeUUID, err)
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		r.reportError(deps, nodeUUID, err)
		return nil
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.reportError(deps, nodeUUID, err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		r.reportError(deps, nodeUUID, err)
		return nil
	}

	var channel rssChannel
	if err := xml.Unmarshal(body, &channel); err != nil {
		r.reportError(deps, nodeUUID, fmt.Errorf("rss: parse: %w", err))
		return nil
	}

	r.mu.Lock()
	lastSeen := r.lastSeen[id]
	r.mu.Unlock()

	maxSeen := lastSeen
	emitted := 0

	for _, item := range channel.Items {
		pubDate := time.Now()
		if item.PubDate != "" {
			if t, err := mail.ParseDate(item.PubDate); err == nil {
				pubDate = t
			}
		}

		if !lastSeen.IsZero() && !pubDate.After(lastSeen) {
			continue
		}
		if pubDate.After(maxSeen) {
			maxSeen = pubDate
		}

		payload, err := json.Marshal(map[string]any{
			"title":       item.Title,
			"link":        item.Link,
			"description": item.Description,
			"pubDate":     item.PubDate,
			"guid":        item.GUID,
		})
		if err != nil {
			continue
		}

		blobID, err := deps.Blob.CheckIn(ctx, payload)
		if err != nil {
			r.reportError(deps, nodeUUID, err)
			continue
		}

		traceID := uuid.NewString()
		world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: traceID})
		emitted++
	}

	r.mu.Lock()
	r.lastSeen[id] = maxSeen
	r.mu.Unlock()

	if emitted > 0 && deps.Bus != nil {
		deps.Bus.NodeTelemetry(nodeUUID, "", map[string]any{"message": "polled rss", "new_items": emitted})
	}

	return nil
}

func (r *RssWorker) reportError(deps workers.Deps, nodeUUID string, err error) {
	if deps.Bus != nil {
		deps.Bus.NodeError(nodeUUID, "", err)
	}
}
