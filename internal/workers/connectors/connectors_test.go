package connectors

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/security"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<item><title>First</title><link>http://example.com/1</link><description>d1</description><pubDate>Mon, 02 Jan 2006 15:04:05 GMT</pubDate><guid>1</guid></item>
<item><title>Second</title><link>http://example.com/2</link><description>d2</description><pubDate>Tue, 03 Jan 2006 15:04:05 GMT</pubDate><guid>2</guid></item>
</channel></rss>`

func TestRssWorkerEmitsNewItemsOnly(t *testing.T) {
	t.Setenv(security.AllowInternalIPsEnv, "true")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID: "node-rss",
		Type: "rss_feed",
		Config: map[string]any{"url": srv.URL, "interval_seconds": float64(0)},
	})

	rss := NewRssWorker()
	require.NoError(t, rss.Tick(ctx, world, id, deps))

	items := world.Outbox(id).Drain()
	require.Len(t, items, 2)

	// Second poll with an unchanged feed must not re-emit anything.
	require.NoError(t, rss.Tick(ctx, world, id, deps))
	require.Empty(t, world.Outbox(id).Drain())
}

func TestXmlWorkerParsesAndMerges(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID:   "node-xml",
		Type:   "xml_transform",
		Config: map[string]any{"target_field": "raw", "result_key": "parsed"},
	})

	payload, _ := json.Marshal(map[string]any{"raw": `<root attr="v"><child>hello</child></root>`})
	blobID, err := store.CheckIn(ctx, payload)
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-1"})

	xmlWorker := NewXmlWorker()
	require.NoError(t, xmlWorker.Tick(ctx, world, id, deps))

	items := world.Outbox(id).Drain()
	require.Len(t, items, 1)

	out, err := workers.ParseBlobID(items[0].Ticket.BlobID)
	require.NoError(t, err)
	resultPayload, err := store.Claim(ctx, out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(resultPayload, &m))
	parsed, ok := m["parsed"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "v", parsed["@attr"])
	require.Equal(t, "hello", parsed["child"])
}

func TestFtpWorkerListsDirectory(t *testing.T) {
	t.Setenv(security.AllowInternalIPsEnv, "true")
	addr := startFakeFTPServer(t)

	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()

	host, port := splitAddr(t, addr)
	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID: "node-ftp",
		Type: "ftp_connector",
		Config: map[string]any{
			"host":        host,
			"port":        float64(port),
			"user_secret": "anonymous",
			"pass_secret": "anonymous",
			"operation":   "list",
			"path":        "/",
		},
	})

	blobID, err := store.CheckIn(ctx, []byte(`{}`))
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-ftp"})

	ftp := NewFtpWorker(nil, "")
	require.NoError(t, ftp.Tick(ctx, world, id, deps))

	items := world.Outbox(id).Drain()
	require.Len(t, items, 1)

	out, err := workers.ParseBlobID(items[0].Ticket.BlobID)
	require.NoError(t, err)
	resultPayload, err := store.Claim(ctx, out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(resultPayload, &m))
	files, ok := m["files"].([]any)
	require.True(t, ok)
	require.Contains(t, files, "file1.txt")
}
