package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/security"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/connectors/ftpclient"
)

// FtpOperation is the action an ftp_connector node performs.
type FtpOperation string

const (
	FtpOperationList FtpOperation = "list"
	FtpOperationGet  FtpOperation = "get"
	FtpOperationPut  FtpOperation = "put"
)

// FtpConfig is an ftp_connector node's static configuration.
type FtpConfig struct {
	Host           string
	Port           int
	UserSecret     string
	PassSecret     string
	Operation      FtpOperation
	Path           string
	ConnectionSlug string
}

func parseFTPConfig(raw map[string]any) FtpConfig {
	cfg := FtpConfig{Port: 21, Operation: FtpOperationList}
	cfg.Host, _ = raw["host"].(string)
	if v, ok := raw["port"].(float64); ok && v > 0 {
		cfg.Port = int(v)
	}
	cfg.UserSecret, _ = raw["user_secret"].(string)
	cfg.PassSecret, _ = raw["pass_secret"].(string)
	if op, ok := raw["operation"].(string); ok && op != "" {
		cfg.Operation = FtpOperation(op)
	}
	cfg.Path, _ = raw["path"].(string)
	cfg.ConnectionSlug, _ = raw["connection_slug"].(string)
	return cfg
}

// FtpWorker performs FTP operations against a configured host. Only List
// is implemented, matching
// original_source/.../systems/connectors/ftp.rs, whose Get/Put match
// arms are empty; Get/Put here report a clear "not implemented" error
// instead of silently doing nothing.
type FtpWorker struct {
	resolver secrets.Store
	tenant   string
}

// NewFtpWorker constructs an FtpWorker. resolver may be nil if no node
// ever sets connection_slug.
func NewFtpWorker(resolver secrets.Store, tenant string) *FtpWorker {
	return &FtpWorker{resolver: resolver, tenant: tenant}
}

func (f *FtpWorker) NodeType() string { return "ftp_connector" }

func (f *FtpWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return nil
	}

	def, _ := world.NodeDefinition(id)
	var rawConfig map[string]any
	if def != nil {
		rawConfig = def.Config
	}
	cfg := parseFTPConfig(rawConfig)
	nodeUUID := workers.NodeUUID(world, id)

	user, pass := f.resolveCredentials(ctx, cfg)

	for _, item := range items {
		if err := f.run(ctx, world, id, deps, item.Ticket, cfg, user, pass); err != nil && deps.Bus != nil {
			deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, fmt.Errorf("ftp_connector: %w", err))
		}
	}

	return nil
}

func (f *FtpWorker) resolveCredentials(ctx context.Context, cfg FtpConfig) (user, pass string) {
	user, pass = cfg.UserSecret, cfg.PassSecret

	if cfg.ConnectionSlug == "" || f.resolver == nil {
		return user, pass
	}

	conn, err := f.resolver.ResolveConnection(ctx, f.tenant, cfg.ConnectionSlug)
	if err != nil {
		return user, pass
	}
	if u, ok := conn["username"].(string); ok && u != "" {
		user = u
	}
	if p, ok := conn["password"].(string); ok && p != "" {
		pass = p
	}
	return user, pass
}

func (f *FtpWorker) run(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps, ticket ecs.Ticket, cfg FtpConfig, user, pass string) error {
	if cfg.Operation != FtpOperationList {
		return fmt.Errorf("operation %q not implemented", cfg.Operation)
	}

	if err := security.ValidateHostPort(cfg.Host, cfg.Port); err != nil {
		return err
	}

	client, err := ftpclient.Dial(net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Login(user, pass); err != nil {
		return err
	}

	files, err := client.List(cfg.Path)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"files": files})
	if err != nil {
		return err
	}

	blobID, err := deps.Blob.CheckInWithMetadata(ctx, payload, ticket.Metadata)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: ticket.TraceID, Metadata: ticket.Metadata})
	return nil
}
