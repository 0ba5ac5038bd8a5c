package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/crypto/ssh"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/security"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// SshConfig is an ssh_command node's static configuration.
type SshConfig struct {
	Host           string
	Port           int
	UserSecret     string // secret key (or connection field) holding the username
	KeySecret      string // secret key (or connection field) holding the password/private key
	Command        string
	ConnectionSlug string
}

func parseSSHConfig(raw map[string]any) SshConfig {
	cfg := SshConfig{Port: 22}
	cfg.Host, _ = raw["host"].(string)
	if v, ok := raw["port"].(float64); ok && v > 0 {
		cfg.Port = int(v)
	}
	cfg.UserSecret, _ = raw["user_secret"].(string)
	cfg.KeySecret, _ = raw["key_secret"].(string)
	cfg.Command, _ = raw["command"].(string)
	cfg.ConnectionSlug, _ = raw["connection_slug"].(string)
	return cfg
}

// SshWorker runs a fixed command over SSH for each queued ticket and
// emits its stdout/exit code. Grounded on
// original_source/.../systems/connectors/ssh.rs, using
// golang.org/x/crypto/ssh in place of the original's ssh2 bindings.
type SshWorker struct {
	resolver secrets.Store
	tenant   string
}

// NewSshWorker constructs an SshWorker. resolver may be nil if no node
// ever sets connection_slug.
func NewSshWorker(resolver secrets.Store, tenant string) *SshWorker {
	return &SshWorker{resolver: resolver, tenant: tenant}
}

func (s *SshWorker) NodeType() string { return "ssh_command" }

func (s *SshWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
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
	cfg := parseSSHConfig(rawConfig)
	nodeUUID := workers.NodeUUID(world, id)

	user, secret := s.resolveCredentials(ctx, cfg)

	for _, item := range items {
		if err := s.run(ctx, world, id, deps, item.Ticket, cfg, user, secret); err != nil && deps.Bus != nil {
			deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, fmt.Errorf("ssh_command: %w", err))
		}
	}

	return nil
}

func (s *SshWorker) resolveCredentials(ctx context.Context, cfg SshConfig) (user, secret string) {
	user, secret = cfg.UserSecret, cfg.KeySecret

	if cfg.ConnectionSlug == "" || s.resolver == nil {
		return user, secret
	}

	conn, err := s.resolver.ResolveConnection(ctx, s.tenant, cfg.ConnectionSlug)
	if err != nil {
		return user, secret
	}
	if u, ok := conn["username"].(string); ok && u != "" {
		user = u
	}
	if p, ok := conn["password"].(string); ok && p != "" {
		secret = p
	} else if k, ok := conn["private_key"].(string); ok && k != "" {
		secret = k
	}
	return user, secret
}

func (s *SshWorker) run(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps, ticket ecs.Ticket, cfg SshConfig, user, secret string) error {
	if err := security.ValidateHostPort(cfg.Host, cfg.Port); err != nil {
		return err
	}

	auth, err := authMethod(secret)
	if err != nil {
		return err
	}

	client, err := ssh.Dial("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // no pinned host key is configurable yet
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	defer session.Close()

	out, runErr := session.CombinedOutput(cfg.Command)
	exitCode := 0
	if exitErr, ok := runErr.(*ssh.ExitError); ok {
		exitCode = exitErr.ExitStatus()
	} else if runErr != nil {
		return fmt.Errorf("exec: %w", runErr)
	}

	payload, err := json.Marshal(map[string]any{"stdout": string(out), "exit_code": exitCode})
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

// authMethod builds an ssh.AuthMethod from secret, trying it first as a
// PEM private key and falling back to password auth.
func authMethod(secret string) (ssh.AuthMethod, error) {
	if signer, err := ssh.ParsePrivateKey([]byte(secret)); err == nil {
		return ssh.PublicKeys(signer), nil
	}
	return ssh.Password(secret), nil
}
