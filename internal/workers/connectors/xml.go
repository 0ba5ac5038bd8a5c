package connectors

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// XmlConfig is an xml_transform node's static configuration.
type XmlConfig struct {
	TargetField string // field holding the XML string; "" means the whole payload is the XML document
	ResultKey   string
}

func parseXMLConfig(raw map[string]any) XmlConfig {
	cfg := XmlConfig{}
	cfg.TargetField, _ = raw["target_field"].(string)
	cfg.ResultKey, _ = raw["result_key"].(string)
	return cfg
}

// XmlWorker converts an XML document into a generic JSON-shaped value
// and merges it per §4.4. Grounded on components.rs's XmlConfig; the
// reference implementation names the node but never wires a parser, so
// this generalizes "transform a stored XML string" into the same
// target_field/result_key contract splitter/transform already use.
type XmlWorker struct{}

// NewXmlWorker constructs an XmlWorker.
func NewXmlWorker() *XmlWorker { return &XmlWorker{} }

func (x *XmlWorker) NodeType() string { return "xml_transform" }

func (x *XmlWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
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
	cfg := parseXMLConfig(rawConfig)

	for _, item := range items {
		if err := x.process(ctx, world, id, deps, item.Ticket, cfg); err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(workers.NodeUUID(world, id), item.Ticket.TraceID, err)
			}
		}
	}

	return nil
}

func (x *XmlWorker) process(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps, ticket ecs.Ticket, cfg XmlConfig) error {
	data, upstream, err := workers.ClaimJSON(ctx, deps.Blob, ticket)
	if err != nil {
		return fmt.Errorf("xml_transform: claim: %w", err)
	}

	xmlText := ""
	if cfg.TargetField == "" {
		xmlText = string(upstream)
	} else if m, ok := data.(map[string]any); ok {
		xmlText, _ = m[cfg.TargetField].(string)
	}

	parsed, err := xmlToMap(xmlText)
	if err != nil {
		return fmt.Errorf("xml_transform: parse: %w", err)
	}

	merged, err := workers.Merge(upstream, cfg.ResultKey, parsed)
	if err != nil {
		return fmt.Errorf("xml_transform: merge: %w", err)
	}

	blobID, err := deps.Blob.CheckInWithMetadata(ctx, merged, ticket.Metadata)
	if err != nil {
		return fmt.Errorf("xml_transform: check in: %w", err)
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: ticket.TraceID, Metadata: ticket.Metadata})
	return nil
}

// xmlToMap decodes an XML document into a generic map[string]any/[]any/
// string tree: repeated sibling elements become arrays, elements with
// only character data become strings, attributes are prefixed with "@".
func xmlToMap(data string) (any, error) {
	dec := xml.NewDecoder(strings.NewReader(data))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, fmt.Errorf("xml: empty document")
		}
		if err != nil {
			return nil, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return decodeElement(dec, start)
		}
	}
}

func decodeElement(dec *xml.Decoder, start xml.StartElement) (any, error) {
	children := map[string]any{}
	for _, attr := range start.Attr {
		children["@"+attr.Name.Local] = attr.Value
	}

	var text strings.Builder

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeElement(dec, t)
			if err != nil {
				return nil, err
			}
			appendChild(children, t.Name.Local, child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) == 0 {
				return strings.TrimSpace(text.String()), nil
			}
			if trimmed := strings.TrimSpace(text.String()); trimmed != "" {
				children["#text"] = trimmed
			}
			return children, nil
		}
	}
}

func appendChild(m map[string]any, key string, value any) {
	existing, ok := m[key]
	if !ok {
		m[key] = value
		return
	}
	if list, ok := existing.([]any); ok {
		m[key] = append(list, value)
		return
	}
	m[key] = []any{existing, value}
}
