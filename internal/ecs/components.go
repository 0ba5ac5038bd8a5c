package ecs

import "time"

// Ticket is the unit of data carried between nodes. It wraps a blob
// claim check (by content-addressed ID) plus a trace identifier that
// every worker along a run must propagate unchanged.
type Ticket struct {
	BlobID   string
	TraceID  string
	Metadata map[string]string
}

// Inbox holds tickets waiting to be drained by a node's worker on the
// next tick. Workers must process it FIFO.
type Inbox struct {
	Items []InboxItem
}

// InboxItem pairs a delivered ticket with the port label it arrived on.
type InboxItem struct {
	Port   string
	Ticket Ticket
}

// Push appends an item to the inbox.
func (ib *Inbox) Push(port string, t Ticket) {
	ib.Items = append(ib.Items, InboxItem{Port: port, Ticket: t})
}

// Drain removes and returns every buffered item, in arrival order.
func (ib *Inbox) Drain() []InboxItem {
	items := ib.Items
	ib.Items = nil
	return items
}

// Outbox holds tickets produced by a node's worker this tick, each
// tagged with an optional port label. TransportWorker drains this once
// per tick and routes according to GraphTopology.
type Outbox struct {
	Items []OutboxItem
}

// OutboxItem pairs a produced ticket with the port label it was emitted
// on. An empty/"none" label broadcasts to every outgoing edge regardless
// of that edge's own port label (see SPEC_FULL.md §9).
type OutboxItem struct {
	Port   string
	Ticket Ticket
}

// NonePort is the sentinel port label meaning "broadcast to every
// outgoing edge, ignoring the edge's own port filter".
const NonePort = "none"

// Push appends an item to the outbox.
func (ob *Outbox) Push(port string, t Ticket) {
	ob.Items = append(ob.Items, OutboxItem{Port: port, Ticket: t})
}

// Drain removes and returns every buffered item, in emission order.
func (ob *Outbox) Drain() []OutboxItem {
	items := ob.Items
	ob.Items = nil
	return items
}

// Edge connects a source entity's output port to a target entity's
// input port.
type Edge struct {
	Target       EntityID
	SourceHandle string // port label on the source side; "" or NonePort matches any outbox emission
	TargetHandle string // port label the delivered item is tagged with on arrival
}

// NodeDefinition is the static, loader-assigned identity of a node
// entity: its stable UUID, declared type string, and the raw
// configuration blob a factory used to construct its worker.
type NodeDefinition struct {
	UUID   string
	Type   string
	Config map[string]any
}

// PinnedOutput marks a node's inbox as short-circuited: instead of
// running its worker, the node immediately re-emits the pinned ticket
// to its outbox every tick it has pending inbox items. Attached via the
// PinNode API command.
type PinnedOutput struct {
	Ticket Ticket
	Port   string
}

// Checkpoint is a durable, consume-on-read suspension record: a node
// hibernates with its pending payload and a resume token instead of
// continuing synchronously.
type Checkpoint struct {
	Token     string
	NodeUUID  string
	TraceID   string
	BlobID    string
	Metadata  map[string]string
	CreatedAt time.Time
}

// ReadyToExecute marks an agent-pipeline entity whose Prep stage has
// finished rendering a request; the Exec worker consumes and clears
// this component by spawning the async provider call.
type ReadyToExecute struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
	TraceID string
	Context map[string]any
}

// ExecutionResult marks an agent-pipeline entity whose provider call has
// completed; the Post worker consumes and clears this component,
// merging the result into the outbox ticket.
type ExecutionResult struct {
	Status   int
	RawBody  string
	Provider string
	Model    string
	TraceID  string
	Context  map[string]any
}

// CronState is the runtime scheduling state of a cron_trigger node: the
// next time it should fire, or (when Managed) a marker that an external
// hardloop.Cron runner owns its firing and reports back asynchronously.
// Done marks a one-shot (Once frequency) trigger that has already fired.
type CronState struct {
	NextRun time.Time
	Managed bool
	Done    bool
}
