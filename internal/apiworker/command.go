// Package apiworker implements the API command worker described in
// spec.md §4.14: the bridge between the async ingress surface (HTTP
// handlers, in tests a direct Submit call) and the single-goroutine ECS
// world the scheduler tick loop owns exclusively. Grounded on
// original_source/.../systems/api_worker.rs for the drain-queue/
// apply-exclusive-mutation shape.
package apiworker

// Kind discriminates a Command's payload shape, mirroring the
// ApiCommand enum's variants from spec.md §4.14/§6.
type Kind string

const (
	KindLoadGraph         Kind = "load_graph"
	KindTriggerNode       Kind = "trigger_node"
	KindTriggerWorkflow   Kind = "trigger_workflow"
	KindPinNode           Kind = "pin_node"
	KindReloadDefinitions Kind = "reload_definitions"
	// KindResume drives the checkpoint resume path (spec.md §4.9's
	// "driven via API command" Resume operation); §4.14/§6 enumerate
	// the other five variants but omit this one, a gap this module
	// closes since nothing else exposes control.ResumeCheckpoint to a
	// caller outside the tick loop. See DESIGN.md's apiworker entry.
	KindResume Kind = "resume"
)

// Command is one queued API command, carrying only the fields its Kind
// uses. Reply, if non-nil, receives the command's outcome exactly once
// — operator-facing failures (parse errors, unknown node/workflow,
// missing checkpoint) are reported synchronously through it rather than
// only logged, per SPEC_FULL.md §7.
type Command struct {
	Kind Kind

	Tenant string

	// LoadGraph
	YAML string

	// TriggerNode / PinNode
	NodeUUID string

	// TriggerWorkflow
	WorkflowID string

	// TriggerNode / TriggerWorkflow
	Payload map[string]any

	// PinNode
	TicketUUID string

	// Resume
	Token string

	Reply chan error
}
