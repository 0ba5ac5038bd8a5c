package control

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// PinNode attaches a PinnedOutput component to id and marks the ticket's
// backing blob pinned=true so garbage collection spares it. Invoked by
// the API command worker's PinNode command; RunPinnedShortCircuit
// (internal/workers) is what makes a pinned node re-emit the ticket
// once per pending inbox item instead of running its worker.
func PinNode(ctx context.Context, world *ecs.World, blobStore *blob.Store, id ecs.EntityID, ticket ecs.Ticket, port string) error {
	blobID, err := workers.ParseBlobID(ticket.BlobID)
	if err != nil {
		return fmt.Errorf("control: pin node: %w", err)
	}

	if err := blobStore.Pin(ctx, blobID); err != nil {
		return fmt.Errorf("control: pin node: %w", err)
	}

	world.SetPinned(id, &ecs.PinnedOutput{Ticket: ticket, Port: port})

	return nil
}

// UnpinNode removes the PinnedOutput component from id. The backing
// blob's pinned=true metadata is left in place; GC exemption is harmless
// to keep and the original payload may still be referenced elsewhere.
func UnpinNode(world *ecs.World, id ecs.EntityID) {
	world.ClearPinned(id)
}
