package analytics

import "context"

// NoopBackend discards every batch. Used when ANALYTICS_DRIVER is unset
// or "noop".
type NoopBackend struct{}

func (NoopBackend) WriteBatch(context.Context, []Event) error { return nil }
