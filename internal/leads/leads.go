// Package leads provides the lead lifecycle bounded context.
// This file defines the public API of the context. Other domains depend on
// the interfaces declared here, not on the concrete service.
package leads

import (
	"context"

	"leadrelay/internal/leads/service"
)

// Lifecycle is what background workers drive: delayed welcomes and the periodic sweep.
type Lifecycle interface {
	// DispatchWelcome sends the welcome of phone if it is due. Repeated calls are harmless.
	DispatchWelcome(ctx context.Context, phone string) error
	// Sweep applies the due transition of every pending lead.
	Sweep(ctx context.Context) (service.SweepReport, error)
}

var _ Lifecycle = (*service.Service)(nil)
