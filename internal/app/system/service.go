package system

import "context"

// Service represents a lifecycle-managed component. Background runners and
// servers implement it so the Manager can start and stop them in order.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
