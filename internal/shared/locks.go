package shared

import (
	"context"
	"errors"
)

// MaintenanceLockKey is the redis key guarding consistency repairs.
const MaintenanceLockKey = "maintenance:consistency:lock"

// ErrMaintenanceInProgress is returned when another repair run holds the maintenance lock.
var ErrMaintenanceInProgress = errors.New("maintenance in progress")

// Lease is a held lock.
type Lease interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}
