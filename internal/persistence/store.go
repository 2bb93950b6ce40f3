package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/petrijr/reportflow/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a workflow instance is not found.
	ErrInstanceNotFound = api.ErrInstanceNotFound

	// ErrInstanceExists is returned by SaveInstance when the id is taken.
	ErrInstanceExists = errors.New("instance already exists")

	// ErrLeaseNotHeld is returned by RenewLease when the caller no longer
	// owns the instance lease.
	ErrLeaseNotHeld = errors.New("instance lease not held")
)

// InstanceFilter is used to select instances from the store.
// Empty string / zero status mean "no filter" for that field.
type InstanceFilter struct {
	Key    string
	Status api.Status
}

func (f InstanceFilter) match(inst *api.WorkflowInstance) bool {
	if f.Key != "" && inst.Key != f.Key {
		return false
	}
	if f.Status != "" && inst.Status != f.Status {
		return false
	}
	return true
}

// InstanceStore handles storage of workflow instances.
//
// Implementations store a full snapshot on every write. Readers never share
// memory with the caller: GetInstance and ListInstances return fresh values.
type InstanceStore interface {
	// SaveInstance inserts a new instance. It fails with ErrInstanceExists
	// if the id is already stored.
	SaveInstance(ctx context.Context, inst *api.WorkflowInstance) error
	UpdateInstance(ctx context.Context, inst *api.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*api.WorkflowInstance, error)
	// ListInstances returns matching instances ordered by key, then
	// generation.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.WorkflowInstance, error)

	// TryAcquireLease takes (or extends) the ownership lease of an instance.
	// It returns false without error while another owner holds an unexpired
	// lease. A lease held by the same owner is re-entrant.
	TryAcquireLease(ctx context.Context, instanceID, owner string, ttl time.Duration) (bool, error)
	// RenewLease extends a lease held by owner, or fails with ErrLeaseNotHeld.
	RenewLease(ctx context.Context, instanceID, owner string, ttl time.Duration) error
	// ReleaseLease drops a lease held by owner. It is idempotent.
	ReleaseLease(ctx context.Context, instanceID, owner string) error
}

func sortInstances(out []*api.WorkflowInstance) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		if out[i].Generation != out[j].Generation {
			return out[i].Generation < out[j].Generation
		}
		return out[i].ID < out[j].ID
	})
}
