package storage

import (
	"context"
	"time"

	"github.com/cuemby/nebula/pkg/types"
)

// StorageMechanism is the contract every backend and wrapper implements
//. Every operation takes a context so cancellation and timeouts
// compose across wrappers regardless of which backend is underneath.
type StorageMechanism interface {
	NameExists(ctx context.Context, name types.Name) (bool, error)
	ReadName(ctx context.Context, name types.Name) (*types.Citation, error)
	WriteName(ctx context.Context, name types.Name, citation types.Citation) (types.Citation, error)

	DocumentExists(ctx context.Context, citation types.Citation) (bool, error)
	ReadDocument(ctx context.Context, citation types.Citation) (*types.Document, error)
	WriteDocument(ctx context.Context, document types.Document) (types.Citation, error)
	DeleteDocument(ctx context.Context, citation types.Citation) (*types.Document, error)

	ContractExists(ctx context.Context, citation types.Citation) (bool, error)
	ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error)
	WriteContract(ctx context.Context, contract types.Contract) (types.Citation, error)

	MessageAvailable(ctx context.Context, bag types.Citation) (bool, error)
	MessageCount(ctx context.Context, bag types.Citation) (int, error)
	AddMessage(ctx context.Context, bag types.Citation, message types.Message) error
	RemoveMessage(ctx context.Context, bag types.Citation) (*types.Message, error)
	ReturnMessage(ctx context.Context, bag types.Citation, message types.Message) error
	DeleteMessage(ctx context.Context, bag types.Citation, citation types.Citation) (*types.Message, error)
}

// ProcessingEntry describes one message currently claimed (in the
// "processing" partition) of a bag, along with when it was claimed —
// enough for the lease sweeper to decide it has expired.
type ProcessingEntry struct {
	Citation  types.Citation
	Message   types.Message
	ClaimedAt time.Time
}

// ProcessingLister is an optional, narrower capability a backend may
// implement so the lease sweeper can find aged "processing" entries
// without StorageMechanism itself growing a new method. LocalFS and
// InMemory implement it; Remote and S3 do not, and the sweeper simply
// skips backends that don't support it. Cached and Validated implement it
// by forwarding, returning an empty list when the store they wrap lacks it.
type ProcessingLister interface {
	ListProcessing(ctx context.Context, bag types.Citation) ([]ProcessingEntry, error)
}
