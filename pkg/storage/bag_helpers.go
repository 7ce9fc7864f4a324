package storage

import (
	"context"

	"github.com/cuemby/nebula/pkg/repoerr"
	"github.com/cuemby/nebula/pkg/types"
)

// contractReader is the slice of StorageMechanism a bag-capacity lookup
// needs; every backend already implements ReadContract on itself, so
// AddMessage can read its own bag's capacity back out of the bag
// Contract rather than a backend having to track it separately.
type contractReader interface {
	ReadContract(ctx context.Context, citation types.Citation) (*types.Contract, error)
}

// bagCapacity resolves a bag Citation to its declared capacity, failing
// NoBag if the bag Contract doesn't exist or carries no capacity
// attribute.
func bagCapacity(ctx context.Context, r contractReader, module string, bag types.Citation) (int, error) {
	contract, err := r.ReadContract(ctx, bag)
	if err != nil {
		return 0, repoerr.Wrap(repoerr.Unexpected, module, "bagCapacity", map[string]any{"bag": bag.Key()}, err)
	}
	if contract == nil {
		return 0, repoerr.New(repoerr.NoBag, module, "bagCapacity", map[string]any{"bag": bag.Key()})
	}
	capacity, ok := types.BagCapacity(contract.Document)
	if !ok {
		return 0, repoerr.New(repoerr.NoBag, module, "bagCapacity", map[string]any{"bag": bag.Key(), "reason": "no capacity attribute"})
	}
	return capacity, nil
}
