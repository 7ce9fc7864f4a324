package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/nebula/pkg/log"
	"github.com/cuemby/nebula/pkg/metrics"
	"github.com/cuemby/nebula/pkg/storage"
	"github.com/cuemby/nebula/pkg/types"
)

// Sweeper periodically returns lease-expired processing messages to their
// bags' available partition. It is built entirely out of the
// existing contract: a backend-provided listing of processing entries
// plus ReturnMessage, which bumps each message's version on the way back.
type Sweeper struct {
	store    storage.StorageMechanism
	bags     []types.Name
	interval time.Duration
	logger   zerolog.Logger
}

// NewSweeper builds a Sweeper over store for the given bag Names,
// sweeping every interval.
func NewSweeper(store storage.StorageMechanism, bags []types.Name, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		bags:     bags,
		interval: interval,
		logger:   log.WithComponent("repository.sweeper"),
	}
}

// Run sweeps on a ticker until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepOnce(ctx); err != nil {
				s.logger.Error().Err(err).Msg("sweep failed")
			}
		}
	}
}

// SweepOnce walks every configured bag once, returning each processing
// entry older than the bag's lease. Backends that can't enumerate their
// processing partition (Remote, S3) are skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) error {
	lister, ok := s.store.(storage.ProcessingLister)
	if !ok {
		s.logger.Warn().Msg("backend does not support processing enumeration; nothing to sweep")
		return nil
	}

	for _, bag := range s.bags {
		bagLog := log.ForBag("repository.sweeper", bag.String())
		citation, err := s.store.ReadName(ctx, bag)
		if err != nil {
			return err
		}
		if citation == nil {
			bagLog.Warn().Msg("bag name unbound; skipping")
			continue
		}
		contract, err := s.store.ReadContract(ctx, *citation)
		if err != nil {
			return err
		}
		if contract == nil {
			continue
		}
		lease, ok := types.BagLease(contract.Document)
		if !ok {
			continue
		}

		entries, err := lister.ListProcessing(ctx, *citation)
		if err != nil {
			return err
		}
		swept := 0
		for _, entry := range entries {
			if time.Since(entry.ClaimedAt) < lease {
				continue
			}
			if err := s.store.ReturnMessage(ctx, *citation, entry.Message); err != nil {
				// A claimant accepting the message between our listing and
				// this return shows up as LeaseExpired; that is a resolved
				// race, not a failure.
				bagLog.Debug().Err(err).Msg("expired message gone before return")
				continue
			}
			swept++
			metrics.MessagesSweptTotal.WithLabelValues(bag.String()).Inc()
			bagLog.Info().Str("tag", entry.Citation.Tag.String()).Msg("expired message returned to available")
		}

		// The sweep walk is also the occupancy observation point: it is the
		// one place that already reads both partitions on a steady cadence.
		available, err := s.store.MessageCount(ctx, *citation)
		if err != nil {
			return err
		}
		metrics.BagOccupancy.WithLabelValues(bag.String(), "available").Set(float64(available))
		metrics.BagOccupancy.WithLabelValues(bag.String(), "processing").Set(float64(len(entries) - swept))
	}
	return nil
}
