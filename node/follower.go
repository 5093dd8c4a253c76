package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quarrylabs/quarry/log"
	"github.com/quarrylabs/quarry/statedb"
	"github.com/quarrylabs/quarry/storage"
	"github.com/quarrylabs/quarry/types"
)

// ErrNoDiff is returned by a DiffSource for a height it cannot serve yet.
var ErrNoDiff = errors.New("node: no diff available")

// DiffSource supplies block diffs by height. Implementations return
// ErrNoDiff (possibly wrapped) for heights they do not have.
type DiffSource interface {
	// FirstAvailable returns the lowest height the source can serve.
	FirstAvailable(ctx context.Context) (uint64, error)

	// BlockAt returns the diff for one height.
	BlockAt(ctx context.Context, height uint64) (*types.BlockDiff, error)
}

const (
	prefetchDepth   = 8
	retryDelayMin   = 100 * time.Millisecond
	retryDelayMax   = 5 * time.Second
	retryAttemptCap = 10
)

// Follower drives a StateDB from a DiffSource: it fetches diffs ahead of
// the reconciler, applies them in order, and stops the moment the computed
// state contradicts a declared root. Storage I/O failures are retried with
// backoff; every other error is fatal.
type Follower struct {
	db     *statedb.StateDB
	source DiffSource

	// PollInterval, when non-zero, makes Run wait for new diffs instead
	// of returning once the source is exhausted.
	PollInterval time.Duration
}

func NewFollower(db *statedb.StateDB, source DiffSource) *Follower {
	return &Follower{db: db, source: source}
}

// Run follows the source until it is exhausted (nil return with zero
// PollInterval), the context ends, or a fatal error occurs. A
// DivergenceError is fatal: resuming past one would commit state the node
// cannot prove.
func (f *Follower) Run(ctx context.Context) error {
	next, err := f.startHeight(ctx)
	if err != nil {
		return err
	}
	log.Info(log.NodeMonitoring, "follower starting", "height", next)

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()
	diffs := make(chan *types.BlockDiff, prefetchDepth)
	fetchErr := make(chan error, 1)
	go f.fetchLoop(fetchCtx, next, diffs, fetchErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fetchErr:
			return err
		case block, ok := <-diffs:
			if !ok {
				select {
				case err := <-fetchErr:
					return err
				default:
				}
				log.Info(log.NodeMonitoring, "follower caught up")
				return nil
			}
			if err := f.applyWithRetry(ctx, block); err != nil {
				var divergence *statedb.DivergenceError
				if errors.As(err, &divergence) {
					log.Error(log.NodeMonitoring, "state divergence, halting",
						"height", divergence.Height,
						"computed", divergence.Computed.String(),
						"expected", divergence.Expected.String())
				}
				return err
			}
		}
	}
}

func (f *Follower) startHeight(ctx context.Context) (uint64, error) {
	if head := f.db.Head(); head != nil {
		return head.Height + 1, nil
	}
	first, err := f.source.FirstAvailable(ctx)
	if err != nil {
		return 0, fmt.Errorf("first available height: %w", err)
	}
	return first, nil
}

// fetchLoop pulls diffs ahead of the reconciler. It closes out when the
// source is exhausted and PollInterval is zero, otherwise it keeps polling.
func (f *Follower) fetchLoop(ctx context.Context, next uint64, out chan<- *types.BlockDiff, fail chan<- error) {
	defer close(out)
	for {
		block, err := f.fetchWithRetry(ctx, next)
		if err != nil {
			if errors.Is(err, ErrNoDiff) {
				if f.PollInterval == 0 {
					return
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(f.PollInterval):
					continue
				}
			}
			if ctx.Err() == nil {
				fail <- err
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case out <- block:
			next++
		}
	}
}

func (f *Follower) fetchWithRetry(ctx context.Context, height uint64) (*types.BlockDiff, error) {
	delay := retryDelayMin
	for attempt := 0; ; attempt++ {
		block, err := f.source.BlockAt(ctx, height)
		if err == nil {
			return block, nil
		}
		if !errors.Is(err, storage.ErrIO) || attempt >= retryAttemptCap {
			return nil, err
		}
		log.Warn(log.NodeMonitoring, "fetch failed, retrying",
			"height", height, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryDelayMax {
			delay = retryDelayMax
		}
	}
}

func (f *Follower) applyWithRetry(ctx context.Context, block *types.BlockDiff) error {
	delay := retryDelayMin
	for attempt := 0; ; attempt++ {
		_, err := f.db.ApplyBlock(block)
		if err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrIO) || attempt >= retryAttemptCap {
			return err
		}
		log.Warn(log.NodeMonitoring, "apply failed, retrying",
			"height", block.Height, "attempt", attempt, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > retryDelayMax {
			delay = retryDelayMax
		}
	}
}
