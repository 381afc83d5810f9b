// Package journal sequences state-affecting events and appends them to the
// event store.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"moonshot-engine/internal/domain"
	"moonshot-engine/internal/idhash"
	"moonshot-engine/internal/observability"
	"moonshot-engine/internal/storage"
)

// ErrPersistence wraps any failure to append to the event store.
var ErrPersistence = errors.New("persistence failure")

// Journal assigns the global sequence and event IDs.
//
// A batch whose append fails is kept and re-appended ahead of the next batch,
// so the stored log is always a gap-free prefix of the recorded history.
type Journal struct {
	store storage.EventStore
	log   zerolog.Logger

	mu        sync.Mutex
	seq       int64
	pending   []*domain.Event // stamped, not yet stored, in Seq order
	onFailure []func(error)
}

// New creates a journal continuing after the store's last sequence.
func New(ctx context.Context, store storage.EventStore, log zerolog.Logger) (*Journal, error) {
	last, err := store.LastSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("read last seq: %w", err)
	}
	return &Journal{store: store, log: log, seq: last}, nil
}

// OnFailure registers fn to run after every failed append.
func (j *Journal) OnFailure(fn func(error)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onFailure = append(j.onFailure, fn)
}

// LastSeq returns the last assigned sequence.
func (j *Journal) LastSeq() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Pending returns the number of recorded events not yet stored.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Record stamps Seq and EventID on evs, in order, and appends them together
// with any pending events as one batch. On failure the whole batch stays
// pending, the events keep their stamps and the failure hooks are run.
func (j *Journal) Record(ctx context.Context, evs ...*domain.Event) error {
	if len(evs) == 0 {
		return nil
	}

	// Sequencing and appending under one lock keeps the log in Seq order.
	j.mu.Lock()
	for _, ev := range evs {
		j.seq++
		ev.Seq = j.seq
		ev.EventID = idhash.ComputeEventID(ev.Seq, string(ev.Type), ev.PositionID, ev.At)
	}
	err := j.appendLocked(ctx, evs)
	hooks := j.onFailure
	j.mu.Unlock()

	return j.failed(err, evs[0], len(evs), hooks)
}

// Flush retries the pending events on their own.
func (j *Journal) Flush(ctx context.Context) error {
	j.mu.Lock()
	if len(j.pending) == 0 {
		j.mu.Unlock()
		return nil
	}
	first, n := j.pending[0], len(j.pending)
	err := j.appendLocked(ctx, nil)
	hooks := j.onFailure
	j.mu.Unlock()

	if err == nil {
		j.log.Info().Int("events", n).Int64("seq", first.Seq).Msg("pending events stored")
	}
	return j.failed(err, first, n, hooks)
}

func (j *Journal) appendLocked(ctx context.Context, evs []*domain.Event) error {
	batch := make([]*domain.Event, 0, len(j.pending)+len(evs))
	batch = append(append(batch, j.pending...), evs...)

	err := j.store.AppendBulk(ctx, batch)
	if errors.Is(err, storage.ErrDuplicateKey) && len(j.pending) > 0 {
		// A commit reported as failed may have landed after all.
		err = j.appendUnstored(ctx, batch, err)
	}
	if err != nil {
		j.pending = batch
		observability.SetPendingEvents(len(batch))
		return err
	}
	j.pending = nil
	observability.SetPendingEvents(0)
	return nil
}

// appendUnstored appends the part of batch past the store's last sequence.
// It returns cause when no prefix of batch is stored.
func (j *Journal) appendUnstored(ctx context.Context, batch []*domain.Event, cause error) error {
	last, err := j.store.LastSeq(ctx)
	if err != nil {
		return cause
	}
	stored := 0
	for stored < len(batch) && batch[stored].Seq <= last {
		stored++
	}
	if stored == 0 {
		return cause
	}
	return j.store.AppendBulk(ctx, batch[stored:])
}

func (j *Journal) failed(err error, first *domain.Event, n int, hooks []func(error)) error {
	if err == nil {
		return nil
	}

	observability.RecordPersistenceFailure()
	j.log.Error().Err(err).
		Int64("seq", first.Seq).
		Str("type", string(first.Type)).
		Int("events", n).
		Msg("event append failed")

	werr := fmt.Errorf("%w: %v", ErrPersistence, err)
	for _, fn := range hooks {
		fn(werr)
	}
	return werr
}
