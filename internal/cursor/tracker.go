package cursor

import (
	"context"
	"fmt"
	"sync"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// State of the tracker.
type State int

const (
	StateUninitialized State = iota
	StateSynced
	StateReorgDetected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateSynced:
		return "SYNCED"
	case StateReorgDetected:
		return "REORG_DETECTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// VerdictKind classifies an incoming block against the committed chain.
type VerdictKind int

const (
	// Accept: the block extends the committed head.
	Accept VerdictKind = iota
	// Replace: the block sits at or below the head on a matching parent. Rows from
	// FromBlock upward are rolled back in the same transaction that applies it.
	Replace
	// Reorg: the parent hash does not match. The common ancestor must be resolved
	// and the projection rolled back before continuing.
	Reorg
	// Reject: the block cannot be applied, e.g. it leaves a gap. It is requested again.
	Reject
)

func (k VerdictKind) String() string {
	switch k {
	case Accept:
		return "accept"
	case Replace:
		return "replace"
	case Reorg:
		return "reorg"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("VerdictKind(%d)", int(k))
	}
}

// Verdict is the result of Advance.
type Verdict struct {
	Kind      VerdictKind
	FromBlock uint64
	Reason    string
}

// Err returns the continuity error behind a Reorg or Reject verdict.
func (v Verdict) Err() error {
	switch v.Kind {
	case Reorg, Reject:
		return NewContinuityError(v.FromBlock, v.Reason)
	default:
		return nil
	}
}

// HeaderSource returns canonical headers. The stream client satisfies it.
type HeaderSource interface {
	HeaderByNumber(ctx context.Context, number uint64) (*stream.BlockHeader, error)
}

// Tracker validates that each incoming block continues the committed chain.
// It keeps the last window canonical headers in memory, mirroring the tracked
// blocks the engine persists with every batch.
type Tracker struct {
	mu sync.RWMutex

	indexer string
	window  uint64
	log     *logger.Logger

	state  State
	cursor *stream.Cursor
	blocks []stream.BlockHeader // ascending by number
}

// NewTracker creates an uninitialized tracker. window is the number of recent
// headers kept for ancestor search.
func NewTracker(indexer string, window uint64, log *logger.Logger) *Tracker {
	if window == 0 {
		window = 1
	}
	return &Tracker{
		indexer: indexer,
		window:  window,
		log:     log,
		state:   StateUninitialized,
	}
}

// Load restores the committed position. cp is nil when the indexer has never
// committed a batch; tracked are the persisted headers in ascending order.
func (t *Tracker) Load(cp *storage.Checkpoint, tracked []stream.BlockHeader) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.cursor = nil
	if cp != nil {
		c := cp.Cursor
		t.cursor = &c
	}

	t.blocks = append([]stream.BlockHeader(nil), tracked...)
	t.trim()
	t.state = StateSynced

	t.log.Infof("cursor tracker loaded: cursor=%s tracked_blocks=%d", t.cursor, len(t.blocks))
}

// Advance classifies header against the committed head. It does not change the
// committed position; Commit does that once the batch is durable.
func (t *Tracker) Advance(header stream.BlockHeader) Verdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateUninitialized {
		return Verdict{Kind: Reject, FromBlock: header.Number, Reason: ErrNotLoaded.Error()}
	}

	if t.cursor == nil {
		return Verdict{Kind: Accept, FromBlock: header.Number}
	}

	head := t.cursor.OrderKey
	switch {
	case header.Number == head+1:
		if expected, ok := t.parentHash(header.Number); ok && expected.Hash != header.ParentHash {
			return t.reorg(header, expected)
		}
		return Verdict{Kind: Accept, FromBlock: header.Number}

	case header.Number <= head:
		if expected, ok := t.parentHash(header.Number); ok && expected.Hash != header.ParentHash {
			return t.reorg(header, expected)
		}
		t.state = StateReorgDetected
		replacementLog(t.indexer)
		t.log.Debugf("block redelivered at or below head: block=%d head=%d", header.Number, head)
		return Verdict{Kind: Replace, FromBlock: header.Number}

	default:
		return Verdict{
			Kind:      Reject,
			FromBlock: header.Number,
			Reason:    fmt.Sprintf("gap: head is %d, got %d", head, header.Number),
		}
	}
}

// parentHash returns the committed hash of the block before number, when known.
// Pending blocks carry no hash and are never compared.
func (t *Tracker) parentHash(number uint64) (stream.BlockHeader, bool) {
	if number == 0 {
		return stream.BlockHeader{}, false
	}
	parent := number - 1

	for i := len(t.blocks) - 1; i >= 0; i-- {
		if t.blocks[i].Number == parent {
			if t.blocks[i].Hash.IsZero() {
				return stream.BlockHeader{}, false
			}
			return t.blocks[i], true
		}
	}

	if t.cursor != nil && t.cursor.OrderKey == parent && !t.cursor.IsPending() {
		return stream.BlockHeader{Number: parent, Hash: t.cursor.UniqueKey}, true
	}
	return stream.BlockHeader{}, false
}

func (t *Tracker) reorg(header stream.BlockHeader, parent stream.BlockHeader) Verdict {
	t.state = StateReorgDetected
	t.log.Warnf("parent hash mismatch: block=%d expected_parent=%s actual_parent=%s",
		header.Number, parent.Hash.Hex(), header.ParentHash.Hex())

	return Verdict{
		Kind:      Reorg,
		FromBlock: parent.Number,
		Reason: fmt.Sprintf("block %d expected parent %s, got %s",
			header.Number, parent.Hash.Hex(), header.ParentHash.Hex()),
	}
}

// ResolveAncestor walks the tracked window from the head down and returns the
// newest block whose hash still matches the canonical chain.
func (t *Tracker) ResolveAncestor(ctx context.Context, src HeaderSource) (stream.BlockHeader, error) {
	t.mu.RLock()
	blocks := append([]stream.BlockHeader(nil), t.blocks...)
	head := uint64(0)
	if t.cursor != nil {
		head = t.cursor.OrderKey
	}
	t.mu.RUnlock()

	for i := len(blocks) - 1; i >= 0; i-- {
		tracked := blocks[i]
		if tracked.Hash.IsZero() {
			continue
		}

		canonical, err := src.HeaderByNumber(ctx, tracked.Number)
		if err != nil {
			return stream.BlockHeader{}, fmt.Errorf("failed to fetch canonical header %d: %w", tracked.Number, err)
		}

		if canonical.Hash == tracked.Hash {
			depth := head - tracked.Number
			reorgDetectedLog(t.indexer, depth)
			t.log.Warnf("common ancestor resolved: block=%d hash=%s depth=%d",
				tracked.Number, tracked.Hash.Hex(), depth)
			return tracked, nil
		}

		t.log.Debugf("tracked block is not canonical: block=%d tracked=%s canonical=%s",
			tracked.Number, tracked.Hash.Hex(), canonical.Hash.Hex())
	}

	return stream.BlockHeader{}, fmt.Errorf("%w: head=%d tracked_blocks=%d", ErrAncestorNotFound, head, len(blocks))
}

// Commit records header as the new head after its batch is durable.
func (t *Tracker) Commit(header stream.BlockHeader) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.truncateFrom(header.Number)
	t.blocks = append(t.blocks, header)
	t.trim()

	c := header.Cursor()
	t.cursor = &c
	t.state = StateSynced
}

// Reset moves the head back to ancestor once the rollback is durable.
// A nil ancestor means the projection was wiped entirely.
func (t *Tracker) Reset(ancestor *stream.BlockHeader) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ancestor == nil {
		t.blocks = nil
		t.cursor = nil
	} else {
		t.truncateFrom(ancestor.Number + 1)
		c := ancestor.Cursor()
		t.cursor = &c
	}
	t.state = StateSynced
}

// Current returns the committed cursor, nil before the first batch.
func (t *Tracker) Current() *stream.Cursor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.cursor == nil {
		return nil
	}
	c := *t.cursor
	return &c
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// Window returns the number of headers kept for ancestor search.
func (t *Tracker) Window() uint64 {
	return t.window
}

// PruneBelow returns the block number under which tracked headers can be dropped
// once head is committed.
func PruneBelow(head, window uint64) uint64 {
	if head < window {
		return 0
	}
	return head - window + 1
}

func (t *Tracker) truncateFrom(number uint64) {
	for i, b := range t.blocks {
		if b.Number >= number {
			t.blocks = t.blocks[:i]
			return
		}
	}
}

func (t *Tracker) trim() {
	if len(t.blocks) == 0 {
		return
	}
	below := PruneBelow(t.blocks[len(t.blocks)-1].Number, t.window)
	for i, b := range t.blocks {
		if b.Number >= below {
			t.blocks = t.blocks[i:]
			return
		}
	}
}
