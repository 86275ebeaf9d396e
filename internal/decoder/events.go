package decoder

import (
	"fmt"
	"math/big"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Class orders events inside a batch: creations are applied before mutations,
// mutations before history-only events.
type Class int

const (
	ClassCreation Class = iota
	ClassMutation
	ClassHistory
	ClassUnknown
)

func (c Class) String() string {
	switch c {
	case ClassCreation:
		return "creation"
	case ClassMutation:
		return "mutation"
	case ClassHistory:
		return "history"
	case ClassUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Meta is the on-chain position of an event.
type Meta struct {
	Contract    starknet.Felt
	TxHash      starknet.Felt
	TxIndex     uint32
	EventIndex  uint32
	BlockNumber uint64
}

func metaOf(raw stream.RawEvent) Meta {
	return Meta{
		Contract:    raw.FromAddress,
		TxHash:      raw.TransactionHash,
		TxIndex:     raw.TransactionIndex,
		EventIndex:  raw.EventIndex,
		BlockNumber: raw.BlockNumber,
	}
}

// Event is a decoded contract event. The set of variants is closed: LifeFormCreated,
// Transfer, Approval and Unknown.
type Event interface {
	EventMeta() Meta
	Class() Class
	Name() string

	sealed()
}

// LifeFormData is the state block carried by a NewLifeForm event.
type LifeFormData struct {
	IsLoop         bool
	IsStill        bool
	IsAlive        bool
	IsDead         bool
	SequenceLength uint32
	CurrentState   *big.Int
	Age            uint32
}

// LifeFormCreated is emitted when a lifeform token is minted.
type LifeFormCreated struct {
	Meta
	Owner   starknet.Felt
	TokenID *big.Int
	Data    LifeFormData
}

func (e *LifeFormCreated) EventMeta() Meta { return e.Meta }
func (e *LifeFormCreated) Class() Class    { return ClassCreation }
func (e *LifeFormCreated) Name() string    { return EventNewLifeForm }
func (e *LifeFormCreated) sealed()         {}

// Transfer moves a token between owners. A transfer from the zero address is a mint.
type Transfer struct {
	Meta
	From    starknet.Felt
	To      starknet.Felt
	TokenID *big.Int
}

func (e *Transfer) EventMeta() Meta { return e.Meta }
func (e *Transfer) Class() Class    { return ClassMutation }
func (e *Transfer) Name() string    { return EventTransfer }
func (e *Transfer) sealed()         {}

// IsMint reports whether the transfer creates the token.
func (e *Transfer) IsMint() bool {
	return e.From.IsZero()
}

// Approval grants an address the right to transfer a token.
type Approval struct {
	Meta
	Owner    starknet.Felt
	Approved starknet.Felt
	TokenID  *big.Int
}

func (e *Approval) EventMeta() Meta { return e.Meta }
func (e *Approval) Class() Class    { return ClassHistory }
func (e *Approval) Name() string    { return EventApproval }
func (e *Approval) sealed()         {}

// Unknown is an event whose selector has no registered schema.
type Unknown struct {
	Meta
	Selector starknet.Felt
	Raw      stream.RawEvent
}

func (e *Unknown) EventMeta() Meta { return e.Meta }
func (e *Unknown) Class() Class    { return ClassUnknown }
func (e *Unknown) Name() string    { return "Unknown(" + e.Selector.Hex() + ")" }
func (e *Unknown) sealed()         {}
