package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Event names as declared in the contracts. Their starknet_keccak is the selector.
const (
	EventNewLifeForm = "NewLifeForm"
	EventTransfer    = "Transfer"
	EventApproval    = "Approval"
)

// Schema maps one event selector to the positional layout of its fields and to
// the constructor of the typed event.
type Schema struct {
	Name     string
	Selector starknet.Felt
	Layout   Parser[Values]
	Build    func(Meta, Values) Event
}

// Decode parses raw with schema. The words parsed are keys[1:] followed by data,
// so indexed and plain members form one sequence in declaration order.
func Decode(raw stream.RawEvent, schema Schema) (Event, error) {
	sel, ok := raw.Selector()
	if !ok {
		return nil, &DecodeError{Event: schema.Name, Err: fmt.Errorf("%w: event has no keys", ErrSelectorMismatch)}
	}
	if sel != schema.Selector {
		return nil, &DecodeError{
			Event: schema.Name,
			Err:   fmt.Errorf("%w: got %s, want %s", ErrSelectorMismatch, sel.Hex(), schema.Selector.Hex()),
		}
	}

	values, _, err := schema.Layout(words(raw), 0)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Event = schema.Name
			return nil, de
		}
		return nil, &DecodeError{Event: schema.Name, Err: err}
	}

	return schema.Build(metaOf(raw), values), nil
}

func words(raw stream.RawEvent) []starknet.Felt {
	out := make([]starknet.Felt, 0, len(raw.Keys)-1+len(raw.Data))
	out = append(out, raw.Keys[1:]...)
	return append(out, raw.Data...)
}

// Decoder dispatches raw events to schemas by selector.
type Decoder struct {
	schemas map[starknet.Felt]Schema
}

// New builds a decoder over the given schemas. Duplicate selectors are rejected.
func New(schemas ...Schema) (*Decoder, error) {
	d := &Decoder{schemas: make(map[starknet.Felt]Schema, len(schemas))}
	for _, s := range schemas {
		if _, dup := d.schemas[s.Selector]; dup {
			return nil, fmt.Errorf("duplicate schema for selector %s (%s)", s.Selector.Hex(), s.Name)
		}
		d.schemas[s.Selector] = s
	}
	return d, nil
}

// Selectors returns the selectors this decoder understands.
func (d *Decoder) Selectors() []starknet.Felt {
	out := make([]starknet.Felt, 0, len(d.schemas))
	for sel := range d.schemas {
		out = append(out, sel)
	}
	return out
}

// Schema returns the schema registered for a selector.
func (d *Decoder) Schema(selector starknet.Felt) (Schema, bool) {
	s, ok := d.schemas[selector]
	return s, ok
}

// Decode returns the typed event for raw. Events with an unregistered selector
// decode to *Unknown without error.
func (d *Decoder) Decode(raw stream.RawEvent) (Event, error) {
	sel, ok := raw.Selector()
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("%w: event has no keys", ErrSelectorMismatch)}
	}

	schema, ok := d.schemas[sel]
	if !ok {
		return &Unknown{Meta: metaOf(raw), Selector: sel, Raw: raw}, nil
	}
	return Decode(raw, schema)
}

// Failure pairs a raw event with the reason it could not be decoded.
type Failure struct {
	Raw stream.RawEvent
	Err error
}

// DecodeAll decodes every event of a batch. Events that fail to decode are
// returned separately and do not stop the rest.
func (d *Decoder) DecodeAll(raws []stream.RawEvent) ([]Event, []Failure) {
	events := make([]Event, 0, len(raws))
	var failures []Failure
	for _, raw := range raws {
		ev, err := d.Decode(raw)
		if err != nil {
			failures = append(failures, Failure{Raw: raw, Err: err})
			continue
		}
		events = append(events, ev)
	}
	return events, failures
}

func value[T any](v Values, name string) T {
	x, _ := v[name].(T)
	return x
}

var lifeFormDataLayout = ParseStruct(
	Field{Name: "is_loop", Parse: Erase(ParseBool)},
	Field{Name: "is_still", Parse: Erase(ParseBool)},
	Field{Name: "is_alive", Parse: Erase(ParseBool)},
	Field{Name: "is_dead", Parse: Erase(ParseBool)},
	Field{Name: "sequence_length", Parse: Erase(ParseU32)},
	Field{Name: "current_state", Parse: Erase(ParseU256)},
	Field{Name: "age", Parse: Erase(ParseU32)},
)

// NewLifeFormSchema decodes NewLifeForm(owner, token_id: u256, data: LifeFormData).
func NewLifeFormSchema() Schema {
	return Schema{
		Name:     EventNewLifeForm,
		Selector: starknet.Selector(EventNewLifeForm),
		Layout: ParseStruct(
			Field{Name: "owner", Parse: Erase(ParseContractAddress)},
			Field{Name: "token_id", Parse: Erase(ParseU256)},
			Field{Name: "data", Parse: Erase(lifeFormDataLayout)},
		),
		Build: func(m Meta, v Values) Event {
			data := value[Values](v, "data")
			return &LifeFormCreated{
				Meta:    m,
				Owner:   value[starknet.Felt](v, "owner"),
				TokenID: value[*big.Int](v, "token_id"),
				Data: LifeFormData{
					IsLoop:         value[bool](data, "is_loop"),
					IsStill:        value[bool](data, "is_still"),
					IsAlive:        value[bool](data, "is_alive"),
					IsDead:         value[bool](data, "is_dead"),
					SequenceLength: value[uint32](data, "sequence_length"),
					CurrentState:   value[*big.Int](data, "current_state"),
					Age:            value[uint32](data, "age"),
				},
			}
		},
	}
}

// TransferSchema decodes Transfer(from, to, token_id: u256).
func TransferSchema() Schema {
	return Schema{
		Name:     EventTransfer,
		Selector: starknet.Selector(EventTransfer),
		Layout: ParseStruct(
			Field{Name: "from", Parse: Erase(ParseContractAddress)},
			Field{Name: "to", Parse: Erase(ParseContractAddress)},
			Field{Name: "token_id", Parse: Erase(ParseU256)},
		),
		Build: func(m Meta, v Values) Event {
			return &Transfer{
				Meta:    m,
				From:    value[starknet.Felt](v, "from"),
				To:      value[starknet.Felt](v, "to"),
				TokenID: value[*big.Int](v, "token_id"),
			}
		},
	}
}

// ApprovalSchema decodes Approval(owner, approved, token_id: u256).
func ApprovalSchema() Schema {
	return Schema{
		Name:     EventApproval,
		Selector: starknet.Selector(EventApproval),
		Layout: ParseStruct(
			Field{Name: "owner", Parse: Erase(ParseContractAddress)},
			Field{Name: "approved", Parse: Erase(ParseContractAddress)},
			Field{Name: "token_id", Parse: Erase(ParseU256)},
		),
		Build: func(m Meta, v Values) Event {
			return &Approval{
				Meta:     m,
				Owner:    value[starknet.Felt](v, "owner"),
				Approved: value[starknet.Felt](v, "approved"),
				TokenID:  value[*big.Int](v, "token_id"),
			}
		},
	}
}
