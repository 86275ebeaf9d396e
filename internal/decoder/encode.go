package decoder

import (
	"fmt"
	"math/big"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

var mask128 = new(big.Int).Sub(two128, big.NewInt(1))

// EncodeBool returns the word for b.
func EncodeBool(b bool) starknet.Felt {
	if b {
		return starknet.FeltFromUint64(1)
	}
	return starknet.Felt{}
}

// EncodeU256 splits v into its low and high 128-bit words.
func EncodeU256(v *big.Int) ([]starknet.Felt, error) {
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > 256 { //nolint:mnd
		return nil, fmt.Errorf("%w: %s does not fit u256", ErrOutOfRange, v)
	}

	low, err := starknet.FeltFromBig(new(big.Int).And(v, mask128))
	if err != nil {
		return nil, err
	}
	high, err := starknet.FeltFromBig(new(big.Int).Rsh(v, 128)) //nolint:mnd
	if err != nil {
		return nil, err
	}
	return []starknet.Felt{low, high}, nil
}

// Encode lays a decoded event back out as a raw event. NewLifeForm members go to
// data; Transfer and Approval members are indexed keys, as Cairo 1 ERC721 emits them.
// Unknown events return their raw payload unchanged.
func Encode(ev Event) (stream.RawEvent, error) {
	var (
		keys []starknet.Felt
		data []starknet.Felt
	)

	switch e := ev.(type) {
	case *LifeFormCreated:
		id, err := EncodeU256(e.TokenID)
		if err != nil {
			return stream.RawEvent{}, err
		}
		state, err := EncodeU256(e.Data.CurrentState)
		if err != nil {
			return stream.RawEvent{}, err
		}

		keys = []starknet.Felt{starknet.Selector(EventNewLifeForm)}
		data = append(data, e.Owner)
		data = append(data, id...)
		data = append(data,
			EncodeBool(e.Data.IsLoop),
			EncodeBool(e.Data.IsStill),
			EncodeBool(e.Data.IsAlive),
			EncodeBool(e.Data.IsDead),
			starknet.FeltFromUint64(uint64(e.Data.SequenceLength)),
		)
		data = append(data, state...)
		data = append(data, starknet.FeltFromUint64(uint64(e.Data.Age)))
	case *Transfer:
		id, err := EncodeU256(e.TokenID)
		if err != nil {
			return stream.RawEvent{}, err
		}
		keys = append([]starknet.Felt{starknet.Selector(EventTransfer), e.From, e.To}, id...)
	case *Approval:
		id, err := EncodeU256(e.TokenID)
		if err != nil {
			return stream.RawEvent{}, err
		}
		keys = append([]starknet.Felt{starknet.Selector(EventApproval), e.Owner, e.Approved}, id...)
	case *Unknown:
		return e.Raw, nil
	default:
		return stream.RawEvent{}, fmt.Errorf("cannot encode %T", ev)
	}

	m := ev.EventMeta()
	return stream.RawEvent{
		FromAddress:      m.Contract,
		Keys:             keys,
		Data:             data,
		TransactionHash:  m.TxHash,
		TransactionIndex: m.TxIndex,
		EventIndex:       m.EventIndex,
		BlockNumber:      m.BlockNumber,
	}, nil
}
