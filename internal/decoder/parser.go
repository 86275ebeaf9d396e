package decoder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
)

// Parser reads a value starting at offset and returns it together with the offset
// of the next unread word. Parsers are pure and positional.
type Parser[T any] func(words []starknet.Felt, offset int) (T, int, error)

var two128 = new(big.Int).Lsh(big.NewInt(1), 128) //nolint:mnd

func need(words []starknet.Felt, offset, n int) error {
	if offset < 0 || offset+n > len(words) {
		return shortData(offset, n, len(words))
	}
	return nil
}

// ParseFelt reads one raw word.
func ParseFelt(words []starknet.Felt, offset int) (starknet.Felt, int, error) {
	if err := need(words, offset, 1); err != nil {
		return starknet.Felt{}, offset, err
	}
	return words[offset], offset + 1, nil
}

// ParseContractAddress reads one word holding a contract address.
func ParseContractAddress(words []starknet.Felt, offset int) (starknet.Felt, int, error) {
	return ParseFelt(words, offset)
}

// ParseBool reads one word; only the value 1 is true.
func ParseBool(words []starknet.Felt, offset int) (bool, int, error) {
	w, next, err := ParseFelt(words, offset)
	if err != nil {
		return false, offset, err
	}
	return w == starknet.FeltFromUint64(1), next, nil
}

func parseUint(bits uint) Parser[uint64] {
	limit := new(big.Int).Lsh(big.NewInt(1), bits)
	return func(words []starknet.Felt, offset int) (uint64, int, error) {
		w, next, err := ParseFelt(words, offset)
		if err != nil {
			return 0, offset, err
		}

		v := w.Big()
		if v.Cmp(limit) >= 0 {
			return 0, offset, &DecodeError{
				Offset: offset,
				Err:    fmt.Errorf("%w: %s does not fit u%d", ErrOutOfRange, w.Hex(), bits),
			}
		}
		return v.Uint64(), next, nil
	}
}

var (
	parseU8  = parseUint(8)  //nolint:mnd
	parseU16 = parseUint(16) //nolint:mnd
	parseU32 = parseUint(32) //nolint:mnd
	parseU64 = parseUint(64) //nolint:mnd
)

// ParseU8 reads an 8-bit unsigned integer.
func ParseU8(words []starknet.Felt, offset int) (uint8, int, error) {
	v, next, err := parseU8(words, offset)
	return uint8(v), next, err
}

// ParseU16 reads a 16-bit unsigned integer.
func ParseU16(words []starknet.Felt, offset int) (uint16, int, error) {
	v, next, err := parseU16(words, offset)
	return uint16(v), next, err
}

// ParseU32 reads a 32-bit unsigned integer.
func ParseU32(words []starknet.Felt, offset int) (uint32, int, error) {
	v, next, err := parseU32(words, offset)
	return uint32(v), next, err
}

// ParseU64 reads a 64-bit unsigned integer.
func ParseU64(words []starknet.Felt, offset int) (uint64, int, error) {
	return parseU64(words, offset)
}

// ParseU128 reads a 128-bit unsigned integer.
func ParseU128(words []starknet.Felt, offset int) (*big.Int, int, error) {
	w, next, err := ParseFelt(words, offset)
	if err != nil {
		return nil, offset, err
	}

	v := w.Big()
	if v.Cmp(two128) >= 0 {
		return nil, offset, &DecodeError{
			Offset: offset,
			Err:    fmt.Errorf("%w: %s does not fit u128", ErrOutOfRange, w.Hex()),
		}
	}
	return v, next, nil
}

// ParseU256 reads two words, low then high, and returns low + high<<128.
func ParseU256(words []starknet.Felt, offset int) (*big.Int, int, error) {
	if err := need(words, offset, 2); err != nil { //nolint:mnd
		return nil, offset, err
	}

	low, next, err := ParseU128(words, offset)
	if err != nil {
		return nil, offset, err
	}
	high, next, err := ParseU128(words, next)
	if err != nil {
		return nil, offset, err
	}

	return new(big.Int).Add(low, new(big.Int).Lsh(high, 128)), next, nil //nolint:mnd
}

// maxArrayLen guards against a corrupted length word allocating huge slices.
const maxArrayLen = 1 << 16

// ParseArray returns a parser for a length-prefixed array of elem.
func ParseArray[T any](elem Parser[T]) Parser[[]T] {
	return func(words []starknet.Felt, offset int) ([]T, int, error) {
		n, next, err := parseU32(words, offset)
		if err != nil {
			return nil, offset, err
		}
		if n > maxArrayLen {
			return nil, offset, &DecodeError{
				Offset: offset,
				Err:    fmt.Errorf("%w: array length %d", ErrOutOfRange, n),
			}
		}

		out := make([]T, 0, n)
		for i := uint64(0); i < n; i++ {
			var v T
			v, next, err = elem(words, next)
			if err != nil {
				return nil, offset, err
			}
			out = append(out, v)
		}
		return out, next, nil
	}
}

// Erase adapts a typed parser for use in a ParseStruct.
func Erase[T any](p Parser[T]) Parser[any] {
	return func(words []starknet.Felt, offset int) (any, int, error) {
		v, next, err := p(words, offset)
		if err != nil {
			return nil, offset, err
		}
		return v, next, nil
	}
}

// Field is one named member of a struct layout.
type Field struct {
	Name  string
	Parse Parser[any]
}

// Values holds the parsed members of a struct by name.
type Values map[string]any

// ParseStruct returns a parser that reads fields in declared order, threading the offset.
// Nested structs are plain fields whose parser is another ParseStruct.
func ParseStruct(fields ...Field) Parser[Values] {
	return func(words []starknet.Felt, offset int) (Values, int, error) {
		out := make(Values, len(fields))
		next := offset
		for _, f := range fields {
			v, n, err := f.Parse(words, next)
			if err != nil {
				return nil, offset, withField(err, f.Name, next)
			}
			out[f.Name] = v
			next = n
		}
		return out, next, nil
	}
}

func withField(err error, name string, offset int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		if de.Field == "" {
			de.Field = name
			de.Offset = offset
		} else {
			de.Field = name + "." + de.Field
		}
		return de
	}
	return &DecodeError{Field: name, Offset: offset, Err: err}
}
