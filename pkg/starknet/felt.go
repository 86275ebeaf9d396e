package starknet

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FeltBits is the bit width of a Starknet field element.
const FeltBits = 252

var (
	// fieldPrime is the Stark field prime 2^251 + 17*2^192 + 1.
	fieldPrime, _ = new(big.Int).SetString(
		"800000000000011000000000000000000000000000000000000000000000001", 16)

	// ZeroFelt is the zero field element (also the zero address).
	ZeroFelt = Felt{}
)

// Felt is a Starknet field element, the word every event key and data item is made of.
// It is stored big-endian in 32 bytes.
type Felt common.Hash

// FeltFromHex parses a 0x-prefixed hex string of any length up to 64 digits.
func FeltFromHex(s string) (Felt, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if raw == "" {
		return Felt{}, fmt.Errorf("invalid felt %q: empty", s)
	}

	v, ok := new(big.Int).SetString(raw, 16)
	if !ok {
		return Felt{}, fmt.Errorf("invalid felt %q: not hex", s)
	}

	return FeltFromBig(v)
}

// MustFeltFromHex is FeltFromHex for constants; it panics on malformed input.
func MustFeltFromHex(s string) Felt {
	f, err := FeltFromHex(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FeltFromBig converts a non-negative integer below the field prime.
func FeltFromBig(v *big.Int) (Felt, error) {
	if v.Sign() < 0 {
		return Felt{}, fmt.Errorf("invalid felt: negative value %s", v)
	}
	if v.Cmp(fieldPrime) >= 0 {
		return Felt{}, fmt.Errorf("invalid felt: value 0x%x exceeds field prime", v)
	}

	return Felt(common.BigToHash(v)), nil
}

// FeltFromUint64 converts a small integer.
func FeltFromUint64(v uint64) Felt {
	return Felt(common.BigToHash(new(big.Int).SetUint64(v)))
}

// Big returns the value as a big integer.
func (f Felt) Big() *big.Int {
	return new(big.Int).SetBytes(f[:])
}

// IsZero reports whether the felt is zero.
func (f Felt) IsZero() bool {
	return f == ZeroFelt
}

// Hex returns the minimal 0x-prefixed hex form used by Starknet nodes, e.g. "0x1a".
func (f Felt) Hex() string {
	return "0x" + f.Big().Text(16)
}

// PaddedHex returns the 64-digit 0x-prefixed form, suitable for addresses and keys.
func (f Felt) PaddedHex() string {
	return common.Hash(f).Hex()
}

// String implements fmt.Stringer.
func (f Felt) String() string {
	return f.Hex()
}

// Bytes returns the 32-byte big-endian representation.
func (f Felt) Bytes() []byte {
	b := make([]byte, len(f))
	copy(b, f[:])
	return b
}

// MarshalText implements encoding.TextMarshaler.
func (f Felt) MarshalText() ([]byte, error) {
	return []byte(f.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Felt) UnmarshalText(data []byte) error {
	parsed, err := FeltFromHex(string(data))
	if err != nil {
		return err
	}

	*f = parsed
	return nil
}

// UnmarshalJSON accepts the quoted hex strings returned by Starknet JSON-RPC.
func (f *Felt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid felt: %w", err)
	}

	return f.UnmarshalText([]byte(s))
}

// Value implements driver.Valuer; felts are stored as padded hex text.
func (f Felt) Value() (driver.Value, error) {
	return f.PaddedHex(), nil
}

// Scan implements sql.Scanner.
func (f *Felt) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*f = Felt{}
		return nil
	case string:
		return f.UnmarshalText([]byte(v))
	case []byte:
		return f.UnmarshalText(v)
	default:
		return fmt.Errorf("cannot scan %T into Felt", src)
	}
}
