package starknet

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
)

// selectorMask keeps the low 250 bits of a keccak digest.
var selectorMask = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1)) //nolint:mnd

// Selector returns the starknet_keccak of an event or function name: keccak256(name)
// truncated to 250 bits. Event selectors are the first key of every emitted event.
func Selector(name string) Felt {
	digest := new(big.Int).SetBytes(crypto.Keccak256([]byte(name)))
	digest.And(digest, selectorMask)

	// a 250-bit value is always below the field prime
	f, _ := FeltFromBig(digest)
	return f
}
