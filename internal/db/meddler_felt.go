package db

import (
	"database/sql"
	"fmt"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/russross/meddler"
)

func init() {
	// Register custom meddler converter for starknet.Felt
	meddler.Register("felt", FeltMeddler{})
}

// FeltMeddler stores starknet.Felt values as 0x-prefixed, zero-padded hex text,
// so equality and ordering work on the column directly.
type FeltMeddler struct{}

func (f FeltMeddler) PreRead(fieldAddr interface{}) (scanTarget interface{}, err error) {
	// Use sql.NullString to handle NULL values
	return new(sql.NullString), nil
}

func (f FeltMeddler) PostRead(fieldAddr, scanTarget interface{}) error {
	ns, ok := scanTarget.(*sql.NullString)
	if !ok {
		return fmt.Errorf("expected *sql.NullString, got %T", scanTarget)
	}

	ptr, ok := fieldAddr.(*starknet.Felt)
	if !ok {
		return fmt.Errorf("expected *starknet.Felt, got %T", fieldAddr)
	}

	if !ns.Valid {
		*ptr = starknet.Felt{}
		return nil
	}

	v, err := starknet.FeltFromHex(ns.String)
	if err != nil {
		return err
	}
	*ptr = v
	return nil
}

func (f FeltMeddler) PreWrite(field interface{}) (saveValue interface{}, err error) {
	if v, ok := field.(starknet.Felt); ok {
		return v.PaddedHex(), nil
	}
	return nil, fmt.Errorf("expected starknet.Felt, got %T", field)
}
