// Package nft holds the token projections: the lifeform collection and generic ERC721.
package nft

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// History kinds of a transfer row.
const (
	KindMint     = "mint"
	KindTransfer = "transfer"
)

// base carries what every projection in this package shares.
type base struct {
	name       string
	typ        string
	startBlock uint64
	filters    []stream.EventFilter
	schemas    []decoder.Schema
	tables     *storage.Schema
	log        *logger.Logger

	// scoped is set when more than one contract is followed; token ids are then
	// only unique per contract.
	scoped bool
}

func newBase(
	typ string,
	cfg config.IndexerConfig,
	log *logger.Logger,
	schemas []decoder.Schema,
	tables ...storage.Table,
) (*base, error) {
	schema, err := storage.NewSchema(tables...)
	if err != nil {
		return nil, fmt.Errorf("invalid %s tables: %w", typ, err)
	}

	filters, err := buildFilters(cfg.Contracts, schemas)
	if err != nil {
		return nil, fmt.Errorf("indexer %s: %w", cfg.Name, err)
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	return &base{
		name:       cfg.Name,
		typ:        typ,
		startBlock: cfg.StartingBlock,
		filters:    filters,
		schemas:    schemas,
		tables:     schema,
		log:        log,
		scoped:     len(filters) > 1,
	}, nil
}

// buildFilters turns configured contracts into stream filters. A contract without
// an events list subscribes to every event the projection decodes. Entries for the
// same address are merged into one filter.
func buildFilters(contracts []config.ContractConfig, schemas []decoder.Schema) ([]stream.EventFilter, error) {
	byName := make(map[string]starknet.Felt, len(schemas))
	all := make([]starknet.Felt, 0, len(schemas))
	for _, s := range schemas {
		byName[strings.ToLower(s.Name)] = s.Selector
		all = append(all, s.Selector)
	}

	filters := make([]stream.EventFilter, 0, len(contracts))
	position := make(map[starknet.Felt]int, len(contracts))
	for _, c := range contracts {
		addr, err := starknet.FeltFromHex(c.Address)
		if err != nil {
			return nil, fmt.Errorf("invalid contract address %q: %w", c.Address, err)
		}

		selectors := all
		if len(c.Events) > 0 {
			selectors = make([]starknet.Felt, 0, len(c.Events))
			for _, name := range c.Events {
				sel, ok := byName[strings.ToLower(name)]
				if !ok {
					return nil, fmt.Errorf("contract %s: event %q is not handled by this projection", c.Address, name)
				}
				selectors = append(selectors, sel)
			}
		}

		i, seen := position[addr]
		if !seen {
			position[addr] = len(filters)
			filters = append(filters, stream.EventFilter{Address: addr, Selectors: mergeSelectors(nil, selectors)})
			continue
		}
		filters[i].Selectors = mergeSelectors(filters[i].Selectors, selectors)
	}
	return filters, nil
}

// mergeSelectors appends the selectors of add missing from into, keeping order.
func mergeSelectors(into, add []starknet.Felt) []starknet.Felt {
	out := slices.Clone(into)
	for _, sel := range add {
		if !slices.Contains(out, sel) {
			out = append(out, sel)
		}
	}
	return out
}

func (b *base) GetName() string                     { return b.name }
func (b *base) GetType() string                     { return b.typ }
func (b *base) StartBlock() uint64                  { return b.startBlock }
func (b *base) EventsToIndex() []stream.EventFilter { return b.filters }
func (b *base) Schemas() []decoder.Schema           { return b.schemas }
func (b *base) Tables() *storage.Schema             { return b.tables }

// TokenKey renders a u256 token id the way entity ids are stored: base 10.
func TokenKey(id *big.Int) string {
	if id == nil {
		return "0"
	}
	return id.String()
}

// ScopedTokenKey is the entity id of a token when several contracts share one
// indexer: the padded contract address and the token id, separated by a colon.
func ScopedTokenKey(contract starknet.Felt, id *big.Int) string {
	return contract.PaddedHex() + ":" + TokenKey(id)
}

// tokenKey returns the entity id of the token an event refers to.
func (b *base) tokenKey(meta decoder.Meta, id *big.Int) string {
	if b.scoped {
		return ScopedTokenKey(meta.Contract, id)
	}
	return TokenKey(id)
}
