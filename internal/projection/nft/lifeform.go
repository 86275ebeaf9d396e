package nft

import (
	"context"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/shopspring/decimal"
)

const (
	TypeLifeForm = "lifeform"

	LifeFormTokens    = "lifeform_tokens"
	LifeFormTransfers = "lifeform_transfers"
	LifeFormApprovals = "lifeform_approvals"
)

var _ indexer.Projection = (*LifeForm)(nil)

var lifeFormTables = []storage.Table{
	{
		Name:     LifeFormTokens,
		Kind:     storage.EntityTable,
		IDColumn: "token_id",
		Columns: []storage.Column{
			{Name: "owner", Type: storage.ColumnFelt},
			{Name: "is_loop", Type: storage.ColumnBool},
			{Name: "is_still", Type: storage.ColumnBool},
			{Name: "is_alive", Type: storage.ColumnBool},
			{Name: "is_dead", Type: storage.ColumnBool},
			{Name: "sequence_length", Type: storage.ColumnInteger},
			{Name: "current_state", Type: storage.ColumnNumeric},
			{Name: "age", Type: storage.ColumnInteger},
			{Name: "created_block", Type: storage.ColumnInteger},
			{Name: "created_tx", Type: storage.ColumnFelt},
		},
	},
	transfersTable(LifeFormTransfers),
	approvalsTable(LifeFormApprovals),
}

func transfersTable(name string) storage.Table {
	return storage.Table{
		Name:     name,
		Kind:     storage.HistoryTable,
		IDColumn: "token_id",
		Columns: []storage.Column{
			{Name: "from_address", Type: storage.ColumnFelt},
			{Name: "to_address", Type: storage.ColumnFelt},
			{Name: "kind", Type: storage.ColumnText},
		},
	}
}

func approvalsTable(name string) storage.Table {
	return storage.Table{
		Name:     name,
		Kind:     storage.HistoryTable,
		IDColumn: "token_id",
		Columns: []storage.Column{
			{Name: "owner", Type: storage.ColumnFelt},
			{Name: "approved", Type: storage.ColumnFelt},
		},
	}
}

// LifeForm projects the lifeform collection: NewLifeForm mints a token with its
// full cell state, Transfer moves it and Approval is recorded as history.
type LifeForm struct {
	*base
}

// NewLifeForm creates the lifeform projection for cfg.
func NewLifeForm(cfg config.IndexerConfig, log *logger.Logger) (indexer.Projection, error) {
	b, err := newBase(TypeLifeForm, cfg, log,
		[]decoder.Schema{decoder.NewLifeFormSchema(), decoder.TransferSchema(), decoder.ApprovalSchema()},
		lifeFormTables...,
	)
	if err != nil {
		return nil, err
	}
	return &LifeForm{base: b}, nil
}

func (p *LifeForm) EntityTable() string { return LifeFormTokens }

func (p *LifeForm) Apply(ctx context.Context, view indexer.View, ev decoder.Event) error {
	switch e := ev.(type) {
	case *decoder.LifeFormCreated:
		id := p.tokenKey(e.Meta, e.TokenID)
		state := decimal.Zero
		if e.Data.CurrentState != nil {
			state = decimal.NewFromBigInt(e.Data.CurrentState, 0)
		}

		if err := view.SetEntity(ctx, LifeFormTokens, id, storage.Fields{
			"owner":           e.Owner,
			"is_loop":         e.Data.IsLoop,
			"is_still":        e.Data.IsStill,
			"is_alive":        e.Data.IsAlive,
			"is_dead":         e.Data.IsDead,
			"sequence_length": int64(e.Data.SequenceLength),
			"current_state":   state,
			"age":             int64(e.Data.Age),
			"created_block":   int64(e.BlockNumber),
			"created_tx":      e.TxHash,
		}); err != nil {
			return err
		}

		return view.AppendHistory(ctx, LifeFormTransfers, id, e.Meta, storage.Fields{
			"from_address": starknet.ZeroFelt,
			"to_address":   e.Owner,
			"kind":         KindMint,
		})

	case *decoder.Transfer:
		id := p.tokenKey(e.Meta, e.TokenID)
		if err := view.SetEntity(ctx, LifeFormTokens, id, storage.Fields{"owner": e.To}); err != nil {
			return err
		}

		// NewLifeForm already records the mint row
		if e.IsMint() {
			return nil
		}
		return view.AppendHistory(ctx, LifeFormTransfers, id, e.Meta, storage.Fields{
			"from_address": e.From,
			"to_address":   e.To,
			"kind":         KindTransfer,
		})

	case *decoder.Approval:
		return view.AppendHistory(ctx, LifeFormApprovals, p.tokenKey(e.Meta, e.TokenID), e.Meta, storage.Fields{
			"owner":    e.Owner,
			"approved": e.Approved,
		})

	default:
		p.log.Debugf("lifeform projection ignores %s", ev.Name())
		return nil
	}
}
