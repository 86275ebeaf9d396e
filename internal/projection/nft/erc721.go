package nft

import (
	"context"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

const (
	TypeERC721 = "erc721"

	ERC721Tokens    = "erc721_tokens"
	ERC721Transfers = "erc721_transfers"
	ERC721Approvals = "erc721_approvals"
)

var _ indexer.Projection = (*ERC721)(nil)

var erc721Tables = []storage.Table{
	{
		Name:     ERC721Tokens,
		Kind:     storage.EntityTable,
		IDColumn: "token_id",
		Columns: []storage.Column{
			{Name: "owner", Type: storage.ColumnFelt},
			{Name: "created_block", Type: storage.ColumnInteger},
		},
	},
	transfersTable(ERC721Transfers),
	approvalsTable(ERC721Approvals),
}

// ERC721 projects any Cairo ERC721 contract from its Transfer and Approval events.
type ERC721 struct {
	*base
}

// NewERC721 creates the ERC721 projection for cfg.
func NewERC721(cfg config.IndexerConfig, log *logger.Logger) (indexer.Projection, error) {
	b, err := newBase(TypeERC721, cfg, log,
		[]decoder.Schema{decoder.TransferSchema(), decoder.ApprovalSchema()},
		erc721Tables...,
	)
	if err != nil {
		return nil, err
	}
	return &ERC721{base: b}, nil
}

func (p *ERC721) EntityTable() string { return ERC721Tokens }

func (p *ERC721) Apply(ctx context.Context, view indexer.View, ev decoder.Event) error {
	switch e := ev.(type) {
	case *decoder.Transfer:
		id := p.tokenKey(e.Meta, e.TokenID)
		changes := storage.Fields{"owner": e.To}
		kind := KindTransfer
		if e.IsMint() {
			changes["created_block"] = int64(e.BlockNumber)
			kind = KindMint
		}

		if err := view.SetEntity(ctx, ERC721Tokens, id, changes); err != nil {
			return err
		}
		return view.AppendHistory(ctx, ERC721Transfers, id, e.Meta, storage.Fields{
			"from_address": e.From,
			"to_address":   e.To,
			"kind":         kind,
		})

	case *decoder.Approval:
		return view.AppendHistory(ctx, ERC721Approvals, p.tokenKey(e.Meta, e.TokenID), e.Meta, storage.Fields{
			"owner":    e.Owner,
			"approved": e.Approved,
		})

	default:
		p.log.Debugf("erc721 projection ignores %s", ev.Name())
		return nil
	}
}
