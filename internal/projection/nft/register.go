package nft

import (
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
)

func init() {
	indexer.Register(TypeLifeForm, NewLifeForm)
	indexer.Register(TypeERC721, NewERC721)
}
