package badgerstore

import (
	"encoding/binary"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
)

// Key layout. Parts are separated by a zero byte and numbers are big endian, so
// lexical key order is block order.
//
//	c 0 <indexer>                                   checkpoint
//	t 0 <block>                                     tracked block header
//	e 0 <table> 0 <id> 0 <block>                    entity version
//	h 0 <table> 0 <id> 0 <block> <event index> <tx> history row
//	u 0 <table> 0 <id> 0 <tx> <event index>         history uniqueness, value is the row key
//	i 0 <table> 0 <block> <row key>                 block index of every row
const sep = 0x00

const (
	prefixCheckpoint = 'c'
	prefixBlock      = 't'
	prefixEntity     = 'e'
	prefixHistory    = 'h'
	prefixUnique     = 'u'
	prefixIndex      = 'i'
)

func key(prefix byte, parts ...[]byte) []byte {
	size := 1
	for _, p := range parts {
		size += 1 + len(p)
	}
	out := make([]byte, 0, size)
	out = append(out, prefix)
	for _, p := range parts {
		out = append(out, sep)
		out = append(out, p...)
	}
	return out
}

func be64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func be32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func checkpointKey(indexer string) []byte {
	return key(prefixCheckpoint, []byte(indexer))
}

func blockKey(number uint64) []byte {
	return key(prefixBlock, be64(number))
}

func blockPrefix() []byte {
	return []byte{prefixBlock, sep}
}

func entityPrefix(table string) []byte {
	return append(key(prefixEntity, []byte(table)), sep)
}

func entityIDPrefix(table, id string) []byte {
	return append(key(prefixEntity, []byte(table), []byte(id)), sep)
}

func entityKey(table, id string, block uint64) []byte {
	return append(entityIDPrefix(table, id), be64(block)...)
}

func historyIDPrefix(table, id string) []byte {
	return append(key(prefixHistory, []byte(table), []byte(id)), sep)
}

func historyKey(table, id string, block uint64, eventIndex uint32, tx starknet.Felt) []byte {
	k := historyIDPrefix(table, id)
	k = append(k, be64(block)...)
	k = append(k, be32(eventIndex)...)
	return append(k, tx.Bytes()...)
}

func uniqueKey(table, id string, tx starknet.Felt, eventIndex uint32) []byte {
	k := append(key(prefixUnique, []byte(table), []byte(id)), sep)
	k = append(k, tx.Bytes()...)
	return append(k, be32(eventIndex)...)
}

// tablePrefixes covers every key written for table: versions or rows, uniqueness
// markers and the block index.
func tablePrefixes(table string) [][]byte {
	return [][]byte{
		entityPrefix(table),
		append(key(prefixHistory, []byte(table)), sep),
		append(key(prefixUnique, []byte(table)), sep),
		indexPrefix(table),
	}
}

func indexPrefix(table string) []byte {
	return append(key(prefixIndex, []byte(table)), sep)
}

func indexKey(table string, block uint64, rowKey []byte) []byte {
	k := append(indexPrefix(table), be64(block)...)
	return append(k, rowKey...)
}

// rowKeyFromIndex extracts the row key from an index key of table.
func rowKeyFromIndex(table string, k []byte) []byte {
	return k[len(indexPrefix(table))+8:]
}
