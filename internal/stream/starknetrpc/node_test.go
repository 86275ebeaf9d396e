package starknetrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
)

type fakeEvent struct {
	from starknet.Felt
	keys []starknet.Felt
	data []starknet.Felt
	tx   starknet.Felt
}

type fakeBlock struct {
	hash   starknet.Felt
	parent starknet.Felt
	status string
	txs    []starknet.Felt
	events []fakeEvent
}

// fakeNode serves the subset of Starknet JSON-RPC the client uses.
type fakeNode struct {
	mu       sync.Mutex
	blocks   []*fakeBlock
	pending  *fakeBlock
	failNext int
	calls    map[string]int
	queries  []eventQuery
}

// eventQuery is the filter of one getEvents scan, recorded at its first page.
type eventQuery struct {
	address *starknet.Felt
	keys    [][]starknet.Felt
}

func newFakeNode(t *testing.T) (*fakeNode, string) {
	t.Helper()
	n := &fakeNode{calls: make(map[string]int)}
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return n, srv.URL
}

// addBlock appends a block on top of the current head.
func (n *fakeNode) addBlock(status string, txs []starknet.Felt, events ...fakeEvent) *fakeBlock {
	n.mu.Lock()
	defer n.mu.Unlock()

	num := uint64(len(n.blocks))
	b := &fakeBlock{
		hash:   starknet.FeltFromUint64(0x1000 + num),
		status: status,
		txs:    txs,
		events: events,
	}
	if num > 0 {
		b.parent = n.blocks[num-1].hash
	}
	n.blocks = append(n.blocks, b)
	return b
}

func (n *fakeNode) setPending(txs []starknet.Felt, events ...fakeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pending = &fakeBlock{parent: n.blocks[len(n.blocks)-1].hash, txs: txs, events: events}
}

func (n *fakeNode) eventQueries() []eventQuery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]eventQuery(nil), n.queries...)
}

func (n *fakeNode) callCount(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	n.mu.Lock()
	n.calls[req.Method]++
	if n.failNext > 0 {
		n.failNext--
		n.mu.Unlock()
		http.Error(w, "busy", http.StatusServiceUnavailable)
		return
	}
	result, rpcErr := n.handle(req)
	n.mu.Unlock()

	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != nil {
		resp["error"] = rpcErr
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(req rpcRequest) (any, *rpcError) {
	switch req.Method {
	case "starknet_blockNumber":
		return len(n.blocks) - 1, nil
	case "starknet_getBlockWithTxHashes":
		b, num, pending, ok := n.lookup(req.Params[0])
		if !ok {
			return nil, &rpcError{Code: codeBlockNotFound, Message: "Block not found"}
		}
		out := map[string]any{
			"parent_hash":  b.parent,
			"timestamp":    1700000000 + num,
			"transactions": b.txs,
		}
		if !pending {
			out["status"] = b.status
			out["block_hash"] = b.hash
			out["block_number"] = num
		}
		return out, nil
	case "starknet_getEvents":
		return n.getEvents(req.Params[0])
	default:
		return nil, &rpcError{Code: -32601, Message: "method not found"}
	}
}

func (n *fakeNode) lookup(raw json.RawMessage) (*fakeBlock, uint64, bool, bool) {
	var tag string
	if err := json.Unmarshal(raw, &tag); err == nil {
		if tag == tagPending && n.pending != nil {
			return n.pending, uint64(len(n.blocks)), true, true
		}
		return nil, 0, false, false
	}

	var id struct {
		BlockNumber uint64 `json:"block_number"`
	}
	if err := json.Unmarshal(raw, &id); err != nil || id.BlockNumber >= uint64(len(n.blocks)) {
		return nil, 0, false, false
	}
	return n.blocks[id.BlockNumber], id.BlockNumber, false, true
}

func (n *fakeNode) getEvents(raw json.RawMessage) (any, *rpcError) {
	var f struct {
		FromBlock         json.RawMessage   `json:"from_block"`
		Address           *starknet.Felt    `json:"address"`
		Keys              [][]starknet.Felt `json:"keys"`
		ChunkSize         int               `json:"chunk_size"`
		ContinuationToken string            `json:"continuation_token"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}

	b, _, _, ok := n.lookup(f.FromBlock)
	if !ok {
		return nil, &rpcError{Code: codeBlockNotFound, Message: "Block not found"}
	}
	if f.ContinuationToken == "" {
		n.queries = append(n.queries, eventQuery{address: f.Address, keys: f.Keys})
	}

	var matched []map[string]any
	for _, ev := range b.events {
		if f.Address != nil && *f.Address != ev.from {
			continue
		}
		if len(f.Keys) > 0 && len(f.Keys[0]) > 0 && !containsFelt(f.Keys[0], ev.keys[0]) {
			continue
		}
		matched = append(matched, map[string]any{
			"from_address":     ev.from,
			"keys":             ev.keys,
			"data":             ev.data,
			"transaction_hash": ev.tx,
		})
	}

	offset := 0
	if f.ContinuationToken != "" {
		offset, _ = strconv.Atoi(f.ContinuationToken)
	}
	end := min(offset+f.ChunkSize, len(matched))
	out := map[string]any{"events": matched[offset:end]}
	if end < len(matched) {
		out["continuation_token"] = strconv.Itoa(end)
	}
	return out, nil
}

func containsFelt(set []starknet.Felt, f starknet.Felt) bool {
	for _, s := range set {
		if s == f {
			return true
		}
	}
	return false
}
