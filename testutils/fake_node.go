package testutils

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

const (
	methodGetReceipt           = "eth_getTransactionReceipt"
	methodGetTransactionByHash = "eth_getTransactionByHash"
)

type jsonrpcRequest struct {
	Version string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonrpcResponse struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type cannedResponse struct {
	result json.RawMessage
	err    *jsonrpcError
	status int
}

// FakeNode is an in-process JSON-RPC endpoint answering receipt and transaction lookups
// from canned responses. Unknown hashes answer with a null result.
type FakeNode struct {
	t   testing.TB
	srv *httptest.Server

	mu        sync.Mutex
	responses map[string]map[string]cannedResponse // method -> hash -> response
	calls     map[string]int
}

func NewFakeNode(t testing.TB) *FakeNode {
	n := &FakeNode{
		t:         t,
		responses: map[string]map[string]cannedResponse{},
		calls:     map[string]int{},
	}
	n.srv = httptest.NewServer(http.HandlerFunc(n.serveHTTP))
	t.Cleanup(n.srv.Close)
	return n
}

func (n *FakeNode) URL() *url.URL {
	u, err := url.Parse(n.srv.URL)
	require.NoError(n.t, err)
	return u
}

// SetReceipt makes eth_getTransactionReceipt return a mined receipt for hash.
func (n *FakeNode) SetReceipt(hash string, blockNumber uint64, success bool, gasUsed uint64) {
	status := types.ReceiptStatusFailed
	if success {
		status = types.ReceiptStatusSuccessful
	}
	r := &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            status,
		CumulativeGasUsed: gasUsed,
		Logs:              []*types.Log{},
		TxHash:            common.HexToHash(hash),
		GasUsed:           gasUsed,
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(blockNumber)),
		BlockNumber:       new(big.Int).SetUint64(blockNumber),
	}
	b, err := r.MarshalJSON()
	require.NoError(n.t, err)
	n.set(methodGetReceipt, hash, cannedResponse{result: b})
}

// SetTransaction makes eth_getTransactionByHash return tx. A zero blockNumber reports it
// as pending.
func (n *FakeNode) SetTransaction(tx *types.Transaction, blockNumber uint64) {
	b, err := tx.MarshalJSON()
	require.NoError(n.t, err)
	fields := map[string]any{}
	require.NoError(n.t, json.Unmarshal(b, &fields))
	if blockNumber > 0 {
		bn := new(big.Int).SetUint64(blockNumber)
		fields["blockNumber"] = "0x" + bn.Text(16)
		fields["blockHash"] = common.BigToHash(bn).Hex()
	}
	b, err = json.Marshal(fields)
	require.NoError(n.t, err)
	n.set(methodGetTransactionByHash, tx.Hash().Hex(), cannedResponse{result: b})
}

// SetError makes method answer with a JSON-RPC error object for hash.
func (n *FakeNode) SetError(method, hash string, code int, message string) {
	n.set(method, hash, cannedResponse{err: &jsonrpcError{Code: code, Message: message}})
}

// SetHTTPStatus makes method answer with a bare HTTP status for hash.
func (n *FakeNode) SetHTTPStatus(method, hash string, status int) {
	n.set(method, hash, cannedResponse{status: status})
}

// SetNull restores the default null answer for hash.
func (n *FakeNode) SetNull(method, hash string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.responses[method], strings.ToLower(hash))
}

func (n *FakeNode) Calls(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

func (n *FakeNode) set(method, hash string, resp cannedResponse) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.responses[method] == nil {
		n.responses[method] = map[string]cannedResponse{}
	}
	n.responses[method][strings.ToLower(hash)] = resp
}

func (n *FakeNode) serveHTTP(w http.ResponseWriter, r *http.Request) {
	var req jsonrpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var hash string
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params[0], &hash)
	}

	n.mu.Lock()
	n.calls[req.Method]++
	canned, ok := n.responses[req.Method][strings.ToLower(hash)]
	n.mu.Unlock()

	if canned.status != 0 {
		w.WriteHeader(canned.status)
		return
	}

	resp := jsonrpcResponse{Version: "2.0", ID: req.ID}
	switch {
	case !ok:
		resp.Result = json.RawMessage("null")
	case canned.err != nil:
		resp.Error = canned.err
	default:
		resp.Result = canned.result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
