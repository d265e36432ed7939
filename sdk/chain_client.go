package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
)

const (
	DefaultRPCTimeout = 15 * time.Second

	MethodGetReceipt           = "eth_getTransactionReceipt"
	MethodGetTransactionByHash = "eth_getTransactionByHash"
)

// Receipt is the part of a mined transaction's receipt the reconciler cares about.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Success     bool
	GasUsed     string
}

// TxInfo describes a transaction the node still knows about, mined or not.
type TxInfo struct {
	Hash        string
	Nonce       uint64
	From        string
	To          string
	Value       string
	Gas         uint64
	GasPrice    string
	Pending     bool
	BlockNumber uint64
}

//go:generate mockery --name ChainClient --output ../mocks/
type ChainClient interface {
	// GetReceipt returns ErrNotFound while the transaction is unmined or unknown.
	GetReceipt(ctx context.Context, txHash string) (*Receipt, error)
	// GetTransactionByHash returns ErrNotFound once the node no longer knows the transaction.
	GetTransactionByHash(ctx context.Context, txHash string) (*TxInfo, error)
}

type ClientConfig struct {
	// Timeout bounds every single RPC call.
	Timeout time.Duration
	// RequestsPerSecond and Burst configure the token bucket shared by all calls.
	// A zero RequestsPerSecond disables rate limiting.
	RequestsPerSecond float64
	Burst             int
}

var _ ChainClient = &Client{}

// Client is a ChainClient backed by go-ethereum's JSON-RPC client.
type Client struct {
	lggr    logger.Logger
	eth     *ethclient.Client
	limiter *rate.Limiter
	timeout time.Duration
}

func CreateHttpClientWithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// Dial connects to the node at rpcURL.
func Dial(ctx context.Context, lggr logger.Logger, rpcURL *url.URL, cfg ClientConfig) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRPCTimeout
	}
	rc, err := rpc.DialOptions(ctx, rpcURL.String(), rpc.WithHTTPClient(CreateHttpClientWithTimeout(cfg.Timeout)))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL.Redacted(), err)
	}
	return NewClient(lggr, rc, cfg), nil
}

func NewClient(lggr logger.Logger, rc *rpc.Client, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRPCTimeout
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &Client{
		lggr:    logger.Named(lggr, "ChainClient"),
		eth:     ethclient.NewClient(rc),
		limiter: limiter,
		timeout: cfg.Timeout,
	}
}

func (c *Client) Close() {
	c.eth.Close()
}

func (c *Client) GetReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ctx, cancel, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, wrapCallError(MethodGetReceipt, txHash, err)
	}

	receipt := &Receipt{
		TxHash:  r.TxHash.Hex(),
		Success: r.Status == types.ReceiptStatusSuccessful,
		GasUsed: strconv.FormatUint(r.GasUsed, 10),
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt, nil
}

func (c *Client) GetTransactionByHash(ctx context.Context, txHash string) (*TxInfo, error) {
	ctx, cancel, err := c.prepare(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	tx, isPending, err := c.eth.TransactionByHash(ctx, common.HexToHash(txHash))
	if err != nil {
		return nil, wrapCallError(MethodGetTransactionByHash, txHash, err)
	}

	info := &TxInfo{
		Hash:     tx.Hash().Hex(),
		Nonce:    tx.Nonce(),
		Value:    tx.Value().String(),
		Gas:      tx.Gas(),
		GasPrice: tx.GasPrice().String(),
		Pending:  isPending,
	}
	if to := tx.To(); to != nil {
		info.To = to.Hex()
	}
	if from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx); err == nil {
		info.From = from.Hex()
	} else {
		c.lggr.Debugw("could not recover sender", "txHash", txHash, "err", err)
	}
	return info, nil
}

// prepare waits for a rate limiter token and bounds the call with the configured timeout.
func (c *Client) prepare(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, nil, fmt.Errorf("rate limiter: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, cancel, nil
}

func wrapCallError(method, txHash string, err error) error {
	if errors.Is(err, ethereum.NotFound) {
		return fmt.Errorf("%s(%s): %w", method, txHash, ErrNotFound)
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RPCError{Method: method, Code: rpcErr.ErrorCode(), Message: rpcErr.Error()}
	}
	return fmt.Errorf("%s(%s): %w", method, txHash, err)
}
