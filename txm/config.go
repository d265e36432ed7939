package txm

import (
	"math/big"
	"time"
)

const (
	DefaultPollPeriod            = 10 * time.Second
	DefaultGracePeriod           = 60 * time.Second
	DefaultMaxConcurrentRequests = 16

	// MaxClockSkew is how far in the future a client supplied submission time may be.
	MaxClockSkew = 30 * time.Second
)

type TxmConfig struct {
	// PollPeriod is the interval between two reconciliation cycles.
	PollPeriod time.Duration
	// GracePeriod is how long a transaction unknown to the node stays Pending before it is
	// marked Failed. Measured from SubmittedAt.
	GracePeriod time.Duration
	// MaxConcurrentRequests bounds the RPC calls in flight during a cycle.
	MaxConcurrentRequests int
	// ChainID, when set, is the only chain a raw transaction may be signed for.
	ChainID *big.Int
}

func (c TxmConfig) withDefaults() TxmConfig {
	if c.PollPeriod <= 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = DefaultGracePeriod
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	return c
}
