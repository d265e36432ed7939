package txm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TxState int

const (
	Unknown TxState = iota
	Pending
	Completed
	Failed
	Errored
)

func (s TxState) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Pending:
		return "Pending"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Errored:
		return "Error"
	default:
		return fmt.Sprintf("TxState(%d)", s)
	}
}

// ParseTxState accepts the lower or mixed case name of a state.
func ParseTxState(s string) (TxState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending":
		return Pending, nil
	case "completed":
		return Completed, nil
	case "failed":
		return Failed, nil
	case "error", "errored":
		return Errored, nil
	default:
		return Unknown, fmt.Errorf("unknown transaction state %q", s)
	}
}

func (s TxState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *TxState) UnmarshalText(b []byte) error {
	parsed, err := ParseTxState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

var stateTransitions = map[TxState][]TxState{
	Unknown: {Pending},
	Pending: {Completed, Failed, Errored},
}

func (s TxState) CanTransitionTo(t TxState) bool {
	allowedTransitions, exists := stateTransitions[s]
	if !exists {
		return false
	}

	for _, allowed := range allowedTransitions {
		if t == allowed {
			return true
		}
	}

	return false
}

func (s TxState) IsTerminal() bool {
	return s == Completed || s == Failed || s == Errored
}

// Operation is a user-facing action carried by a transaction, such as a transfer or a swap leg.
type Operation struct {
	Type     string `json:"type"`
	From     string `json:"from"`
	To       string `json:"to"`
	Contract string `json:"contract,omitempty"`
	Value    string `json:"value"`
	Symbol   string `json:"symbol,omitempty"`
	Name     string `json:"name,omitempty"`
	Decimals int    `json:"decimals"`
}

type TransactionRecord struct {
	ID          string      `json:"id"`
	Nonce       uint64      `json:"nonce"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	Value       string      `json:"value"`
	GasLimit    string      `json:"gasLimit"`
	GasPrice    string      `json:"gasPrice"`
	GasUsed     string      `json:"gasUsed"`
	BlockNumber uint64      `json:"blockNumber"`
	SubmittedAt time.Time   `json:"submittedAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
	State       TxState     `json:"state"`
	Operations  []Operation `json:"operations"`

	// Only set in the Error state.
	ErrorCode    int    `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

func (r *TransactionRecord) Validate() error {
	var errs []error
	if r.ID == "" {
		errs = append(errs, errors.New("id is empty"))
	}
	if r.State == Unknown {
		errs = append(errs, errors.New("state is unknown"))
	}
	if r.BlockNumber > 0 && r.State != Completed && r.State != Failed {
		errs = append(errs, fmt.Errorf("block number %d set on a %s transaction", r.BlockNumber, r.State))
	}
	if (r.ErrorCode != 0 || r.ErrorMessage != "") && r.State != Errored {
		errs = append(errs, fmt.Errorf("error details set on a %s transaction", r.State))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid transaction %s: %w", r.ID, err)
	}
	return nil
}

func (r *TransactionRecord) Clone() *TransactionRecord {
	c := *r
	if r.Operations != nil {
		c.Operations = make([]Operation, len(r.Operations))
		copy(c.Operations, r.Operations)
	}
	return &c
}

// Fee is GasUsed * GasPrice in the chain's base unit. It is zero until the transaction is mined.
func (r *TransactionRecord) Fee() (decimal.Decimal, error) {
	if r.GasUsed == "" || r.GasPrice == "" {
		return decimal.Zero, nil
	}
	used, err := decimal.NewFromString(r.GasUsed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid gas used %q: %w", r.GasUsed, err)
	}
	price, err := decimal.NewFromString(r.GasPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid gas price %q: %w", r.GasPrice, err)
	}
	return used.Mul(price), nil
}
