package txm

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils"

	"github.com/tomoswap/txsync/notify"
	"github.com/tomoswap/txsync/sdk"
)

var _ services.Service = &Txm{}

// Txm reconciles one wallet's pending transactions with the chain. Every PollPeriod it looks
// up the receipt of each Pending record and moves it to Completed, Failed or Error.
type Txm struct {
	services.StateMachine
	lggr   logger.Logger
	cfg    TxmConfig
	wallet string
	store  TxStore
	client sdk.ChainClient
	bus    notify.Bus
	now    func() time.Time

	// held for the duration of a cycle; a tick that cannot take it is skipped
	cycleMu sync.Mutex
	// serialises re-read, compare, update and publish of a single record
	writeMu sync.Mutex

	chStop services.StopChan
	done   sync.WaitGroup
}

type Option func(*Txm)

// WithNow replaces the clock used for grace period and timestamps.
func WithNow(now func() time.Time) Option {
	return func(t *Txm) {
		t.now = now
	}
}

func NewTxm(lggr logger.Logger, wallet string, cfg TxmConfig, store TxStore, client sdk.ChainClient, bus notify.Bus, opts ...Option) *Txm {
	t := &Txm{
		lggr:   logger.With(logger.Named(lggr, "Txm"), "wallet", wallet),
		cfg:    cfg.withDefaults(),
		wallet: wallet,
		store:  store,
		client: client,
		bus:    bus,
		now:    time.Now,
		chStop: make(services.StopChan),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Txm) Name() string {
	return t.lggr.Name()
}

func (t *Txm) HealthReport() map[string]error {
	return map[string]error{t.Name(): t.Healthy()}
}

func (t *Txm) Wallet() string {
	return t.wallet
}

func (t *Txm) Store() TxStore {
	return t.store
}

func (t *Txm) Start(ctx context.Context) error {
	return t.StartOnce("Txm", func() error {
		t.done.Add(1) // waitgroup: confirm loop
		go t.confirmLoop()
		return nil
	})
}

// Close stops the poll loop, cancels in-flight node calls and waits for running cycles.
func (t *Txm) Close() error {
	return t.StopOnce("Txm", func() error {
		close(t.chStop)
		t.done.Wait()
		return nil
	})
}

func (t *Txm) confirmLoop() {
	defer t.done.Done()

	ctx, cancel := t.chStop.NewCtx()
	defer cancel()

	// first cycle runs right away, later ones every PollPeriod
	tick := time.After(0)

	t.lggr.Debugw("confirmLoop: started", "pollPeriod", t.cfg.PollPeriod, "gracePeriod", t.cfg.GracePeriod)

	for {
		select {
		case <-tick:
			// the cycle runs on its own goroutine so a slow node never delays the timer
			t.done.Add(1)
			go func() {
				defer t.done.Done()
				t.CheckPending(ctx)
			}()
			tick = time.After(utils.WithJitter(t.cfg.PollPeriod))

		case <-t.chStop:
			t.lggr.Debugw("confirmLoop: stopped")
			return
		}
	}
}

// CheckPending runs one reconciliation cycle over every Pending record. It returns false
// without doing anything when another cycle is still in progress.
func (t *Txm) CheckPending(ctx context.Context) bool {
	if !t.cycleMu.TryLock() {
		promSkippedCycles.WithLabelValues(t.wallet).Inc()
		t.lggr.Debugw("previous cycle still running, skipping")
		return false
	}
	defer t.cycleMu.Unlock()

	start := time.Now()
	defer func() {
		promCycles.WithLabelValues(t.wallet).Inc()
		promCycleDuration.WithLabelValues(t.wallet).Observe(time.Since(start).Seconds())
	}()

	pending, err := t.store.ListByState(ctx, Pending)
	if err != nil {
		t.lggr.Errorw("could not list pending transactions", "err", err)
		return true
	}
	if len(pending) == 0 {
		return true
	}

	outcomes := make([]outcome, len(pending))
	var g errgroup.Group
	g.SetLimit(t.cfg.MaxConcurrentRequests)
	for i, rec := range pending {
		g.Go(func() error {
			outcomes[i] = t.resolve(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	finalized := 0
	for _, o := range outcomes {
		if t.apply(ctx, o) {
			finalized++
		}
	}
	t.lggr.Debugw("cycle done", "pending", len(pending), "finalized", finalized, "elapsed", time.Since(start))
	return true
}

// outcome is what the node told us about one pending record. A next state of Pending
// means nothing is written.
type outcome struct {
	rec     *TransactionRecord
	next    TxState
	receipt *sdk.Receipt
	rpcErr  *sdk.RPCError
}

// resolve asks the node about rec without touching the store. No lock is held here.
func (t *Txm) resolve(ctx context.Context, rec *TransactionRecord) outcome {
	o := outcome{rec: rec, next: Pending}

	receipt, err := t.client.GetReceipt(ctx, rec.ID)
	if err == nil {
		o.receipt = receipt
		o.next = Failed
		if receipt.Success {
			o.next = Completed
		}
		return o
	}

	class := sdk.Classify(err)
	promRPCErrors.WithLabelValues(sdk.MethodGetReceipt, string(class)).Inc()
	if class == sdk.ClassTransient {
		t.lggr.Debugw("receipt lookup failed, retrying next cycle", "txHash", rec.ID, "err", err)
		return o
	}
	if class == sdk.ClassProtocol {
		t.lggr.Warnw("receipt lookup rejected, checking transaction", "txHash", rec.ID, "err", err)
	}

	if _, err = t.client.GetTransactionByHash(ctx, rec.ID); err == nil {
		// still known to the node, not mined yet
		return o
	}

	class = sdk.Classify(err)
	promRPCErrors.WithLabelValues(sdk.MethodGetTransactionByHash, string(class)).Inc()
	switch class {
	case sdk.ClassAbsent:
		age := t.now().Sub(rec.SubmittedAt)
		if age > t.cfg.GracePeriod {
			t.lggr.Infow("transaction missing after grace period", "txHash", rec.ID, "age", age)
			o.next = Failed
		}
	case sdk.ClassProtocol:
		errors.As(err, &o.rpcErr)
		o.next = Errored
	default:
		t.lggr.Debugw("transaction lookup failed, retrying next cycle", "txHash", rec.ID, "err", err)
	}
	return o
}

// apply writes a resolved outcome. The stored record is re-read under writeMu and left
// alone unless it is still Pending, so racing cycles and immediate checks cannot overwrite
// a final state. Returns whether a transition was written.
func (t *Txm) apply(ctx context.Context, o outcome) bool {
	if o.next == Pending {
		return false
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	current, err := t.store.Get(ctx, o.rec.ID)
	if err != nil {
		if errors.Is(err, ErrTxNotFound) {
			t.lggr.Debugw("transaction removed before update", "txHash", o.rec.ID)
		} else {
			t.lggr.Errorw("could not read transaction before update", "txHash", o.rec.ID, "err", err)
		}
		return false
	}
	if current.State != Pending {
		t.lggr.Debugw("transaction already final, skipping update", "txHash", current.ID, "state", current.State, "next", o.next)
		return false
	}
	if !current.State.CanTransitionTo(o.next) {
		t.lggr.Errorw("invalid state transition", "txHash", current.ID, "from", current.State, "to", o.next)
		return false
	}

	updated := current.Clone()
	updated.State = o.next
	updated.UpdatedAt = t.now().UTC()
	if o.receipt != nil {
		updated.BlockNumber = o.receipt.BlockNumber
		updated.GasUsed = o.receipt.GasUsed
	}
	if o.rpcErr != nil {
		updated.ErrorCode = o.rpcErr.Code
		updated.ErrorMessage = o.rpcErr.Message
	}

	if err := t.store.Update(ctx, updated); err != nil {
		t.lggr.Errorw("could not update transaction", "txHash", updated.ID, "state", updated.State, "err", err)
		return false
	}
	promTransitions.WithLabelValues(t.wallet, updated.State.String()).Inc()

	switch updated.State {
	case Completed:
		t.lggr.Infow("confirmed transaction", "txHash", updated.ID, "blockNumber", updated.BlockNumber, "gasUsed", updated.GasUsed)
	case Failed:
		t.lggr.Warnw("transaction failed", "txHash", updated.ID, "blockNumber", updated.BlockNumber)
	case Errored:
		t.lggr.Errorw("transaction lookup returned an error", "txHash", updated.ID, "code", updated.ErrorCode, "message", updated.ErrorMessage)
	}

	t.publishUpdate(ctx, updated)
	return true
}

func (t *Txm) publishUpdate(ctx context.Context, rec *TransactionRecord) {
	ev := notify.NewEvent(notify.TopicTxUpdated, t.wallet, rec.ID, rec.State.String())
	if rec.State == Errored {
		ev.Error = &notify.EventError{Code: rec.ErrorCode, Message: rec.ErrorMessage}
	}
	t.bus.Publish(ctx, ev)
	t.bus.Publish(ctx, notify.NewEvent(notify.TopicTxListUpdated, t.wallet, "", ""))
}
