package settle

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"crosslend/internal/custody"
	"crosslend/internal/fixedpoint"
	"crosslend/internal/interest"
	"crosslend/internal/ledger"
	"crosslend/internal/oracle"
	"crosslend/internal/replay"
	"crosslend/internal/risk"
	"crosslend/internal/transport"
	"crosslend/internal/wire"
)

// HubConfig carries the hub's identity and governance parameters.
type HubConfig struct {
	Self        common.Address
	Liquidation risk.LiquidationParams
}

// Hub is the hub-and-spoke orchestrator. All vault accounting lives here;
// spokes only emit action messages and release tokens on the hub's replies.
type Hub struct {
	cfg       HubConfig
	ledger    *ledger.Ledger
	risk      *risk.Engine
	guard     replay.Guard
	bank      custody.Bank
	verifier  transport.Verifier
	emitters  *transport.EmitterSet
	publisher Publisher
	logger    *zap.Logger
	now       func() int64
}

func NewHub(cfg HubConfig, l *ledger.Ledger, prices oracle.PriceReader, guard replay.Guard, bank custody.Bank, publisher Publisher, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = &NopPublisher{}
	}
	return &Hub{
		cfg:       cfg,
		ledger:    l,
		risk:      risk.NewEngine(l, prices),
		guard:     guard,
		bank:      bank,
		verifier:  transport.EnvelopeVerifier{},
		publisher: publisher,
		logger:    logger,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// HandleMessage verifies one raw attested message and processes it.
func (h *Hub) HandleMessage(raw []byte) error {
	env, err := h.verifier.ParseAndVerify(raw)
	if err != nil {
		return err
	}
	return h.HandleEnvelope(env)
}

// RestrictEmitters limits inbound envelopes to the registered set.
func (h *Hub) RestrictEmitters(emitters *transport.EmitterSet) { h.emitters = emitters }

// SetClock overrides the wall clock, for deterministic accrual in tests.
func (h *Hub) SetClock(now func() int64) { h.now = now }

func (h *Hub) Ledger() *ledger.Ledger { return h.ledger }

// HandleEnvelope processes one verified inbound message: emitter check,
// decode, then the decoded action. The message hash is consumed only once the
// action's checks all pass, ahead of any custody transfer, so a rejected
// message stays deliverable and can clear later once conditions change.
func (h *Hub) HandleEnvelope(env transport.Envelope) error {
	if h.emitters != nil {
		if err := h.emitters.Check(env); err != nil {
			return err
		}
	}
	msg, err := wire.DecodeHub(env.Payload)
	if err != nil {
		return err
	}
	action, err := h.actionFromMessage(msg)
	if err != nil {
		return err
	}
	if h.guard.Consumed(env.Hash) {
		return replay.ErrAlreadyConsumed
	}
	return h.apply(action, func() error { return h.guard.Consume(env.Hash) })
}

func (h *Hub) actionFromMessage(msg wire.HubMessage) (Action, error) {
	switch m := msg.(type) {
	case *wire.Batch:
		pairs, err := batchPairs(m.Assets, m.Amounts)
		if err != nil {
			return Action{}, err
		}
		var kind ActionKind
		switch m.ID {
		case wire.PayloadDeposit:
			kind = ActionDeposit
		case wire.PayloadWithdraw:
			kind = ActionWithdraw
		case wire.PayloadBorrow:
			kind = ActionBorrow
		case wire.PayloadRepay:
			kind = ActionRepay
		default:
			return Action{}, wire.ErrUnknownPayloadID
		}
		return Action{Kind: kind, Account: m.Sender, Pairs: pairs}, nil
	case *wire.Liquidation:
		repay, err := batchPairs(m.Repay.Assets, m.Repay.Amounts)
		if err != nil {
			return Action{}, err
		}
		receive, err := batchPairs(m.Receive.Assets, m.Receive.Amounts)
		if err != nil {
			return Action{}, err
		}
		return Action{Kind: ActionLiquidate, Account: m.Sender, Vault: m.Vault, Repay: repay, Receive: receive}, nil
	default:
		return Action{}, ErrUnknownAction
	}
}

// Apply dispatches one locally originated action, outside the replay guard.
// The match is exhaustive over every kind.
func (h *Hub) Apply(action Action) error { return h.apply(action, nil) }

// apply runs one action. commit, when set, consumes the message hash; each
// action invokes it after its checks pass and before custody moves value, so
// a rejected action leaves the consumed set untouched.
func (h *Hub) apply(action Action, commit func() error) error {
	var err error
	switch action.Kind {
	case ActionDeposit:
		err = h.deposit(action.Account, action.Pairs, commit)
	case ActionWithdraw:
		err = h.withdraw(action.Account, action.Pairs, commit)
	case ActionBorrow:
		err = h.borrow(action.Account, action.Pairs, commit)
	case ActionRepay:
		err = h.repay(action.Account, action.Pairs, commit)
	case ActionLiquidate:
		err = h.liquidate(action.Account, action.Vault, action.Repay, action.Receive, commit)
	case ActionRegisterAsset:
		err = h.registerAsset(action.Asset, action.Info, commit)
	default:
		return ErrUnknownAction
	}
	if err != nil {
		h.logger.Warn("action rejected",
			zap.String("kind", action.Kind.String()),
			zap.String("account", action.Account.Hex()),
			zap.Error(err))
		return err
	}
	h.logger.Info("action applied",
		zap.String("kind", action.Kind.String()),
		zap.String("account", action.Account.Hex()))
	return nil
}

// Deposit credits the vault after the tokens arrive in custody.
func (h *Hub) Deposit(account common.Address, pairs []risk.AssetAmount) error {
	return h.deposit(account, pairs, nil)
}

func (h *Hub) deposit(account common.Address, pairs []risk.AssetAmount, commit func() error) error {
	if err := h.accrue(pairAssets(pairs)); err != nil {
		return err
	}
	normalized := make([]*big.Int, len(pairs))
	for i, pair := range pairs {
		indices, err := h.ledger.Indices(pair.Asset)
		if err != nil {
			return err
		}
		n, err := fixedpoint.Normalize(pair.Amount, indices.Deposited, fixedpoint.RoundDown)
		if err != nil {
			return err
		}
		normalized[i] = n
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	j := &journal{}
	for i, pair := range pairs {
		if err := h.bank.TransferIn(pair.Asset, account, pair.Amount); err != nil {
			j.revert()
			return err
		}
		j.transferOut(h.bank, pair.Asset, account, pair.Amount)
		if err := h.ledger.CreditDeposit(account, pair.Asset, normalized[i]); err != nil {
			j.revert()
			return err
		}
		j.debitDeposit(h.ledger, account, pair.Asset, normalized[i])
	}
	return nil
}

// Withdraw debits shares round-up, pays out from custody, then publishes the
// release message for the spoke side.
func (h *Hub) Withdraw(account common.Address, pairs []risk.AssetAmount) error {
	return h.withdraw(account, pairs, nil)
}

// withdraw runs the checks and share debits journaled, pair by pair, so each
// pair's check sees the earlier debits; only then is the hash committed and
// custody paid out.
func (h *Hub) withdraw(account common.Address, pairs []risk.AssetAmount, commit func() error) error {
	if err := h.accrue(pairAssets(pairs)); err != nil {
		return err
	}
	j := &journal{}
	for _, pair := range pairs {
		if err := h.risk.CheckWithdraw(account, pair.Asset, pair.Amount); err != nil {
			j.revert()
			return err
		}
		indices, err := h.ledger.Indices(pair.Asset)
		if err != nil {
			j.revert()
			return err
		}
		normalized, err := fixedpoint.Normalize(pair.Amount, indices.Deposited, fixedpoint.RoundUp)
		if err != nil {
			j.revert()
			return err
		}
		if err := h.ledger.DebitDeposit(account, pair.Asset, normalized); err != nil {
			j.revert()
			return err
		}
		j.creditDeposit(h.ledger, account, pair.Asset, normalized)
	}
	if commit != nil {
		if err := commit(); err != nil {
			j.revert()
			return err
		}
	}
	if err := h.payOut(j, account, pairs); err != nil {
		return err
	}
	return h.publishRelease(wire.PayloadWithdraw, account, pairs, j)
}

// Borrow credits the liability round-up, pays out, then publishes the release.
func (h *Hub) Borrow(account common.Address, pairs []risk.AssetAmount) error {
	return h.borrow(account, pairs, nil)
}

func (h *Hub) borrow(account common.Address, pairs []risk.AssetAmount, commit func() error) error {
	if err := h.accrue(pairAssets(pairs)); err != nil {
		return err
	}
	j := &journal{}
	for _, pair := range pairs {
		if err := h.risk.CheckBorrow(account, pair.Asset, pair.Amount); err != nil {
			j.revert()
			return err
		}
		indices, err := h.ledger.Indices(pair.Asset)
		if err != nil {
			j.revert()
			return err
		}
		normalized, err := fixedpoint.Normalize(pair.Amount, indices.Borrowed, fixedpoint.RoundUp)
		if err != nil {
			j.revert()
			return err
		}
		if err := h.ledger.CreditBorrow(account, pair.Asset, normalized); err != nil {
			j.revert()
			return err
		}
		j.debitBorrow(h.ledger, account, pair.Asset, normalized)
	}
	if commit != nil {
		if err := commit(); err != nil {
			j.revert()
			return err
		}
	}
	if err := h.payOut(j, account, pairs); err != nil {
		return err
	}
	return h.publishRelease(wire.PayloadBorrow, account, pairs, j)
}

// Repay debits the liability round-down after the tokens arrive. A repay
// exceeding the outstanding borrow is rejected whole.
func (h *Hub) Repay(account common.Address, pairs []risk.AssetAmount) error {
	return h.repay(account, pairs, nil)
}

func (h *Hub) repay(account common.Address, pairs []risk.AssetAmount, commit func() error) error {
	if err := h.accrue(pairAssets(pairs)); err != nil {
		return err
	}
	normalized := make([]*big.Int, len(pairs))
	for i, pair := range pairs {
		indices, err := h.ledger.Indices(pair.Asset)
		if err != nil {
			return err
		}
		n, err := fixedpoint.Normalize(pair.Amount, indices.Borrowed, fixedpoint.RoundDown)
		if err != nil {
			return err
		}
		vault := h.ledger.Store().GetVault(account, pair.Asset)
		if n.Cmp(vault.Borrowed) > 0 {
			return ledger.ErrInsufficientBorrowed
		}
		if n.Sign() == 0 {
			return ledger.ErrInvalidAmount
		}
		normalized[i] = n
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	j := &journal{}
	for i, pair := range pairs {
		if err := h.bank.TransferIn(pair.Asset, account, pair.Amount); err != nil {
			j.revert()
			return err
		}
		j.transferOut(h.bank, pair.Asset, account, pair.Amount)
		if err := h.ledger.DebitBorrow(account, pair.Asset, normalized[i]); err != nil {
			j.revert()
			return err
		}
		j.creditBorrow(h.ledger, account, pair.Asset, normalized[i])
	}
	return nil
}

// Liquidate settles a same-chain liquidation: the liquidator's repay legs
// come into custody, the vault's positions shrink, and the receive legs pay
// out to the liquidator. The whole proposal stands or falls together.
func (h *Hub) Liquidate(liquidator, vault common.Address, repay, receive []risk.AssetAmount) error {
	return h.liquidate(liquidator, vault, repay, receive, nil)
}

func (h *Hub) liquidate(liquidator, vault common.Address, repay, receive []risk.AssetAmount, commit func() error) error {
	assets := append(pairAssets(repay), pairAssets(receive)...)
	if err := h.accrue(assets); err != nil {
		return err
	}
	if err := h.risk.CheckLiquidation(vault, repay, receive, h.cfg.Liquidation); err != nil {
		return err
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}

	j := &journal{}
	for _, leg := range repay {
		indices, err := h.ledger.Indices(leg.Asset)
		if err != nil {
			j.revert()
			return err
		}
		normalized, err := fixedpoint.Normalize(leg.Amount, indices.Borrowed, fixedpoint.RoundDown)
		if err != nil {
			j.revert()
			return err
		}
		if err := h.bank.TransferIn(leg.Asset, liquidator, leg.Amount); err != nil {
			j.revert()
			return err
		}
		j.transferOut(h.bank, leg.Asset, liquidator, leg.Amount)
		if normalized.Sign() == 0 {
			continue
		}
		if err := h.ledger.DebitBorrow(vault, leg.Asset, normalized); err != nil {
			j.revert()
			return err
		}
		j.creditBorrow(h.ledger, vault, leg.Asset, normalized)
	}
	for _, leg := range receive {
		indices, err := h.ledger.Indices(leg.Asset)
		if err != nil {
			j.revert()
			return err
		}
		normalized, err := fixedpoint.Normalize(leg.Amount, indices.Deposited, fixedpoint.RoundUp)
		if err != nil {
			j.revert()
			return err
		}
		if err := h.ledger.DebitDeposit(vault, leg.Asset, normalized); err != nil {
			j.revert()
			return err
		}
		j.creditDeposit(h.ledger, vault, leg.Asset, normalized)
		if err := h.bank.TransferOut(leg.Asset, liquidator, leg.Amount); err != nil {
			j.revert()
			return err
		}
		j.transferIn(h.bank, leg.Asset, liquidator, leg.Amount)
	}
	return nil
}

// RegisterAsset is the governance entrypoint for adding an asset.
func (h *Hub) RegisterAsset(asset common.Address, info ledger.AssetInfo) error {
	return h.registerAsset(asset, info, nil)
}

func (h *Hub) registerAsset(asset common.Address, info ledger.AssetInfo, commit func() error) error {
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	return h.ledger.RegisterAsset(asset, info, h.now())
}

func (h *Hub) payOut(j *journal, account common.Address, pairs []risk.AssetAmount) error {
	for _, pair := range pairs {
		if err := h.bank.TransferOut(pair.Asset, account, pair.Amount); err != nil {
			j.revert()
			return err
		}
		j.transferIn(h.bank, pair.Asset, account, pair.Amount)
	}
	return nil
}

// publishRelease mirrors a completed withdraw or borrow back out so the
// spoke chain can release tokens to the account.
func (h *Hub) publishRelease(id wire.PayloadID, account common.Address, pairs []risk.AssetAmount, j *journal) error {
	batch := wire.Batch{Header: wire.Header{ID: id, Sender: account}}
	for _, pair := range pairs {
		batch.Assets = append(batch.Assets, pair.Asset)
		batch.Amounts = append(batch.Amounts, pair.Amount)
	}
	payload, err := wire.EncodeBatch(batch)
	if err != nil {
		j.revert()
		return err
	}
	seq, err := h.publisher.Publish(payload)
	if err != nil {
		j.revert()
		return err
	}
	h.logger.Info("release published", zap.Uint8("payload_id", uint8(id)), zap.Uint64("sequence", seq))
	return nil
}

func (h *Hub) accrue(assets []common.Address) error {
	now := h.now()
	seen := make(map[common.Address]struct{}, len(assets))
	for _, asset := range assets {
		if _, ok := seen[asset]; ok {
			continue
		}
		seen[asset] = struct{}{}
		if err := interest.Accrue(h.ledger, asset, now); err != nil {
			return err
		}
	}
	return nil
}

func pairAssets(pairs []risk.AssetAmount) []common.Address {
	assets := make([]common.Address, len(pairs))
	for i, pair := range pairs {
		assets[i] = pair.Asset
	}
	return assets
}

// batchPairs validates wire-level parallel arrays into asset/amount pairs.
// Duplicate assets and non-positive amounts reject the whole batch.
func batchPairs(assets []common.Address, amounts []*big.Int) ([]risk.AssetAmount, error) {
	if len(assets) != len(amounts) {
		return nil, wire.ErrLengthMismatch
	}
	if len(assets) == 0 {
		return nil, ErrEmptyBatch
	}
	seen := make(map[common.Address]struct{}, len(assets))
	pairs := make([]risk.AssetAmount, len(assets))
	for i, asset := range assets {
		if _, ok := seen[asset]; ok {
			return nil, ErrDuplicateAsset
		}
		seen[asset] = struct{}{}
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return nil, ledger.ErrInvalidAmount
		}
		pairs[i] = risk.AssetAmount{Asset: asset, Amount: amounts[i]}
	}
	return pairs, nil
}

// journal accumulates inverse operations so a failure mid-action can unwind
// everything applied so far. Rollbacks reverse exact credits and debits, so
// their own errors are impossible and ignored.
type journal struct {
	undo []func()
}

func (j *journal) revert() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

func (j *journal) transferIn(bank custody.Bank, asset, from common.Address, amount *big.Int) {
	j.undo = append(j.undo, func() { _ = bank.TransferIn(asset, from, amount) })
}

func (j *journal) transferOut(bank custody.Bank, asset, to common.Address, amount *big.Int) {
	j.undo = append(j.undo, func() { _ = bank.TransferOut(asset, to, amount) })
}

func (j *journal) creditDeposit(l *ledger.Ledger, account, asset common.Address, normalized *big.Int) {
	j.undo = append(j.undo, func() { _ = l.CreditDeposit(account, asset, normalized) })
}

func (j *journal) debitDeposit(l *ledger.Ledger, account, asset common.Address, normalized *big.Int) {
	j.undo = append(j.undo, func() { _ = l.DebitDeposit(account, asset, normalized) })
}

func (j *journal) creditBorrow(l *ledger.Ledger, account, asset common.Address, normalized *big.Int) {
	j.undo = append(j.undo, func() { _ = l.CreditBorrow(account, asset, normalized) })
}

func (j *journal) debitBorrow(l *ledger.Ledger, account, asset common.Address, normalized *big.Int) {
	j.undo = append(j.undo, func() { _ = l.DebitBorrow(account, asset, normalized) })
}
