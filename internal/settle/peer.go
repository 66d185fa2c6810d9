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

// PeerConfig pins the two-sided variant to one collateral/borrow asset pair.
// Both chains run the same pair; messages carrying any other pair are
// rejected.
type PeerConfig struct {
	Self            common.Address
	CollateralAsset common.Address
	BorrowAsset     common.Address
	// GracePeriod is the repay propagation allowance in seconds. Repays
	// arriving within it settle at the sender's index snapshot.
	GracePeriod int64
}

// Peer is the two-sided orchestrator. Each side keeps its own ledger for the
// asset pair; borrows are reserved on the source and funded on the target,
// with RevertBorrow compensating a funding shortfall and a zero-amount
// corrective borrow reconciling a late repayment.
type Peer struct {
	cfg       PeerConfig
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

func NewPeer(cfg PeerConfig, l *ledger.Ledger, prices oracle.PriceReader, guard replay.Guard, bank custody.Bank, publisher Publisher, logger *zap.Logger) *Peer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = &NopPublisher{}
	}
	return &Peer{
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
func (p *Peer) HandleMessage(raw []byte) error {
	env, err := p.verifier.ParseAndVerify(raw)
	if err != nil {
		return err
	}
	return p.HandleEnvelope(env)
}

// RestrictEmitters limits inbound envelopes to the registered set.
func (p *Peer) RestrictEmitters(emitters *transport.EmitterSet) { p.emitters = emitters }

// SetClock overrides the wall clock, for deterministic accrual in tests.
func (p *Peer) SetClock(now func() int64) { p.now = now }

func (p *Peer) Ledger() *ledger.Ledger { return p.ledger }

func (p *Peer) pairAsset(asset common.Address) error {
	if asset != p.cfg.CollateralAsset && asset != p.cfg.BorrowAsset {
		return ErrAssetPairMismatch
	}
	return nil
}

// Deposit takes tokens of either pair asset into the local pool.
func (p *Peer) Deposit(account, asset common.Address, amount *big.Int) error {
	if err := p.pairAsset(asset); err != nil {
		return err
	}
	if err := interest.Accrue(p.ledger, asset, p.now()); err != nil {
		return err
	}
	indices, err := p.ledger.Indices(asset)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.Normalize(amount, indices.Deposited, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	if err := p.bank.TransferIn(asset, account, amount); err != nil {
		return err
	}
	if err := p.ledger.CreditDeposit(account, asset, normalized); err != nil {
		_ = p.bank.TransferOut(asset, account, amount)
		return err
	}
	return nil
}

// Withdraw releases deposited tokens back to the account.
func (p *Peer) Withdraw(account, asset common.Address, amount *big.Int) error {
	if err := p.pairAsset(asset); err != nil {
		return err
	}
	if err := interest.Accrue(p.ledger, asset, p.now()); err != nil {
		return err
	}
	if err := p.risk.CheckWithdraw(account, asset, amount); err != nil {
		return err
	}
	indices, err := p.ledger.Indices(asset)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.Normalize(amount, indices.Deposited, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	if err := p.ledger.DebitDeposit(account, asset, normalized); err != nil {
		return err
	}
	if err := p.bank.TransferOut(asset, account, amount); err != nil {
		_ = p.ledger.CreditDeposit(account, asset, normalized)
		return err
	}
	return nil
}

// InitiateBorrow reserves the liability locally against the account's
// collateral and asks the other side to fund it. The reservation is tentative
// until the target either funds or compensates with RevertBorrow.
func (p *Peer) InitiateBorrow(account common.Address, amount *big.Int) error {
	now := p.now()
	if err := interest.Accrue(p.ledger, p.cfg.CollateralAsset, now); err != nil {
		return err
	}
	if err := interest.Accrue(p.ledger, p.cfg.BorrowAsset, now); err != nil {
		return err
	}
	if err := p.risk.CheckBorrowCollateral(account, p.cfg.BorrowAsset, amount); err != nil {
		return err
	}
	indices, err := p.ledger.Indices(p.cfg.BorrowAsset)
	if err != nil {
		return err
	}
	normalized, err := fixedpoint.Normalize(amount, indices.Borrowed, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	if err := p.ledger.CreditBorrow(account, p.cfg.BorrowAsset, normalized); err != nil {
		return err
	}
	vault := p.ledger.Store().GetVault(account, p.cfg.BorrowAsset)

	payload, err := wire.EncodePeerTransfer(wire.PeerTransfer{
		Header:                wire.Header{ID: wire.PayloadPeerBorrow, Sender: account},
		CollateralAsset:       p.cfg.CollateralAsset,
		BorrowAsset:           p.cfg.BorrowAsset,
		Amount:                amount,
		TotalNormalizedBorrow: vault.Borrowed,
		Index:                 indices.Borrowed,
	})
	if err != nil {
		_ = p.ledger.DebitBorrow(account, p.cfg.BorrowAsset, normalized)
		return err
	}
	seq, err := p.publisher.Publish(payload)
	if err != nil {
		_ = p.ledger.DebitBorrow(account, p.cfg.BorrowAsset, normalized)
		return err
	}
	p.logger.Info("borrow initiated",
		zap.String("account", account.Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("sequence", seq))
	return nil
}

// InitiateRepay debits the liability optimistically and notifies the other
// side. paidInFull clears the whole outstanding balance regardless of index
// drift between the chains.
func (p *Peer) InitiateRepay(account common.Address, amount *big.Int, paidInFull bool) error {
	now := p.now()
	if err := interest.Accrue(p.ledger, p.cfg.BorrowAsset, now); err != nil {
		return err
	}
	indices, err := p.ledger.Indices(p.cfg.BorrowAsset)
	if err != nil {
		return err
	}
	vault := p.ledger.Store().GetVault(account, p.cfg.BorrowAsset)
	if vault.Borrowed.Sign() == 0 {
		return ErrNoOutstandingLoan
	}

	normalized, err := fixedpoint.Normalize(amount, indices.Borrowed, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	if paidInFull {
		normalized = new(big.Int).Set(vault.Borrowed)
	} else if normalized.Cmp(vault.Borrowed) > 0 {
		return ledger.ErrInsufficientBorrowed
	} else if normalized.Sign() == 0 {
		return ledger.ErrInvalidAmount
	}

	if err := p.bank.TransferIn(p.cfg.BorrowAsset, account, amount); err != nil {
		return err
	}
	if err := p.ledger.DebitBorrow(account, p.cfg.BorrowAsset, normalized); err != nil {
		_ = p.bank.TransferOut(p.cfg.BorrowAsset, account, amount)
		return err
	}
	remaining := p.ledger.Store().GetVault(account, p.cfg.BorrowAsset).Borrowed

	payload, err := wire.EncodePeerRepay(wire.PeerRepay{
		PeerTransfer: wire.PeerTransfer{
			Header:                wire.Header{ID: wire.PayloadPeerRepay, Sender: account},
			CollateralAsset:       p.cfg.CollateralAsset,
			BorrowAsset:           p.cfg.BorrowAsset,
			Amount:                amount,
			TotalNormalizedBorrow: remaining,
			Index:                 indices.Borrowed,
		},
		PaidInFull: paidInFull,
		Timestamp:  now,
	})
	if err == nil {
		_, err = p.publisher.Publish(payload)
	}
	if err != nil {
		_ = p.ledger.CreditBorrow(account, p.cfg.BorrowAsset, normalized)
		_ = p.bank.TransferOut(p.cfg.BorrowAsset, account, amount)
		return err
	}
	return nil
}

// HandleEnvelope processes one verified inbound peer message. The message
// hash is consumed only once the handler's checks pass, ahead of any balance
// mutation or transfer, so a rejected message stays deliverable.
func (p *Peer) HandleEnvelope(env transport.Envelope) error {
	if p.emitters != nil {
		if err := p.emitters.Check(env); err != nil {
			return err
		}
	}
	msg, err := wire.DecodePeer(env.Payload)
	if err != nil {
		return err
	}
	if p.guard.Consumed(env.Hash) {
		return replay.ErrAlreadyConsumed
	}
	commit := func() error { return p.guard.Consume(env.Hash) }
	switch m := msg.(type) {
	case *wire.PeerTransfer:
		if m.ID == wire.PayloadPeerRevertBorrow {
			return p.handleRevertBorrow(m, commit)
		}
		return p.handleBorrow(m, commit)
	case *wire.PeerRepay:
		return p.handleRepay(m, commit)
	default:
		return wire.ErrUnknownPayloadID
	}
}

// handleBorrow funds an incoming borrow request from the local pool, or
// compensates with RevertBorrow when liquidity falls short. A zero amount is
// the reconciliation sentinel: the carried total replaces the local liability
// wholesale.
func (p *Peer) handleBorrow(m *wire.PeerTransfer, commit func() error) error {
	if m.CollateralAsset != p.cfg.CollateralAsset || m.BorrowAsset != p.cfg.BorrowAsset {
		return ErrAssetPairMismatch
	}
	borrower := m.Sender

	if m.Amount.Sign() == 0 {
		if err := commit(); err != nil {
			return err
		}
		return p.reconcileBorrow(borrower, m.TotalNormalizedBorrow)
	}

	if err := interest.Accrue(p.ledger, p.cfg.BorrowAsset, p.now()); err != nil {
		return err
	}
	indices, err := p.ledger.Indices(p.cfg.BorrowAsset)
	if err != nil {
		return err
	}
	required, err := fixedpoint.Normalize(m.Amount, indices.Borrowed, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	// A shortfall is handled, not rejected: the message is consumed and the
	// compensation goes out.
	if err := commit(); err != nil {
		return err
	}
	if p.ledger.FreeLiquidity(p.cfg.BorrowAsset).Cmp(required) < 0 {
		return p.publishRevertBorrow(m)
	}

	// Fund at the sender's index snapshot so both ledgers carry the same
	// normalized liability.
	normalized, err := fixedpoint.Normalize(m.Amount, m.Index, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	if err := p.ledger.CreditBorrow(borrower, p.cfg.BorrowAsset, normalized); err != nil {
		return err
	}
	if err := p.bank.TransferOut(p.cfg.BorrowAsset, borrower, m.Amount); err != nil {
		_ = p.ledger.DebitBorrow(borrower, p.cfg.BorrowAsset, normalized)
		return err
	}
	p.logger.Info("borrow funded",
		zap.String("account", borrower.Hex()),
		zap.String("amount", m.Amount.String()))
	return nil
}

// publishRevertBorrow emits the compensating message with the asset roles
// swapped, carrying the original amount and index so the source can unwind
// its exact reservation. Local state stays untouched.
func (p *Peer) publishRevertBorrow(m *wire.PeerTransfer) error {
	payload, err := wire.EncodePeerTransfer(wire.PeerTransfer{
		Header:                wire.Header{ID: wire.PayloadPeerRevertBorrow, Sender: m.Sender},
		CollateralAsset:       m.BorrowAsset,
		BorrowAsset:           m.CollateralAsset,
		Amount:                m.Amount,
		TotalNormalizedBorrow: m.TotalNormalizedBorrow,
		Index:                 m.Index,
	})
	if err != nil {
		return err
	}
	seq, err := p.publisher.Publish(payload)
	if err != nil {
		return err
	}
	p.logger.Warn("borrow shortfall, revert published",
		zap.String("account", m.Sender.Hex()),
		zap.String("amount", m.Amount.String()),
		zap.Uint64("sequence", seq))
	return nil
}

// handleRevertBorrow rolls the tentative reservation back against the index
// snapshot it was made at.
func (p *Peer) handleRevertBorrow(m *wire.PeerTransfer, commit func() error) error {
	if m.CollateralAsset != p.cfg.BorrowAsset || m.BorrowAsset != p.cfg.CollateralAsset {
		return ErrAssetPairMismatch
	}
	normalized, err := fixedpoint.Normalize(m.Amount, m.Index, fixedpoint.RoundUp)
	if err != nil {
		return err
	}
	vault := p.ledger.Store().GetVault(m.Sender, p.cfg.BorrowAsset)
	if vault.Borrowed.Cmp(normalized) < 0 {
		return ledger.ErrInsufficientBorrowed
	}
	if err := commit(); err != nil {
		return err
	}
	if err := p.ledger.DebitBorrow(m.Sender, p.cfg.BorrowAsset, normalized); err != nil {
		return err
	}
	p.logger.Info("borrow reverted",
		zap.String("account", m.Sender.Hex()),
		zap.String("amount", m.Amount.String()))
	return nil
}

// handleRepay settles an incoming repayment. Within the grace period the
// sender's index snapshot is honored; a late repayment settles at the current
// index, and if the sender believed it paid in full, the remaining liability
// here is authoritative and goes back as the zero-amount corrective borrow.
func (p *Peer) handleRepay(m *wire.PeerRepay, commit func() error) error {
	if m.CollateralAsset != p.cfg.CollateralAsset || m.BorrowAsset != p.cfg.BorrowAsset {
		return ErrAssetPairMismatch
	}
	borrower := m.Sender
	now := p.now()
	late := now-m.Timestamp > p.cfg.GracePeriod

	index := m.Index
	if late {
		if err := interest.Accrue(p.ledger, p.cfg.BorrowAsset, now); err != nil {
			return err
		}
		indices, err := p.ledger.Indices(p.cfg.BorrowAsset)
		if err != nil {
			return err
		}
		index = indices.Borrowed
	}

	normalized, err := fixedpoint.Normalize(m.Amount, index, fixedpoint.RoundDown)
	if err != nil {
		return err
	}
	vault := p.ledger.Store().GetVault(borrower, p.cfg.BorrowAsset)
	if normalized.Cmp(vault.Borrowed) > 0 {
		normalized = new(big.Int).Set(vault.Borrowed)
	}
	if err := commit(); err != nil {
		return err
	}
	if normalized.Sign() > 0 {
		if err := p.ledger.DebitBorrow(borrower, p.cfg.BorrowAsset, normalized); err != nil {
			return err
		}
	}

	if late && m.PaidInFull {
		remaining := p.ledger.Store().GetVault(borrower, p.cfg.BorrowAsset).Borrowed
		payload, err := wire.EncodePeerTransfer(wire.PeerTransfer{
			Header:                wire.Header{ID: wire.PayloadPeerBorrow, Sender: borrower},
			CollateralAsset:       p.cfg.CollateralAsset,
			BorrowAsset:           p.cfg.BorrowAsset,
			Amount:                big.NewInt(0),
			TotalNormalizedBorrow: remaining,
			Index:                 index,
		})
		if err != nil {
			return err
		}
		seq, err := p.publisher.Publish(payload)
		if err != nil {
			return err
		}
		p.logger.Warn("late full repay, corrective borrow published",
			zap.String("account", borrower.Hex()),
			zap.String("remaining", remaining.String()),
			zap.Uint64("sequence", seq))
	}
	return nil
}

// reconcileBorrow snaps the local liability to the authoritative normalized
// total carried by a corrective message.
func (p *Peer) reconcileBorrow(borrower common.Address, total *big.Int) error {
	if total == nil {
		total = big.NewInt(0)
	}
	current := p.ledger.Store().GetVault(borrower, p.cfg.BorrowAsset).Borrowed
	switch current.Cmp(total) {
	case -1:
		delta := new(big.Int).Sub(total, current)
		if err := p.ledger.CreditBorrow(borrower, p.cfg.BorrowAsset, delta); err != nil {
			return err
		}
	case 1:
		delta := new(big.Int).Sub(current, total)
		if err := p.ledger.DebitBorrow(borrower, p.cfg.BorrowAsset, delta); err != nil {
			return err
		}
	}
	p.logger.Info("liability reconciled",
		zap.String("account", borrower.Hex()),
		zap.String("total", total.String()))
	return nil
}
