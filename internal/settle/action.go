// Package settle ties the codec, replay guard, risk engine, ledger and
// custody together per inbound or outbound action, and drives the cross-chain
// compensation sagas.
package settle

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/ledger"
	"crosslend/internal/risk"
)

var (
	ErrUnknownAction     = errors.New("settle: unknown action kind")
	ErrDuplicateAsset    = errors.New("settle: duplicate asset in batch")
	ErrEmptyBatch        = errors.New("settle: empty asset batch")
	ErrAssetPairMismatch = errors.New("settle: asset pair mismatch")
	ErrNoOutstandingLoan = errors.New("settle: no outstanding loan")
)

// ActionKind enumerates every state-changing operation the orchestrator
// applies.
type ActionKind uint8

const (
	ActionDeposit ActionKind = iota + 1
	ActionWithdraw
	ActionBorrow
	ActionRepay
	ActionLiquidate
	ActionRegisterAsset
)

func (k ActionKind) String() string {
	switch k {
	case ActionDeposit:
		return "deposit"
	case ActionWithdraw:
		return "withdraw"
	case ActionBorrow:
		return "borrow"
	case ActionRepay:
		return "repay"
	case ActionLiquidate:
		return "liquidate"
	case ActionRegisterAsset:
		return "register-asset"
	default:
		return "unknown"
	}
}

// Action is the tagged union the hub orchestrator matches over. Exactly the
// fields for the tagged kind are set.
type Action struct {
	Kind    ActionKind
	Account common.Address

	// Deposit, Withdraw, Borrow, Repay.
	Pairs []risk.AssetAmount

	// Liquidate.
	Vault   common.Address
	Repay   []risk.AssetAmount
	Receive []risk.AssetAmount

	// RegisterAsset.
	Asset common.Address
	Info  ledger.AssetInfo
}

// Publisher emits an outbound payload to the cross-chain transport and
// returns its message sequence.
type Publisher interface {
	Publish(payload []byte) (uint64, error)
}

// NopPublisher drops outbound messages, for configurations without a reply
// channel.
type NopPublisher struct{ seq uint64 }

func (p *NopPublisher) Publish([]byte) (uint64, error) {
	p.seq++
	return p.seq, nil
}
