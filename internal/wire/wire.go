// Package wire implements the binary cross-chain message format: length-
// prefixed arrays, big-endian left-padded integers, 20-byte addresses carried
// in 32-byte slots with 12 bytes of zero padding.
package wire

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PayloadID tags the message variant carried after the header.
type PayloadID uint8

// Hub-and-spoke payload IDs.
const (
	PayloadDeposit     PayloadID = 1
	PayloadWithdraw    PayloadID = 2
	PayloadBorrow      PayloadID = 3
	PayloadRepay       PayloadID = 4
	PayloadLiquidation PayloadID = 5
)

// Two-sided peer payload IDs. The peer codec is a separate dispatch space
// selected by protocol variant.
const (
	PayloadPeerBorrow       PayloadID = 1
	PayloadPeerRevertBorrow PayloadID = 2
	PayloadPeerRepay        PayloadID = 3
)

const (
	addressLen = 20
	slotLen    = 32
	paddingLen = slotLen - addressLen
)

var (
	ErrEmptyPayload     = errors.New("wire: empty payload")
	ErrUnknownPayloadID = errors.New("wire: unknown payload id")
	ErrTruncated        = errors.New("wire: truncated payload")
	ErrTrailingBytes    = errors.New("wire: trailing bytes after payload")
	ErrLengthMismatch   = errors.New("wire: asset and amount counts differ")
	ErrAmountOverflow   = errors.New("wire: amount does not fit in 256 bits")
	ErrAddressPadding   = errors.New("wire: nonzero address padding")
)

// Header prefixes every message.
type Header struct {
	ID     PayloadID
	Sender common.Address
}

// Batch is the shared body of Deposit, Withdraw, Borrow and Repay messages:
// parallel arrays of padded asset addresses and uint256 amounts.
type Batch struct {
	Header
	Assets  []common.Address
	Amounts []*big.Int
}

// Legs is one side of a liquidation proposal on the wire.
type Legs struct {
	Assets  []common.Address
	Amounts []*big.Int
}

// Liquidation proposes repaid and received asset sets against a vault.
type Liquidation struct {
	Header
	Vault   common.Address
	Repay   Legs
	Receive Legs
}

// PeerTransfer is the body shared by the peer-variant Borrow and RevertBorrow
// messages. Index is the sender's normalized-index snapshot so the receiver
// denormalizes consistently even after its own index has moved.
type PeerTransfer struct {
	Header
	CollateralAsset       common.Address
	BorrowAsset           common.Address
	Amount                *big.Int
	TotalNormalizedBorrow *big.Int
	Index                 *big.Int
}

// PeerRepay adds the full-repayment flag and origin timestamp used by the
// grace-period check.
type PeerRepay struct {
	PeerTransfer
	PaidInFull bool
	Timestamp  int64
}

type encoder struct {
	buf []byte
	err error
}

func (e *encoder) u8(v uint8) { e.buf = append(e.buf, v) }

func (e *encoder) u32(v uint32) {
	e.buf = append(e.buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func (e *encoder) u64(v uint64) {
	for shift := 56; shift >= 0; shift -= 8 {
		e.buf = append(e.buf, byte(v>>shift))
	}
}

func (e *encoder) address(addr common.Address) {
	e.buf = append(e.buf, addr.Bytes()...)
}

func (e *encoder) paddedAddress(addr common.Address) {
	e.buf = append(e.buf, make([]byte, paddingLen)...)
	e.buf = append(e.buf, addr.Bytes()...)
}

func (e *encoder) u256(v *big.Int) {
	if e.err != nil {
		return
	}
	if v == nil {
		v = new(big.Int)
	}
	if v.Sign() < 0 || v.BitLen() > 256 {
		e.err = ErrAmountOverflow
		return
	}
	e.buf = append(e.buf, common.BigToHash(v).Bytes()...)
}

func (e *encoder) legs(legs Legs) {
	if len(legs.Assets) != len(legs.Amounts) {
		e.err = ErrLengthMismatch
		return
	}
	e.u32(uint32(len(legs.Assets)))
	for _, asset := range legs.Assets {
		e.paddedAddress(asset)
	}
	for _, amount := range legs.Amounts {
		e.u256(amount)
	}
}

// EncodeBatch serializes a Deposit, Withdraw, Borrow or Repay message.
func EncodeBatch(m Batch) ([]byte, error) {
	switch m.ID {
	case PayloadDeposit, PayloadWithdraw, PayloadBorrow, PayloadRepay:
	default:
		return nil, ErrUnknownPayloadID
	}
	e := &encoder{}
	e.u8(uint8(m.ID))
	e.address(m.Sender)
	e.legs(Legs{Assets: m.Assets, Amounts: m.Amounts})
	return e.buf, e.err
}

// EncodeLiquidation serializes a same-chain liquidation proposal.
func EncodeLiquidation(m Liquidation) ([]byte, error) {
	e := &encoder{}
	e.u8(uint8(PayloadLiquidation))
	e.address(m.Sender)
	e.address(m.Vault)
	e.legs(m.Repay)
	e.legs(m.Receive)
	return e.buf, e.err
}

// EncodePeerTransfer serializes a peer Borrow or RevertBorrow message.
func EncodePeerTransfer(m PeerTransfer) ([]byte, error) {
	switch m.ID {
	case PayloadPeerBorrow, PayloadPeerRevertBorrow:
	default:
		return nil, ErrUnknownPayloadID
	}
	e := &encoder{}
	e.peerTransfer(m)
	return e.buf, e.err
}

// EncodePeerRepay serializes a peer Repay message.
func EncodePeerRepay(m PeerRepay) ([]byte, error) {
	m.ID = PayloadPeerRepay
	e := &encoder{}
	e.peerTransfer(m.PeerTransfer)
	flag := uint8(0)
	if m.PaidInFull {
		flag = 1
	}
	e.u8(flag)
	e.u64(uint64(m.Timestamp))
	return e.buf, e.err
}

func (e *encoder) peerTransfer(m PeerTransfer) {
	e.u8(uint8(m.ID))
	e.address(m.Sender)
	e.paddedAddress(m.CollateralAsset)
	e.paddedAddress(m.BorrowAsset)
	e.u256(m.Amount)
	e.u256(m.TotalNormalizedBorrow)
	e.u256(m.Index)
}
