package wire

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.pos+n > len(d.buf) {
		d.err = ErrTruncated
		return nil
	}
	out := d.buf[d.pos : d.pos+n]
	d.pos += n
	return out
}

func (d *decoder) u8() uint8 {
	b := d.take(1)
	if d.err != nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u32() uint32 {
	b := d.take(4)
	if d.err != nil {
		return 0
	}
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if d.err != nil {
		return 0
	}
	var v uint64
	for _, octet := range b {
		v = v<<8 | uint64(octet)
	}
	return v
}

func (d *decoder) address() common.Address {
	b := d.take(addressLen)
	if d.err != nil {
		return common.Address{}
	}
	return common.BytesToAddress(b)
}

func (d *decoder) paddedAddress() common.Address {
	b := d.take(slotLen)
	if d.err != nil {
		return common.Address{}
	}
	if !bytes.Equal(b[:paddingLen], make([]byte, paddingLen)) {
		d.err = ErrAddressPadding
		return common.Address{}
	}
	return common.BytesToAddress(b[paddingLen:])
}

func (d *decoder) u256() *big.Int {
	b := d.take(slotLen)
	if d.err != nil {
		return nil
	}
	return new(big.Int).SetBytes(b)
}

func (d *decoder) legs() Legs {
	count := int(d.u32())
	if d.err != nil {
		return Legs{}
	}
	// Each entry occupies a padded address and an amount slot; reject counts
	// the remaining buffer cannot hold before allocating.
	if count > (len(d.buf)-d.pos)/(2*slotLen) {
		d.err = ErrTruncated
		return Legs{}
	}
	legs := Legs{
		Assets:  make([]common.Address, 0, count),
		Amounts: make([]*big.Int, 0, count),
	}
	for i := 0; i < count; i++ {
		legs.Assets = append(legs.Assets, d.paddedAddress())
	}
	for i := 0; i < count; i++ {
		legs.Amounts = append(legs.Amounts, d.u256())
	}
	return legs
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.pos != len(d.buf) {
		return ErrTrailingBytes
	}
	return nil
}

// HubMessage is one decoded hub-variant message: *Batch or *Liquidation.
type HubMessage interface {
	PayloadID() PayloadID
}

func (m *Batch) PayloadID() PayloadID        { return m.ID }
func (m *Liquidation) PayloadID() PayloadID  { return m.ID }
func (m *PeerTransfer) PayloadID() PayloadID { return m.ID }
func (m *PeerRepay) PayloadID() PayloadID    { return m.ID }

// DecodeHub decodes a hub-variant payload, dispatching on the payload ID. The
// consumed byte count must equal the buffer length exactly.
func DecodeHub(buf []byte) (HubMessage, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyPayload
	}
	d := &decoder{buf: buf}
	header := Header{ID: PayloadID(d.u8()), Sender: d.address()}

	switch header.ID {
	case PayloadDeposit, PayloadWithdraw, PayloadBorrow, PayloadRepay:
		legs := d.legs()
		if err := d.finish(); err != nil {
			return nil, err
		}
		return &Batch{Header: header, Assets: legs.Assets, Amounts: legs.Amounts}, nil
	case PayloadLiquidation:
		m := &Liquidation{Header: header}
		m.Vault = d.address()
		m.Repay = d.legs()
		m.Receive = d.legs()
		if err := d.finish(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ErrUnknownPayloadID
	}
}

// PeerMessage is one decoded peer-variant message: *PeerTransfer or
// *PeerRepay.
type PeerMessage interface {
	PayloadID() PayloadID
}

// DecodePeer decodes a peer-variant payload.
func DecodePeer(buf []byte) (PeerMessage, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyPayload
	}
	d := &decoder{buf: buf}
	header := Header{ID: PayloadID(d.u8()), Sender: d.address()}

	switch header.ID {
	case PayloadPeerBorrow, PayloadPeerRevertBorrow:
		m := &PeerTransfer{Header: header}
		d.peerBody(m)
		if err := d.finish(); err != nil {
			return nil, err
		}
		return m, nil
	case PayloadPeerRepay:
		m := &PeerRepay{PeerTransfer: PeerTransfer{Header: header}}
		d.peerBody(&m.PeerTransfer)
		m.PaidInFull = d.u8() == 1
		m.Timestamp = int64(d.u64())
		if err := d.finish(); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ErrUnknownPayloadID
	}
}

func (d *decoder) peerBody(m *PeerTransfer) {
	m.CollateralAsset = d.paddedAddress()
	m.BorrowAsset = d.paddedAddress()
	m.Amount = d.u256()
	m.TotalNormalizedBorrow = d.u256()
	m.Index = d.u256()
}
