// Package transport is the attested-message boundary. Authenticity and
// integrity of a cross-chain message are established outside the core; this
// package only parses verified envelopes and pins expected emitters.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"crosslend/internal/replay"
)

var (
	ErrInvalidEnvelope    = errors.New("transport: invalid envelope")
	ErrRejectedByVerifier = errors.New("transport: message rejected by verifier")
	ErrUntrustedEmitter   = errors.New("transport: untrusted emitter")
)

// Envelope is one verified cross-chain message as handed to the core.
type Envelope struct {
	EmitterChain   uint16         `json:"emitter_chain"`
	EmitterAddress common.Address `json:"emitter_address"`
	Sequence       uint64         `json:"sequence"`
	Payload        []byte         `json:"-"`
	PayloadHex     string         `json:"payload"`
	Hash           common.Hash    `json:"hash"`
	Valid          bool           `json:"valid"`
	Reason         string         `json:"reason,omitempty"`
}

// Verifier turns a raw attested message into an Envelope. The core trusts the
// valid flag and content hash as-is.
type Verifier interface {
	ParseAndVerify(raw []byte) (Envelope, error)
}

// EmitterSet pins the one trusted emitter address per chain.
type EmitterSet struct {
	emitters map[uint16]common.Address
}

func NewEmitterSet() *EmitterSet {
	return &EmitterSet{emitters: make(map[uint16]common.Address)}
}

func (s *EmitterSet) Register(chain uint16, emitter common.Address) {
	s.emitters[chain] = emitter
}

// Check rejects envelopes from unregistered chains or mismatched emitters.
func (s *EmitterSet) Check(env Envelope) error {
	expected, ok := s.emitters[env.EmitterChain]
	if !ok || expected != env.EmitterAddress {
		return ErrUntrustedEmitter
	}
	return nil
}

// EnvelopeVerifier parses JSON envelopes produced by an external attestation
// service. The signature check already happened upstream; a false valid flag
// aborts with the carried reason.
type EnvelopeVerifier struct{}

func (EnvelopeVerifier) ParseAndVerify(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if !env.Valid {
		if env.Reason != "" {
			return Envelope{}, fmt.Errorf("%w: %s", ErrRejectedByVerifier, env.Reason)
		}
		return Envelope{}, ErrRejectedByVerifier
	}
	payload, err := hexutil.Decode(env.PayloadHex)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
	}
	env.Payload = payload
	if (env.Hash == common.Hash{}) {
		env.Hash = replay.MessageID(payload)
	}
	return env, nil
}
