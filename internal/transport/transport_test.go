package transport

import (
	"errors"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/internal/replay"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 105, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestEmitterChainID(t *testing.T) {
	got, err := emitterChainID(big.NewInt(56))
	if err != nil || got != 56 {
		t.Fatalf("chain id 56: got %d, %v", got, err)
	}
	if got, err := emitterChainID(big.NewInt(65535)); err != nil || got != 65535 {
		t.Fatalf("chain id 65535: got %d, %v", got, err)
	}

	// Anything past 16 bits would alias another chain in the emitter check.
	if _, err := emitterChainID(big.NewInt(65536)); err == nil {
		t.Fatalf("expected error for chain id 65536")
	}
	if _, err := emitterChainID(new(big.Int).Lsh(big.NewInt(1), 64)); err == nil {
		t.Fatalf("expected error for chain id beyond uint64")
	}
	if _, err := emitterChainID(nil); err == nil {
		t.Fatalf("expected error for nil chain id")
	}
}

func TestEnvelopeVerifier(t *testing.T) {
	raw := []byte(`{"emitter_chain":2,"emitter_address":"0x1111111111111111111111111111111111111111","sequence":7,"payload":"0xdeadbeef","valid":true}`)

	env, err := EnvelopeVerifier{}.ParseAndVerify(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.EmitterChain != 2 || env.Sequence != 7 {
		t.Fatalf("envelope fields mismatch: %+v", env)
	}
	if len(env.Payload) != 4 || env.Payload[0] != 0xde {
		t.Fatalf("payload mismatch: %x", env.Payload)
	}
	if env.Hash != replay.MessageID(env.Payload) {
		t.Fatalf("hash must default to the payload content hash")
	}
}

func TestEnvelopeVerifierRejections(t *testing.T) {
	if _, err := (EnvelopeVerifier{}).ParseAndVerify([]byte("{not json")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected invalid envelope error, got %v", err)
	}

	invalid := []byte(`{"payload":"0x00","valid":false,"reason":"bad signature"}`)
	if _, err := (EnvelopeVerifier{}).ParseAndVerify(invalid); !errors.Is(err, ErrRejectedByVerifier) {
		t.Fatalf("expected verifier rejection, got %v", err)
	}

	badHex := []byte(`{"payload":"zz","valid":true}`)
	if _, err := (EnvelopeVerifier{}).ParseAndVerify(badHex); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("expected invalid envelope error for bad hex, got %v", err)
	}
}

func TestEmitterSet(t *testing.T) {
	emitters := NewEmitterSet()
	trusted := common.HexToAddress("0x1111111111111111111111111111111111111111")
	emitters.Register(2, trusted)

	if err := emitters.Check(Envelope{EmitterChain: 2, EmitterAddress: trusted}); err != nil {
		t.Fatalf("trusted emitter rejected: %v", err)
	}
	other := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if err := emitters.Check(Envelope{EmitterChain: 2, EmitterAddress: other}); err != ErrUntrustedEmitter {
		t.Fatalf("expected untrusted emitter error, got %v", err)
	}
	if err := emitters.Check(Envelope{EmitterChain: 9, EmitterAddress: trusted}); err != ErrUntrustedEmitter {
		t.Fatalf("expected untrusted chain error, got %v", err)
	}
}
