// Package replay guards against duplicate delivery: a message hash is
// consumed exactly once, at the point a message's action is accepted and
// ahead of any external transfer, so that replay and reentrancy share one
// gate. A rejected message consumes nothing and stays deliverable.
package replay

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrAlreadyConsumed = errors.New("replay: message already consumed")

// Guard records consumed message identifiers. Consume returns
// ErrAlreadyConsumed on the second and every later attempt for a hash; the
// set is append-only.
type Guard interface {
	Consume(hash common.Hash) error
	Consumed(hash common.Hash) bool
}

// MessageID derives the replay identifier from the payload content.
func MessageID(payload []byte) common.Hash {
	return crypto.Keccak256Hash(payload)
}

// MemoryGuard keeps the consumed set in memory.
type MemoryGuard struct {
	consumed map[common.Hash]struct{}
}

func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{consumed: make(map[common.Hash]struct{})}
}

func (g *MemoryGuard) Consume(hash common.Hash) error {
	if _, ok := g.consumed[hash]; ok {
		return ErrAlreadyConsumed
	}
	g.consumed[hash] = struct{}{}
	return nil
}

func (g *MemoryGuard) Consumed(hash common.Hash) bool {
	_, ok := g.consumed[hash]
	return ok
}
