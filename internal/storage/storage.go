// Package storage persists the settlement journal: consumed message hashes,
// vault snapshots and outbound payloads.
package storage

// Record is one journal line: an applied action, a consumed inbound message,
// or a published outbound payload.
type Record struct {
	Kind      string `json:"kind"`
	Account   string `json:"account,omitempty"`
	Hash      string `json:"hash,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Journal defines a sink for settlement records.
type Journal interface {
	Append(records []Record) error
}

// VaultSnapshot is one account's normalized position in one asset, as decimal
// strings so arbitrary-precision values survive the round trip.
type VaultSnapshot struct {
	Account   string
	Asset     string
	Deposited string
	Borrowed  string
}
