package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Time bucket sizes in seconds.
const (
	SecondsPerDay  = 86400
	SecondsPerHour = 3600
)

// Block is the part of a block header handlers need.
type Block struct {
	Number    uint64 `json:"number"`
	Timestamp int64  `json:"timestamp"`
}

// Day returns the day bucket of the block timestamp.
func (b Block) Day() int64 { return b.Timestamp / SecondsPerDay }

// Hour returns the hour bucket of the block timestamp.
func (b Block) Hour() int64 { return b.Timestamp / SecondsPerHour }

// Event is the chain context of one log: where it was emitted and by which
// transaction.
type Event struct {
	Block    Block
	TxHash   common.Hash
	TxFrom   common.Address
	TxNonce  uint64
	LogIndex uint
	Address  common.Address
}

// ID is the deterministic id of entities recorded for this log.
func (e Event) ID() string {
	return fmt.Sprintf("%s-%d", strings.ToLower(e.TxHash.Hex()), e.LogIndex)
}

// Hash returns the lowercase transaction hash.
func (e Event) Hash() string { return strings.ToLower(e.TxHash.Hex()) }

// AddressID is the entity id for an address: lowercase 0x-prefixed hex.
func AddressID(a common.Address) string { return strings.ToLower(a.Hex()) }
