// Package model defines the core data types of the indexing engine: the
// unified Block/Transaction/Action shapes, datasource and filter
// declarations, and dictionary metadata (spec.md §3).
package model

// Header carries the per-block chain metadata a unified Block is keyed on.
type Header struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prevHash"`
	Timestamp int64  `json:"timestamp"` // nanoseconds since epoch, as NEAR reports it
	GasPrice  string `json:"gasPrice"`
}

// Chunk is a shard-level sub-block carrying transactions and receipts.
type Chunk struct {
	Hash         string        `json:"hash"`
	ShardID      int64         `json:"shardId"`
	Transactions []Transaction `json:"transactions"`
	Receipts     []Receipt     `json:"receipts"`
}

// Receipt is an opaque cross-shard execution unit; the engine threads it
// through unchanged for handler consumption.
type Receipt struct {
	ID         string `json:"id"`
	ReceiverID string `json:"receiverId"`
}

// Block is the unified, materialized chain block the dispatcher hands to
// the indexer. Its identity is (Header.Height, Header.Hash) — spec.md §3.
type Block struct {
	Author       string        `json:"author"`
	Header       Header        `json:"header"`
	Chunks       []Chunk       `json:"chunks"`
	Transactions []Transaction `json:"transactions"`
	Actions      []Action      `json:"actions"`
	Receipts     []Receipt     `json:"receipts"`
}

// Height is a convenience accessor used throughout the scheduler/dispatcher.
func (b *Block) Height() int64 { return b.Header.Height }
