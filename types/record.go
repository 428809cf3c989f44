package types

// TxRecord is the persisted form of a qualifying transaction, one row in the
// `ethtxs` table. A record is created once during block processing and never
// updated; it is removed only by a reorg rollback or the startup tail-trim.
type TxRecord struct {
	// Block timestamp (unix seconds).
	Time uint64
	// Sender and recipient addresses in 0x-prefixed hex.
	From string
	To   string
	// Native transfer amount in wei, decimal string.
	Value string
	// Gas used by the transaction, from its receipt.
	Gas uint64
	// Gas price in wei, decimal string.
	GasPrice string
	// Block number the transaction was included in.
	Block uint64
	// Transaction hash in 0x-prefixed hex, unique per transaction.
	Hash string
	// Recipient and raw amount of a token-transfer call, empty otherwise.
	ContractTo    string
	ContractValue string
	// Execution status from the receipt. False for pre-Byzantium receipts
	// that carry no status field.
	Status bool
}
