// Package decode classifies raw Ethereum transactions and extracts the
// storable fields of those that qualify as plain value transfers or token
// transfer calls.
package decode

import (
	"bytes"
	"math/big"

	"github.com/Conflux-Chain/ethtx-indexer/types"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/openweb3/web3go/types"
	"github.com/sirupsen/logrus"
)

// transferSelector is the 4-byte method selector of transfer(address,uint256),
// used as a heuristic to capture token movements not reflected in the native
// value field.
var transferSelector = []byte{0xa9, 0x05, 0x9c, 0xbb}

// SkipReason explains why a transaction was not decoded into a storable record.
type SkipReason string

const (
	// SkipNone indicates the transaction qualifies and must be persisted.
	SkipNone SkipReason = ""
	// SkipZeroValueCall filters noise from non-transfer, zero-value contract calls.
	SkipZeroValueCall SkipReason = "zero-value non-transfer call"
	// SkipMissingRecipient indicates a transaction without a recipient address,
	// e.g. a contract creation.
	SkipMissingRecipient SkipReason = "missing recipient address"
)

// IsTokenTransfer reports whether the transaction input data matches the
// transfer(address,uint256) method selector.
func IsTokenTransfer(input []byte) bool {
	return bytes.HasPrefix(input, transferSelector)
}

// Transaction classifies a single raw transaction given its receipt and, when it
// qualifies, extracts the persisted record. A non-empty skip reason means the
// transaction is dropped; the caller never aborts the surrounding block for it.
func Transaction(block *ethTypes.Block, tx *ethTypes.TransactionDetail, receipt *ethTypes.Receipt) (*types.TxRecord, SkipReason) {
	tokenTransfer := IsTokenTransfer(tx.Input)

	// Zero-value transactions that are not token transfer calls carry no
	// balance movement worth indexing.
	if !tokenTransfer && (tx.Value == nil || tx.Value.Sign() == 0) {
		return nil, SkipZeroValueCall
	}

	if tx.To == nil {
		logrus.WithField("txHash", tx.Hash).Error("Cannot get 'to' item from transaction")
		return nil, SkipMissingRecipient
	}

	record := types.TxRecord{
		Time:     block.Timestamp,
		From:     tx.From.Hex(),
		To:       tx.To.Hex(),
		Value:    bigIntString(tx.Value),
		Gas:      receipt.GasUsed,
		GasPrice: bigIntString(tx.GasPrice),
		Block:    block.Number.Uint64(),
		Hash:     tx.Hash.Hex(),
		Status:   receipt.Status != nil && *receipt.Status == 1,
	}

	if tokenTransfer {
		record.ContractTo, record.ContractValue = extractTokenTransfer(tx)
	}

	return &record, SkipNone
}

// extractTokenTransfer pulls the recipient address and raw amount out of the two
// 32-byte argument slots following the method selector. Malformed calldata is
// reported but never fails the transaction.
func extractTokenTransfer(tx *ethTypes.TransactionDetail) (contractTo, contractValue string) {
	input := tx.Input
	if len(input) < 4+32+32 {
		logrus.WithFields(logrus.Fields{
			"txHash":   tx.Hash,
			"inputLen": len(input),
		}).Warn("Token transfer calldata shorter than two argument slots")
		return "", ""
	}

	addrSlot, valueSlot := input[4:36], input[36:68]

	// The address argument is left-zero-padded to 32 bytes; nonzero padding is
	// a data quality signal but extraction still proceeds.
	if !bytes.Equal(addrSlot[:12], make([]byte, 12)) {
		logrus.WithFields(logrus.Fields{
			"txHash":  tx.Hash,
			"padding": common.Bytes2Hex(addrSlot[:12]),
		}).Warn("Token transfer address slot doesn't have 24 leading zeros")
	}

	return "0x" + common.Bytes2Hex(addrSlot[12:]), common.Bytes2Hex(valueSlot)
}

func bigIntString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
