package types

import (
	"context"
	"regexp"
	"strings"
	"sync/atomic"

	"github.com/openweb3/web3go"
	"github.com/openweb3/web3go/types"
	"github.com/pkg/errors"
)

var (
	// blockReceiptsRpcKnownSupported is an atomic value which stores whether the
	// eth_getBlockReceipts RPC is supported by the connected node.
	// - If nil: The support status is unknown.
	// - If non-nil (and stores true): eth_getBlockReceipts is known to be supported.
	// - If non-nil (and stores false): eth_getBlockReceipts is known to be unsupported.
	blockReceiptsRpcKnownSupported atomic.Value

	errBlockReceiptsRpcNotSupported = errors.New("block receipts RPC not supported")
	rpcMethodNotFoundPattern        = regexp.MustCompile(`method.*(?:not found|not exist|not available)`)
)

// isRpcMethodNotSupportedError checks whether the error indicates an unsupported RPC method.
func isRpcMethodNotSupportedError(err error) bool {
	if err == nil {
		return false
	}
	return rpcMethodNotFoundPattern.MatchString(strings.ToLower(err.Error()))
}

// EthBlockBundle contains a block with full transaction bodies and the receipts
// of all its transactions, in transaction order.
type EthBlockBundle struct {
	Block    *types.Block
	Receipts []*types.Receipt
}

func (b EthBlockBundle) BlockNumber() uint64 {
	return b.Block.Number.Uint64()
}

// Verify checks the consistency between the block body and its receipts.
func (b EthBlockBundle) Verify() error {
	block, receipts := b.Block, b.Receipts

	// Ensure the number of receipts matches the number of transactions in the block body.
	if txnCnt := len(block.Transactions.Transactions()); len(receipts) != txnCnt {
		return errors.Errorf(
			"transaction/receipt count mismatch for block %s: block body has %d transactions, but received %d receipts",
			block.Hash, txnCnt, len(receipts),
		)
	}

	for i, tx := range block.Transactions.Transactions() {
		receipt := receipts[i]
		if receipt == nil {
			return errors.Errorf("nil receipt for txn %s in block %s", tx.Hash, block.Hash)
		}

		// Check if the receipt's BlockHash matches the actual block's hash
		if receipt.BlockHash != block.Hash {
			return errors.Errorf(
				"receipt #%d (Tx: %s) block hash mismatch: receipt has %s, expected block %s",
				i, tx.Hash, receipt.BlockHash, block.Hash,
			)
		}

		// Check if the receipt's TransactionHash matches the actual transaction's hash
		if receipt.TransactionHash != tx.Hash {
			return errors.Errorf(
				"receipt #%d transaction hash mismatch: receipt has tx %s, expected tx %s in block %s",
				i, receipt.TransactionHash, tx.Hash, block.Hash,
			)
		}
	}

	return nil
}

// QueryEthBlockBundle queries the block with full transaction bodies along with all
// transaction receipts for the specified block number.
func QueryEthBlockBundle(ctx context.Context, client *web3go.Client, blockNumber uint64) (EthBlockBundle, error) {
	bn := types.NewBlockNumber(int64(blockNumber))
	block, err := client.WithContext(ctx).Eth.BlockByNumber(bn, true)
	if err != nil {
		return EthBlockBundle{}, errors.WithMessagef(err, "failed to get block by number %v", blockNumber)
	}
	if block == nil {
		return EthBlockBundle{}, errors.Errorf("unknown block for number %v", blockNumber)
	}

	blockTxs := block.Transactions.Transactions()

	// If the block has no transactions, there is no need to query receipts.
	if len(blockTxs) == 0 {
		return EthBlockBundle{Block: block, Receipts: []*types.Receipt{}}, nil
	}

	receipts, err := QueryEthBlockReceipts(ctx, client, block)
	if err != nil {
		return EthBlockBundle{}, errors.WithMessage(err, "failed to get block receipts")
	}

	return EthBlockBundle{Block: block, Receipts: receipts}, nil
}

// QueryEthBlockReceipts retrieves the receipts of all transactions in the given block.
// It prefers the batch eth_getBlockReceipts RPC and permanently falls back to per-tx
// eth_getTransactionReceipt once the batch RPC is known to be unsupported by the node.
func QueryEthBlockReceipts(ctx context.Context, client *web3go.Client, block *types.Block) ([]*types.Receipt, error) {
	receipts, err := queryEthBlockReceiptsBatch(ctx, client, block)
	if err == nil {
		return receipts, nil
	}
	if !errors.Is(err, errBlockReceiptsRpcNotSupported) {
		return nil, err
	}

	blockTxs := block.Transactions.Transactions()
	receipts = make([]*types.Receipt, 0, len(blockTxs))
	for i := range blockTxs {
		receipt, err := client.WithContext(ctx).Eth.TransactionReceipt(blockTxs[i].Hash)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed to get receipt for txn %s", blockTxs[i].Hash)
		}
		if receipt == nil {
			return nil, errors.Errorf("cannot find receipt for txn %s", blockTxs[i].Hash)
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

func queryEthBlockReceiptsBatch(ctx context.Context, client *web3go.Client, block *types.Block) ([]*types.Receipt, error) {
	batchRpcSupported, confirmed := blockReceiptsRpcKnownSupported.Load().(bool)
	if confirmed && !batchRpcSupported {
		return nil, errBlockReceiptsRpcNotSupported
	}

	bnoh := types.BlockNumberOrHashWithNumber(types.NewBlockNumber(block.Number.Int64()))
	receipts, err := client.WithContext(ctx).Eth.BlockReceipts(&bnoh)
	if err == nil {
		blockReceiptsRpcKnownSupported.Store(true)

		// Some RPC providers return nil if the block is not found instead of an error
		if receipts == nil {
			return nil, errors.Errorf("cannot find receipts by block %v", block.Number)
		}
		return receipts, nil
	}

	if !confirmed && isRpcMethodNotSupportedError(err) {
		blockReceiptsRpcKnownSupported.Store(false)
		return nil, errBlockReceiptsRpcNotSupported
	}

	return nil, err
}
