package types

import (
	"context"
	"errors"
	"math/big"
	"os"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/openweb3/web3go"
	ethTypes "github.com/openweb3/web3go/types"
	"github.com/stretchr/testify/assert"
)

func makeVerifyBundle() EthBlockBundle {
	blockHash := common.HexToHash("0x100")
	txHash := common.HexToHash("0xaaaa")

	block := &ethTypes.Block{
		Number: big.NewInt(100),
		Hash:   blockHash,
	}
	block.Transactions = *ethTypes.NewTxOrHashListByTxs([]ethTypes.TransactionDetail{
		{Hash: txHash},
	})

	return EthBlockBundle{
		Block: block,
		Receipts: []*ethTypes.Receipt{
			{BlockHash: blockHash, TransactionHash: txHash},
		},
	}
}

func TestEthBlockBundleVerify(t *testing.T) {
	t.Parallel()

	t.Run("Ok", func(t *testing.T) {
		assert.NoError(t, makeVerifyBundle().Verify())
	})

	t.Run("EmptyBlock", func(t *testing.T) {
		bundle := EthBlockBundle{
			Block:    &ethTypes.Block{Number: big.NewInt(100)},
			Receipts: []*ethTypes.Receipt{},
		}
		assert.NoError(t, bundle.Verify())
	})

	t.Run("ReceiptCountMismatch", func(t *testing.T) {
		bundle := makeVerifyBundle()
		bundle.Receipts = nil
		assert.ErrorContains(t, bundle.Verify(), "count mismatch")
	})

	t.Run("NilReceipt", func(t *testing.T) {
		bundle := makeVerifyBundle()
		bundle.Receipts[0] = nil
		assert.ErrorContains(t, bundle.Verify(), "nil receipt")
	})

	t.Run("BlockHashMismatch", func(t *testing.T) {
		bundle := makeVerifyBundle()
		bundle.Receipts[0].BlockHash = common.HexToHash("0xdead")
		assert.ErrorContains(t, bundle.Verify(), "block hash mismatch")
	})

	t.Run("TransactionHashMismatch", func(t *testing.T) {
		bundle := makeVerifyBundle()
		bundle.Receipts[0].TransactionHash = common.HexToHash("0xdead")
		assert.ErrorContains(t, bundle.Verify(), "transaction hash mismatch")
	})
}

func TestIsRpcMethodNotSupportedError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "method not found, lowercase",
			err:      errors.New("method eth_xyz not found"),
			expected: true,
		},
		{
			name:     "method not exist, mixed case",
			err:      errors.New("Method abc does NOT exist"),
			expected: true,
		},
		{
			name:     "method not available, uppercase",
			err:      errors.New("METHOD eth_getBlockReceipts NOT AVAILABLE"),
			expected: true,
		},
		{
			name:     "unrelated error message",
			err:      errors.New("some internal error"),
			expected: false,
		},
		{
			name:     "method not supported error",
			err:      errors.New("the method eth_getBlockReceipts does not exist/is not available"),
			expected: true,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := isRpcMethodNotSupportedError(c.err)
			if got != c.expected {
				t.Errorf("Expected %v, got %v", c.expected, got)
			}
		})
	}
}

func TestQueryEthBlockBundleIntegration(t *testing.T) {
	endpoint := strings.TrimSpace(os.Getenv("TEST_ETH_RPC_ENDPOINT"))
	if len(endpoint) == 0 {
		t.Skip("no rpc endpoint provided, skip test")
		return
	}

	client, err := web3go.NewClient(endpoint)
	assert.NoError(t, err)
	defer client.Close()

	ctx := context.Background()

	latest, err := client.Eth.BlockByNumber(ethTypes.LatestBlockNumber, false)
	assert.NoError(t, err)

	bundle, err := QueryEthBlockBundle(ctx, client, latest.Number.Uint64())
	assert.NoError(t, err)
	assert.NotNil(t, bundle.Block)
	assert.NotNil(t, bundle.Receipts)
	assert.NoError(t, bundle.Verify())
	assert.Equal(t, latest.Number.Uint64(), bundle.BlockNumber())
}
