package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Conflux-Chain/ethtx-indexer/decode"
	"github.com/Conflux-Chain/ethtx-indexer/store/pg"
	"github.com/Conflux-Chain/ethtx-indexer/types"
	"github.com/Conflux-Chain/go-conflux-util/cmd"
	viperUtil "github.com/Conflux-Chain/go-conflux-util/viper"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/openweb3/web3go"
	ethTypes "github.com/openweb3/web3go/types"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	verifyCmdArgs struct {
		url       string
		blockFrom int64
		numBlocks uint64
	}

	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify stored transaction records against data re-derived from fullnode",
		Run:   verify,
	}
)

func init() {
	verifyCmd.Flags().StringVar(&verifyCmdArgs.url, "url", "", "Fullnode RPC endpoint")
	verifyCmd.Flags().Int64Var(&verifyCmdArgs.blockFrom, "block-from", -10, "Block number to verify from, negative value means \"latest\" - N")
	verifyCmd.Flags().Uint64Var(&verifyCmdArgs.numBlocks, "blocks", 10, "Number of blocks to verify")

	rootCmd.AddCommand(verifyCmd)
}

func verify(*cobra.Command, []string) {
	ctx := context.Background()

	client, err := web3go.NewClient(verifyCmdArgs.url)
	cmd.FatalIfErr(err, "Failed to create client")
	defer client.Close()

	var storeConfig pg.Config
	viperUtil.MustUnmarshalKey("store.pg", &storeConfig)
	store, err := pg.NewStore(ctx, storeConfig)
	cmd.FatalIfErr(err, "Failed to connect PostgreSQL ledger store")
	defer store.Close()

	blockFrom, blockTo := mustNormalizeBlockRange(client, verifyCmdArgs.blockFrom, verifyCmdArgs.numBlocks)
	logrus.WithField("from", blockFrom).WithField("to", blockTo).Info("Block range normalized")

	var numBlocks, numRecords int

	logrus.Info("Begin to verify ledger records against fullnode ...")
	for bn := blockFrom; bn <= blockTo; bn++ {
		bundle, err := types.QueryEthBlockBundle(ctx, client, bn)
		cmd.FatalIfErr(err, "Failed to query eth block bundle")
		cmd.FatalIfErr(bundle.Verify(), "Inconsistent eth block bundle")

		expected := deriveBlockRecords(bundle)
		actual, err := store.BlockRecords(ctx, bn)
		cmd.FatalIfErr(err, "Failed to query stored block records")

		assertJsonEqual(bn, expected, actual)

		logrus.WithFields(logrus.Fields{
			"block":   bn,
			"records": len(expected),
		}).Debug("Succeeded to verify block records")

		numBlocks++
		numRecords += len(expected)
	}

	logrus.WithFields(logrus.Fields{
		"blocks":  numBlocks,
		"records": numRecords,
	}).Info("Succeeded to verify ledger records")
}

// deriveBlockRecords re-runs the decoder over a freshly fetched block, sorted
// by transaction hash to match the stored row order.
func deriveBlockRecords(bundle types.EthBlockBundle) []types.TxRecord {
	txs := bundle.Block.Transactions.Transactions()

	records := make([]types.TxRecord, 0, len(txs))
	for i := range txs {
		record, skip := decode.Transaction(bundle.Block, &txs[i], bundle.Receipts[i])
		if skip != decode.SkipNone {
			continue
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Hash < records[j].Hash
	})
	return records
}

func mustNormalizeBlockRange(client *web3go.Client, blockFrom int64, numBlocks uint64) (uint64, uint64) {
	latest, err := client.Eth.BlockByNumber(ethTypes.LatestBlockNumber, false)
	cmd.FatalIfErr(err, "Failed to get latest block")

	// normalize block from
	var from uint64
	if blockFrom >= 0 {
		from = uint64(blockFrom)
	} else if latest.Number.Int64() < -blockFrom {
		logrus.WithField("latest", latest.Number).Fatal("Invalid block from")
	} else {
		from = uint64(latest.Number.Int64() + blockFrom)
	}

	// check arguments
	if from > latest.Number.Uint64() {
		logrus.WithField("latest", latest.Number).WithField("from", from).Fatal("Invalid block from")
	}

	to := from + numBlocks - 1
	if to > latest.Number.Uint64() {
		logrus.WithField("latest", latest.Number).WithField("to", to).Fatal("Invalid block to")
	}

	return from, to
}

func assertJsonEqual(bn uint64, expected, actual any) {
	expectedJson, err := json.MarshalIndent(expected, "", "    ")
	cmd.FatalIfErr(err, "Failed to JSON marshal expected value")

	actualJson, err := json.MarshalIndent(actual, "", "    ")
	cmd.FatalIfErr(err, "Failed to JSON marshal actual value")

	if crypto.Keccak256Hash(expectedJson) != crypto.Keccak256Hash(actualJson) {
		fmt.Println()
		fmt.Println("================================================================")
		fmt.Println()
		fmt.Println("***** Expect *****")
		fmt.Println(string(expectedJson))
		fmt.Println()
		fmt.Println()
		fmt.Println("***** Actual *****")
		fmt.Println(string(actualJson))
		fmt.Println()
		fmt.Println("================================================================")
		fmt.Println()

		logrus.WithField("block", bn).Fatal("Record mismatch")
	}
}
