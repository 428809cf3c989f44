package cmd

import (
	"context"
	"sync"

	"github.com/Conflux-Chain/ethtx-indexer/store/pg"
	dataSync "github.com/Conflux-Chain/ethtx-indexer/sync"
	"github.com/Conflux-Chain/go-conflux-util/cmd"
	viperUtil "github.com/Conflux-Chain/go-conflux-util/viper"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the indexer to sync transaction history from fullnode into PostgreSQL",
	Run:   start,
}

func init() {
	startCmd.Flags().String("db-dsn", "", "PostgreSQL connection string")
	viper.BindPFlag("store.pg.dsn", startCmd.Flag("db-dsn"))

	startCmd.Flags().String("rpc-endpoint", "", "Fullnode RPC endpoint")
	viper.BindPFlag("sync.rpcEndpoint", startCmd.Flag("rpc-endpoint"))

	rootCmd.AddCommand(startCmd)
}

func start(*cobra.Command, []string) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// connect PostgreSQL ledger store
	var storeConfig pg.Config
	viperUtil.MustUnmarshalKey("store.pg", &storeConfig)
	ledger, err := pg.NewStore(ctx, storeConfig)
	cmd.FatalIfErr(err, "Failed to connect PostgreSQL ledger store")
	defer ledger.Close()
	logrus.Info("PostgreSQL ledger store connected")

	// run sync engine
	var syncConfig dataSync.Config
	viperUtil.MustUnmarshalKey("sync", &syncConfig)
	engine, err := dataSync.NewEngine(syncConfig, ledger)
	cmd.FatalIfErr(err, "Failed to create sync engine")

	wg.Add(1)
	go engine.Run(ctx, &wg)

	// wait for terminate signal to shutdown gracefully
	cmd.GracefulShutdown(&wg, cancel)
}
