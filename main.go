package main

import "github.com/Conflux-Chain/ethtx-indexer/cmd"

func main() {
	cmd.Execute()
}
