package sync

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/Conflux-Chain/ethtx-indexer/types"
	"github.com/openweb3/go-rpc-provider"
	"github.com/openweb3/web3go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	_ ChainReader = (*Web3ClientAdapter)(nil)
)

// ChainReader defines a client interface for accessing chain data. The engine
// only consumes this interface; connecting to the actual RPC endpoint is the
// adapter's concern.
type ChainReader interface {
	io.Closer

	// HeadBlockNumber returns the block number of the configured chain head tag.
	HeadBlockNumber(ctx context.Context) (uint64, error)

	// BlockBundleByNumber fetches the block with full transaction bodies plus
	// all transaction receipts, verified for consistency.
	BlockBundleByNumber(ctx context.Context, bn uint64) (types.EthBlockBundle, error)

	// NodeSyncing reports whether the node is still syncing its own chain state.
	NodeSyncing(ctx context.Context) (bool, error)
}

// Web3ClientAdapter implements `ChainReader` by adapting a web3go client.
// Every call is bounded by the configured RPC timeout.
type Web3ClientAdapter struct {
	client  *web3go.Client
	headTag rpc.BlockNumber
	timeout time.Duration
}

// NewWeb3ClientAdapter dials the given RPC endpoint. The head tag is usually
// "latest"; other values such as "safe" or "finalized" can be used on chains
// that support them.
func NewWeb3ClientAdapter(endpoint, headTag string, timeout time.Duration) (*Web3ClientAdapter, error) {
	if len(endpoint) == 0 {
		return nil, errors.New("no rpc endpoint provided")
	}

	var headBlockNumber rpc.BlockNumber
	if err := json.Unmarshal([]byte(`"`+headTag+`"`), &headBlockNumber); err != nil {
		return nil, errors.Errorf("invalid head tag `%v`", headTag)
	}

	client, err := web3go.NewClient(endpoint)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to create rpc client for endpoint %s", endpoint)
	}

	return &Web3ClientAdapter{client: client, headTag: headBlockNumber, timeout: timeout}, nil
}

// Close releases any held resources, such as network connections.
func (a *Web3ClientAdapter) Close() error {
	a.client.Close()
	return nil
}

// HeadBlockNumber retrieves the block number the configured head tag resolves to.
func (a *Web3ClientAdapter) HeadBlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	block, err := a.client.WithContext(ctx).Eth.BlockByNumber(a.headTag, false)
	if err != nil {
		return 0, errors.WithMessagef(err, "failed to get block with tag `%v`", a.headTag)
	}
	if block == nil {
		return 0, errors.Errorf("invalid block with tag `%v`", a.headTag)
	}
	return block.Number.Uint64(), nil
}

// BlockBundleByNumber retrieves the full block bundle including receipts.
func (a *Web3ClientAdapter) BlockBundleByNumber(ctx context.Context, bn uint64) (types.EthBlockBundle, error) {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	startAt := time.Now()
	bundle, err := types.QueryEthBlockBundle(ctx, a.client, bn)

	syncMetrics.Latency(err == nil).Update(time.Since(startAt).Nanoseconds())
	syncMetrics.Availability().Mark(err == nil)
	return bundle, err
}

// NodeSyncing queries eth_syncing, whose result is either `false` or a sync
// progress object. Anything but a literal false means the node is still syncing.
func (a *Web3ClientAdapter) NodeSyncing(ctx context.Context) (bool, error) {
	ctx, cancel := a.opContext(ctx)
	defer cancel()

	var result interface{}
	if err := a.client.CallContext(ctx, &result, "eth_syncing"); err != nil {
		return false, errors.WithMessage(err, "failed to query node sync status")
	}

	done, ok := result.(bool)
	return !(ok && !done), nil
}

func (a *Web3ClientAdapter) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, a.timeout)
}

// WaitNodeSynced blocks until the node reports itself in sync, re-checking at
// the given interval. This is a startup precondition, not part of the
// steady-state loop.
func WaitNodeSynced(ctx context.Context, reader ChainReader, interval time.Duration) error {
	for {
		syncing, err := reader.NodeSyncing(ctx)
		if err != nil {
			logrus.WithError(err).Error("Failed to check node sync status")
		} else if !syncing {
			logrus.Info("Node is synced")
			return nil
		} else {
			logrus.Info("Waiting for node to be in sync...")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
