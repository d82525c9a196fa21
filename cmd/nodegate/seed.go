package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/nodegate/blockstore"
	"github.com/blockberries/nodegate/config"
	"github.com/blockberries/nodegate/types"
)

var (
	seedBlocks    int
	seedMiners    int
	seedStaged    int
	seedMining    bool
	seedBootstrap bool
	seedPreload   bool
	seedInterval  time.Duration
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Append demo blocks to the configured store",
	Long: `Append a linked run of demo blocks to the configured block store,
starting a new chain when the store is empty. Miners rotate over a small
set of fixed addresses. Staged transactions and node flags are replaced.

The gateway must not be running against a disk store while seeding.

Example:
  nodegate seed --blocks 20 --miners 3 --staged 5 --mining`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().IntVar(&seedBlocks, "blocks", 10, "number of blocks to append")
	seedCmd.Flags().IntVar(&seedMiners, "miners", 3, "number of distinct miners")
	seedCmd.Flags().IntVar(&seedStaged, "staged", 5, "number of staged transactions")
	seedCmd.Flags().BoolVar(&seedMining, "mining", false, "set the mining flag")
	seedCmd.Flags().BoolVar(&seedBootstrap, "bootstrap-ended", true, "set the bootstrap-ended flag")
	seedCmd.Flags().BoolVar(&seedPreload, "preload-ended", true, "set the preload-ended flag")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", 10*time.Second, "timestamp spacing between blocks")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedBlocks < 0 || seedMiners < 1 || seedStaged < 0 {
		return errors.New("blocks and staged must be non-negative and miners positive")
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.BlockStore.Backend == blockstore.BackendMemory {
		return errors.New("seeding a memory store has no lasting effect; configure a disk backend")
	}

	store, err := blockstore.Open(cfg.BlockStore.Backend, cfg.BlockStore.Path)
	if err != nil {
		return fmt.Errorf("opening block store: %w", err)
	}
	defer store.Close()

	tip, err := seedChain(cmd.Context(), store, seedBlocks, demoMiners(seedMiners), time.Now().UTC(), seedInterval)
	if err != nil {
		return err
	}
	if err := store.SetStagedTransactionIDs(demoTxIDs(seedStaged, tip)); err != nil {
		return fmt.Errorf("staging transactions: %w", err)
	}
	if err := store.SetFlags(blockstore.FlagSet{
		BootstrapEnded: seedBootstrap,
		PreloadEnded:   seedPreload,
		IsMining:       seedMining,
	}); err != nil {
		return fmt.Errorf("setting flags: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Seeded %s store at %s\n", cfg.BlockStore.Backend, cfg.BlockStore.Path)
	if tip != nil {
		fmt.Fprintf(out, "  Tip:     %d %s\n", tip.Index, tip.Hash)
	}
	fmt.Fprintf(out, "  Staged:  %d\n", seedStaged)
	return nil
}

// seedChain appends n headers after the store's tip, or after a fresh
// genesis when the store is empty, and returns the new tip.
func seedChain(ctx context.Context, w blockstore.Writer, n int, miners []types.Address, start time.Time, interval time.Duration) (*types.BlockHeader, error) {
	tip, err := w.Tip(ctx)
	switch {
	case errors.Is(err, types.ErrChainUnavailable):
		tip = nil
	case err != nil:
		return nil, fmt.Errorf("reading tip: %w", err)
	}

	if tip == nil {
		tip = demoHeader(nil, nil, start)
		if err := w.PutBlock(tip); err != nil {
			return nil, fmt.Errorf("storing genesis: %w", err)
		}
	}

	for i := 0; i < n; i++ {
		miner := miners[(int(tip.Index)+i)%len(miners)]
		next := demoHeader(tip, &miner, tip.Timestamp.Add(interval))
		if err := w.PutBlock(next); err != nil {
			return nil, fmt.Errorf("storing block %d: %w", next.Index, err)
		}
		tip = next
	}
	return tip, nil
}

func demoHeader(prev *types.BlockHeader, miner *types.Address, ts time.Time) *types.BlockHeader {
	h := &types.BlockHeader{Timestamp: ts}
	if prev != nil {
		p := prev.Hash
		h.Index = prev.Index + 1
		h.PreviousHash = &p
	}
	if miner != nil {
		m := *miner
		h.Miner = &m
	}
	h.Hash = types.HashHeaderFields(h.Index, h.PreviousHash, h.Miner, h.Timestamp.UnixNano())
	return h
}

func demoMiners(n int) []types.Address {
	miners := make([]types.Address, n)
	for i := range miners {
		hash := types.HashBytes([]byte(fmt.Sprintf("miner-%d", i)))
		copy(miners[i][:], hash[:])
	}
	return miners
}

// demoTxIDs derives ids from tip so reseeding stages a different pool.
func demoTxIDs(n int, tip *types.BlockHeader) []types.TxID {
	var salt types.Hash
	if tip != nil {
		salt = tip.Hash
	}
	ids := make([]types.TxID, n)
	for i := range ids {
		ids[i] = types.TxID(types.HashConcat(salt, types.HashBytes([]byte(fmt.Sprintf("tx-%d", i)))))
	}
	return ids
}
