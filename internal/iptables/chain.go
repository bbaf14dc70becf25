package iptables

import (
	"context"
	"fmt"
	"log/slog"
)

// builtinChains are the chains every route mutation targets.
var builtinChains = []struct {
	table string
	chain string
}{
	{table: "filter", chain: filterForwardChain},
	{table: natTable, chain: preroutingChain},
}

// VerifyChains confirms the iptables binary is usable and that the FORWARD and
// nat PREROUTING chains are present. It is run once at startup in live mode.
func VerifyChains(ctx context.Context, executor Executor, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	for _, c := range builtinChains {
		if err := ctx.Err(); err != nil {
			return err
		}

		exists, err := executor.ChainExists(ctx, c.table, c.chain)
		if err != nil {
			return fmt.Errorf("determine existence of chain %s/%s: %w", c.table, c.chain, err)
		}
		if !exists {
			return fmt.Errorf("chain %s missing from table %s", c.chain, c.table)
		}

		logger.Debug("verified chain", slog.String("table", c.table), slog.String("chain", c.chain))
	}

	return nil
}
