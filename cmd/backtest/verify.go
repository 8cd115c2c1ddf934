package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/halcyonquant/backtest/internal/logger"
	"github.com/halcyonquant/backtest/internal/store"
	"github.com/halcyonquant/backtest/pkg/errors"
)

func verifyAction(ctx context.Context, cmd *cli.Command) error {
	runID := cmd.Args().First()
	if runID == "" {
		return errors.New(errors.ErrCodeRunNotFound, "verify requires a run id argument")
	}

	log, err := logger.NewLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	runStore, err := store.NewRunStore(cmd.String("db"), log)
	if err != nil {
		return err
	}
	defer runStore.Close()

	result, err := runStore.Verify(runID)
	if err != nil {
		return err
	}

	out := cmd.Writer

	fmt.Fprintf(out, "Run %s: status=%s equity=%d orders=%d trades=%d messages=%d\n",
		runID, result.Stats.Status,
		result.Stats.EquityRows, result.Stats.OrderRows, result.Stats.TradeRows, result.Stats.MessageRows)

	if result.OK {
		fmt.Fprintln(out, "OK")

		return nil
	}

	for _, issue := range result.Issues {
		fmt.Fprintf(out, "ISSUE: %s\n", issue)
	}

	return errors.Newf(errors.ErrCodeVerifyFailed, "run %s failed verification with %d issues", runID, len(result.Issues))
}
