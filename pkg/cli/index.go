package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/repostats/pkg/pipeline"
)

func newIndexCommand() *Command {
	cmd := &Command{
		Name:        "index",
		Description: "Run the statistics pipeline once",
		Flags:       flag.NewFlagSet("index", flag.ContinueOnError),
	}
	cmd.Flags.String("config", "repostats.yaml", "Path to the configuration file")
	cmd.Flags.String("stage", pipeline.StageAll, "Stage to run: repository, community, collection, item or all")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runIndex(context.Background(),
			cmd.Flags.Lookup("config").Value.String(),
			cmd.Flags.Lookup("stage").Value.String())
	}
	return cmd
}

func runIndex(ctx context.Context, path, stage string) error {
	a, err := loadApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openStore(); err != nil {
		return err
	}

	stages, err := pipeline.Stages(stage, buildDeps(ctx, a.cfg, a.store, nil, a.log))
	if err != nil {
		return fmt.Errorf("invalid -stage: %w", err)
	}

	report, err := pipeline.NewDriver(stages, a.log).Run(ctx)
	if err != nil {
		return err
	}
	for _, failed := range report.Failed() {
		a.log.WithError(failed.Err).WithField("stage", failed.Name).Warn("Stage finished with errors")
	}
	return nil
}
