package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/platinummonkey/repostats/pkg/storage"
)

// Database management functions
const (
	dbCreate   = "create"
	dbDrop     = "drop"
	dbCheck    = "check"
	dbRecreate = "recreate"
)

func newDBCommand() *Command {
	cmd := &Command{
		Name:        "db",
		Description: "Create, drop, check or recreate the statistics tables",
		Flags:       flag.NewFlagSet("db", flag.ContinueOnError),
	}
	cmd.Flags.String("config", "repostats.yaml", "Path to the configuration file")
	cmd.Flags.String("function", dbCheck, "One of create, drop, check or recreate")
	cmd.Run = func(args []string) error {
		if err := cmd.Flags.Parse(args); err != nil {
			return err
		}
		return runDB(context.Background(), os.Stdout,
			cmd.Flags.Lookup("config").Value.String(),
			cmd.Flags.Lookup("function").Value.String())
	}
	return cmd
}

func runDB(ctx context.Context, out io.Writer, path, function string) error {
	switch function {
	case dbCreate, dbDrop, dbCheck, dbRecreate:
	default:
		return fmt.Errorf("unknown -function %q (must be create, drop, check or recreate)", function)
	}

	a, err := loadApp(path)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.openStore(); err != nil {
		return err
	}

	existing, err := a.store.ExistingTables(ctx)
	if err != nil {
		return err
	}

	switch function {
	case dbCheck:
		if len(existing) == 0 {
			fmt.Fprintln(out, "No statistics tables found")
			return nil
		}
		fmt.Fprintf(out, "Statistics tables found: %s\n", strings.Join(existing, ", "))
		return nil

	case dbCreate:
		if len(existing) > 0 {
			a.log.WithField("tables", existing).Error("Statistics tables already exist, drop them first or use -function recreate")
			return nil
		}
		return createTables(ctx, a.store, out)

	case dbDrop:
		return dropTables(ctx, a.store, out, existing)

	default:
		if err := dropTables(ctx, a.store, out, existing); err != nil {
			return err
		}
		return createTables(ctx, a.store, out)
	}
}

func createTables(ctx context.Context, store *storage.Store, out io.Writer) error {
	if err := store.CreateTables(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Created statistics tables")
	return nil
}

func dropTables(ctx context.Context, store *storage.Store, out io.Writer, existing []string) error {
	if len(existing) == 0 {
		fmt.Fprintln(out, "No statistics tables to drop")
		return nil
	}
	if err := store.DropTables(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "Dropped statistics tables")
	return nil
}
