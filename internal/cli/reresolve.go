package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mrlokans/marginalia/internal/config"
	"github.com/mrlokans/marginalia/internal/entrypoint"
)

// ReResolveCommand retries catalog lookups for provisional canonical books.
type ReResolveCommand struct {
	DatabasePath string

	out io.Writer
}

func NewReResolveCommand() *ReResolveCommand {
	return &ReResolveCommand{out: os.Stdout}
}

func (cmd *ReResolveCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("reresolve", flag.ContinueOnError)
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s reresolve [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Look up every provisional book in the catalog again and upgrade those that match.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	return fs.Parse(args)
}

func (cmd *ReResolveCommand) Run(ctx context.Context) error {
	cfg := config.NewConfig()
	cfg.Database.Path = cmd.DatabasePath
	if !cfg.Catalog.Enabled {
		return fmt.Errorf("catalog lookups are disabled (CATALOG_ENABLED=false)")
	}

	app, err := entrypoint.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Resolver.ReResolveProvisional(ctx)
	var total, upgraded, failed int
	if result != nil {
		total, upgraded, failed = result.Total, result.Upgraded, result.Failed
	}
	app.Audit.LogReResolve(total, upgraded, failed, err)
	if err != nil {
		return fmt.Errorf("re-resolution failed: %w", err)
	}

	fmt.Fprintf(cmd.out, "Provisional books: %d\n", result.Total)
	fmt.Fprintf(cmd.out, "Upgraded:          %d\n", result.Upgraded)
	fmt.Fprintf(cmd.out, "Still provisional: %d\n", result.Pending)
	fmt.Fprintf(cmd.out, "Failed:            %d\n", result.Failed)
	for _, msg := range result.Errors {
		fmt.Fprintf(cmd.out, "  [ERROR] %s\n", msg)
	}
	return nil
}
