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

// ImportRollbackCommand undoes one import session.
type ImportRollbackCommand struct {
	SessionID    uint
	DatabasePath string

	out io.Writer
}

func NewImportRollbackCommand() *ImportRollbackCommand {
	return &ImportRollbackCommand{out: os.Stdout}
}

func (cmd *ImportRollbackCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("import-rollback", flag.ContinueOnError)

	var sessionID uint64
	fs.Uint64Var(&sessionID, "session", 0, "ID of the import session to roll back (required)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s import-rollback -session <id> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Remove the notes and books an import created and restore the notes it overwrote.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if sessionID == 0 {
		return fmt.Errorf("required flag -session not provided")
	}
	cmd.SessionID = uint(sessionID)
	return nil
}

func (cmd *ImportRollbackCommand) Run(ctx context.Context) error {
	cfg := config.NewConfig()
	cfg.Database.Path = cmd.DatabasePath
	cfg.Catalog.Enabled = false

	app, err := entrypoint.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	result, err := app.Tracker.Rollback(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("rollback of session %d failed: %w", cmd.SessionID, err)
	}

	fmt.Fprintf(cmd.out, "Rolled back import session %d\n", cmd.SessionID)
	fmt.Fprintf(cmd.out, "Notes deleted:     %d\n", result.NotesDeleted)
	fmt.Fprintf(cmd.out, "Notes restored:    %d\n", result.NotesRestored)
	fmt.Fprintf(cmd.out, "Books deleted:     %d\n", result.BooksDeleted)
	fmt.Fprintf(cmd.out, "Reviews discarded: %d\n", result.ReviewsDiscarded)
	return nil
}
