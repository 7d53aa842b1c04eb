package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mrlokans/marginalia/internal/config"
	"github.com/mrlokans/marginalia/internal/entrypoint"
	"github.com/mrlokans/marginalia/internal/importers"
)

// KindleImportCommand handles importing highlights from Kindle My Clippings.txt
type KindleImportCommand struct {
	ClippingsPath string
	DatabasePath  string
	Verbose       bool
	DryRun        bool
	Offline       bool

	out io.Writer
}

func NewKindleImportCommand() *KindleImportCommand {
	return &KindleImportCommand{out: os.Stdout}
}

func (cmd *KindleImportCommand) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("kindle-import", flag.ContinueOnError)

	fs.StringVar(&cmd.ClippingsPath, "file", "", "Path to Kindle 'My Clippings.txt' file (required)")
	fs.StringVar(&cmd.DatabasePath, "db", config.DefaultDatabasePath, "Path to the local database file for storing imported highlights")
	fs.BoolVar(&cmd.Verbose, "verbose", false, "Print what happened to every entry")
	fs.BoolVar(&cmd.DryRun, "dry-run", false, "Show what would be imported without making changes")
	fs.BoolVar(&cmd.Offline, "offline", false, "Skip catalog lookups; new books get provisional identities")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s kindle-import -file <path> [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Import highlights, notes and bookmarks from Kindle 'My Clippings.txt'.\n")
		fmt.Fprintf(os.Stderr, "Re-importing the same file is safe: entries already stored are skipped.\n\n")
		fmt.Fprintf(os.Stderr, "The clippings file is typically found at:\n")
		fmt.Fprintf(os.Stderr, "  /Volumes/Kindle/documents/My Clippings.txt\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  # Import from connected Kindle device:\n")
		fmt.Fprintf(os.Stderr, "  %s kindle-import -file \"/Volumes/Kindle/documents/My Clippings.txt\"\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  # Preview what would be imported:\n")
		fmt.Fprintf(os.Stderr, "  %s kindle-import -file \"My Clippings.txt\" -dry-run -verbose\n", os.Args[0])
	}

	if err := fs.Parse(args); err != nil {
		return err
	}

	if cmd.ClippingsPath == "" {
		return fmt.Errorf("required flag -file not provided")
	}

	return nil
}

func (cmd *KindleImportCommand) Run(ctx context.Context) error {
	fmt.Fprintln(cmd.out, "Kindle Import")
	fmt.Fprintln(cmd.out, "=============")

	if cmd.DryRun {
		fmt.Fprintln(cmd.out, "DRY RUN MODE - No changes will be made")
		fmt.Fprintln(cmd.out)
	}

	raw, err := os.ReadFile(cmd.ClippingsPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("clippings file not found: %s", cmd.ClippingsPath)
	}
	if err != nil {
		return fmt.Errorf("failed to read clippings file: %w", err)
	}
	fmt.Fprintf(cmd.out, "File: %s\n", cmd.ClippingsPath)

	absDBPath, err := filepath.Abs(cmd.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to get absolute path for database: %w", err)
	}
	fmt.Fprintf(cmd.out, "Database: %s\n", absDBPath)

	cfg := config.NewConfig()
	cfg.Database.Path = absDBPath
	if cmd.Offline {
		cfg.Catalog.Enabled = false
	}

	app, err := entrypoint.NewApp(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var result *importers.Result
	if cmd.DryRun {
		result, err = app.Pipeline.Preview(ctx, string(raw))
	} else {
		result, err = app.Pipeline.Import(ctx, importers.SourceKindle, string(raw))
	}
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if cmd.Verbose {
		fmt.Fprintln(cmd.out, "\n=== Entries ===")
		for _, o := range result.Outcomes {
			line := fmt.Sprintf("  #%d %-14s %s", o.Block, o.Kind, o.Book)
			if o.Detail != "" {
				line += " (" + o.Detail + ")"
			}
			fmt.Fprintln(cmd.out, line)
		}
	}

	cmd.printSummary(result)

	if cmd.DryRun {
		fmt.Fprintln(cmd.out, "\nDry run complete. Use without -dry-run to import.")
		return nil
	}

	fmt.Fprintf(cmd.out, "\nImport complete! Undo with: %s import-rollback -session %d\n", os.Args[0], result.SessionID)
	return nil
}

func (cmd *KindleImportCommand) printSummary(result *importers.Result) {
	fmt.Fprintln(cmd.out, "\n=== Import Summary ===")
	if result.SessionID != 0 {
		fmt.Fprintf(cmd.out, "Session:        %d\n", result.SessionID)
	}
	fmt.Fprintf(cmd.out, "Books created:  %d\n", result.BooksCreated)
	fmt.Fprintf(cmd.out, "Notes added:    %d\n", result.NotesAdded)
	fmt.Fprintf(cmd.out, "Notes updated:  %d\n", result.NotesUpdated)
	fmt.Fprintf(cmd.out, "Notes skipped:  %d\n", result.NotesSkipped)
	fmt.Fprintf(cmd.out, "Need review:    %d\n", result.NotesReviewNeeded)
	fmt.Fprintf(cmd.out, "Errors:         %d\n", result.NotesErrored+result.ParseErrors)

	if len(result.Errors) > 0 {
		fmt.Fprintf(cmd.out, "\n%d problems:\n", len(result.Errors))
		for _, msg := range result.Errors {
			fmt.Fprintf(cmd.out, "  [ERROR] %s\n", msg)
		}
	}
}
