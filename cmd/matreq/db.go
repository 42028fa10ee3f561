package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/hpnt/matreq/internal/backup"
	"github.com/hpnt/matreq/internal/db"
	"github.com/hpnt/matreq/internal/models"
	"github.com/hpnt/matreq/internal/request"
	"github.com/hpnt/matreq/internal/service"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBResetCmd())
	cmd.AddCommand(newDBRenumberCmd())
	cmd.AddCommand(newDBBackupCmd())
	cmd.AddCommand(newDBRestoreCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var empty bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the material request table",
		Long: `Creates the material_requests table and its indexes. An empty table is
seeded with three sample requests unless --empty is given. Existing rows are
never touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, empty)
		},
	}

	cmd.Flags().BoolVar(&empty, "empty", false, "do not seed sample requests")
	return cmd
}

func runDBInit(cmd *cobra.Command, empty bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()
	fmt.Fprintf(out, "Connected to %s\n", db.Describe(a.cfg.Database))

	schema := &db.Schema{Seed: db.SeedSamples}
	if empty {
		schema.Seed = db.NoSeed
	}
	if err := schema.Ensure(ctx, a.gdb); err != nil {
		return err
	}
	return printCounts(ctx, out, a.store, "Database initialized")
}

func newDBResetCmd() *cobra.Command {
	var (
		yes   bool
		empty bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop and re-create the material request table",
		Long: `Drops the material_requests table, re-creates it and seeds the sample
requests (or nothing with --empty). Image files are left in place.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBReset(cmd, yes, empty)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	cmd.Flags().BoolVar(&empty, "empty", false, "do not seed sample requests")
	return cmd
}

func runDBReset(cmd *cobra.Command, yes, empty bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	target := db.Describe(a.cfg.Database)
	if !yes {
		ok, err := confirm(cmd, fmt.Sprintf("WARNING: This will permanently delete every material request in %s.", target))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	if err := a.gdb.WithContext(ctx).Migrator().DropTable(&models.MaterialRequest{}); err != nil {
		return fmt.Errorf("db: drop table: %w", err)
	}
	fmt.Fprintf(out, "Dropped material_requests in %s\n", target)

	schema := &db.Schema{Seed: db.SeedSamples}
	if empty {
		schema.Seed = db.NoSeed
	}
	if err := schema.Ensure(ctx, a.gdb); err != nil {
		return err
	}
	return printCounts(ctx, out, a.store, "Database reset")
}

func newDBRenumberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "renumber",
		Short: "Rewrite request ids as 1..N",
		Long:  "Renumbers requests 1..N in id order and resets the id sequence. Deletes do this automatically.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.store.Renumber(ctx); err != nil {
				return err
			}
			return printCounts(ctx, cmd.OutOrStdout(), a.store, "Requests renumbered")
		},
	}
}

func newDBBackupCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of every request",
		Long: `Writes a JSON snapshot of the material_requests table. Without --output the
file goes to the backup directory as material_requests_<timestamp>.json.
Use --output - to write to stdout (for example into DB_BACKUP_JSON).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBBackup(cmd, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file, or - for stdout")
	return cmd
}

func runDBBackup(cmd *cobra.Command, output string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := backup.Create(ctx, a.gdb)
	if err != nil {
		return err
	}

	switch output {
	case "":
		path, err := backup.WriteFile(a.cfg.Backup.Dir, snap, time.Now())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Backed up %d requests to %s\n", snap.TotalRecords, path)
	case "-":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	default:
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("backup: encode snapshot: %w", err)
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("backup: write %s: %w", output, err)
		}
		fmt.Fprintf(out, "Backed up %d requests to %s\n", snap.TotalRecords, output)
	}
	return nil
}

func newDBRestoreCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Replace every request with a JSON snapshot",
		Long: `Replaces the contents of material_requests with the rows of a snapshot
written by "matreq db backup" or downloaded from /admin/backup. Ids and
creation times are kept; the id sequence continues after the highest id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBRestore(cmd, args[0], yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runDBRestore(cmd *cobra.Command, path string, yes bool) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	snap, err := backup.Parse(data)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !yes {
		msg := fmt.Sprintf("WARNING: This will replace every material request in %s with %d rows from %s.",
			db.Describe(a.cfg.Database), snap.TotalRecords, path)
		ok, err := confirm(cmd, msg)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	schema := &db.Schema{Seed: db.NoSeed}
	if err := schema.Ensure(ctx, a.gdb); err != nil {
		return err
	}
	svc := service.New(a.store, a.images, nil, a.log)
	n, err := svc.Restore(ctx, snap)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Restored %d requests from %s\n", n, path)
	return nil
}

// confirm asks for a typed "yes". It refuses to prompt when stdin is a file
// that is not a terminal.
func confirm(cmd *cobra.Command, warning string) (bool, error) {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}

	fmt.Fprintln(out, warning)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes", nil
	}
	return false, nil
}

func printCounts(ctx context.Context, out io.Writer, store *request.Store, done string) error {
	counts, err := store.StatusCounts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %d requests", done, request.Total(counts))
	for _, s := range models.Statuses {
		if n := counts[s]; n > 0 {
			fmt.Fprintf(out, ", %s %d", s, n)
		}
	}
	fmt.Fprintln(out)
	return nil
}
