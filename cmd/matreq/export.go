package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hpnt/matreq/internal/backup"
	"github.com/hpnt/matreq/internal/request"
)

func newExportCmd() *cobra.Command {
	var (
		output string
		status string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export requests to an Excel workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, output, status)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output .xlsx file (default material_requests_<timestamp>.xlsx)")
	cmd.Flags().StringVar(&status, "status", "", "only export requests with this status")
	return cmd
}

func runExport(cmd *cobra.Command, output, status string) error {
	ctx := cmd.Context()
	if output == "" {
		output = fmt.Sprintf("material_requests_%s.xlsx", time.Now().Format("20060102_150405"))
	}

	a, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.store.List(ctx, request.ListFilters{Status: status})
	if err != nil {
		return err
	}

	f, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := backup.WriteExcel(f, rows); err != nil {
		f.Close()
		os.Remove(output)
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d requests to %s\n", len(rows), output)
	return nil
}
