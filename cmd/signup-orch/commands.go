package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/signup-orchestrator/internal/domain"
	"github.com/hochfrequenz/signup-orchestrator/internal/exchange"
)

var (
	listStatus string
	exportTask string
)

func init() {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batch tasks",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	rootCmd.AddCommand(listCmd)

	statusCmd := &cobra.Command{
		Use:   "status TASK",
		Short: "Show progress and outcomes of a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	rootCmd.AddCommand(statusCmd)

	deleteCmd := &cobra.Command{
		Use:   "delete TASK",
		Short: "Delete a finished task and its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE:  runDelete,
	}
	rootCmd.AddCommand(deleteCmd)

	exportCmd := &cobra.Command{
		Use:   "export PATH [FORMAT]",
		Short: "Export outcomes as json, csv, txt or yaml",
		Long: `Export recorded outcomes. FORMAT defaults to the file extension.
The txt format writes identity,password,email for completed registrations.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runExport,
	}
	exportCmd.Flags().StringVar(&exportTask, "task", "", "export a single task")
	rootCmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import PATH",
		Short: "Import identities for batch --use-existing-emails",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	var filter domain.TaskStatus
	if listStatus != "" {
		st, ok := domain.ParseTaskStatus(listStatus)
		if !ok {
			return fmt.Errorf("unknown status %q", listStatus)
		}
		filter = st
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tITEMS\tCOMPLETED\tFAILED\tCREATED")
	for _, t := range a.orch.List() {
		if filter != "" && t.Status != filter {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
			t.ID, t.Status, len(t.Items), t.CompletedCount, t.FailedCount, humanize.Time(t.CreatedAt))
	}
	return w.Flush()
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	task, err := a.orch.Get(args[0])
	if err != nil {
		return err
	}
	printSummary(task)

	if len(task.Outcomes) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tEMAIL\tRESULT\tSTEP\tATTEMPTS\tELAPSED")
	for _, o := range task.Outcomes {
		result := string(o.Kind)
		if o.ErrorKind != domain.ErrorNone {
			result += " (" + string(o.ErrorKind) + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			o.Identity, o.Email, result, o.Step, o.Attempts, o.Elapsed.Round(time.Millisecond))
	}
	return w.Flush()
}

func printSummary(task domain.BatchTask) {
	stats := domain.Stats(task)
	fmt.Printf("Task:      %s\n", task.ID)
	fmt.Printf("Status:    %s\n", task.Status)
	fmt.Printf("Progress:  %s/%s (%.1f%%)\n",
		humanize.Comma(int64(stats.Completed+stats.Failed)), humanize.Comma(int64(stats.Total)), stats.ProgressPercent)
	fmt.Printf("Completed: %s\n", humanize.Comma(int64(stats.Completed)))
	fmt.Printf("Failed:    %s\n", humanize.Comma(int64(stats.Failed)))
	fmt.Printf("Created:   %s\n", humanize.Time(task.CreatedAt))
	if d := task.Duration(); d > 0 {
		fmt.Printf("Duration:  %s\n", d.Round(time.Second))
	}
	if task.Error != "" {
		fmt.Printf("Error:     %s\n", task.Error)
	}
}

func runDelete(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.orch.Delete(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted %s\n", args[0])
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	path := args[0]
	var (
		format exchange.Format
		err    error
	)
	if len(args) > 1 {
		format, err = exchange.ParseFormat(args[1])
	} else {
		format, err = exchange.DetectFormat(path)
	}
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var outcomes []domain.Outcome
	if exportTask != "" {
		if _, err := store.GetTask(exportTask); err != nil {
			return err
		}
		outcomes, err = store.Outcomes(exportTask)
	} else {
		outcomes, err = store.AllOutcomes()
	}
	if err != nil {
		return err
	}

	if err := exchange.ExportOutcomes(path, outcomes, format); err != nil {
		return err
	}
	fmt.Printf("Exported %s outcomes to %s\n", humanize.Comma(int64(len(outcomes))), path)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	items, err := exchange.ImportItems(args[0])
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveIdentities(items); err != nil {
		return err
	}
	fmt.Printf("Imported %s identities\n", humanize.Comma(int64(len(items))))
	return nil
}
