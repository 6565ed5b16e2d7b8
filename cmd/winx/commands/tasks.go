package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/rokytory/winx-code-agent/internal/storage"
	"github.com/rokytory/winx-code-agent/internal/taskctx"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List saved task contexts",
	RunE:  runTasks,
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a saved task context",
	Args:  cobra.ExactArgs(1),
	RunE:  runTasksShow,
}

func init() {
	tasksCmd.AddCommand(tasksShowCmd)
}

func openTasks() (*taskctx.Manager, error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return taskctx.NewManager(storage.New(paths.StoragePath()), afero.NewOsFs(), nil, taskctx.OptionsFromConfig(cfg)), nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	tasks, err := openTasks()
	if err != nil {
		return err
	}
	list, err := tasks.List(context.Background())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgHiBlack).Sprint("No saved tasks."))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.New(color.Bold).Sprintf("%d saved task(s)", len(list)))

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAVED\tFILES\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", t.ID, t.CreatedAt.Local().Format(time.DateTime), t.Files, t.Description)
	}
	return tw.Flush()
}

func runTasksShow(cmd *cobra.Command, args []string) error {
	tasks, err := openTasks()
	if err != nil {
		return err
	}
	cp, err := tasks.Resume(context.Background(), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), color.New(color.FgCyan, color.Bold).Sprintf("Task %s (%s)", cp.ID, cp.CreatedAt.Local().Format(time.DateTime)))
	fmt.Fprintln(cmd.OutOrStdout(), cp.Render())
	return nil
}
