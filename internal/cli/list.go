package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/BartekS5/xfer/internal/config"
	"github.com/BartekS5/xfer/pkg/models"
)

func newListCmd() *cobra.Command {
	var taskFile string

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the tasks defined in a task file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.LoadTasks(taskFile)
			if err != nil {
				return err
			}
			return listTasks(file, cmd.OutOrStdout())
		},
	}

	listCmd.Flags().StringVarP(&taskFile, "task-file", "f", "", "Path to the YAML or JSON task file")
	listCmd.MarkFlagRequired("task-file")

	return listCmd
}

func listTasks(file *models.TaskFile, out io.Writer) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tSOURCE\tDEST\tLOOKUP\tNO MATCH")
	for _, t := range file.Tasks {
		lookup, noMatch := "-", "-"
		if t.HasLookup() {
			lookup = t.LookupConn
		}
		if t.DestNoMatch != nil {
			noMatch = t.DestNoMatch.Conn + ":" + t.DestNoMatch.Table
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Name, describeSource(t.Source), t.Dest.Conn+":"+t.Dest.Table, lookup, noMatch)
	}
	return tw.Flush()
}

func describeSource(s models.SourceConfig) string {
	switch {
	case s.File != nil:
		return "file:" + s.File.Path
	case s.Collection != "":
		return s.Conn + ":" + s.Collection
	default:
		return s.Conn + ":sql"
	}
}
