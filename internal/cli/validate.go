package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BartekS5/xfer/internal/config"
	"github.com/BartekS5/xfer/internal/etl"
	"github.com/BartekS5/xfer/pkg/models"
)

func newValidateCmd() *cobra.Command {
	var taskFile string
	var names []string

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a task file without connecting to any database",
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateTasks(taskFile, names, cmd.OutOrStdout())
		},
	}

	validateCmd.Flags().StringVarP(&taskFile, "task-file", "f", "", "Path to the YAML or JSON task file")
	validateCmd.Flags().StringSliceVarP(&names, "task", "t", nil, "Task names to check (default: all)")
	validateCmd.MarkFlagRequired("task-file")

	return validateCmd
}

func validateTasks(path string, names []string, out io.Writer) error {
	file, err := config.LoadTasks(path)
	if err != nil {
		return err
	}
	tasks, err := config.SelectTasks(file, names)
	if err != nil {
		return err
	}

	total := 0
	for i := range tasks {
		issues := checkTask(file, &tasks[i])
		for _, is := range issues {
			fmt.Fprintln(out, is.String())
		}
		total += len(issues)
	}
	if total > 0 {
		return fmt.Errorf("%d problems found in %s", total, path)
	}
	fmt.Fprintf(out, "%d tasks OK\n", len(tasks))
	return nil
}

// checkTask adds the checks that need engine types to ValidateTask:
// transformation expressions, lookup bindings, encodings and connection ids.
func checkTask(file *models.TaskFile, t *models.TransferTask) []config.Issue {
	issues := config.ValidateTask(t)
	add := func(path string, err error) {
		issues = append(issues, config.Issue{Path: t.Name + "." + path, Message: err.Error()})
	}

	if _, err := etl.SpecFromConfig(t.Transformations); err != nil {
		add("transformations", err)
	}
	// Templated entries are checked after rendering at run time; only
	// untemplated ones can be compiled here.
	if _, err := etl.SpecFromConfig(untemplated(t.TransformationsTemplated)); err != nil {
		add("transformations_templated", err)
	}
	if t.HasLookup() {
		if _, err := etl.ParseBindings(t.LookupSQLParams); err != nil {
			add("lookup_sql_params", err)
		}
	}
	if _, err := etl.NewBulkSink(etl.DryRunWriter{}, etl.SinkConfig{
		Table:           "check",
		Encoding:        config.CharacterEncoding(t, ""),
		ColumnEncodings: t.ColumnEncodings,
	}); err != nil {
		add("dest_character_encoding", err)
	}

	conns := map[string]string{
		"source.conn":        t.Source.Conn,
		"lookup_conn":        t.LookupConn,
		"dest.conn":          t.Dest.Conn,
		"dest_no_match.conn": "",
	}
	if t.DestNoMatch != nil {
		conns["dest_no_match.conn"] = t.DestNoMatch.Conn
	}
	for _, path := range []string{"source.conn", "lookup_conn", "dest.conn", "dest_no_match.conn"} {
		if id := conns[path]; id != "" {
			if _, err := config.ResolveConn(file, id); err != nil {
				add(path, err)
			}
		}
	}
	return issues
}

func untemplated(m models.OrderedMap) models.OrderedMap {
	var out models.OrderedMap
	for _, e := range m {
		if !hasTemplate(e.Value) {
			out = append(out, e)
		}
	}
	return out
}

func hasTemplate(v any) bool {
	switch x := v.(type) {
	case string:
		return strings.Contains(x, "{{")
	case map[string]any:
		for _, vv := range x {
			if hasTemplate(vv) {
				return true
			}
		}
	}
	return false
}
