package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/BartekS5/xfer/internal/config"
	"github.com/BartekS5/xfer/internal/etl"
	"github.com/BartekS5/xfer/internal/metrics"
	"github.com/BartekS5/xfer/pkg/logger"
	"github.com/BartekS5/xfer/pkg/models"
)

// RunOptions holds the flags of the run command.
type RunOptions struct {
	TaskFile string
	Tasks    []string
	Parallel int
	DryRun   bool
	Vars     []string
	Date     string
}

// taskReport is the JSON line printed for every task.
type taskReport struct {
	Task  string `json:"task"`
	RunID string `json:"run_id"`
	State string `json:"state"`
	etl.TransferResult
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	opts := &RunOptions{}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run transfer tasks defined in a task file",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTasks(ctx, a.cfg, opts, cmd.OutOrStdout())
		},
	}

	// --- Add Flags to Run Command ---
	runCmd.Flags().StringVarP(&opts.TaskFile, "task-file", "f", "", "Path to the YAML or JSON task file")
	runCmd.Flags().StringSliceVarP(&opts.Tasks, "task", "t", nil, "Task names to run (default: all, in file order)")
	runCmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 1, "Number of tasks to run at the same time")
	runCmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Read and transform but do not write to destinations")
	runCmd.Flags().StringArrayVar(&opts.Vars, "var", nil, "Template variable as key=value, available as {{ .var.key }}")
	runCmd.Flags().StringVar(&opts.Date, "ds", "", "Logical date (YYYY-MM-DD) for {{ .ds }}, defaults to today")

	runCmd.MarkFlagRequired("task-file")

	return runCmd
}

func runTasks(ctx context.Context, cfg *config.Config, opts *RunOptions, out io.Writer) error {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadConfig(); err != nil {
			return err
		}
	}
	if opts.Parallel < 1 {
		return fmt.Errorf("--parallel must be at least 1")
	}

	vars, err := config.ParseVars(opts.Vars)
	if err != nil {
		return err
	}
	logical := time.Now()
	if opts.Date != "" {
		if logical, err = time.Parse("2006-01-02", opts.Date); err != nil {
			return fmt.Errorf("invalid --ds %q: %w", opts.Date, err)
		}
	}

	file, err := config.LoadTasks(opts.TaskFile)
	if err != nil {
		return err
	}
	tasks, err := config.SelectTasks(file, opts.Tasks)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks in %s", opts.TaskFile)
	}

	var (
		mu     sync.Mutex
		failed []string
	)
	enc := json.NewEncoder(out)

	g := new(errgroup.Group)
	g.SetLimit(opts.Parallel)
	for i := range tasks {
		task := tasks[i]
		g.Go(func() error {
			rep := runTask(ctx, cfg, file, task, runVars(logical, vars), opts.DryRun)

			mu.Lock()
			defer mu.Unlock()
			if rep.Error != "" {
				failed = append(failed, task.Name)
			}
			return enc.Encode(rep)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := metrics.Flush(); err != nil {
		logger.Warnf("failed to push metrics: %v", err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d tasks failed: %v", len(failed), len(tasks), failed)
	}
	return nil
}

// runVars builds template variables for a logical date.
func runVars(logical time.Time, vars map[string]string) config.RunVars {
	return config.RunVars{Time: logical, Vars: vars}
}

func runTask(ctx context.Context, cfg *config.Config, file *models.TaskFile, task models.TransferTask, vars config.RunVars, dryRun bool) taskReport {
	start := time.Now()
	vars.RunID = uuid.NewString()
	rep := taskReport{Task: task.Name, RunID: vars.RunID, State: etl.StateNotStarted.String()}
	finish := func(err error) taskReport {
		rep.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			rep.State = etl.StateFailed.String()
			rep.Error = err.Error()
		}
		return rep
	}

	if err := ctx.Err(); err != nil {
		return finish(err)
	}

	rendered, err := config.RenderTask(task, vars)
	if err != nil {
		return finish(err)
	}

	c, err := buildCoordinator(ctx, cfg, file, &rendered, vars.RunID, dryRun)
	if err != nil {
		return finish(err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warnf("task %s: closing connections: %v", task.Name, err)
		}
	}()

	res, err := c.Run(ctx)
	rep.TransferResult = res
	rep.State = c.State().String()
	if err == nil {
		logger.Infof("task %s run=%s finished: rows_total=%d rows_total_match=%d rows_total_no_match=%d",
			task.Name, vars.RunID, res.RowsTotal, res.RowsTotalMatch, res.RowsTotalNoMatch)
	}
	return finish(err)
}
