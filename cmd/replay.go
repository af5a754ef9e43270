package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/bnema/grabarbiter/internal/arbiter"
	"github.com/bnema/grabarbiter/internal/config"
	"github.com/bnema/grabarbiter/internal/eventloop"
	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/logger"
	"github.com/bnema/grabarbiter/internal/scenario"
	"github.com/bnema/grabarbiter/internal/trace"
	"github.com/bnema/grabarbiter/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var replayVerbose bool

var replayCmd = &cobra.Command{
	Use:   "replay <scenario.yaml>...",
	Short: "Run scenarios against a fresh engine",
	Long: `Run each scenario against its own engine and check its expectations.
The command fails if any expectation is not met. With --record every
delivered event is written to the trace file.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runReplay,
}

func init() {
	flags := replayCmd.Flags()
	flags.BoolP("interactive", "i", false, "step through scenarios interactively")
	flags.Bool("stop-on-failure", true, "stop a scenario at its first failed step")
	flags.Bool("record", false, "record delivered events to the trace file")
	flags.String("trace", "", "trace file path")
	flags.BoolVarP(&replayVerbose, "verbose", "v", false, "print every step")

	_ = viper.BindPFlag("replay.interactive", flags.Lookup("interactive"))
	_ = viper.BindPFlag("replay.stop_on_failure", flags.Lookup("stop-on-failure"))
	_ = viper.BindPFlag("trace.enabled", flags.Lookup("record"))
	_ = viper.BindPFlag("trace.path", flags.Lookup("trace"))

	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	out := cmd.OutOrStdout()

	var rec *trace.Recorder
	if cfg.Trace.Enabled {
		f, err := os.Create(cfg.Trace.Path)
		if err != nil {
			return fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		defer w.Flush()
		rec = trace.NewRecorder(w, nil)
	}

	failed := 0
	for _, path := range args {
		sc, err := scenario.Load(path)
		if err != nil {
			return err
		}
		var sink input.Deliverer
		if rec != nil {
			sink = rec
		}
		run, err := scenario.New(sc, cfg.Engine.Options(), sink)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}

		res, err := replay(cmd.Context(), run, cfg.Replay, out)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintln(out, ui.RenderResult(res))
		if !res.Passed() {
			failed++
		}
	}

	if rec != nil {
		if err := rec.Err(); err != nil {
			return fmt.Errorf("failed to record trace: %w", err)
		}
		logger.Info("trace recorded", "path", cfg.Trace.Path, "records", rec.Count())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
	}
	return nil
}

// replay runs a scenario with its engine owned by a supervised event loop.
func replay(ctx context.Context, run *scenario.Run, opts config.ReplayConfig, out io.Writer) (scenario.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := eventloop.New(run.Scenario().Name, run.Engine())
	sup := eventloop.NewSupervisor("replay")
	eventloop.Add(sup, loop)
	errc := sup.ServeBackground(ctx)
	defer func() {
		cancel()
		<-errc
	}()

	step := func() (scenario.StepResult, error) {
		var res scenario.StepResult
		err := loop.Do(ctx, func(*arbiter.Engine) error {
			res = run.Step()
			return nil
		})
		return res, err
	}

	if opts.Interactive {
		stepper := ui.NewStepper(run, func() scenario.StepResult {
			res, err := step()
			if err != nil {
				res.Failures = append(res.Failures, err.Error())
			}
			return res
		})
		if _, err := tea.NewProgram(stepper, tea.WithContext(ctx)).Run(); err != nil {
			return scenario.Result{}, fmt.Errorf("interactive replay failed: %w", err)
		}
		return stepper.Result(), nil
	}

	for !run.Done() {
		res, err := step()
		if err != nil {
			return run.Result(), err
		}
		if replayVerbose {
			fmt.Fprintln(out, ui.RenderStep(res))
		}
		if res.Failed() && opts.StopOnFailure {
			break
		}
	}
	return run.Result(), nil
}
