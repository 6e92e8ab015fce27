package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"github.com/tsarna/plcdash/pkg/plcdash/plugins"
	"github.com/tsarna/plcdash/pkg/plcdash/socketio"
	"github.com/tsarna/plcdash/pkg/plcdash/transform"
	"go.uber.org/zap"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run [config-files-or-directories...]",
	Short: "Start the app and print events from the dashboard server",
	Long: `Start the app with the specified configuration, connect the socket it
provides and print every event received, one per line, as the event name,
a tab and the payload as JSON.

In the server execution context no socket is created; run reports that and
exits.

Examples:
  plcdash run ./config/
  plcdash run app.hcl --event plc_data --event "alerts/#"
  plcdash run app.hcl --event plc_data --filter 'select(.error_code != 0)'
  plcdash run app.hcl --changes --stats`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

var (
	runContext string
	runEvents  []string
	runFilter  string
	runChanges bool
	runStats   bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runContext, "context", defaults.Context, "execution context (client, server)")
	runCmd.Flags().StringArrayVarP(&runEvents, "event", "e", nil, "only print events matching this MQTT-style pattern (repeatable)")
	runCmd.Flags().StringVar(&runFilter, "filter", "", "jq query applied to each payload; no output drops the event")
	runCmd.Flags().BoolVar(&runChanges, "changes", false, "print only what changed since the previous payload per equipment_id")
	runCmd.Flags().BoolVar(&runStats, "stats", false, "print socket counters on exit")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ec, err := app.ParseExecutionContext(runContext)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger, args)
	if err != nil {
		return err
	}

	var stats *o11y.MemoryMetrics
	var metrics o11y.MetricsProvider
	if runStats {
		stats = o11y.NewMemoryMetrics()
		metrics = stats
	}

	a, err := newApp(cfg, ec, logger, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Error during app close", zap.Error(err))
		}
	}()

	client, err := app.Get[*socketio.Client](a.Registry(), plugins.SocketKey)
	if errors.Is(err, app.ErrNotFound) {
		logger.Info("No socket in this execution context", zap.Stringer("context", ec))
		fmt.Fprintf(cmd.OutOrStdout(), "no %s in the %s context\n", plugins.SocketKey, ec)
		return nil
	}
	if err != nil {
		return err
	}

	transforms, err := eventTransforms(logger)
	if err != nil {
		return err
	}

	printer := &eventPrinter{out: cmd.OutOrStdout(), logger: logger, transforms: transforms}
	client.OnPattern("#", printer.handle)

	disconnected := make(chan string, 1)
	client.On("disconnect", func(ctx context.Context, event string, args []any) []any {
		reason := ""
		if len(args) > 0 {
			reason = fmt.Sprint(args[0])
		}
		select {
		case disconnected <- reason:
		default:
		}
		return nil
	})

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Socket.DialTimeout)
	err = client.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", client.URL(), err)
	}

	logger.Info("Connected", zap.String("url", client.URL()), zap.String("id", client.ID()))
	logger.Info("Listening for events... (Press Ctrl+C to exit)")

	select {
	case <-ctx.Done():
		logger.Debug("Signal received, exiting")
	case reason := <-disconnected:
		logger.Warn("Connection ended", zap.String("reason", reason))
	}

	if stats != nil {
		printStats(cmd.OutOrStdout(), stats)
	}

	return nil
}

func eventTransforms(logger *zap.Logger) ([]transform.EventTransformFunc, error) {
	transforms := []transform.EventTransformFunc{
		transform.KeepEventPatterns(runEvents...),
	}

	if runFilter != "" {
		jq, err := transform.JqTransform(runFilter, logger)
		if err != nil {
			return nil, err
		}
		transforms = append(transforms, jq)
	}

	if runChanges {
		transforms = append(transforms, transform.NewChangeTracker("equipment_id", "timestamp").Transform)
	}

	return transforms, nil
}

type eventPrinter struct {
	mu         sync.Mutex
	out        io.Writer
	logger     *zap.Logger
	transforms []transform.EventTransformFunc
}

func (p *eventPrinter) handle(ctx context.Context, event string, args []any) []any {
	if event == "connect" || event == "disconnect" {
		return nil
	}

	ev, _ := transform.ChainTransforms(p.transforms...)(transform.NewEvent(ctx, event, args))
	if ev == nil {
		return nil
	}

	line, err := formatEvent(ev)
	if err != nil {
		p.logger.Warn("Failed to marshal payload to JSON", zap.String("event", event), zap.Error(err))
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)

	return nil
}

func formatEvent(ev *transform.Event) (string, error) {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return "", err
	}
	return ev.Name + "\t" + string(data), nil
}

func printStats(out io.Writer, stats *o11y.MemoryMetrics) {
	snapshot := stats.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Fprintf(out, "%s\t%d\n", name, snapshot[name])
	}
}
