package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/plcdash/pkg/plcdash/app"
	"github.com/tsarna/plcdash/pkg/plcdash/plugins"
	"github.com/tsarna/plcdash/pkg/plcdash/socketio"
	"go.uber.org/zap"
)

// emitCmd represents the emit command
var emitCmd = &cobra.Command{
	Use:   "emit [config-files-or-directories...]",
	Short: "Emit one event to the dashboard server",
	Long: `Start the app in the client context, connect its socket and emit a
single event.

The payload given with --data is sent as JSON if it parses as JSON, and as
a plain string otherwise. With --ack the command waits for the server's
acknowledgement and prints it.

Examples:
  plcdash emit app.hcl --event join_equipment --data '"DEMO_001"'
  plcdash emit app.hcl --event get_status --data '{"equipment_id":"DEMO_001"}' --ack`,
	Args: cobra.MinimumNArgs(1),
	RunE: runEmit,
}

var (
	emitEvent   string
	emitData    string
	emitAck     bool
	emitTimeout time.Duration
)

func init() {
	rootCmd.AddCommand(emitCmd)

	emitCmd.Flags().StringVar(&emitEvent, "event", "", "event name")
	emitCmd.Flags().StringVar(&emitData, "data", "", "event payload (JSON or plain text); omitted sends no arguments")
	emitCmd.Flags().BoolVar(&emitAck, "ack", false, "wait for and print the server's acknowledgement")
	emitCmd.Flags().DurationVar(&emitTimeout, "timeout", 30*time.Second, "total operation timeout")
	_ = emitCmd.MarkFlagRequired("event")
}

func runEmit(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger, args)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, app.Client, logger, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("Error during app close", zap.Error(err))
		}
	}()

	client, err := app.Get[*socketio.Client](a.Registry(), plugins.SocketKey)
	if err != nil {
		if errors.Is(err, app.ErrNotFound) {
			return fmt.Errorf("no %s plugin configured: %w", plugins.SocketPluginName, err)
		}
		return err
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", client.URL(), err)
	}

	payload := eventArgs(emitData)

	if !emitAck {
		if err := client.Emit(ctx, emitEvent, payload...); err != nil {
			return fmt.Errorf("failed to emit %s: %w", emitEvent, err)
		}
		logger.Info("Event emitted", zap.String("event", emitEvent))
		return nil
	}

	ack, err := client.EmitWithAck(ctx, emitEvent, payload...)
	if err != nil {
		return fmt.Errorf("failed to emit %s: %w", emitEvent, err)
	}

	data, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	return nil
}

// eventArgs turns --data into the event's argument list.
func eventArgs(data string) []any {
	if data == "" {
		return nil
	}

	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return []any{data}
	}
	return []any{v}
}
