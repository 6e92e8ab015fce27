package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/simulator"
	"go.uber.org/zap"
)

// simulateCmd represents the simulate command
var simulateCmd = &cobra.Command{
	Use:   "simulate [config-files-or-directories...]",
	Short: "Send demo PLC readings to the dashboard server",
	Long: `Send generated PLC readings to the dashboard server's /api/logs
endpoint, one sender per simulator block, each on its own schedule.

Without configuration, or when the configuration has no simulator blocks,
a single DEMO_001 sender posts to http://localhost:5000 every 2 seconds.

Examples:
  plcdash simulate
  plcdash simulate app.hcl --equipment DEMO_002
  plcdash simulate app.hcl --count 10
  plcdash simulate --once`,
	RunE: runSimulate,
}

var (
	simulateEquipment  []string
	simulateCount      int
	simulateOnce       bool
	simulateNoRegister bool
)

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().StringArrayVar(&simulateEquipment, "equipment", nil, "only run the simulator for this equipment id (repeatable)")
	simulateCmd.Flags().IntVar(&simulateCount, "count", 0, "stop each sender after this many readings (0 runs until interrupted)")
	simulateCmd.Flags().BoolVar(&simulateOnce, "once", false, "send a single reading per equipment, print it and exit")
	simulateCmd.Flags().BoolVar(&simulateNoRegister, "no-register", false, "skip registering the equipment before sending")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	defs := []*config.SimulatorDefinition{{
		EquipmentID: simulator.DefaultEquipmentID,
		ServerURL:   config.DefaultSimulatorURL,
		Schedule:    config.DefaultSimulatorSchedule,
	}}
	if len(args) > 0 {
		cfg, err := loadConfig(logger, args)
		if err != nil {
			return err
		}
		if len(cfg.Simulators) > 0 {
			defs = cfg.Simulators
		}
	}

	defs = selectSimulators(defs, simulateEquipment)
	if len(defs) == 0 {
		return fmt.Errorf("no simulator matches %v", simulateEquipment)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	senders := make([]*simulator.Sender, 0, len(defs))
	for _, def := range defs {
		sender, err := simulator.NewSender().
			WithDefinition(def).
			WithLogger(logger).
			WithMaxSends(simulateCount).
			Build()
		if err != nil {
			return fmt.Errorf("simulator %s: %w", def.EquipmentID, err)
		}
		senders = append(senders, sender)
	}

	if simulateOnce {
		for _, sender := range senders {
			reading, err := sender.SendOnce(ctx)
			data, _ := json.MarshalIndent(reading, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			if err != nil {
				return err
			}
		}
		return nil
	}

	for _, sender := range senders {
		if !simulateNoRegister {
			// The dashboard still accepts readings from unregistered equipment.
			_ = sender.Register(ctx)
		}
		if err := sender.Start(ctx); err != nil {
			return err
		}
	}

	logger.Info("Sending demo data... (Press Ctrl+C to exit)", zap.Int("senders", len(senders)))

	for _, sender := range senders {
		<-sender.Done()
		sender.Stop()
	}

	return nil
}

func selectSimulators(defs []*config.SimulatorDefinition, ids []string) []*config.SimulatorDefinition {
	if len(ids) == 0 {
		return defs
	}

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var selected []*config.SimulatorDefinition
	for _, def := range defs {
		if wanted[def.EquipmentID] {
			selected = append(selected, def)
		}
	}
	return selected
}
