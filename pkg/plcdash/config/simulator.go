package config

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/robfig/cron/v3"
)

const (
	DefaultSimulatorURL      = "http://localhost:5000"
	DefaultSimulatorSchedule = "@every 2s"
)

// ScheduleParser accepts standard five-field specs, an optional leading
// seconds field and descriptors such as "@every 2s".
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// SimulatorDefinition configures the demo data sender for one piece of
// equipment.
type SimulatorDefinition struct {
	EquipmentID string    `hcl:"equipment_id,label"`
	ServerURL   string    `hcl:"server_url,optional"`
	Schedule    string    `hcl:"schedule,optional"`
	DefRange    hcl.Range `hcl:",def_range"`
}

type SimulatorBlockHandler struct {
	BlockHandlerBase

	seen map[string]*hcl.Block
}

func NewSimulatorBlockHandler() *SimulatorBlockHandler {
	return &SimulatorBlockHandler{
		seen: make(map[string]*hcl.Block),
	}
}

func (h *SimulatorBlockHandler) Preprocess(block *hcl.Block) hcl.Diagnostics {
	id := block.Labels[0]
	if previous, exists := h.seen[id]; exists {
		return hcl.Diagnostics{
			&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate simulator",
				Detail:   fmt.Sprintf("Simulator %s is already defined at %v", id, previous.DefRange),
				Subject:  &block.DefRange,
			},
		}
	}
	h.seen[id] = block
	return nil
}

func (h *SimulatorBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := &SimulatorDefinition{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, def)
	if diags.HasErrors() {
		return diags
	}
	def.EquipmentID = block.Labels[0]

	if def.EquipmentID == "" {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid simulator",
			Detail:   "The equipment id label must not be empty",
			Subject:  &block.DefRange,
		})
	}

	if def.ServerURL == "" {
		def.ServerURL = DefaultSimulatorURL
	}
	if u, err := url.Parse(def.ServerURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid server_url",
			Detail:   fmt.Sprintf("server_url must be an http or https URL, got %q", def.ServerURL),
			Subject:  &def.DefRange,
		})
	}

	if def.Schedule == "" {
		def.Schedule = DefaultSimulatorSchedule
	}
	if _, err := ScheduleParser.Parse(def.Schedule); err != nil {
		return diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid schedule",
			Detail:   fmt.Sprintf("Invalid schedule %q: %s", def.Schedule, err),
			Subject:  &def.DefRange,
		})
	}

	config.Simulators = append(config.Simulators, def)

	return diags
}

func (h *SimulatorBlockHandler) FinishProcessing(config *Config) hcl.Diagnostics {
	sort.Slice(config.Simulators, func(i, j int) bool {
		return config.Simulators[i].EquipmentID < config.Simulators[j].EquipmentID
	})
	return nil
}

// Simulator returns the simulator for an equipment id, or nil.
func (c *Config) Simulator(equipmentID string) *SimulatorDefinition {
	for _, sim := range c.Simulators {
		if sim.EquipmentID == equipmentID {
			return sim
		}
	}
	return nil
}
