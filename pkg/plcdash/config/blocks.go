package config

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
)

// BlockHandler processes one top-level block type. Preprocess sees every
// block of its type before any are processed; FinishPreprocessing runs once
// all blocks were seen and constants are in scope from then on.
type BlockHandler interface {
	Preprocess(block *hcl.Block) hcl.Diagnostics
	FinishPreprocessing(config *Config) hcl.Diagnostics
	Process(config *Config, block *hcl.Block) hcl.Diagnostics
	FinishProcessing(config *Config) hcl.Diagnostics
}

type BlockHandlerBase struct {
}

func (b *BlockHandlerBase) Preprocess(block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishPreprocessing(config *Config) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	return nil
}

func (b *BlockHandlerBase) FinishProcessing(config *Config) hcl.Diagnostics {
	return nil
}

// singletonBlock rejects a second block of the same type.
type singletonBlock struct {
	first *hcl.Block
}

func (s *singletonBlock) Preprocess(block *hcl.Block) hcl.Diagnostics {
	if s.first != nil {
		return hcl.Diagnostics{
			&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  fmt.Sprintf("Duplicate %s block", block.Type),
				Detail:   fmt.Sprintf("Only one %s block is allowed; the first is at %v", block.Type, s.first.DefRange),
				Subject:  &block.DefRange,
			},
		}
	}
	s.first = block
	return nil
}

func GetBlockHandlers() map[string]BlockHandler {
	return map[string]BlockHandler{
		"app":       NewAppBlockHandler(),
		"assert":    NewAssertBlockHandler(),
		"const":     NewConstBlockHandler(),
		"simulator": NewSimulatorBlockHandler(),
		"socket":    NewSocketBlockHandler(),
	}
}

func sortedHandlerNames(handlers map[string]BlockHandler) []string {
	names := make([]string, 0, len(handlers))
	for name := range handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
