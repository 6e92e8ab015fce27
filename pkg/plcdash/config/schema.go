package config

import (
	"github.com/hashicorp/hcl/v2"
)

var blockSchema = []hcl.BlockHeaderSchema{
	{
		Type:       "app",
		LabelNames: []string{},
	},
	{
		Type:       "assert",
		LabelNames: []string{"name"},
	},
	{
		Type:       "const",
		LabelNames: []string{},
	},
	{
		Type:       "simulator",
		LabelNames: []string{"equipment_id"},
	},
	{
		Type:       "socket",
		LabelNames: []string{},
	},
}

// function blocks are removed from the bodies before this schema is applied.
var configSchema = &hcl.BodySchema{
	Blocks: blockSchema,
}
