package config

import (
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
)

// SocketSettings tune the transport of the realtime client. The server
// address is not configurable.
type SocketSettings struct {
	Path        string
	Namespace   string
	DialTimeout time.Duration
	Headers     map[string]string
}

func DefaultSocketSettings() SocketSettings {
	return SocketSettings{
		Path:        "/socket.io/",
		Namespace:   "/",
		DialTimeout: 20 * time.Second,
	}
}

type socketBlock struct {
	Path        *string           `hcl:"path,optional"`
	Namespace   *string           `hcl:"namespace,optional"`
	DialTimeout hcl.Expression    `hcl:"dial_timeout,optional"`
	Headers     map[string]string `hcl:"headers,optional"`
	DefRange    hcl.Range         `hcl:",def_range"`
}

type SocketBlockHandler struct {
	BlockHandlerBase
	singletonBlock
}

func NewSocketBlockHandler() *SocketBlockHandler {
	return &SocketBlockHandler{}
}

func (h *SocketBlockHandler) Preprocess(block *hcl.Block) hcl.Diagnostics {
	return h.singletonBlock.Preprocess(block)
}

func (h *SocketBlockHandler) Process(config *Config, block *hcl.Block) hcl.Diagnostics {
	def := socketBlock{}
	diags := gohcl.DecodeBody(block.Body, config.evalCtx, &def)
	if diags.HasErrors() {
		return diags
	}

	settings := DefaultSocketSettings()

	if def.Path != nil {
		if !strings.HasPrefix(*def.Path, "/") {
			return diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid socket path",
				Detail:   "path must start with /",
				Subject:  &def.DefRange,
			})
		}
		settings.Path = *def.Path
	}

	if def.Namespace != nil {
		if !strings.HasPrefix(*def.Namespace, "/") {
			return diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid socket namespace",
				Detail:   "namespace must start with /",
				Subject:  &def.DefRange,
			})
		}
		settings.Namespace = *def.Namespace
	}

	if IsExpressionProvided(def.DialTimeout) {
		timeout, durationDiags := config.ParseDuration(def.DialTimeout)
		diags = diags.Extend(durationDiags)
		if diags.HasErrors() {
			return diags
		}
		if timeout == 0 {
			return diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid dial_timeout",
				Detail:   "dial_timeout must be greater than zero",
				Subject:  def.DialTimeout.Range().Ptr(),
			})
		}
		settings.DialTimeout = timeout
	}

	settings.Headers = def.Headers
	config.Socket = settings

	return diags
}
