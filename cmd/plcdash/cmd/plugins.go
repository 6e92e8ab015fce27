package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tsarna/plcdash/pkg/plcdash/app"
)

// pluginsCmd represents the plugins command
var pluginsCmd = &cobra.Command{
	Use:   "plugins [config-files-or-directories...]",
	Short: "List the configured plugins",
	Long: `List the plugins named in the app block, in the order they run, with
the mode each one resolved to and whether it runs in the chosen execution
context. Nothing runs in the server context when the app sets ssr = false.
With no configuration the built-in catalog is listed.

Examples:
  plcdash plugins app.hcl
  plcdash plugins app.hcl --context server
  plcdash plugins`,
	RunE: runPlugins,
}

var pluginsContext string

func init() {
	rootCmd.AddCommand(pluginsCmd)

	pluginsCmd.Flags().StringVar(&pluginsContext, "context", defaults.Context, "execution context (client, server)")
}

func runPlugins(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	ec, err := app.ParseExecutionContext(pluginsContext)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	defer out.Flush()

	if len(args) == 0 {
		catalog := builtinCatalog(nil)
		fmt.Fprintln(out, "NAME\tMODE\tRUNS")
		for _, name := range catalog.Names() {
			plugin, err := catalog.Resolve(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\t%s\t%t\n", plugin.Name(), plugin.Mode(), plugin.Mode().Allows(ec))
		}
		return nil
	}

	cfg, err := loadConfig(logger, args)
	if err != nil {
		return err
	}

	resolved, diags := cfg.ResolvePlugins(builtinCatalog(cfg))
	if diags.HasErrors() {
		return diags
	}

	fmt.Fprintf(out, "ssr: %t\n\n", cfg.App.SSR)
	fmt.Fprintln(out, "REFERENCE\tNAME\tMODE\tRUNS")
	for i, plugin := range resolved {
		runs := cfg.App.RunsIn(ec) && plugin.Mode().Allows(ec)
		fmt.Fprintf(out, "%s\t%s\t%s\t%t\n", cfg.App.Plugins[i], plugin.Name(), plugin.Mode(), runs)
	}

	return nil
}
