package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"domainop/internal/app"
)

// debug enables verbose logging across the application.
var serveDebug bool

// configPath specifies a custom configuration directory path containing config.yaml.
var serveConfigPath string

// leaderElect enables leader election so that only one replica reconciles.
var serveLeaderElect bool

// serveOverrides are flag values that win over config.yaml.
var serveOverrides app.Overrides

// serveCmd defines the serve command structure.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the domainop operator",
	Long: `Starts the operator. It watches Domains and reconciles every change into
ConfigMaps until it receives SIGINT or SIGTERM.

Two watch modes are supported:

1. kubernetes (default):
   - Domains are custom resources (domains.domainop.io).
   - Results are written to the Domain status and recorded as events.

2. filesystem:
   - Domains are YAML manifests in {path}/domains/{name}.yaml.
   - Results are logged.

Configuration:
  domainop loads config.yaml from ~/.config/domainop, or from the directory
  given with --config-path. Flags override values from the file.

When run as a systemd unit with Type=notify, readiness is reported once the
informer caches have synced.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, args []string) error {
	cfg := app.NewConfig(serveDebug, serveConfigPath, serveOverrides)
	cfg.LeaderElect = serveLeaderElect
	cfg.Version = GetVersion()

	application, err := app.NewApplication(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(ctrl.SetupSignalHandler())
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable general debug logging")
	serveCmd.Flags().StringVar(&serveConfigPath, "config-path", "", "Custom configuration directory path")
	serveCmd.Flags().BoolVar(&serveLeaderElect, "leader-elect", false, "Enable leader election for the operator")
	serveCmd.Flags().StringVar(&serveOverrides.Mode, "mode", "", "Watch mode: kubernetes or filesystem")
	serveCmd.Flags().StringVar(&serveOverrides.Path, "path", "", "Manifest directory in filesystem mode")
	serveCmd.Flags().StringVar(&serveOverrides.Namespace, "namespace", "", "Namespace to reconcile (empty for all in kubernetes mode)")
	serveCmd.Flags().StringVar(&serveOverrides.MetricsBindAddress, "metrics-bind-address", "", "The address the metric endpoint binds to")
	serveCmd.Flags().IntVar(&serveOverrides.Workers, "workers", 0, "Number of worker goroutines")
	serveCmd.Flags().StringVar(&serveOverrides.LogFormat, "log-format", "", "Log format: text or json")
}
