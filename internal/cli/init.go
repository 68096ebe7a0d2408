package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultYAML = `# storyjobs config
# Priority: CLI flag > STORYJOBS_* environment > this file > default.

http:
  addr: ":8080"
  shutdown_timeout: 15s

queue:
  max_concurrent: 3
  retry_base: 1s          # task backoff: retry_base * 2^retries
  finished_capacity: 1000
  retention: 1h
  progress_interval: 0s   # >0 enables coarse synthetic progress
  throughput_window: 1m

remote:
  timeout: 30s
  max_retries: 3
  retry_delays: ["1s", "2s", "4s"]
  jitter: false
  history_capacity: 1000
  breaker_threshold: 5
  breaker_timeout: 60s
  rate_limit: 0           # calls per second per function, 0 disables
  burst: 1
  max_in_flight: 0        # concurrent calls per function, 0 disables

health:
  warning_error_rate: 10
  critical_error_rate: 25
  warning_latency: 10s
  critical_latency: 20s

observe:
  service_name: storyjobs
  tracing:
    enabled: false
    exporter: none        # otlp | stdout | none
    sample_pct: 1.0
  metrics:
    enabled: true
    exporter: prometheus  # prometheus | otlp | stdout | none
  logging:
    enabled: true
    level: info           # debug | info | warn | error
    format: json          # json | console

endpoints:
  generate-story: "http://localhost:9000/functions/generate-story"
  text-to-speech: "http://localhost:9000/functions/text-to-speech"
  workflow-webhook: "http://localhost:5678/webhook/story"
`

// newInitCmd returns an "init" subcommand that writes defaultYAML to --config
// or ~/.storyjobs/storyjobs.yaml.
func newInitCmd(defaultYAML string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write default configuration for storyjobs.

If --config is given the file is written to that path.
Otherwise it is written to ~/.storyjobs/storyjobs.yaml.
Fails if the file already exists unless --force is passed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dest := cfgFile
			if dest == "" {
				home, err := os.UserHomeDir()
				if err != nil {
					return fmt.Errorf("home dir: %w", err)
				}
				dest = filepath.Join(home, ".storyjobs", "storyjobs.yaml")
			}

			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return fmt.Errorf("mkdir: %w", err)
			}

			if !force {
				if _, err := os.Stat(dest); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", dest)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat %s: %w", dest, err)
				}
			}

			if err := os.WriteFile(dest, []byte(defaultYAML), 0o644); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config written to %s\n", dest)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config file")
	return cmd
}
