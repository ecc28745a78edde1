package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"chorus/internal/character"
	"chorus/internal/config"
	"chorus/internal/gateway/handlers"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose system health",
		Long: `Run diagnostic checks on your chorus installation.

This command checks:
- Configuration file and values
- Storage accessibility
- Character backends
- NATS connectivity
- Media and tool endpoints
- Server status`,
		RunE: runDoctor,
	}

	return cmd
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return fmt.Errorf("CLI context not initialized")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Chorus Doctor")
	fmt.Fprintln(out, "=============")
	fmt.Fprintln(out)

	results := []checkResult{
		checkSystemInfo(),
		checkConfigFile(cliCtx.ConfigPath),
		checkConfigValues(cliCtx.Config),
		checkStorage(ctx, cliCtx),
		checkCharacters(cliCtx.Config),
		checkNATS(cliCtx.Config.NATS),
		checkEndpoints(cliCtx.Config.Tools),
		checkServer(ctx, cliCtx),
	}

	printResults(out, results)
	return nil
}

func printResults(out io.Writer, results []checkResult) {
	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		icon := "✓"
		if r.status == "warning" {
			icon = "⚠️"
			hasWarnings = true
		} else if r.status == "error" {
			icon = "✗"
			hasErrors = true
		}
		fmt.Fprintf(out, "%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Fprintln(out)
	switch {
	case hasErrors:
		fmt.Fprintln(out, "❌ Some checks failed. Please address the issues above.")
	case hasWarnings:
		fmt.Fprintln(out, "⚠️  Some warnings detected. Chorus should work but may have issues.")
	default:
		fmt.Fprintln(out, "✅ All checks passed! Chorus is ready to serve.")
	}
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  "ok",
		message: fmt.Sprintf("Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfigFile(path string) checkResult {
	if path == "" {
		var err error
		path, err = config.DefaultConfigPath()
		if err != nil {
			return checkResult{"Config File", "error", fmt.Sprintf("Cannot determine config path: %v", err)}
		}
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return checkResult{"Config File", "warning", fmt.Sprintf("Not found at %s, using defaults", path)}
	}
	return checkResult{"Config File", "ok", path}
}

func checkConfigValues(cfg *config.Config) checkResult {
	problems := validateConfig(cfg)
	if len(problems) == 0 {
		return checkResult{"Config Values", "ok", "valid"}
	}
	return checkResult{"Config Values", "error", fmt.Sprintf("%s (run 'chorus config validate')", problems[0])}
}

func checkStorage(ctx context.Context, cliCtx *CLIContext) checkResult {
	st, err := cliCtx.GetStore(ctx)
	if err != nil {
		return checkResult{"Storage", "error", err.Error()}
	}
	if _, err := st.LatestRecords(ctx, "doctor", 1); err != nil {
		return checkResult{"Storage", "error", fmt.Sprintf("query failed: %v", err)}
	}
	driver := cliCtx.Config.Storage.Driver
	if driver == "" {
		driver = "sqlite"
	}
	return checkResult{"Storage", "ok", driver}
}

func checkCharacters(cfg *config.Config) checkResult {
	var usable, retired int
	for _, cc := range cfg.Characters {
		p := character.FromConfig(cc)
		switch {
		case p.Retired:
			retired++
		case p.Usable():
			usable++
		}
	}
	msg := fmt.Sprintf("%d usable, %d retired, %d configured", usable, retired, len(cfg.Characters))
	if usable == 0 {
		return checkResult{"Characters", "error", msg}
	}
	return checkResult{"Characters", "ok", msg}
}

func checkNATS(cfg config.NATSConfig) checkResult {
	if cfg.URL == "" {
		return checkResult{"NATS", "ok", "not configured, notifications stay local"}
	}
	opts := []nats.Option{nats.Name("chorus-doctor"), nats.Timeout(3 * time.Second)}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return checkResult{"NATS", "error", fmt.Sprintf("%s: %v", cfg.URL, err)}
	}
	defer nc.Close()
	return checkResult{"NATS", "ok", nc.ConnectedUrlRedacted()}
}

func checkEndpoints(cfg config.ToolsConfig) checkResult {
	media := map[string]string{
		"draw":       cfg.DrawEndpoint,
		"speak":      cfg.SpeakEndpoint,
		"transcribe": cfg.TranscribeEndpoint,
		"describe":   cfg.DescribeEndpoint,
	}
	var missing []string
	for _, name := range []string{"draw", "speak", "transcribe", "describe"} {
		if media[name] == "" {
			missing = append(missing, name)
		}
	}
	msg := fmt.Sprintf("%d tool endpoint(s)", len(cfg.Endpoints))
	if len(missing) > 0 {
		return checkResult{"Endpoints", "warning", fmt.Sprintf("%s, media disabled: %v", msg, missing)}
	}
	return checkResult{"Endpoints", "ok", msg + ", all media services set"}
}

func checkServer(ctx context.Context, cliCtx *CLIContext) checkResult {
	client := newAPIClient(cliCtx.BaseURL())
	client.http.Timeout = 5 * time.Second

	var health handlers.HealthResponse
	if err := client.do(ctx, "GET", "/api/v1/health", nil, &health); err != nil {
		return checkResult{"Server", "warning", fmt.Sprintf("not reachable at %s (run 'chorus serve')", cliCtx.BaseURL())}
	}
	if health.Status != "ok" {
		return checkResult{"Server", "warning", fmt.Sprintf("%s, %s", health.Status, health.Version)}
	}
	return checkResult{"Server", "ok", fmt.Sprintf("%s, up %s, %d character(s)", health.Version, time.Duration(health.Uptime)*time.Second, health.Characters)}
}
