package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/idanyas/speedprobe/internal/client"
	"github.com/idanyas/speedprobe/internal/config"
	"github.com/idanyas/speedprobe/internal/location"
	"github.com/idanyas/speedprobe/internal/output"
	"github.com/idanyas/speedprobe/internal/provider"
)

var version = "DEV"

// usageError marks configuration problems, which exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// errAborted is returned when the provider picker is interrupted.
var errAborted = errors.New("aborted")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if code := exitCode(err); code != 0 {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == 1 {
			handleClientError(err)
		}
		os.Exit(code)
	}
}

// exitCode maps a command error to the process status: 0 for success or an
// aborted picker, 2 for usage errors, 1 otherwise.
func exitCode(err error) int {
	var ue usageError
	switch {
	case err == nil || errors.Is(err, errAborted):
		return 0
	case errors.As(err, &ue):
		return 2
	default:
		return 1
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "speed",
		Short:         "a swiss army knife of internet speed tests",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isatty.IsTerminal(os.Stdin.Fd()) {
				return cmd.Help()
			}
			p, err := pickProvider()
			if err != nil {
				return err
			}
			return runProvider(cmd, p)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	for _, p := range provider.All() {
		root.AddCommand(&cobra.Command{
			Use:     p.Name,
			Aliases: p.Aliases,
			Short:   fmt.Sprintf("Run speed test using %s (shorthand: %s)", p.Host, strings.Join(p.Aliases, ", ")),
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runProvider(cmd, p)
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "locations",
		Short: "List all Cloudflare server locations",
		Args:  cobra.NoArgs,
		RunE:  runLocations,
	})
	return root
}

func pickProvider() (provider.Provider, error) {
	all := provider.All()
	items := make([]string, len(all))
	for i, p := range all {
		items[i] = fmt.Sprintf("%s (%s)", p.Name, p.Host)
	}
	prompt := promptui.Select{
		Label:    "Select a speed test provider",
		Items:    items,
		HideHelp: true,
		Stdout:   os.Stderr,
	}
	i, _, err := runPrompt(&prompt)
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return provider.Provider{}, errAborted
		}
		return provider.Provider{}, err
	}
	return all[i], nil
}

var runPrompt = func(s *promptui.Select) (int, string, error) { return s.Run() }

type session struct {
	cfg    *config.Config
	logger log.Interface
	out    *output.Printer
	client client.Doer
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, usageError{err}
	}

	logger := &log.Logger{Handler: cli.New(os.Stderr), Level: log.InfoLevel}
	if cfg.Output.Verbose {
		logger.Level = log.DebugLevel
	}

	var progress io.Writer
	if !cfg.Output.NoProgress && !cfg.Output.Verbose && isatty.IsTerminal(os.Stderr.Fd()) {
		progress = os.Stderr
	}
	out := output.New(os.Stdout, progress, cfg.Output.JSON, cfg.Output.HideIP)

	if cfg.Transport.Insecure {
		out.Warn("Skipping TLS certificate verification (--insecure). This is potentially unsafe!")
	}

	httpClient, err := client.NewHTTPClient(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP client: %w", err)
	}
	return &session{cfg: cfg, logger: logger, out: out, client: httpClient}, nil
}

func runProvider(cmd *cobra.Command, p provider.Provider) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	s.out.Header(version, p.Host)
	result, err := p.Run(cmd.Context(), s.cfg, s.client, s.logger, s.out)
	if err != nil {
		return err
	}
	return s.out.Result(result)
}

func runLocations(cmd *cobra.Command, _ []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	locs, err := location.NewResolver(s.cfg, s.client, s.logger).FetchLocations(cmd.Context())
	if err != nil {
		return fmt.Errorf("error fetching locations: %w", err)
	}
	return s.out.Locations(locs)
}

func handleClientError(err error) {
	hint := color.New(color.FgYellow).FprintlnFunc()
	msg := err.Error()
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, provider.ErrNotImplemented):
		hint(os.Stderr, "Hint: only the cloudflare provider is available.")
	case strings.Contains(msg, "failed to find interface"):
		hint(os.Stderr, "Hint: Ensure the specified interface name exists and is correct.")
	case strings.Contains(msg, "no suitable"):
		hint(os.Stderr, "Hint: Check if the interface has an IP address matching the requested family (IPv4/IPv6).")
	case errors.As(err, &dnsErr) || strings.Contains(msg, "DNS resolution failed"):
		hint(os.Stderr, "Hint: Check network connectivity and DNS settings. Try forcing IPv4 (-4) or IPv6 (-6).")
	case strings.Contains(msg, "certificate"):
		hint(os.Stderr, "Hint: If you trust the network, try the --insecure flag (use with caution).")
	case strings.Contains(msg, "connection failed") || strings.Contains(msg, "dial tcp"):
		hint(os.Stderr, "Hint: Check network connectivity, firewall rules, or try specifying a source IP/interface with -I.")
	}
}
