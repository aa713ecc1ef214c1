package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/javi11/nzbinspect/internal/archive"
	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/inspector"
	"github.com/javi11/nzbinspect/internal/nzb"
	"github.com/javi11/nzbinspect/internal/pool"
	"github.com/javi11/nzbinspect/internal/slogutil"
)

type inspectFlags struct {
	password          string
	askPassword       bool
	jsonOutput        bool
	shallow           bool
	checkAvailability bool
	timeout           time.Duration
	verbose           bool
}

func init() {
	flags := &inspectFlags{}

	inspectCmd := &cobra.Command{
		Use:   "inspect <file.nzb>",
		Short: "Inspect an NZB and report whether its archive is streamable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0], flags)
		},
	}

	inspectCmd.Flags().StringVar(&flags.password, "password", "", "archive password (overrides the NZB password meta)")
	inspectCmd.Flags().BoolVar(&flags.askPassword, "ask-password", false, "prompt for the archive password")
	inspectCmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print the verdict as JSON")
	inspectCmd.Flags().BoolVar(&flags.shallow, "shallow", false, "classify 7z archives from the signature header only")
	inspectCmd.Flags().BoolVar(&flags.checkAvailability, "check-availability", false, "STAT first and last segments of the inspected part")
	inspectCmd.Flags().DurationVar(&flags.timeout, "timeout", 2*time.Minute, "overall inspection time budget")
	inspectCmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log pool and inspector activity to stderr")
	inspectCmd.MarkFlagsMutuallyExclusive("password", "ask-password")

	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, path string, flags *inspectFlags) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Provider.Host == "" {
		return fmt.Errorf("provider host is not configured")
	}

	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slogutil.NewHandler(os.Stderr, slogutil.Options{Level: level})))

	manifest, err := nzb.LoadFile(afero.NewOsFs(), path)
	if err != nil {
		return err
	}

	password := flags.password
	if flags.askPassword {
		password, err = readPassword(cmd.ErrOrStderr())
		if err != nil {
			return err
		}
	}

	ctx, cancel := withTimeout(cmd, flags.timeout)
	defer cancel()

	poolManager := pool.NewManager(ctx, nil)
	defer func() {
		_ = poolManager.Close()
	}()
	if err := poolManager.SetProvider(cfg); err != nil {
		return fmt.Errorf("failed to connect to provider: %w", err)
	}

	opts := inspector.OptionsFromConfig(cfg, nil)
	opts.ShallowSevenZip = flags.shallow
	opts.VerifyAvailability = flags.checkAvailability

	insp, err := inspector.New(inspector.ManagerSource(poolManager), opts)
	if err != nil {
		return err
	}

	start := time.Now()
	verdict, err := insp.InspectManifest(ctx, manifest, password)
	if err != nil {
		return fmt.Errorf("inspection failed: %w", err)
	}

	return printVerdict(cmd.OutOrStdout(), path, verdict, time.Since(start), flags.jsonOutput)
}

func withTimeout(cmd *cobra.Command, d time.Duration) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func readPassword(prompt io.Writer) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("--ask-password requires an interactive terminal")
	}

	fmt.Fprint(prompt, "Archive password: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}

func printVerdict(w io.Writer, path string, v archive.Verdict, elapsed time.Duration, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	playable := "no"
	if v.Playable() {
		playable = "yes"
	}

	fmt.Fprintf(w, "%s\n", path)
	fmt.Fprintf(w, "  status:    %s\n", v.Status)
	fmt.Fprintf(w, "  playable:  %s\n", playable)
	if d := v.Details; d != nil {
		if d.Name != "" {
			fmt.Fprintf(w, "  entry:     %s\n", d.Name)
		}
		if d.Reason != "" {
			fmt.Fprintf(w, "  reason:    %s\n", d.Reason)
		}
		if d.Method != nil {
			fmt.Fprintf(w, "  method:    0x%x\n", *d.Method)
		}
		if d.Coder != "" {
			fmt.Fprintf(w, "  coder:     %s\n", d.Coder)
		}
		if len(d.SampleEntries) > 0 {
			fmt.Fprintf(w, "  samples:   %s\n", strings.Join(d.SampleEntries, ", "))
		}
		if len(d.MissingSegments) > 0 {
			fmt.Fprintf(w, "  missing:   %s\n", strings.Join(d.MissingSegments, ", "))
		}
		if c := d.Corruption; c != nil {
			fmt.Fprintf(w, "  warning:   %s parts deviate from %d segments (%d of %d, e.g. %s)\n",
				c.Archive, c.ExpectedSegments, c.Deviating, c.Parts, c.SampleFile)
		}
	}
	fmt.Fprintf(w, "  took:      %s\n", elapsed.Round(time.Millisecond))
	return nil
}
