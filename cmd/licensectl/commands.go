package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"licensecore/internal/app"
	"licensecore/internal/config"
	"licensecore/internal/entitlement"
	apierrors "licensecore/internal/errors"
	"licensecore/internal/events"
	"licensecore/internal/features"
)

// engineOptions are applied to every application the commands build
var engineOptions []app.Option

type rootOptions struct {
	configFile string
	jsonOutput bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "licensectl",
		Short: "Synergy license engine",
		Long: `licensectl runs the Synergy license engine and its local bridge API,
and manages the serial key and activation state from the command line.

Run 'licensectl serve' to start the bridge API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configFile != "" {
				return os.Setenv(config.EnvPrefix+"_CONFIG_FILE", opts.configFile)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print machine readable JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServeCmd(),
		newStatusCmd(opts),
		newSetKeyCmd(opts),
		newActivateCmd(opts),
		newFeaturesCmd(opts),
	)

	return rootCmd
}

// openEngine builds the application without serving it. Logs go to stderr
// so command output stays parseable.
func openEngine(cmd *cobra.Command) (*app.Application, error) {
	opts := append([]app.Option{app.WithConsole(cmd.ErrOrStderr())}, engineOptions...)
	a, err := app.NewApplication(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("start license engine: %w", err)
	}
	return a, nil
}

func closeEngine(a *app.Application) {
	_ = a.Stop(context.Background())
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "licensectl %s\n", Version)
			fmt.Fprintf(out, "  App version: %s\n", config.AppVersion)
			fmt.Fprintf(out, "  Commit:      %s\n", Commit)
			fmt.Fprintf(out, "  Built:       %s\n", BuildDate)
			fmt.Fprintf(out, "  Go version:  %s\n", runtime.Version())
			fmt.Fprintf(out, "  OS/Arch:     %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the license engine and the local bridge API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApplication(nil)
			if err != nil {
				return err
			}
			return a.Run()
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current license state",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine(a)

			status := a.Manager.Status()
			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
}

func printStatus(out io.Writer, s entitlement.Status) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "State:\t%s\n", s.State)
	if !s.Enabled {
		fmt.Fprintln(tw, "Licensing:\tdisabled")
		_ = tw.Flush()
		return
	}
	if s.ProductName != "" {
		fmt.Fprintf(tw, "Product:\t%s\n", s.ProductName)
	}
	if s.SerialKeyMasked != "" {
		fmt.Fprintf(tw, "Serial key:\t%s\n", s.SerialKeyMasked)
	}
	fmt.Fprintf(tw, "Activated:\t%v\n", s.Activated)
	if s.Offline {
		fmt.Fprintln(tw, "Offline:\ttrue")
	}
	if s.ExpireTime != nil {
		fmt.Fprintf(tw, "Expires:\t%s (%d days left)\n", s.ExpireTime.Local().Format(time.RFC1123), s.DaysLeft)
	}
	if s.Notice != "" {
		fmt.Fprintf(tw, "Notice:\t%s\n", s.Notice)
	}
	fmt.Fprintf(tw, "Settings:\t%s\n", s.SettingsLocation)
	_ = tw.Flush()
}

func newSetKeyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-key [serial-key]",
		Short: "Enter a serial key",
		Long: `Enter a serial key. Without an argument the key from
SYNERGY_TEST_SERIAL_KEY is used.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine(a)

			key := a.Config.Test.SerialKey
			if len(args) == 1 {
				key = args[0]
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("serial key is required")
			}
			if !a.Manager.IsEnabled() {
				return apierrors.ErrEngineDisabled
			}

			result := a.Manager.ChangeSerialKey(cmd.Context(), key)
			if opts.jsonOutput {
				if err := writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"result":  result.String(),
					"message": result.Message(),
					"status":  a.Manager.Status(),
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), result.Message())
			}

			if err := apierrors.SetResultError(result); err != nil {
				return fmt.Errorf("serial key not accepted: %w", err)
			}
			return nil
		},
	}
	return cmd
}

func newActivateCmd(opts *rootOptions) *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate the current serial key with the license server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine(a)

			if wait <= 0 {
				wait = a.Config.Activation.Timeout + 5*time.Second
			}
			return runActivate(cmd, a, wait, opts.jsonOutput)
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 0, "How long to wait for the server (default: activation timeout + 5s)")
	return cmd
}

func runActivate(cmd *cobra.Command, a *app.Application, wait time.Duration, jsonOutput bool) error {
	out := cmd.OutOrStdout()

	// subscribe first so the outcome cannot be missed
	ch, unsubscribe := a.Manager.Events().Channel(8)
	defer unsubscribe()

	result := a.Manager.RequestActivation(cmd.Context())
	switch result {
	case entitlement.ActivationNotRequired:
		fmt.Fprintln(out, "Activation not required.")
		return nil
	case entitlement.ActivationSkipped:
		return apierrors.ErrActivatorBusy
	case entitlement.ActivationInvalidLicense:
		return fmt.Errorf("no valid serial key to activate: %w", apierrors.ErrLicenseInvalid)
	case entitlement.ActivationNotWritable:
		return fmt.Errorf("activation state cannot be saved: %w", apierrors.ErrSettingsNotWritable)
	}

	fmt.Fprintln(cmd.ErrOrStderr(), "Activating...")
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return errors.New("event stream closed before activation finished")
			}
			switch e.Type {
			case events.ActivationSucceeded:
				if jsonOutput {
					return writeJSON(out, a.Manager.Status())
				}
				fmt.Fprintln(out, "Activation succeeded.")
				return nil
			case events.ActivationFailed:
				return fmt.Errorf("activation failed: %s", e.Message)
			}
		case <-timer.C:
			return fmt.Errorf("no answer from the activation server after %s", wait)
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}
}

func newFeaturesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List license gated features",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer closeEngine(a)

			type row struct {
				Name           features.Feature `json:"name"`
				Available      bool             `json:"available"`
				UpgradeMessage string           `json:"upgradeMessage,omitempty"`
			}
			lic := a.Manager.License()
			rows := make([]row, 0, len(features.All))
			for _, f := range features.All {
				r := row{Name: f, Available: !a.Manager.IsEnabled() || features.Available(lic, f)}
				if !r.Available {
					r.UpgradeMessage = features.UpgradeMessage(f)
				}
				rows = append(rows, r)
			}

			if opts.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), rows)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FEATURE\tAVAILABLE\tNOTE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%v\t%s\n", r.Name, r.Available, r.UpgradeMessage)
			}
			return tw.Flush()
		},
	}
}
