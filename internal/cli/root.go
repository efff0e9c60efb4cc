// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pdfsign.
//
// go-pdfsign is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package cli implements the pdfsign command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-pdfsign/internal/config"
	"github.com/jeremyhahn/go-pdfsign/pkg/backend/delegated"
	"github.com/jeremyhahn/go-pdfsign/pkg/logging"
	"github.com/jeremyhahn/go-pdfsign/pkg/metrics"
	"github.com/jeremyhahn/go-pdfsign/pkg/pin"
	"github.com/jeremyhahn/go-pdfsign/pkg/pkcs11"
	"github.com/jeremyhahn/go-pdfsign/pkg/settings"
	"github.com/jeremyhahn/go-pdfsign/pkg/signature"
	"github.com/jeremyhahn/go-pdfsign/pkg/types"
)

// BackendFactory builds the signing backend from its configuration.
type BackendFactory func(cfg *signature.BackendConfig) (types.Backend, error)

// app carries the state shared by all commands of one invocation.
type app struct {
	v          *viper.Viper
	cfg        *config.Config
	logger     *logging.Logger
	settings   *settings.Store
	locator    *pkcs11.Locator
	newBackend BackendFactory
	stdin      io.Reader
}

// Option configures the command tree.
type Option func(*app)

// WithBackendFactory replaces signature.NewBackend.
func WithBackendFactory(f BackendFactory) Option {
	return func(a *app) { a.newBackend = f }
}

// WithLocator replaces PKCS#11 library discovery.
func WithLocator(l *pkcs11.Locator) Option {
	return func(a *app) { a.locator = l }
}

// WithStdin replaces the reader used by --pin-stdin.
func WithStdin(r io.Reader) Option {
	return func(a *app) { a.stdin = r }
}

// Execute runs the root command and reports a failure with ReportError.
// ctx is cancelled on interrupt.
func Execute(ctx context.Context, opts ...Option) error {
	cmd := NewRootCmd(opts...)
	err := cmd.ExecuteContext(ctx)
	if err != nil {
		ReportError(cmd, err)
	}
	return err
}

// ReportError prints err in the output format selected for cmd. JSON goes
// to stdout with the error kind; other formats print to stderr.
func ReportError(cmd *cobra.Command, err error) {
	format := os.Getenv("PDFSIGN_OUTPUT")
	if f := cmd.PersistentFlags().Lookup("output"); f != nil && (f.Changed || format == "") {
		format = f.Value.String()
	}
	w := cmd.ErrOrStderr()
	if OutputFormat(format) == OutputFormatJSON {
		w = cmd.OutOrStdout()
	}
	_ = NewPrinter(format, w).PrintError(err)
}

// NewRootCmd returns the pdfsign command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	a := &app{
		v:          viper.New(),
		newBackend: signature.NewBackend,
		locator:    pkcs11.NewLocator(),
		stdin:      os.Stdin,
	}
	for _, opt := range opts {
		opt(a)
	}

	rootCmd := &cobra.Command{
		Use:   "pdfsign",
		Short: "pdfsign - Sign PDF documents with a PKCS#11 smart card",
		Long: `pdfsign signs PDF documents with the signing certificate of a
PKCS#11 smart card such as a LuxTrust card or token.

Supported backends:
  - native:    in-process PKCS#11 signing
  - delegated: the LuxTrust Java signing helper`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.finish()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (YAML)")
	flags.String("backend", "", "signing backend (native, delegated)")
	flags.String("library", "", "PKCS#11 library path")
	flags.StringP("output", "o", "text", "output format (text, json, table)")
	flags.BoolP("verbose", "v", false, "verbose output")

	for _, name := range []string{"config", "backend", "library", "output", "verbose"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}
	_ = a.v.BindEnv("config", "PDFSIGN_CONFIG")
	_ = a.v.BindEnv("output", "PDFSIGN_OUTPUT")
	_ = a.v.BindEnv("pin", "PDFSIGN_PIN")

	rootCmd.AddCommand(
		newVersionCmd(a),
		newLibraryCmd(a),
		newTokensCmd(a),
		newCertsCmd(a),
		newTestPINCmd(a),
		newSignCmd(a),
		newPlaceCmd(a),
	)
	return rootCmd
}

// load reads the configuration, applies flag overrides and sets up
// logging, metrics and the settings store.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.v.GetString("config"))
	if err != nil {
		return err
	}
	if backend := a.v.GetString("backend"); backend != "" {
		cfg.Backend = backend
	}
	if library := a.v.GetString("library"); library != "" {
		cfg.PKCS11.Library = library
	}
	if a.v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	a.logger = logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: logging.Format(cfg.Logging.Format),
		Writer: cmd.ErrOrStderr(),
	})

	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	if cfg.Settings.Enabled {
		store, err := settings.Open(cfg.Settings.Path, a.logger)
		if err != nil {
			a.logger.Warn("settings unavailable", "error", err)
		} else {
			a.settings = store
		}
	}
	return nil
}

// finish flushes metrics and closes the settings store.
func (a *app) finish() error {
	if a.settings != nil {
		_ = a.settings.Close()
	}
	if a.cfg != nil && a.cfg.Metrics.Textfile != "" && metrics.IsEnabled() {
		if err := metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

// printer returns a Printer for the selected output format.
func (a *app) printer(cmd *cobra.Command) *Printer {
	return NewPrinter(a.v.GetString("output"), cmd.OutOrStdout())
}

// library returns the configured library, falling back to the one saved
// in the settings.
func (a *app) library() string {
	if a.cfg.PKCS11.Library != "" {
		return a.cfg.PKCS11.Library
	}
	if a.settings != nil {
		return a.settings.Library()
	}
	return ""
}

// orchestrator builds the configured backend and an orchestrator over it.
func (a *app) orchestrator() (*signature.Orchestrator, error) {
	bc := &signature.BackendConfig{
		Type:    a.cfg.BackendType(),
		Library: a.library(),
		Delegated: delegated.Config{
			Java:    a.cfg.Delegated.Runtime,
			Jar:     a.cfg.Delegated.Artifact,
			Timeout: a.cfg.Delegated.Timeout,
			TempDir: a.cfg.Delegated.TempDir,
		},
		Locator: a.locator,
		Logger:  a.logger,
	}
	backend, err := a.newBackend(bc)
	if err != nil {
		return nil, err
	}
	tracker := pin.NewTracker(&pin.TrackerConfig{
		MaxAttempts: a.cfg.PIN.MaxAttempts,
		MinInterval: a.cfg.PIN.MinInterval,
	})
	return signature.New(backend,
		signature.WithLogger(a.logger),
		signature.WithTracker(tracker),
		signature.WithTSAURL(a.cfg.Signing.TSAURL),
	)
}

// addPINFlags registers the PIN and slot flags shared by token commands.
func addPINFlags(cmd *cobra.Command) {
	cmd.Flags().Uint("slot", 0, "PKCS#11 slot")
	cmd.Flags().String("pin", "", "token PIN (or set PDFSIGN_PIN)")
	cmd.Flags().Bool("pin-stdin", false, "read the PIN from standard input, one attempt per line")
}

// slot returns --slot when given, otherwise the configured slot.
func (a *app) slot(cmd *cobra.Command) uint {
	if cmd.Flags().Changed("slot") {
		s, _ := cmd.Flags().GetUint("slot")
		return s
	}
	return a.cfg.PKCS11.Slot
}

// acquirePIN returns the PIN from --pin or PDFSIGN_PIN. With --pin-stdin
// each line read is tried against the token until one unlocks it or the
// attempt budget is spent.
func (a *app) acquirePIN(ctx context.Context, cmd *cobra.Command, o *signature.Orchestrator, slot uint) (*pin.Value, error) {
	value, _ := cmd.Flags().GetString("pin")
	if value == "" {
		value = a.v.GetString("pin")
	}
	if value != "" {
		return pin.FromString(value)
	}

	fromStdin, _ := cmd.Flags().GetBool("pin-stdin")
	if !fromStdin {
		return nil, fmt.Errorf("%w: a PIN is required (--pin, PDFSIGN_PIN or --pin-stdin)", types.ErrInvalidRequest)
	}
	prompter := newLinePrompter(a.stdin, cmd.ErrOrStderr())
	verify := func(ctx context.Context, code string) error {
		_, err := o.Backend().ListCertificates(ctx, slot, code)
		return err
	}
	return pin.Unlock(ctx, o.Tracker(), prompter, verify)
}
