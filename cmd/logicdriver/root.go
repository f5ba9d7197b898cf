package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/anggasct/logicdriver/pkg/definition"
	"github.com/anggasct/logicdriver/pkg/logger"
)

type rootOptions struct {
	logLevel  string
	logFormat string
	stderr    io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stderr: stderr}
	cmd := &cobra.Command{
		Use:           "logicdriver",
		Short:         "work with hierarchical state machine definitions",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", string(logger.FormatText), "log format (text, json)")

	cmd.AddCommand(
		newValidateCmd(),
		newDotCmd(),
		newRunCmd(opts),
	)
	return cmd
}

func (o *rootOptions) logger() (*slog.Logger, error) {
	level, err := logger.ParseLevel(o.logLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	format := logger.Format(o.logFormat)
	if format != logger.FormatText && format != logger.FormatJSON {
		return nil, fmt.Errorf("invalid --log-format %q", o.logFormat)
	}
	return logger.New(
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithOutput(o.stderr),
		logger.WithAttr(logger.Component("cli")),
	), nil
}

// loadMachine loads the library at path and picks the named machine, or
// the first one.
func loadMachine(path, machine string) (*definition.Library, *definition.Definition, error) {
	lib, err := definition.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if machine == "" {
		def := lib.First()
		if def == nil {
			return nil, nil, fmt.Errorf("%s: no machines defined", path)
		}
		return lib, def, nil
	}
	def, err := lib.Get(machine)
	if err != nil {
		return nil, nil, err
	}
	return lib, def, nil
}
