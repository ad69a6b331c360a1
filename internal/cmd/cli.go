// Package cmd holds the softhub command line.
package cmd

import (
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/ardnew/softhub/pkg"
)

// CLI is the root command.
type CLI struct {
	Config string    `help:"Command configuration file (json, yaml or toml)" type:"path"`
	Log    LogConfig `embed:"" prefix:"log."`

	Serve      Serve         `cmd:"" help:"Run a virtual hub on a FIFO bus"`
	Descriptor Descriptor    `cmd:"" help:"Print the hub descriptor of a profile in hex"`
	Profile    ConfigCommand `cmd:"" name:"config" help:"Manage hub profiles"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `help:"Log level (trace, debug, info, warn, error)" default:"info"`
	Format string `help:"Log output format; auto picks text on a terminal and JSON otherwise" enum:"auto,text,json" default:"auto"`
}

// Setup configures the shared logger to write to f and returns it.
func (c LogConfig) Setup(f *os.File) (*slog.Logger, error) {
	level, err := pkg.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	pkg.SetLogLevel(level)

	format := pkg.LogFormatText
	switch c.Format {
	case "json":
		format = pkg.LogFormatJSON
	case "auto":
		if !term.IsTerminal(int(f.Fd())) {
			format = pkg.LogFormatJSON
		}
	}
	pkg.SetLogOutput(f, format)
	return pkg.DefaultLogger.With("component", pkg.ComponentCommand), nil
}
