package cmd

import (
	"log/slog"

	"github.com/ardnew/softhub/internal/profile"
)

// ConfigCommand groups profile subcommands.
type ConfigCommand struct {
	Init ConfigInit `cmd:"" help:"Write a hub profile template"`
}

// ConfigInit writes the default profile.
type ConfigInit struct {
	Format string `help:"Output format" enum:"json,yaml,toml" default:"yaml"`
	Output string `help:"Destination file (defaults to hub.<format> in the current directory)" type:"path"`
	Force  bool   `help:"Overwrite if the file already exists"`
}

// Run is called by kong when config init is executed.
func (c *ConfigInit) Run(logger *slog.Logger) error {
	f, err := profile.ParseFormat(c.Format)
	if err != nil {
		return err
	}
	dest := c.Output
	if dest == "" {
		dest = "hub" + f.Ext()
	}
	if err := profile.WriteTemplate(dest, f, c.Force); err != nil {
		return err
	}
	logger.Info("profile template written", "path", dest, "format", string(f))
	return nil
}
