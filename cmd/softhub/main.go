package main

import (
	"os"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"
	kongyaml "github.com/alecthomas/kong-yaml"

	"github.com/ardnew/softhub/internal/cmd"
)

func main() {
	userCfg := cmd.FindUserConfig(os.Args[1:])
	jsonPaths, yamlPaths, tomlPaths := cmd.ConfigCandidatePaths(userCfg)

	var cli cmd.CLI
	ctx := kong.Parse(&cli,
		kong.Name("softhub"),
		kong.Description("Virtual USB hub on a FIFO bus"),
		kong.UsageOnError(),
		// Flags and environment override configuration files.
		kong.Configuration(kong.JSON, jsonPaths...),
		kong.Configuration(kongyaml.Loader, yamlPaths...),
		kong.Configuration(kongtoml.Loader, tomlPaths...),
		kong.DefaultEnvars("SOFTHUB"),
	)

	logger, err := cli.Log.Setup(os.Stderr)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	ctx.Bind(logger)

	err = ctx.Run()
	ctx.FatalIfErrorf(err)
}
