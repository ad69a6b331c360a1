package cmd

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EnvConfig names the configuration file when --config is absent.
const EnvConfig = "SOFTHUB_CONFIG"

// FindUserConfig returns the --config argument or $SOFTHUB_CONFIG.
func FindUserConfig(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return os.Getenv(EnvConfig)
}

// DefaultConfigDir returns the per-user configuration directory.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "softhub")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "softhub")
	}
	return ""
}

// ConfigCandidatePaths lists the configuration files tried per format, most
// specific first. A user path goes to the loader matching its extension.
func ConfigCandidatePaths(userPath string) (jsonPaths, yamlPaths, tomlPaths []string) {
	if userPath != "" {
		switch filepath.Ext(userPath) {
		case ".yaml", ".yml":
			yamlPaths = append(yamlPaths, userPath)
		case ".toml":
			tomlPaths = append(tomlPaths, userPath)
		default:
			jsonPaths = append(jsonPaths, userPath)
		}
	}

	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if dir := DefaultConfigDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	if runtime.GOOS != "windows" {
		dirs = append(dirs, "/etc/softhub")
	}
	for _, dir := range dirs {
		base := filepath.Join(dir, "softhub")
		jsonPaths = append(jsonPaths, base+".json")
		yamlPaths = append(yamlPaths, base+".yaml", base+".yml")
		tomlPaths = append(tomlPaths, base+".toml")
	}
	return jsonPaths, yamlPaths, tomlPaths
}
