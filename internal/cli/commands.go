package cli

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/Auditware/radar/internal/config"
	"github.com/Auditware/radar/internal/logging"
)

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	logLevel   string
	logFormat  string
}

func AddCommands(root *cobra.Command) {
	g := &globals{}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Config file (default: nearest "+config.FileName+" above the target)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level: trace|debug|info|warn|error")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(newScanCmd(g))
	root.AddCommand(newInitCmd())
	root.AddCommand(newRulesCmd(g))
	root.AddCommand(newASTCmd())
	root.AddCommand(newIRCmd(g))
	root.AddCommand(newHistoryCmd(g))
}

// load resolves the configuration for a scan of target.
func (g *globals) load(target string) (config.Config, string, error) {
	var (
		cfg  config.Config
		path string
		err  error
	)
	if g.configPath != "" {
		path = g.configPath
		cfg, err = config.LoadFile(path)
	} else {
		cfg, path, err = config.Load(searchDir(target))
	}
	if err != nil {
		return cfg, path, err
	}
	if g.logLevel != "" {
		cfg.Logging.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Logging.Format = g.logFormat
	}
	return cfg, path, cfg.Validate()
}

func (g *globals) logger(cfg config.Config, out io.Writer) hclog.Logger {
	return logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		JSON:   strings.EqualFold(cfg.Logging.Format, "json"),
		Output: out,
	})
}

// searchDir is where the config lookup starts for target.
func searchDir(target string) string {
	if target == "" {
		return "."
	}
	if info, err := os.Stat(target); err == nil && !info.IsDir() {
		return filepath.Dir(target)
	}
	return target
}
