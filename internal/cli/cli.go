// Package cli implements the solarprep command-line interface.
//
// The turbulence command degrades a folder of solar frames into training
// data. The remaining commands are the dataset chores around it: masking,
// blow-out screening, cropping, conversion, pairing and ffmpeg lists.
// Every command takes --verbose (-v) and --config (a TOML file).
package cli

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dunamismax/solarprep/internal/config"
)

const appName = "solarprep"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	cfg        config.Config
}

func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		cfg:    config.Load(),
	}
}

func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          appName,
		Short:        "Prepare solar timelapse frames for training",
		Long:         `solarprep turns folders of solar timelapse frames into training data: it cleans and screens the frames, then emulates atmospheric turbulence on them and cuts the result into tiles.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Resolve(c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			cmd.SetContext(withLogger(contextOf(cmd), c.Logger))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "TOML config file (default $SOLARPREP_CONFIG)")

	root.AddCommand(c.turbulenceCommand())
	root.AddCommand(c.enqueueCommand())
	root.AddCommand(c.maskCornersCommand())
	root.AddCommand(c.blowoutCommand())
	root.AddCommand(c.cropCommand())
	root.AddCommand(c.grayToRGBCommand())
	root.AddCommand(c.pairCommand())
	root.AddCommand(c.pngToJPEGCommand())
	root.AddCommand(c.ffmpegListCommand())

	return root
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
