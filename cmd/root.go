/*
Copyright © 2024 thin-edge.io <info@thin-edge.io>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/thin-edge/tedge-mapper/internal/cliconfig"
)

// Build data
var buildVersion string
var buildBranch string

var cliCfg = cliconfig.NewCli()

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "tedge-mapper",
	Short: "Translate thin-edge.io MQTT topics into cloud-specific wire formats",
	Long: `tedge-mapper bridges the local thin-edge.io MQTT topic namespace to a
cloud's own MQTT/HTTP ingestion surface (Cumulocity, Azure IoT or AWS IoT),
tracking entity registration, translating measurements/events/alarms, and
proxying authenticated HTTP calls on the device's behalf.`,
	Version: fmt.Sprintf("%s (branch=%s)", buildVersion, buildBranch),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := cliCfg.GetString("log_level")
		if cmd.Flags().Changed("log-level") {
			level, _ = cmd.Flags().GetString("log-level")
		}
		return setLogLevel(level)
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(); it only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setLogLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug":
		slog.SetLogLoggerLevel(slog.LevelDebug)
	case "warn":
		slog.SetLogLoggerLevel(slog.LevelWarn)
	case "error":
		slog.SetLogLoggerLevel(slog.LevelError)
	default:
		slog.SetLogLoggerLevel(slog.LevelInfo)
	}
	return nil
}

func init() {
	cobra.OnInitialize(cliCfg.OnInit)
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	rootCmd.PersistentFlags().StringVarP(&cliCfg.ConfigFile, "config", "c", "", "Configuration file (yaml or toml)")
}
