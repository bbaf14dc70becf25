package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/denniswebb/natgate/internal/logging"
)

var (
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "natgate",
	Short: "HTTP control API for iptables port forwarding",
	Long: `natgate exposes a small HTTP API that maps ports on a public IP address to inner hosts.
Each route becomes a DNAT rule in nat/PREROUTING plus a pair of ACCEPT rules in FORWARD, added and removed as routes come and go.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		viper.SetEnvPrefix("NATGATE")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()

		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
			if err := viper.ReadInConfig(); err != nil {
				return fmt.Errorf("failed to read config file: %w", err)
			}
		}

		logging.InitLogger(viper.GetString("log-level"), "natgate", logging.FileOptions{
			Path:       viper.GetString("log-file"),
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		})
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this file, rotated by size")

	for _, name := range []string{"log-level", "log-file"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.AddCommand(ServeCmd)
	rootCmd.AddCommand(RenderCmd)
}
