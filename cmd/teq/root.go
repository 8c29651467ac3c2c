package teq

import (
	"fmt"
	"os"

	"github.com/edgeflare/txeventq/pkg/config"
	"github.com/edgeflare/txeventq/pkg/versioninfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var logger = zap.NewNop()

var rootCmd = &cobra.Command{
	Use:   "teq",
	Short: "teq bridges Kafka topics and Oracle Transactional Event Queues",
	Long:  `teq moves Kafka records into TxEventQ queues, tracking offsets in the queue database so a restarted sink resumes where the queue left off`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(versioninfo.Current())
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initLogger, initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/teq.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(sinkCmd)
	rootCmd.AddCommand(offsetsCmd)
}

func initLogger() {
	l, err := newLogger(logLevel)
	if err != nil {
		fmt.Println("Error building logger:", err)
		os.Exit(1)
	}
	logger = l
}

// newLogger builds a production logger at level; "none" discards everything.
func newLogger(level string) (*zap.Logger, error) {
	if level == "none" {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile, logger)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}
