package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/mergesub/internal/config"
)

// cli holds the flags shared by every subcommand.
type cli struct {
	verbose    bool
	configPath string

	listen            string
	dbPath            string
	requestTimeout    time.Duration
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	return (&cli{}).rootCmd()
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mergesub",
		Short: "合并多个订阅与手动节点，输出 base64 订阅",
		Long: `mergesub serves one merged subscription built from a list of remote
subscription URLs plus manually added proxy nodes.

Run without a subcommand to start the HTTP server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			zc := zap.NewProductionConfig()
			if c.verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	f := root.PersistentFlags()
	f.BoolVarP(&c.verbose, "verbose", "v", false, "输出 debug 日志")
	f.StringVarP(&c.configPath, "config", "c", "", "YAML 配置文件路径")
	f.StringVar(&c.listen, "listen", "", "HTTP 监听地址（覆盖配置）")
	f.StringVar(&c.dbPath, "db", "", "SQLite 数据文件（覆盖配置，空则仅内存）")
	f.DurationVar(&c.requestTimeout, "request-timeout", 0, "单个订阅的拉取超时（覆盖配置）")
	f.DurationVar(&c.readHeaderTimeout, "read-header-timeout", 0, "HTTP ReadHeaderTimeout（覆盖配置）")
	f.DurationVar(&c.shutdownTimeout, "shutdown-timeout", 0, "收到退出信号后的优雅退出等待时间（覆盖配置）")

	serve := newServeCmd(c)
	root.RunE = serve.RunE
	root.AddCommand(serve, newMergeCmd(c), newHealthcheckCmd(c))
	return root
}

// loadConfig resolves file, environment and then flag values.
func (c *cli) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(c.configPath, os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = c.listen
	}
	if flags.Changed("db") {
		cfg.DBPath = c.dbPath
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeoutMs = int(c.requestTimeout / time.Millisecond)
	}
	if flags.Changed("read-header-timeout") {
		cfg.ReadHeaderTimeout = c.readHeaderTimeout
	}
	if flags.Changed("shutdown-timeout") {
		cfg.ShutdownTimeout = c.shutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
