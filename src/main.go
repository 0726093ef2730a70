package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"KSIDashboard/src/config"
	"KSIDashboard/src/dataset"
	"KSIDashboard/src/datasource/file"
	"KSIDashboard/src/metrics"
	"KSIDashboard/src/storage"
)

var (
	configDir      string
	configFile     string
	dataConfigFile string
	maxRowsFlag    int
)

var rootCmd = &cobra.Command{
	Use:   "ksi",
	Short: "Toronto KSI collision dashboard backend",
	Long: `ksi loads the Toronto "Killed or Seriously Injured" collision dataset once
and serves neighbourhood, year and hour filters, the fixed aggregate tables and
their charts over HTTP. The export, chart and report commands run the same
queries from the command line.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config-dir", "c", "./config", "配置文件目录")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "config.json", "应用配置文件(.json/.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataConfigFile, "data-config", "dataconfig.json", "数据列映射文件, 为空使用默认列名")
	rootCmd.PersistentFlags().IntVar(&maxRowsFlag, "max-rows", 0, "读取的最大行数, 0 使用配置值")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(chartCmd)
	rootCmd.AddCommand(reportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app 各命令共用的依赖, 由 newApp 统一构造
type app struct {
	cfg     *config.Config
	dcfg    *config.DataConfig
	logger  *storage.Logger
	cache   *dataset.Cache
	metrics *metrics.Collector
}

func newApp(m *metrics.Collector) (*app, error) {
	cfg, dcfg, err := config.LoadConfig(configDir, configFile, dataConfigFile)
	if err != nil {
		return nil, err
	}
	if maxRowsFlag > 0 {
		cfg.MaxRows = maxRowsFlag
	}

	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	source := file.NewSource(cfg)
	a := &app{
		cfg:     cfg,
		dcfg:    dcfg,
		logger:  logger,
		cache:   dataset.NewCache(source, dataset.ColumnsFrom(dcfg), logger, m),
		metrics: m,
	}
	logger.Info("配置已加载",
		zap.String("source", cfg.SourcePath()),
		zap.Int("max_rows", cfg.MaxRows),
		zap.Any("columns", dataset.ColumnsFrom(dcfg)),
	)
	return a, nil
}

// load 加载数据表; 数据不可用时记录 FATAL 并返回错误
func (a *app) load() (*dataset.Table, error) {
	t, err := a.cache.Load(a.cfg.MaxRows)
	if err != nil {
		a.logger.Fatal("数据加载失败", zap.String("source", a.cfg.SourcePath()), zap.Error(err))
		return nil, err
	}
	return t, nil
}

func (a *app) close() {
	a.logger.Sync()
	a.logger.Close()
}
