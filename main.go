package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"KSIDashboard/src/config"
)

var (
	pidFile   string
	configDir string
)

// 通知运行中的 ksi serve 重新打开日志文件, 配合外部 logrotate 使用
var rootCmd = &cobra.Command{
	Use:          "ksi-reopen",
	Short:        "Send SIGHUP to a running ksi server so it reopens its log file",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolvePidFile(pidFile, configDir)
		if err != nil {
			return err
		}
		pid, err := readPid(path)
		if err != nil {
			return err
		}
		if err := syscall.Kill(pid, syscall.SIGHUP); err != nil {
			return fmt.Errorf("向进程 %d 发送 SIGHUP 失败: %w", pid, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "SIGHUP sent to %d\n", pid)
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVarP(&pidFile, "pid-file", "p", "", "pid 文件, 为空时读取配置中的 pid_file")
	rootCmd.Flags().StringVarP(&configDir, "config-dir", "c", "./config", "配置文件目录")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolvePidFile 优先使用命令行参数, 否则取 config.json 的 pid_file
func resolvePidFile(flagValue, dir string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	cfg, _, err := config.LoadConfig(dir, "config.json", "")
	if err != nil {
		return "", err
	}
	if cfg.PidFile == "" {
		return "", fmt.Errorf("配置中没有 pid_file")
	}
	return cfg.PidFile, nil
}

func readPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("读取pid文件失败: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("pid文件内容无效: %q", strings.TrimSpace(string(data)))
	}
	return pid, nil
}
