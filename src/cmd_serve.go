package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"KSIDashboard/src/datasource/email"
	"KSIDashboard/src/datasource/file"
	"KSIDashboard/src/metrics"
	"KSIDashboard/src/processor"
	"KSIDashboard/src/server"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Load the dataset and serve the dashboard API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	a, err := newApp(m)
	if err != nil {
		return err
	}
	defer a.close()

	// 启动时加载一次, 失败直接退出
	t, err := a.load()
	if err != nil {
		return err
	}
	a.logger.Info("数据已就绪", zap.Int("records", t.Len()))

	catalog, err := processor.LoadCatalog()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	c, err := a.scheduleJobs()
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	if a.cfg.WatchSource {
		if err := a.watchSource(ctx); err != nil {
			return err
		}
	}

	if a.cfg.PidFile != "" {
		if err := os.WriteFile(a.cfg.PidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
			return fmt.Errorf("写入pid文件失败: %w", err)
		}
		defer os.Remove(a.cfg.PidFile)
	}

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           server.CreateRouter(server.NewHandler(a.cache, a.cfg.MaxRows, catalog, a.logger, m)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()
	a.logger.Info("HTTP 服务已启动", zap.String("listen", a.cfg.Listen))

	return a.waitForShutdown(srv, serveErr)
}

// scheduleJobs 注册日志轮转和邮箱轮询任务
func (a *app) scheduleJobs() (*cron.Cron, error) {
	c := cron.New()

	rotateSpec := "@every " + a.cfg.LogCheckInterval.String()
	err := c.AddFunc(rotateSpec, func() {
		if err := a.logger.CheckRotate(a.cfg); err != nil {
			a.logger.Error("日志轮转失败", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("创建日志轮转任务失败: %w", err)
	}

	if a.cfg.Email.Enabled {
		client := email.NewEmailClient(a.cfg.Email.Server, a.cfg.Email.Username, a.cfg.Email.Password, a.logger)
		handler := email.NewAttachmentHandler(a.cfg.Email.TargetSubject, a.cfg.DataDir, a.cfg.Email.SaveAs, a.logger)

		mailSpec := "@every " + a.cfg.Email.CheckInterval.String()
		err := c.AddFunc(mailSpec, func() { a.pollMail(client, handler) })
		if err != nil {
			return nil, fmt.Errorf("创建邮件检查任务失败: %w", err)
		}
		a.logger.Info("邮件监控已启用", zap.String("interval", mailSpec), zap.String("subject", a.cfg.Email.TargetSubject))
	}
	return c, nil
}

// pollMail 拉取目标邮件并保存数据集附件; 数据源被覆盖且未开启文件监控时主动失效缓存
func (a *app) pollMail(svc email.MailService, handler email.EmailHandler) {
	target, err := email.CheckAndProcessEmails(svc, a.cfg.Email.TargetSubject, a.logger)
	if err != nil {
		a.logger.Error("检查邮件失败", zap.Error(err))
		a.metrics.ObserveMailPoll(0, err)
		return
	}

	saved, err := handler.Handle(target)
	a.metrics.ObserveMailPoll(len(saved), err)
	if err != nil {
		a.logger.Error("处理邮件附件失败", zap.Error(err))
	}

	if a.cfg.WatchSource {
		return
	}
	source, _ := filepath.Abs(a.cfg.SourcePath())
	for _, p := range saved {
		if abs, _ := filepath.Abs(p); abs == source {
			a.cache.Invalidate()
			return
		}
	}
}

// watchSource 数据文件变化时失效缓存并预热新表
func (a *app) watchSource(ctx context.Context) error {
	monitor, err := file.NewFileMonitor(a.cfg.SourcePath())
	if err != nil {
		return fmt.Errorf("创建文件监控失败: %w", err)
	}

	go func() {
		defer monitor.Close()
		err := monitor.Watch(ctx, func(path string) {
			a.logger.Info("数据文件已更新", zap.String("path", path))
			a.cache.Invalidate()
			if _, err := a.cache.Load(a.cfg.MaxRows); err != nil {
				a.logger.Error("重新加载数据失败, 保留旧表的请求不受影响", zap.Error(err))
			}
		})
		if err != nil {
			a.logger.Error("文件监控退出", zap.Error(err))
		}
	}()
	a.logger.Info("文件监控已启动", zap.String("path", a.cfg.SourcePath()))
	return nil
}

// waitForShutdown SIGHUP 重新打开日志文件, SIGINT/SIGTERM 优雅退出
func (a *app) waitForShutdown(srv *http.Server, serveErr <-chan error) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			a.logger.Error("HTTP 服务异常退出", zap.Error(err))
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				if err := a.logger.Reopen(""); err != nil {
					a.logger.Error("重新打开日志失败", zap.Error(err))
				} else {
					a.logger.Info("日志文件已重新打开")
				}
				continue
			}

			a.logger.Info("收到信号, 正在关闭...", zap.String("signal", sig.String()))
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			err := srv.Shutdown(ctx)
			cancel()
			return err
		}
	}
}
