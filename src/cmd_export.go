package main

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"KSIDashboard/src/datasource/email"
	"KSIDashboard/src/processor"
	"KSIDashboard/src/render"
	"KSIDashboard/src/utils"
)

const exportSheet = "KSI"

var (
	exportOut string
	chartOut  string
	chartYear int
)

// 测试中替换, 避免真实发送
var sendReport = email.SendReport

var exportCmd = &cobra.Command{
	Use:   "export <neighbourhoods|years|hours> <value>",
	Short: "Write the filtered collisions to an xlsx workbook",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport,
}

var chartCmd = &cobra.Command{
	Use:   "chart <aggregate>",
	Short: "Render a fixed aggregate table as PNG",
	Args:  cobra.ExactArgs(1),
	RunE:  runChart,
}

var reportCmd = &cobra.Command{
	Use:   "report <neighbourhoods|years|hours> <value>",
	Short: "Mail the filtered collisions as an xlsx attachment",
	Args:  cobra.ExactArgs(2),
	RunE:  runReport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "输出文件, 默认 ksi_<kind>_<value>.xlsx")
	chartCmd.Flags().StringVarP(&chartOut, "output", "o", "", "输出文件, 默认 <aggregate>.png")
	chartCmd.Flags().IntVar(&chartYear, "year", 0, "ksi_age_by_year 的年份")
}

// parseSelector 解析 <kind> <value> 两个参数
func parseSelector(args []string) (processor.Kind, int, error) {
	kind, err := processor.ParseKind(args[0])
	if err != nil {
		return "", 0, err
	}
	value, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("invalid %s value %q", kind, args[1])
	}
	return kind, value, nil
}

// selectView 加载数据并按参数筛选
func (a *app) selectView(args []string) (*processor.FilterView, error) {
	kind, value, err := parseSelector(args)
	if err != nil {
		return nil, err
	}
	t, err := a.load()
	if err != nil {
		return nil, err
	}
	return processor.Filter(t, kind, value)
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.close()

	view, err := a.selectView(args)
	if err != nil {
		return err
	}

	out := exportOut
	if out == "" {
		out = fmt.Sprintf("ksi_%s_%d.xlsx", view.Kind, view.Value)
	}
	if err := utils.SaveToExcel(view.Frame(), exportSheet, out); err != nil {
		return err
	}
	a.logger.Info("导出完成", zap.String("kind", string(view.Kind)), zap.Int("value", view.Value), zap.Int("rows", view.Len()), zap.String("file", out))
	fmt.Fprintf(cmd.OutOrStdout(), "%d rows written to %s\n", view.Len(), out)
	return nil
}

func runChart(cmd *cobra.Command, args []string) error {
	catalog, err := processor.LoadCatalog()
	if err != nil {
		return err
	}

	name := args[0]
	var agg processor.Aggregate
	if chartYear != 0 {
		if name != processor.AggKSIAgeByYear {
			return fmt.Errorf("--year only applies to %s", processor.AggKSIAgeByYear)
		}
		agg, err = catalog.AgeGroupsFor(chartYear)
	} else {
		agg, err = catalog.Get(name)
	}
	if err != nil {
		return err
	}
	if agg.ByYear != nil {
		return fmt.Errorf("--year is required for %s", name)
	}

	out := chartOut
	if out == "" {
		out = name + ".png"
		if chartYear != 0 {
			out = fmt.Sprintf("%s_%d.png", name, chartYear)
		}
	}

	var buf bytes.Buffer
	if err := render.Render(agg, &buf); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("写入图片失败: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chart written to %s\n", out)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp(nil)
	if err != nil {
		return err
	}
	defer a.close()

	view, err := a.selectView(args)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := utils.WriteExcel(view.Frame(), exportSheet, &buf); err != nil {
		return err
	}

	report := email.Report{
		Title:    fmt.Sprintf("%s %d", view.Kind, view.Value),
		Body:     email.ReportBody(string(view.Kind), view.Value, view.Len(), time.Now()),
		Filename: fmt.Sprintf("ksi_%s_%d.xlsx", view.Kind, view.Value),
		Workbook: buf.Bytes(),
	}
	if err := sendReport(a.cfg, report); err != nil {
		a.logger.Error("报告发送失败", zap.Error(err))
		return err
	}
	a.logger.Info("报告已发送", zap.Strings("to", a.cfg.SendEmail.To), zap.Int("rows", view.Len()))
	fmt.Fprintf(cmd.OutOrStdout(), "report with %d rows sent to %v\n", view.Len(), a.cfg.SendEmail.To)
	return nil
}
