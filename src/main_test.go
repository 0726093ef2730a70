package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"KSIDashboard/src/config"
	"KSIDashboard/src/dataset"
	"KSIDashboard/src/datasource/email"
	"KSIDashboard/src/metrics"
)

const ksiCSV = `INDEX,LATITUDE,LONGITUDE,INVAGE,HOOD_174,YEAR,HOUR,STREET1
1,43.65,-79.38,20 to 24,77,2019,17,YONGE ST
2,43.66,-79.39,25 to 29,1,2020,8,BAY ST
3,43.67,-79.40,30 to 34,NSA,2020,23,KING ST
4,,-79.41,35 to 39,77,2021,23,QUEEN ST
`

// setupConfig 在临时目录写入配置和数据文件, 并指向包级 flag
func setupConfig(t *testing.T, csv string, mutate func(map[string]any)) string {
	t.Helper()
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(dataDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "KSI.csv"), []byte(csv), 0644))

	cfg := map[string]any{
		"data_dir":    dataDir,
		"source_file": "KSI.csv",
		"max_rows":    100,
		"log_name":    filepath.Join(dir, "app.log"),
		"send_email": map[string]any{
			"server":   "smtp.example.org",
			"username": "ksi@example.org",
			"to":       []string{"ops@example.org"},
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0644))

	oldDir, oldFile, oldData, oldMax := configDir, configFile, dataConfigFile, maxRowsFlag
	t.Cleanup(func() {
		configDir, configFile, dataConfigFile, maxRowsFlag = oldDir, oldFile, oldData, oldMax
		exportOut, chartOut, chartYear = "", "", 0
	})
	configDir, configFile, dataConfigFile, maxRowsFlag = dir, "config.json", "", 0
	return dir
}

func TestNewAppBadConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{"), 0644))
	old := configDir
	defer func() { configDir = old }()
	configDir, configFile, dataConfigFile = dir, "config.json", ""

	_, err := newApp(nil)
	require.Error(t, err)
}

func TestNewAppMaxRowsOverride(t *testing.T) {
	setupConfig(t, ksiCSV, nil)
	maxRowsFlag = 2

	a, err := newApp(nil)
	require.NoError(t, err)
	defer a.close()

	tbl, err := a.load()
	require.NoError(t, err)
	assert.Equal(t, 2, a.cfg.MaxRows)
	assert.Equal(t, 2, tbl.Stats().Read)
}

func TestLoadMissingColumn(t *testing.T) {
	setupConfig(t, "INDEX,LATITUDE,LONGITUDE,YEAR,HOUR\n1,43.6,-79.3,2020,8\n", nil)

	a, err := newApp(nil)
	require.NoError(t, err)
	defer a.close()

	_, err = a.load()
	require.Error(t, err)
	assert.ErrorIs(t, err, dataset.ErrDataUnavailable)

	logData, err := os.ReadFile(a.cfg.LogName)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "数据加载失败")
}

func TestExportCommand(t *testing.T) {
	dir := setupConfig(t, ksiCSV, nil)
	exportOut = filepath.Join(dir, "out.xlsx")

	var out bytes.Buffer
	exportCmd.SetOut(&out)
	require.NoError(t, runExport(exportCmd, []string{"years", "2020"}))
	assert.Contains(t, out.String(), "2 rows written")

	f, err := excelize.OpenFile(exportOut)
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0], "INDEX")
}

func TestExportCommandBadSelector(t *testing.T) {
	setupConfig(t, ksiCSV, nil)

	assert.Error(t, runExport(exportCmd, []string{"streets", "1"}))
	assert.Error(t, runExport(exportCmd, []string{"years", "twenty"}))
}

func TestChartCommand(t *testing.T) {
	dir := t.TempDir()
	defer func() { chartOut, chartYear = "", 0 }()

	chartOut = filepath.Join(dir, "hours.png")
	var out bytes.Buffer
	chartCmd.SetOut(&out)
	require.NoError(t, runChart(chartCmd, []string{"collisions_by_hour"}))

	data, err := os.ReadFile(chartOut)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	chartOut, chartYear = filepath.Join(dir, "age2020.png"), 2020
	require.NoError(t, runChart(chartCmd, []string{"ksi_age_by_year"}))
	_, err = os.Stat(chartOut)
	require.NoError(t, err)
}

func TestChartCommandErrors(t *testing.T) {
	defer func() { chartOut, chartYear = "", 0 }()
	chartOut = filepath.Join(t.TempDir(), "x.png")

	assert.Error(t, runChart(chartCmd, []string{"ksi_age_by_year"}))
	assert.Error(t, runChart(chartCmd, []string{"no_such_table"}))

	chartYear = 2020
	assert.Error(t, runChart(chartCmd, []string{"collisions_by_year"}))
	chartYear = 1999
	assert.Error(t, runChart(chartCmd, []string{"ksi_age_by_year"}))
}

func TestReportCommand(t *testing.T) {
	setupConfig(t, ksiCSV, nil)

	var sent []email.Report
	old := sendReport
	defer func() { sendReport = old }()
	sendReport = func(c *config.Config, r email.Report) error {
		sent = append(sent, r)
		return nil
	}

	var out bytes.Buffer
	reportCmd.SetOut(&out)
	require.NoError(t, runReport(reportCmd, []string{"years", "2020"}))

	require.Len(t, sent, 1)
	assert.Equal(t, "ksi_years_2020.xlsx", sent[0].Filename)
	assert.Contains(t, sent[0].Body, "2 records")
	assert.NotEmpty(t, sent[0].Workbook)

	f, err := excelize.OpenReader(bytes.NewReader(sent[0].Workbook))
	require.NoError(t, err)
	defer f.Close()
	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestReportCommandSendError(t *testing.T) {
	setupConfig(t, ksiCSV, nil)

	old := sendReport
	defer func() { sendReport = old }()
	sendReport = func(*config.Config, email.Report) error { return errors.New("smtp down") }

	assert.EqualError(t, runReport(reportCmd, []string{"hours", "23"}), "smtp down")
}

type fakeMail struct {
	emails []*email.Email
	err    error
}

func (f *fakeMail) Connect() error                            { return nil }
func (f *fakeMail) Disconnect()                               {}
func (f *fakeMail) FetchUnreadEmails() ([]*email.Email, error) { return f.emails, f.err }

func TestPollMailReplacesSource(t *testing.T) {
	setupConfig(t, ksiCSV, func(c map[string]any) {
		c["email"] = map[string]any{"target_subject": "KSI export", "save_as": "KSI.csv"}
	})
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	a, err := newApp(m)
	require.NoError(t, err)
	defer a.close()
	first, err := a.load()
	require.NoError(t, err)
	require.Equal(t, 3, first.Len())

	replacement := "INDEX,LATITUDE,LONGITUDE,INVAGE,HOOD_174,YEAR,HOUR\n9,43.7,-79.4,unknown,5,2022,3\n"
	svc := &fakeMail{emails: []*email.Email{{
		UID:         7,
		Subject:     "KSI export weekly",
		Attachments: []*email.Attachment{{Filename: "ksi-weekly.csv", Content: []byte(replacement)}},
	}}}
	handler := email.NewAttachmentHandler(a.cfg.Email.TargetSubject, a.cfg.DataDir, a.cfg.Email.SaveAs, a.logger)

	gen := a.cache.Generation()
	a.pollMail(svc, handler)
	assert.Equal(t, gen+1, a.cache.Generation())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailPolls.WithLabelValues("saved")))

	second, err := a.load()
	require.NoError(t, err)
	assert.Equal(t, 1, second.Len())

	// 同一封邮件不会重复处理
	a.pollMail(svc, handler)
	assert.Equal(t, gen+1, a.cache.Generation())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailPolls.WithLabelValues("empty")))
}

func TestPollMailError(t *testing.T) {
	setupConfig(t, ksiCSV, nil)
	reg := prometheus.NewRegistry()
	m, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	a, err := newApp(m)
	require.NoError(t, err)
	defer a.close()

	handler := email.NewAttachmentHandler("KSI", a.cfg.DataDir, "", a.logger)
	a.pollMail(&fakeMail{err: errors.New("imap timeout")}, handler)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MailPolls.WithLabelValues("error")))
}

func TestScheduleJobs(t *testing.T) {
	setupConfig(t, ksiCSV, func(c map[string]any) {
		c["log_check_interval"] = "30s"
		c["email"] = map[string]any{"enabled": true, "server": "imap.example.org:993", "check_interval": "10m"}
	})
	a, err := newApp(nil)
	require.NoError(t, err)
	defer a.close()

	c, err := a.scheduleJobs()
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 2)
}
