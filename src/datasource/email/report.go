package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	mailer "github.com/jordan-wright/email"

	"KSIDashboard/src/config"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Report 一份导出报告: 正文加一个 xlsx 附件
type Report struct {
	Title    string
	Body     string
	Filename string
	Workbook []byte
}

// buildReport 组装报告邮件, 不发送
func buildReport(c *config.Config, r Report) (*mailer.Email, error) {
	if c.SendEmail.Username == "" {
		return nil, fmt.Errorf("发件人未配置")
	}
	if len(c.SendEmail.To) == 0 {
		return nil, fmt.Errorf("收件人未配置")
	}

	e := mailer.NewEmail()
	e.From = fmt.Sprintf("KSI Dashboard <%s>", c.SendEmail.Username)
	e.To = c.SendEmail.To
	e.Subject = c.SendEmail.Subject
	if r.Title != "" {
		e.Subject = fmt.Sprintf("%s: %s", c.SendEmail.Subject, r.Title)
	}
	e.Text = []byte(r.Body)

	if len(r.Workbook) > 0 {
		if _, err := e.Attach(bytes.NewReader(r.Workbook), r.Filename, xlsxContentType); err != nil {
			return nil, fmt.Errorf("附件添加失败: %w", err)
		}
	}
	return e, nil
}

// SendReport 通过 SMTP(隐式 TLS) 发送报告邮件
func SendReport(c *config.Config, r Report) error {
	e, err := buildReport(c, r)
	if err != nil {
		return err
	}

	// 确保服务器地址包含端口
	addr := c.SendEmail.Server
	if !strings.Contains(addr, ":") {
		addr += ":465"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("SMTP 地址无效 %q: %w", addr, err)
	}

	err = e.SendWithTLS(
		addr,
		smtp.PlainAuth("", c.SendEmail.Username, c.SendEmail.Password, host),
		&tls.Config{ServerName: host},
	)
	if err != nil {
		return fmt.Errorf("邮件发送失败(server: %s): %w", addr, err)
	}
	return nil
}

// ReportBody 报告正文
func ReportBody(kind string, value, rows int, generated time.Time) string {
	return fmt.Sprintf("KSI collisions for %s = %d: %d records.\nGenerated %s.\n",
		kind, value, rows, generated.Format("2006-01-02 15:04:05"))
}
