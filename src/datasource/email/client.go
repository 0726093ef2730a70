// client.go
package email

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"KSIDashboard/src/storage"
)

/******************** 常量定义 ********************/
const (
	MaxFetchMessages   = 100            // 单次最大获取邮件数量
	FetchBufferSize    = 10             // 邮件获取通道缓冲区大小
	RecentMailDuration = 24 * time.Hour // 只看最近一天的邮件
)

func init() {
	// 附件名等编码字段也走同样的字符集转换
	message.CharsetReader = charsetReader
}

/******************** 接口定义 ********************/

// MailService 邮箱服务
type MailService interface {
	Connect() error
	Disconnect()
	// FetchUnreadEmails 获取最近的未读邮件
	FetchUnreadEmails() ([]*Email, error)
}

// EmailHandler 处理筛选出的邮件, 返回保存的文件路径
type EmailHandler interface {
	Handle(email *Email) ([]string, error)
}

/******************** 数据结构 ********************/

type Email struct {
	UID         uint32    // IMAP UID
	Date        time.Time // 发送时间
	From        string    // 发件人(已解码)
	Subject     string    // 主题(已解码)
	Attachments []*Attachment
}

type Attachment struct {
	Filename string // 附件名(已解码)
	Content  []byte
}

/******************** 邮件客户端实现 ********************/

// EmailClient IMAP 客户端, 方法并发安全
type EmailClient struct {
	server   string // 服务器地址, 含端口
	username string
	password string
	logger   *storage.Logger

	client    *client.Client
	mu        sync.Mutex
	connected bool
}

// NewEmailClient 创建邮件客户端
// 参数:
//   - server: 服务器地址(如"imap.gmail.com:993")
//   - username: 邮箱账号
//   - password: 密码/授权码
func NewEmailClient(server, username, password string, logger *storage.Logger) *EmailClient {
	if logger == nil {
		logger = storage.NewNopLogger()
	}
	return &EmailClient{
		server:   server,
		username: username,
		password: password,
		logger:   logger,
	}
}

// Connect 建立 TLS 连接并登录, 已有可用连接时直接返回
func (s *EmailClient) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		if _, err := s.client.Capability(); err == nil {
			return nil
		}
		// 连接已失效则重置
		s.client.Logout()
		s.client = nil
		s.connected = false
	}

	c, err := client.DialTLS(s.server, nil)
	if err != nil {
		return fmt.Errorf("连接服务器失败: %w", err)
	}
	if err := c.Login(s.username, s.password); err != nil {
		c.Logout()
		return fmt.Errorf("登录失败: %w", err)
	}

	s.client = c
	s.connected = true
	return nil
}

func (s *EmailClient) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		s.client.Logout()
		s.client = nil
	}
	s.connected = false
}

// FetchUnreadEmails 搜索 INBOX 中最近 24 小时的未读邮件并取回正文
func (s *EmailClient) FetchUnreadEmails() ([]*Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return nil, fmt.Errorf("未连接到邮件服务器")
	}

	if _, err := s.client.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("选择邮箱失败: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = time.Now().Add(-RecentMailDuration)

	ids, err := s.client.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("搜索邮件失败: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	// 只取最新的一批
	if len(ids) > MaxFetchMessages {
		ids = ids[len(ids)-MaxFetchMessages:]
	}

	return s.fetchMessages(ids)
}

func (s *EmailClient) fetchMessages(ids []uint32) ([]*Email, error) {
	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{
		imap.FetchEnvelope,
		imap.FetchFlags,
		imap.FetchInternalDate,
		imap.FetchUid,
		section.FetchItem(),
	}

	messages := make(chan *imap.Message, FetchBufferSize)
	done := make(chan error, 1)
	go func() {
		done <- s.client.Fetch(seqset, items, messages)
	}()

	var emails []*Email
	for msg := range messages {
		email, err := s.parseEmail(msg, section)
		if err != nil {
			s.logger.Warning("解析邮件失败", zap.Uint32("uid", msg.Uid), zap.Error(err))
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("获取邮件内容失败: %w", err)
	}
	return emails, nil
}

/******************** 邮件解析相关 ********************/

func (s *EmailClient) parseEmail(msg *imap.Message, section *imap.BodySectionName) (*Email, error) {
	r := msg.GetBody(section)
	if r == nil {
		return nil, fmt.Errorf("邮件正文为空")
	}

	email, err := ParseMessage(r, s.logger)
	if err != nil {
		return nil, err
	}
	email.UID = msg.Uid
	if email.Date.IsZero() {
		email.Date = msg.InternalDate
	}
	return email, nil
}

// ParseMessage reads one RFC 5322 message, keeping its decoded headers and
// every attachment. UID is left zero.
func ParseMessage(r io.Reader, logger *storage.Logger) (*Email, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, fmt.Errorf("创建邮件阅读器失败: %w", err)
	}

	header := mr.Header
	date, _ := header.Date() // 日期解析失败不影响附件

	email := &Email{
		Date:    date,
		From:    decodeHeader(header.Get("From")),
		Subject: decodeHeader(header.Get("Subject")),
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if logger != nil {
				logger.Warning("跳过无法解析的邮件部分", zap.Error(err))
			}
			break
		}

		h, ok := p.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		att, err := parseAttachment(h, p.Body)
		if err != nil {
			if logger != nil {
				logger.Warning("解析附件失败", zap.String("subject", email.Subject), zap.Error(err))
			}
			continue
		}
		email.Attachments = append(email.Attachments, att)
	}
	return email, nil
}

func parseAttachment(h *mail.AttachmentHeader, body io.Reader) (*Attachment, error) {
	filename, err := h.Filename()
	if err != nil || filename == "" {
		return nil, fmt.Errorf("无效的附件名")
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		return nil, fmt.Errorf("读取附件内容失败: %w", err)
	}
	return &Attachment{Filename: decodeHeader(filename), Content: buf.Bytes()}, nil
}

/******************** 工具函数 ********************/

// decodeHeader 解码 =?charset?encoding?text?= 格式的邮件头
func decodeHeader(header string) string {
	decoder := mime.WordDecoder{CharsetReader: charsetReader}

	decoded, err := decoder.DecodeHeader(header)
	if err != nil {
		return header
	}
	return decoded
}

// charsetReader 将 GBK、Windows-1252 和 Latin-1 转为 UTF-8
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "gbk", "gb2312":
		return transform.NewReader(input, simplifiedchinese.GBK.NewDecoder()), nil
	case "windows-1252", "cp1252":
		return transform.NewReader(input, charmap.Windows1252.NewDecoder()), nil
	case "iso-8859-1", "latin1":
		return transform.NewReader(input, charmap.ISO8859_1.NewDecoder()), nil
	case "utf-8", "us-ascii", "":
		return input, nil
	}
	return nil, fmt.Errorf("unhandled charset %q", charset)
}

/******************** 业务逻辑函数 ********************/

// CheckAndProcessEmails 连接邮箱, 返回主题包含 subject 的最新未读邮件;
// 没有目标邮件时返回 nil, nil
func CheckAndProcessEmails(mailService MailService, subject string, logger *storage.Logger) (*Email, error) {
	startTime := time.Now()
	logger.Info("开始检查邮箱...")

	if err := mailService.Connect(); err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	defer mailService.Disconnect()

	emails, err := mailService.FetchUnreadEmails()
	if err != nil {
		return nil, fmt.Errorf("获取邮件失败: %w", err)
	}
	if len(emails) == 0 {
		logger.Info("没有新邮件")
		return nil, nil
	}

	target := filterLatestTargetEmail(emails, subject)
	if target == nil {
		logger.Info("没有目标邮件", zap.Int("unread", len(emails)), zap.String("subject", subject))
		return nil, nil
	}

	logger.Info("找到目标邮件",
		zap.Uint32("uid", target.UID),
		zap.String("subject", target.Subject),
		zap.Int("attachments", len(target.Attachments)),
		zap.Duration("elapsed", time.Since(startTime)),
	)
	return target, nil
}

// filterLatestTargetEmail 主题包含 keyword 的邮件中日期最新的一封
func filterLatestTargetEmail(emails []*Email, keyword string) *Email {
	var targets []*Email
	for _, email := range emails {
		if strings.Contains(email.Subject, keyword) {
			targets = append(targets, email)
		}
	}
	if len(targets) == 0 {
		return nil
	}

	sort.SliceStable(targets, func(i, j int) bool {
		return targets[i].Date.After(targets[j].Date)
	})
	return targets[0]
}
