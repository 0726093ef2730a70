package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	DataDir        string `json:"data_dir" yaml:"data_dir"`               // 数据目录
	SourceFile     string `json:"source_file" yaml:"source_file"`         // KSI 数据文件(.csv/.xlsx)
	SourceEncoding string `json:"source_encoding" yaml:"source_encoding"` // utf-8, windows-1252, latin1, gbk
	SheetName      string `json:"sheet_name" yaml:"sheet_name"`           // xlsx 工作表, 空则取第一个
	HeaderRow      int    `json:"header_row" yaml:"header_row"`           // xlsx 标题行(从0开始)
	MaxRows        int    `json:"max_rows" yaml:"max_rows"`
	WatchSource    bool   `json:"watch_source" yaml:"watch_source"`

	Listen  string `json:"listen" yaml:"listen"`
	PidFile string `json:"pid_file" yaml:"pid_file"`

	LogName          string   `json:"log_name" yaml:"log_name"`
	LogMaxSize       string   `json:"log_max_size" yaml:"log_max_size"` // 例如 "10 * 1024 * 1024"
	LogCheckInterval Duration `json:"log_check_interval" yaml:"log_check_interval"`

	Email struct {
		Enabled       bool     `json:"enabled" yaml:"enabled"`
		Server        string   `json:"server" yaml:"server"`                 // IMAP 服务器地址
		Username      string   `json:"username" yaml:"username"`             // 邮箱用户名
		Password      string   `json:"password" yaml:"password"`             // 邮箱密码
		TargetSubject string   `json:"target_subject" yaml:"target_subject"` // 需要匹配的邮件主题
		SaveAs        string   `json:"save_as" yaml:"save_as"`               // 附件另存文件名
		CheckInterval Duration `json:"check_interval" yaml:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email" yaml:"email"`

	SendEmail struct {
		Server   string   `json:"server" yaml:"server"` // SMTP 服务器地址
		Username string   `json:"username" yaml:"username"`
		Password string   `json:"password" yaml:"password"`
		To       []string `json:"to" yaml:"to"`
		Subject  string   `json:"subject" yaml:"subject"`
	} `json:"send_email" yaml:"send_email"`
}

// DataConfig 数据列映射: 逻辑列名 -> 源文件列名
type DataConfig struct {
	Columns map[string]string `json:"columns" yaml:"columns"`

	mu sync.RWMutex
}

// 逻辑列名
const (
	ColLatitude      = "latitude"
	ColLongitude     = "longitude"
	ColAgeGroup      = "age_group"
	ColNeighbourhood = "neighbourhood"
	ColYear          = "year"
	ColHour          = "hour"
)

var defaultColumns = map[string]string{
	ColLatitude:      "LATITUDE",
	ColLongitude:     "LONGITUDE",
	ColAgeGroup:      "INVAGE",
	ColNeighbourhood: "HOOD_174",
	ColYear:          "YEAR",
	ColHour:          "HOUR",
}

// LoadConfig 读取应用配置和数据配置, dataFile 为空时使用默认列映射
func LoadConfig(folder, file, dataFile string) (*Config, *DataConfig, error) {
	configPath := filepath.Join(folder, file)
	configData, err := readFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var dataConfigPath string
	var dataConfigData []byte
	if dataFile != "" {
		dataConfigPath = filepath.Join(folder, dataFile)
		dataConfigData, err = readFile(dataConfigPath)
		if err != nil {
			return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
		}
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configPath, configData, cfgChan, errChan)
	go parseDataConfig(dataConfigPath, dataConfigData, dcfgChan, errChan)

	return waitForResults(cfgChan, dcfgChan, errChan)
}

// Default 返回只含默认值的配置
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultDataConfig 返回默认列映射
func DefaultDataConfig() *DataConfig {
	dcfg := &DataConfig{}
	dcfg.applyDefaults()
	return dcfg
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, v interface{}) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

func parseConfig(path string, data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := decode(path, data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	cfg.applyDefaults()
	resultChan <- &cfg
}

func parseDataConfig(path string, data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	dcfg := &DataConfig{}
	if len(data) > 0 {
		if err := decode(path, data, dcfg); err != nil {
			errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
			return
		}
	}
	dcfg.applyDefaults()
	resultChan <- dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.SourceFile == "" {
		c.SourceFile = "KSI.csv"
	}
	if c.MaxRows <= 0 {
		c.MaxRows = 18194
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.LogName == "" {
		c.LogName = "app.log"
	}
	if c.LogMaxSize == "" {
		c.LogMaxSize = "10 * 1024 * 1024"
	}
	if c.LogCheckInterval <= 0 {
		c.LogCheckInterval = Duration(time.Minute)
	}
	if c.Email.CheckInterval <= 0 {
		c.Email.CheckInterval = Duration(5 * time.Minute)
	}
	if c.SendEmail.Subject == "" {
		c.SendEmail.Subject = "KSI collisions export"
	}
}

// SourcePath 数据文件完整路径
func (c *Config) SourcePath() string {
	if filepath.IsAbs(c.SourceFile) {
		return c.SourceFile
	}
	return filepath.Join(c.DataDir, c.SourceFile)
}

func (dc *DataConfig) applyDefaults() {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = make(map[string]string, len(defaultColumns))
	}
	for k, v := range defaultColumns {
		if dc.Columns[k] == "" {
			dc.Columns[k] = v
		}
	}
}

func (dc *DataConfig) GetColumn(name string) string {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return dc.Columns[name]
}

func (dc *DataConfig) SetColumn(name, value string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	dc.Columns[name] = value
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON/YAML中的 "5m" 写法
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// MarshalJSON 实现json.Marshaler接口
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalYAML 实现yaml.Unmarshaler接口
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
