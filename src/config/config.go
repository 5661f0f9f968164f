package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Config 结构体定义了应用程序的配置结构
type Config struct {
	Email struct {
		Server        string   `json:"server"`         // IMAP服务器地址(含端口)
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码/授权码
		TargetSubject string   `json:"target_subject"` // 数据集邮件主题关键词
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	DataDir       string   `json:"data_dir"`       // 原始数据集目录(监控目录)
	InputFile     string   `json:"input_file"`     // 单次运行时读取的数据集
	InputEncoding string   `json:"input_encoding"` // 为空或 utf-8；gbk 时先转码
	OutputDir     string   `json:"output_dir"`     // 清洗与特征结果输出目录
	SheetName     string   `json:"sheet_name"`     // xlsx 数据所在工作表
	HeaderRow     int      `json:"header_row"`     // xlsx 标题行(从0开始)
	HistoryDB     string   `json:"history_db"`     // sqlite 运行历史，为空则不记录
	RunTimeout    Duration `json:"run_timeout"`    // 单次管道运行的时间预算
	HTTPAddr      string   `json:"http_addr"`      // 守护模式下 /logs /metrics 监听地址
	WebhookURL    string   `json:"webhook_url"`    // 运行摘要推送地址，为空则不推送
	PidFile       string   `json:"pid_file"`
	LogName       string   `json:"log_name"`
	LogMaxSize    string   `json:"log_max_size"`
	SendEmail     struct {
		Server     string `json:"server"`     // SMTP服务器地址
		Username   string `json:"username"`   // 发件邮箱
		Password   string `json:"password"`   // 发件密码
		To         string `json:"to"`         // 收件人，为空则不发送
		Subject    string `json:"subject"`    // 结果邮件主题
		Attachment string `json:"attachment"` // 附件路径，为空时使用特征报表
	} `json:"send_email"`
}

var (
	once           sync.Once
	instance       *Config
	schemaInstance *Schema
	mu             sync.RWMutex
)

// Default 返回不依赖配置文件即可运行的默认配置
func Default() *Config {
	cfg := &Config{
		DataDir:    "data",
		InputFile:  filepath.Join("data", "dirty_transport_dataset.csv"),
		OutputDir:  "outputs",
		SheetName:  "Sheet1",
		RunTimeout: Duration(5 * time.Minute),
		HTTPAddr:   ":8080",
		PidFile:    "pipeline.pid",
		LogName:    "pipeline.log",
		LogMaxSize: "10 * 1024 * 1024",
	}
	cfg.Email.CheckInterval = Duration(5 * time.Minute)
	cfg.Email.TargetSubject = "transport dataset"
	cfg.SendEmail.Subject = "transport delay features"
	return cfg
}

// LoadConfig 只加载一次配置，后续调用返回同一实例
func LoadConfig(jsonFolder, jsonFile, schemaJsonFile string) (*Config, *Schema, error) {
	var err error
	once.Do(func() {
		instance, schemaInstance, err = Load(jsonFolder, jsonFile, schemaJsonFile)
	})
	return instance, schemaInstance, err
}

// Load 读取并解析两个配置文件。文件不存在时回退到默认值，
// 解析失败则返回错误。
func Load(jsonFolder, jsonFile, schemaJsonFile string) (*Config, *Schema, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	schemaFile := filepath.Join(jsonFolder, schemaJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	schemaData, err := readFile(schemaFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据结构文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	schemaChan := make(chan *Schema, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseSchema(schemaData, schemaChan, errChan)

	return waitForResults(cfgChan, schemaChan, errChan)
}

// readFile 读取文件；不存在时返回 nil 数据表示使用默认值
func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	cfg := Default()
	if data == nil {
		resultChan <- cfg
		return
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- cfg
}

func parseSchema(data []byte, resultChan chan<- *Schema, errChan chan<- error) {
	schema := DefaultSchema()
	if data == nil {
		resultChan <- schema
		return
	}
	if err := json.Unmarshal(data, schema); err != nil {
		errChan <- fmt.Errorf("解析Schema失败: %w", err)
		return
	}
	if err := schema.Validate(); err != nil {
		errChan <- err
		return
	}
	resultChan <- schema
}

func waitForResults(
	cfgChan <-chan *Config,
	schemaChan <-chan *Schema,
	errChan <-chan error,
) (*Config, *Schema, error) {
	var (
		cfg    *Config
		schema *Schema
		errs   []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case s := <-schemaChan:
			schema = s
		case err := <-errChan:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, nil, combineErrors(errs)
	}

	if cfg == nil || schema == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, schema, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

// ApplyEnv 用环境变量覆盖路径与凭据，变量不存在时保持原值
func (c *Config) ApplyEnv() {
	mu.Lock()
	defer mu.Unlock()

	overrides := map[string]*string{
		"TD_INPUT_FILE":     &c.InputFile,
		"TD_DATA_DIR":       &c.DataDir,
		"TD_OUTPUT_DIR":     &c.OutputDir,
		"TD_HISTORY_DB":     &c.HistoryDB,
		"TD_WEBHOOK_URL":    &c.WebhookURL,
		"TD_EMAIL_PASSWORD": &c.Email.Password,
		"TD_SMTP_PASSWORD":  &c.SendEmail.Password,
	}
	for key, target := range overrides {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*target = v
		}
	}
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}
