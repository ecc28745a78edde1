package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config 是 chorus 配置的根结构体
type Config struct {
	Log             LogConfig         `mapstructure:"log" yaml:"log"`
	Engine          EngineConfig      `mapstructure:"engine" yaml:"engine"`
	Storage         StorageConfig     `mapstructure:"storage" yaml:"storage"`
	Gateway         GatewayConfig     `mapstructure:"gateway" yaml:"gateway"`
	NATS            NATSConfig        `mapstructure:"nats" yaml:"nats"`
	Cron            CronConfig        `mapstructure:"cron" yaml:"cron"`
	Summarizer      SummarizerConfig  `mapstructure:"summarizer" yaml:"summarizer"`
	Tools           ToolsConfig       `mapstructure:"tools" yaml:"tools"`
	Characters      []CharacterConfig `mapstructure:"characters" yaml:"characters"`
	BotsUnavailable []string          `mapstructure:"bots_unavailable" yaml:"bots_unavailable"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	File   string `mapstructure:"file" yaml:"file"`
}

// EngineConfig 编排引擎的运行参数
type EngineConfig struct {
	Locale          string        `mapstructure:"locale" yaml:"locale"`                       // 文案语言: zh-Hans, en
	Timezone        string        `mapstructure:"timezone" yaml:"timezone"`                   // 系统提示词中日期时间所用时区
	MaxCharacters   int           `mapstructure:"max_characters" yaml:"max_characters"`       // 房间内最多角色数
	MaxInputRunes   int           `mapstructure:"max_input_runes" yaml:"max_input_runes"`     // 单条消息最大字数
	WindowRecords   int           `mapstructure:"window_records" yaml:"window_records"`       // 每轮读取的历史记录条数
	MaxHops         int           `mapstructure:"max_hops" yaml:"max_hops"`                   // 工具调用最大轮数
	CallTimeout     time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`           // 单次模型调用超时
	RateLimitRetry  int           `mapstructure:"rate_limit_retry" yaml:"rate_limit_retry"`   // 限流重试次数
	RateLimitWait   time.Duration `mapstructure:"rate_limit_wait" yaml:"rate_limit_wait"`     // 限流重试间隔
	MinDelay        time.Duration `mapstructure:"min_delay" yaml:"min_delay"`                 // 派发前随机等待下限
	MaxDelay        time.Duration `mapstructure:"max_delay" yaml:"max_delay"`                 // 派发前随机等待上限
	MenuDelay       time.Duration `mapstructure:"menu_delay" yaml:"menu_delay"`               // 兜底菜单发送延迟
	VoiceHelloDelay time.Duration `mapstructure:"voice_hello_delay" yaml:"voice_hello_delay"` // 语音偏好提示延迟
	FreeQuota       int           `mapstructure:"free_quota" yaml:"free_quota"`               // 免费用户对话次数
	MemberQuota     int           `mapstructure:"member_quota" yaml:"member_quota"`           // 会员对话次数
	SystemTwoMin    int           `mapstructure:"system_two_min" yaml:"system_two_min"`       // 达到该次数后安排后台压缩
	DefaultVoice    string        `mapstructure:"default_voice" yaml:"default_voice"`         // 首次语音对话时写入的默认音色
	RenewLink       string        `mapstructure:"renew_link" yaml:"renew_link"`               // 状态消息中的续费链接
	LinkBase        string        `mapstructure:"link_base" yaml:"link_base"`                 // 思维链、草稿确认等页面的站点地址
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path" yaml:"path"`     // sqlite 文件路径
	DSN    string `mapstructure:"dsn" yaml:"dsn"`       // postgres 连接串
}

// GatewayConfig 网关配置
type GatewayConfig struct {
	Host      string          `mapstructure:"host" yaml:"host"`
	Port      int             `mapstructure:"port" yaml:"port"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig 按客户端 IP 的令牌桶限流
type RateLimitConfig struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	Burst             int           `mapstructure:"burst" yaml:"burst"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval" yaml:"cleanup_interval"`
}

// NATSConfig 事件总线配置，URL 为空表示不启用
type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	Token         string `mapstructure:"token" yaml:"token"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// CronConfig 后台压缩任务配置
type CronConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Spec     string `mapstructure:"spec" yaml:"spec"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
	Batch    int    `mapstructure:"batch" yaml:"batch"`
}

// SummarizerConfig 摘要模型配置
type SummarizerConfig struct {
	Character  string `mapstructure:"character" yaml:"character"`     // 用于生成摘要的角色
	PrefixMode string `mapstructure:"prefix_mode" yaml:"prefix_mode"` // prefix, partial, none
}

// ToolsConfig 外部工具与媒体服务配置，端点为空的工具不会提供给模型
type ToolsConfig struct {
	Endpoints          map[string]string `mapstructure:"endpoints" yaml:"endpoints,omitempty"` // 工具名 -> HTTP 端点
	Timeout            time.Duration     `mapstructure:"timeout" yaml:"timeout"`
	AllowedHosts       []string          `mapstructure:"allowed_hosts" yaml:"allowed_hosts,omitempty"` // parse_link 放行的内网主机
	DrawEndpoint       string            `mapstructure:"draw_endpoint" yaml:"draw_endpoint,omitempty"`
	SpeakEndpoint      string            `mapstructure:"speak_endpoint" yaml:"speak_endpoint,omitempty"`
	TranscribeEndpoint string            `mapstructure:"transcribe_endpoint" yaml:"transcribe_endpoint,omitempty"`
	DescribeEndpoint   string            `mapstructure:"describe_endpoint" yaml:"describe_endpoint,omitempty"`
}

// CharacterConfig 单个后端配置，一个角色可以有多条，按 priority 排序
type CharacterConfig struct {
	Character         string            `mapstructure:"character" yaml:"character"`
	Name              string            `mapstructure:"name" yaml:"name"`
	Alias             []string          `mapstructure:"alias" yaml:"alias,omitempty"`
	Model             string            `mapstructure:"model" yaml:"model"`
	Provider          string            `mapstructure:"provider" yaml:"provider"`
	SecondaryProvider string            `mapstructure:"secondary_provider" yaml:"secondary_provider,omitempty"`
	BaseURL           string            `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key,omitempty"`
	APIKeyEnv         string            `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Abilities         []string          `mapstructure:"abilities" yaml:"abilities"`
	WindowK           int               `mapstructure:"window_k" yaml:"window_k"`
	Priority          int               `mapstructure:"priority" yaml:"priority"`
	Retired           bool              `mapstructure:"retired" yaml:"retired,omitempty"`
	Speaks            bool              `mapstructure:"speaks" yaml:"speaks,omitempty"`
	Stream            bool              `mapstructure:"stream" yaml:"stream,omitempty"`
	OnlyOneSystemMsg  bool              `mapstructure:"only_one_system_role_msg" yaml:"only_one_system_role_msg,omitempty"`
	ThinkingInContent bool              `mapstructure:"thinking_in_content" yaml:"thinking_in_content,omitempty"`
	StrictAlternation bool              `mapstructure:"strict_alternation" yaml:"strict_alternation,omitempty"`
	DefaultHeaders    map[string]string `mapstructure:"default_headers" yaml:"default_headers,omitempty"`
	Traits            TraitsConfig      `mapstructure:"traits" yaml:"traits,omitempty"`
}

// TraitsConfig 替代按角色子类化的差异化行为
type TraitsConfig struct {
	Temperature         float64       `mapstructure:"temperature" yaml:"temperature,omitempty"`
	Timeout             time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	RetryWithSecondary  bool          `mapstructure:"retry_with_secondary" yaml:"retry_with_secondary,omitempty"`
	AppendContinueTurn  bool          `mapstructure:"append_continue_turn" yaml:"append_continue_turn,omitempty"`
	StringifyToolParams bool          `mapstructure:"stringify_tool_params" yaml:"stringify_tool_params,omitempty"`
	InsertAckAfterTool  bool          `mapstructure:"insert_ack_after_tool" yaml:"insert_ack_after_tool,omitempty"`
	AudioFirstTurnOnly  bool          `mapstructure:"audio_first_turn_only" yaml:"audio_first_turn_only,omitempty"`
	SystemPrompt        string        `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
}

// ResolveAPIKey 返回 api_key，若为空则读取 api_key_env 指定的环境变量
func (c *CharacterConfig) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	if c.APIKeyEnv != "" {
		return os.Getenv(c.APIKeyEnv)
	}
	return ""
}

var (
	globalConfig *Config
	configPath   string
	mu           sync.RWMutex
)

// Load 加载配置文件
// 优先级: ENV > 配置文件 > 默认值
func Load(path string) (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	SetDefaults()

	viper.SetEnvPrefix("CHORUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if path != "" {
		expanded, err := ExpandPath(path)
		if err != nil {
			return nil, err
		}
		configPath = expanded

		viper.SetConfigFile(expanded)
		if err := viper.ReadInConfig(); err != nil {
			var parseErr viper.ConfigParseError
			if errors.As(err, &parseErr) {
				return nil, err
			}
			// 文件不存在时沿用默认值
			if !os.IsNotExist(err) {
				var pathErr *os.PathError
				if !errors.As(err, &pathErr) {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	globalConfig = &cfg
	return &cfg, nil
}

// GetConfig 获取当前配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// Get 获取任意配置键值
func Get(key string) any {
	return viper.Get(key)
}

// GetString 获取字符串配置值
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt 获取整数配置值
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool 获取布尔配置值
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// Set 设置配置值，有配置文件时同时持久化
func Set(key string, value any) error {
	mu.Lock()
	defer mu.Unlock()

	viper.Set(key, value)
	if configPath != "" {
		return save()
	}
	return nil
}

// Save 保存配置到文件
func Save() error {
	mu.Lock()
	defer mu.Unlock()
	return save()
}

// save 调用者需要持有锁
func save() error {
	if configPath == "" {
		return errors.New("config path not set")
	}
	data, err := yaml.Marshal(viper.AllSettings())
	if err != nil {
		return err
	}
	return writeFile(configPath, data)
}

// SaveTo 将配置写入指定路径
func SaveTo(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	// 含 API Key，使用 0600
	return os.WriteFile(path, data, 0600)
}

// Reset 重置配置（主要用于测试）
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	configPath = ""
	viper.Reset()
}

// SetTestConfig 设置全局配置（仅用于测试）
func SetTestConfig(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = cfg
}
