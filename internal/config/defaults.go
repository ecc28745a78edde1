package config

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults 设置所有配置项的默认值
func SetDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.file", "")

	// 引擎参数
	viper.SetDefault("engine.locale", "zh-Hans")
	viper.SetDefault("engine.timezone", "Asia/Shanghai")
	viper.SetDefault("engine.max_characters", 3)
	viper.SetDefault("engine.max_input_runes", 3000)
	viper.SetDefault("engine.window_records", 40)
	viper.SetDefault("engine.max_hops", 3)
	viper.SetDefault("engine.call_timeout", 59*time.Second)
	viper.SetDefault("engine.rate_limit_retry", 2)
	viper.SetDefault("engine.rate_limit_wait", time.Second)
	viper.SetDefault("engine.min_delay", 2*time.Second)
	viper.SetDefault("engine.max_delay", 4*time.Second)
	viper.SetDefault("engine.menu_delay", 900*time.Millisecond)
	viper.SetDefault("engine.voice_hello_delay", 2500*time.Millisecond)
	viper.SetDefault("engine.free_quota", 10)
	viper.SetDefault("engine.member_quota", 200)
	viper.SetDefault("engine.system_two_min", 5)
	viper.SetDefault("engine.default_voice", "female")
	viper.SetDefault("engine.renew_link", "")
	viper.SetDefault("engine.link_base", "http://127.0.0.1:8080")

	// 存储
	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.path", "~/.chorus/chorus.db")
	viper.SetDefault("storage.dsn", "")

	// 网关
	viper.SetDefault("gateway.host", "127.0.0.1")
	viper.SetDefault("gateway.port", 8080)
	viper.SetDefault("gateway.rate_limit.enabled", true)
	viper.SetDefault("gateway.rate_limit.requests_per_minute", 60)
	viper.SetDefault("gateway.rate_limit.burst", 10)
	viper.SetDefault("gateway.rate_limit.cleanup_interval", "5m")

	// NATS
	viper.SetDefault("nats.url", "")
	viper.SetDefault("nats.subject_prefix", "chorus")

	// 后台压缩
	viper.SetDefault("cron.enabled", true)
	viper.SetDefault("cron.spec", "0 */5 * * * *")
	viper.SetDefault("cron.timezone", "Local")
	viper.SetDefault("cron.batch", 20)

	// 摘要
	viper.SetDefault("summarizer.character", "deepseek")
	viper.SetDefault("summarizer.prefix_mode", "none")

	// 工具
	viper.SetDefault("tools.timeout", 30*time.Second)

	viper.SetDefault("bots_unavailable", []string{"ChatGPT", "GPT", "豆包", "Claude"})
}
