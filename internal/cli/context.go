package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"chorus/internal/chat"
	"chorus/internal/config"
	"chorus/internal/server"
	"chorus/pkg/logger"
)

// CLIContext CLI 上下文
type CLIContext struct {
	Config     *config.Config
	ConfigPath string
	Logger     *zerolog.Logger
	// ServerURL 覆盖配置中的网关地址
	ServerURL string
	Verbose   bool
	Quiet     bool

	storeOnce sync.Once
	store     chat.Store
	storeErr  error
}

// NewCLIContext 创建 CLI 上下文
func NewCLIContext(cfg *config.Config, configPath string, log *zerolog.Logger, verbose, quiet bool) *CLIContext {
	return &CLIContext{
		Config:     cfg,
		ConfigPath: configPath,
		Logger:     log,
		Verbose:    verbose,
		Quiet:      quiet,
	}
}

// GetStore 获取存储连接（懒加载）
func (c *CLIContext) GetStore(ctx context.Context) (chat.Store, error) {
	c.storeOnce.Do(func() {
		c.store, c.storeErr = server.OpenStore(ctx, c.Config.Storage)
	})
	return c.store, c.storeErr
}

// BaseURL 返回网关地址，--url 优先
func (c *CLIContext) BaseURL() string {
	if c.ServerURL != "" {
		return c.ServerURL
	}
	host := c.Config.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	port := c.Config.Gateway.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// Close 关闭资源
func (c *CLIContext) Close() error {
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// Log 获取 Logger
func (c *CLIContext) Log() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return logger.Get()
}
