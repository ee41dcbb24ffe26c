package config

import (
	"context"
	"errors"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"drcrypt.com/pkg/logger"
)

// Defaulter 由服务配置实现，在读文件之前把默认值灌进 viper
type Defaulter interface {
	SetDefaults(v *viper.Viper)
}

func newViper(service string, paths ...string) *viper.Viper {
	v := viper.New()
	// 约定：config/{service}.yaml
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	// 环境变量覆盖，例如：
	//   PRICEFEED_HTTP_ADDR   覆盖 http.addr
	//   PRICEFEED_FEED_URL    覆盖 feed.url
	v.SetEnvPrefix(strings.ToUpper(service))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load 读配置；找不到配置文件时只用默认值 + 环境变量
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := newViper(service, paths...)
	if d, ok := out.(Defaulter); ok {
		d.SetDefaults(v)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		logger.Warn(context.Background(), "config file not found, using defaults", zap.String("service", service))
	}

	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}
	logger.Info(context.Background(), "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}

// LoadAndWatch 同 Load，另外监听文件变更热更新到 out
// 注意：热更新只对“每次用时都去读”的字段生效（比如日志级别、限流阈值）
func LoadAndWatch(service string, out interface{}, onChange func(), paths ...string) (*viper.Viper, error) {
	v, err := Load(service, out, paths...)
	if err != nil {
		return nil, err
	}
	if v.ConfigFileUsed() == "" {
		return v, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(context.Background(), "config file changed", zap.String("service", service), zap.String("file", e.Name))
		if err := v.Unmarshal(out); err != nil {
			logger.Error(context.Background(), "reload config error", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
	})
	v.WatchConfig()
	return v, nil
}
