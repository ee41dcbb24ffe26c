package orm

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Config struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn"`                   // 连接字符串
	MaxIdle     int    `mapstructure:"max_idle" yaml:"max_idle"`         // 最大空闲连接
	MaxOpen     int    `mapstructure:"max_open" yaml:"max_open"`         // 最大打开连接
	MaxLifetime int    `mapstructure:"max_lifetime" yaml:"max_lifetime"` // 连接存活秒数
}

// NewMySQL 初始化 GORM；tick 写入量大，默认只打 Warn 以上的 SQL 日志
func NewMySQL(c *Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(c.DSN), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Warn),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	if err := Tune(db, c); err != nil {
		return nil, err
	}
	return db, nil
}

// Tune 连接池参数（sqlite 测试库也走这里）
func Tune(db *gorm.DB, c *Config) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if c.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(c.MaxIdle)
	}
	if c.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(c.MaxOpen)
	}
	if c.MaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(c.MaxLifetime) * time.Second)
	}
	return nil
}
