package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tubeforge/app/config"
	"tubeforge/app/logger"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB 全局数据库实例
var DB *gorm.DB

// Init 初始化数据库连接、迁移表结构并同步配置中的频道和运维账户
func Init(cfg *config.Config, log *logger.Logger) error {
	db, err := Open(cfg.Database)
	if err != nil {
		log.Errorf("连接数据库失败: %v", err)
		return err
	}

	DB = db
	log.Infof("数据库连接成功: driver=%s", cfg.Database.Driver)

	if err := AutoMigrate(db); err != nil {
		log.Errorf("迁移表结构失败: %v", err)
		return err
	}

	if err := SyncChannels(db, cfg.Channels, log); err != nil {
		log.Errorf("同步频道配置失败: %v", err)
		return err
	}

	if err := InitOperator(db, cfg, log); err != nil {
		log.Errorf("初始化运维账户失败: %v", err)
		return err
	}

	return nil
}

// Open 根据驱动打开数据库连接
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(withStatementTimeout(cfg.DSN, cfg.StatementTimeout.Milliseconds()))
	case "sqlite":
		if !strings.HasPrefix(cfg.DSN, "file:") && cfg.DSN != ":memory:" {
			if err := ensureDir(filepath.Dir(cfg.DSN)); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	return db, nil
}

// withStatementTimeout 通过连接参数设置语句超时，pgx 会把未知参数作为运行时参数发送
func withStatementTimeout(dsn string, ms int64) string {
	if ms <= 0 || strings.Contains(dsn, "statement_timeout") {
		return dsn
	}
	if strings.Contains(dsn, "://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return fmt.Sprintf("%s%sstatement_timeout=%d", dsn, sep, ms)
	}
	return fmt.Sprintf("%s statement_timeout=%d", dsn, ms)
}

// Close 关闭数据库连接
func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// GetDB 获取数据库实例
func GetDB() *gorm.DB {
	return DB
}

// ensureDir 确保目录存在
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
