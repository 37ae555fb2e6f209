package db

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go-canal/internal/log"
	"go-canal/pkg/config"

	"github.com/pingcap/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	cdcDB      *gorm.DB
	cdcErr     error
	cdcOnce    sync.Once
	autoTables []interface{}
)

// AutoTable 注册需要在元数据库中自动建表的模型
func AutoTable(table interface{}) {
	autoTables = append(autoTables, table)
}

// InitCDCDataSource 打开存放位点等元数据的库，只初始化一次
func InitCDCDataSource(cfg *config.DataSourceConfig) (*gorm.DB, error) {
	cdcOnce.Do(func() {
		cdcDB, cdcErr = Open(cfg)
	})
	return cdcDB, cdcErr
}

// Open connects and migrates every registered table.
func Open(cfg *config.DataSourceConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("CDC_DATASOURCE is not configured")
	}
	if cfg.Type != "" && cfg.Type != "mysql" {
		return nil, errors.Errorf("CDC_DATASOURCE type must be mysql, got %q", cfg.Type)
	}
	db, err := gorm.Open(mysql.Open(GetMysqlDsn(cfg)), &gorm.Config{
		Logger: logger.New(
			gormWriter{},
			logger.Config{
				SlowThreshold:             2000 * time.Millisecond, // 慢 SQL 阈值
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true, // 忽略 record not found 错误
			},
		),
	})
	if err != nil {
		return nil, errors.Annotatef(err, "open %s", cfg.ID)
	}
	if err := db.AutoMigrate(autoTables...); err != nil {
		return nil, errors.Annotate(err, "auto migrate")
	}
	return db, nil
}

type gormWriter struct{}

func (gormWriter) Printf(format string, args ...interface{}) {
	log.Log.Sugar().Infof(format, args...)
}

func GetMysqlDsn(cfg *config.DataSourceConfig) string {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s", cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	str := ""
	for _, k := range keys {
		str += fmt.Sprintf("%s=%s&", k, cfg.Params[k])
	}
	str = strings.TrimSuffix(str, "&")
	if str != "" {
		dsn += "?" + str
	}
	return dsn
}
