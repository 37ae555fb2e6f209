package syncdb

import (
	"context"
	"database/sql"
	"strings"

	"go-canal/internal/db"
	"go-canal/internal/log"
	"go-canal/internal/model"
	"go-canal/pkg/config"

	"github.com/pingcap/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type DataSource interface {
	// ListSchemas 获取数据库所有 schema 名称
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables 获取数据库所有表名
	ListTables(ctx context.Context, schemas ...string) (map[string][]string, error)

	// GetTableColumns 按列顺序返回表的列，binlog 未记录列名时用它补齐
	GetTableColumns(ctx context.Context, schema, table string) ([]ColumnInfo, error)

	// MasterStatus 当前 binlog 文件、位置和已执行的 GTID
	MasterStatus(ctx context.Context) (*MasterStatus, error)

	// BinlogChecksum 返回 @@binlog_checksum，例如 CRC32 或 NONE
	BinlogChecksum(ctx context.Context) (string, error)

	// ServerID 返回源库的 @@server_id
	ServerID(ctx context.Context) (uint32, error)

	Close() error
}

type ColumnInfo struct {
	Name       string
	PrimaryKey bool
}

type MasterStatus struct {
	File     string
	Position uint32
	GTID     model.GTID
}

type DataSourceHolder struct {
	ID     uint32
	Source DataSource
	Config *config.DataSourceConfig
}

func (h DataSourceHolder) IsMysql() bool {
	return strings.ToLower(h.Config.Type) == "mysql"
}

// OpenDataSources 按配置打开所有数据源，任何一个失败都会关闭已打开的
func OpenDataSources(ctx context.Context, cfgs []*config.DataSourceConfig) (map[string]*DataSourceHolder, error) {
	holders := make(map[string]*DataSourceHolder, len(cfgs))
	for i, cfg := range cfgs {
		log.Log.Info("open datasource",
			zap.String("id", cfg.ID),
			zap.String("host", cfg.Host),
			zap.Int("port", cfg.Port),
			zap.String("type", cfg.Type),
			zap.String("user", cfg.User))
		if strings.ToLower(cfg.Type) != "mysql" {
			_ = CloseAll(holders)
			return nil, errors.Errorf("datasource %s: unsupported type %q", cfg.ID, cfg.Type)
		}
		mysqlDB, err := sql.Open("mysql", db.GetMysqlDsn(cfg))
		if err != nil {
			_ = CloseAll(holders)
			return nil, errors.Annotatef(err, "open mysql %s:%d", cfg.Host, cfg.Port)
		}
		if err := mysqlDB.PingContext(ctx); err != nil {
			_ = mysqlDB.Close()
			_ = CloseAll(holders)
			return nil, errors.Annotatef(err, "ping mysql %s:%d", cfg.Host, cfg.Port)
		}
		holders[cfg.ID] = &DataSourceHolder{
			ID:     uint32(i + 1),
			Source: NewMysqlDataSource(mysqlDB),
			Config: cfg,
		}
	}
	return holders, nil
}

func CloseAll(holders map[string]*DataSourceHolder) error {
	var err error
	for _, h := range holders {
		err = multierr.Append(err, h.Source.Close())
	}
	return err
}
