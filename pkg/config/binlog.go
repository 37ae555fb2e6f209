package config

import (
	"time"

	"github.com/pingcap/errors"
)

const (
	SourceFile  = "file"
	SourceMySQL = "mysql"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMySQL  = "mysql"

	DefaultServerID = 1001
)

// BinlogConfig 描述 binlog 的读取方式
type BinlogConfig struct {
	Source         string `toml:"source"` // file 或 mysql
	Dir            string `toml:"dir"`
	File           string `toml:"file"`
	Position       uint32 `toml:"position"`
	GTID           string `toml:"gtid"`
	VerifyChecksum *bool  `toml:"verify_checksum"`
	Charset        string `toml:"charset"`
	LazyFill       bool   `toml:"lazy_fill"`
	BufferSize     int    `toml:"buffer_size"`
	Heartbeat      string `toml:"heartbeat"`
	FollowRotate   bool   `toml:"follow_rotate"`
}

func (c *BinlogConfig) setDefaults() {
	if c.Source == "" {
		c.Source = SourceMySQL
	}
	if c.Charset == "" {
		c.Charset = "utf8mb4"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 8192
	}
	if c.VerifyChecksum == nil {
		v := true
		c.VerifyChecksum = &v
	}
}

func (c *BinlogConfig) validate() error {
	switch c.Source {
	case SourceMySQL:
	case SourceFile:
		if c.Dir == "" || c.File == "" {
			return errors.New("BINLOG: file source needs dir and file")
		}
	default:
		return errors.Errorf("BINLOG: unknown source %q", c.Source)
	}
	if _, err := parseDuration(c.Heartbeat); err != nil {
		return errors.Annotate(err, "BINLOG.heartbeat")
	}
	return nil
}

// HeartbeatPeriod returns zero when no heartbeat is configured.
func (c *BinlogConfig) HeartbeatPeriod() time.Duration {
	d, _ := parseDuration(c.Heartbeat)
	return d
}

// ClusterConfig 集群节点注册与 running 节点发现
type ClusterConfig struct {
	Enabled     bool   `toml:"enabled"`
	Addr        string `toml:"addr"`
	Password    string `toml:"password"`
	DB          int    `toml:"db"`
	Prefix      string `toml:"prefix"`
	Destination string `toml:"destination"`
	Interval    string `toml:"interval"`
}

func (c *ClusterConfig) setDefaults() {
	if c.Prefix == "" {
		c.Prefix = "canal"
	}
	if c.Interval == "" {
		c.Interval = "5s"
	}
}

func (c *ClusterConfig) PollInterval() time.Duration {
	d, err := parseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// PositionConfig 位点存储
type PositionConfig struct {
	Store string `toml:"store"`
	Key   string `toml:"key"`
}

func (c *PositionConfig) setDefaults() {
	if c.Store == "" {
		c.Store = StoreMemory
	}
	if c.Key == "" {
		c.Key = "canal:position"
	}
}

func (c *PositionConfig) validate(cfg *CdcConfig) error {
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if cfg.Cluster.Addr == "" {
			return errors.New("POSITION: redis store needs CLUSTER.addr")
		}
	case StoreMySQL:
		if cfg.CDCDataSource == nil {
			return errors.New("POSITION: mysql store needs CDC_DATASOURCE")
		}
	default:
		return errors.Errorf("POSITION: unknown store %q", c.Store)
	}
	return nil
}

// LogConfig 日志级别与滚动文件
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxAge     int    `toml:"max_age"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

func (c *LogConfig) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.MaxSize <= 0 {
		c.MaxSize = 100
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	return d, errors.Trace(err)
}
