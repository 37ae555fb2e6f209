package syncdb

import (
	"context"
	"net"
	"strconv"
	"time"

	"go-canal/internal/binlog"
	"go-canal/pkg/config"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/pingcap/errors"
)

// BinlogFetcher pulls raw events over the replication protocol and
// hands each frame to the decoder through a LogBuffer.
type BinlogFetcher struct {
	ctx      context.Context
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	buf      *binlog.LogBuffer
	closed   bool
}

// SyncerConfig builds the replication client config for addr (host:port).
func SyncerConfig(cfg *config.DataSourceConfig, addr string, heartbeat time.Duration) (replication.BinlogSyncerConfig, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return replication.BinlogSyncerConfig{}, errors.Annotatef(err, "address %q", addr)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return replication.BinlogSyncerConfig{}, errors.Annotatef(err, "address %q", addr)
	}
	return replication.BinlogSyncerConfig{
		ServerID:        cfg.ServerID,
		Flavor:          cfg.Flavor,
		Host:            host,
		Port:            uint16(port),
		User:            cfg.User,
		Password:        cfg.Password,
		RawModeEnabled:  true,
		HeartbeatPeriod: heartbeat,
	}, nil
}

// NewBinlogFetcher starts dumping at pos, or at gtid when it is not empty.
// ctx bounds every Fetch.
func NewBinlogFetcher(ctx context.Context, cfg replication.BinlogSyncerConfig, pos binlog.LogPosition, gtid string, bufSize int) (*BinlogFetcher, error) {
	syncer := replication.NewBinlogSyncer(cfg)
	var (
		streamer *replication.BinlogStreamer
		err      error
	)
	if gtid != "" {
		set, perr := mysql.ParseGTIDSet(cfg.Flavor, gtid)
		if perr != nil {
			syncer.Close()
			return nil, errors.Annotatef(perr, "gtid set %q", gtid)
		}
		streamer, err = syncer.StartSyncGTID(set)
	} else {
		streamer, err = syncer.StartSync(mysql.Position{Name: pos.File, Pos: uint32(pos.Offset)})
	}
	if err != nil {
		syncer.Close()
		return nil, errors.Annotatef(err, "start dump at %s", pos)
	}
	return &BinlogFetcher{
		ctx:      ctx,
		syncer:   syncer,
		streamer: streamer,
		buf:      binlog.NewLogBuffer(bufSize, binlog.DefaultGrowthFactor),
	}, nil
}

// Fetch returns false once ctx is done.
func (f *BinlogFetcher) Fetch() (bool, error) {
	if f.closed {
		return false, binlog.ErrFetcherClosed
	}
	ev, err := f.streamer.GetEvent(f.ctx)
	if err != nil {
		if f.ctx.Err() != nil {
			return false, nil
		}
		return false, errors.Annotate(err, "read binlog event")
	}
	if len(ev.RawData) > binlog.MaxEventSize {
		return false, errors.Annotatef(binlog.ErrEventLength, "event of %d bytes", len(ev.RawData))
	}
	f.buf.Reset()
	f.buf.PutBytes(ev.RawData)
	f.buf.Rewind()
	return true, nil
}

func (f *BinlogFetcher) Buffer() *binlog.LogBuffer {
	return f.buf
}

func (f *BinlogFetcher) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.syncer.Close()
	return nil
}
