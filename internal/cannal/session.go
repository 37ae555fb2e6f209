package cannal

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go-canal/internal/binlog"
	"go-canal/internal/cluster"
	"go-canal/internal/log"
	"go-canal/internal/position"
	"go-canal/internal/syncdb"
	"go-canal/pkg/config"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrSessionRunning = errors.New("cannal: session already running")

// FetcherFactory opens a fetcher that starts at from.
type FetcherFactory func(ctx context.Context, from position.Entry) (binlog.Fetcher, error)

type SessionConfig struct {
	Destination string
	Binlog      config.BinlogConfig
	// MaxRetries is the number of consecutive failed attempts before the
	// session gives up.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type SessionOption func(*Session)

// WithDataSource sets the source database, used to find the start
// position and, for network sources, to dump from.
func WithDataSource(h *syncdb.DataSourceHolder) SessionOption {
	return func(s *Session) { s.holder = h }
}

// WithResolver picks the server to dump from through the cluster.
func WithResolver(r *cluster.Resolver) SessionOption {
	return func(s *Session) { s.resolver = r }
}

func WithFetcherFactory(f FetcherFactory) SessionOption {
	return func(s *Session) { s.openFetcher = f }
}

// Session runs fetch, decode and sink for one destination, reconnecting
// with exponential backoff from the last committed position.
type Session struct {
	cfg         SessionConfig
	sink        *Sink
	holder      *syncdb.DataSourceHolder
	resolver    *cluster.Resolver
	openFetcher FetcherFactory

	running atomic.Bool
	lock    sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

func NewSession(cfg SessionConfig, sink *Sink, opts ...SessionOption) *Session {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	s := &Session{cfg: cfg, sink: sink}
	s.openFetcher = s.defaultFetcher
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the session goroutine. Wait reports why it ended.
func (s *Session) Start(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.running.Load() {
		return ErrSessionRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.err = nil
	s.running.Store(true)
	go s.run(ctx, s.done)
	return nil
}

// Stop 停止会话并等待事件循环退出
func (s *Session) Stop() error {
	s.lock.Lock()
	cancel, done := s.cancel, s.done
	s.lock.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return s.err
}

// Wait blocks until the session goroutine exits and returns the error
// that made it give up, if any.
func (s *Session) Wait() error {
	s.lock.Lock()
	done := s.done
	s.lock.Unlock()
	if done == nil {
		return nil
	}
	<-done
	return s.err
}

func (s *Session) IsRunning() bool {
	return s.running.Load()
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.running.Store(false)

	backoff := s.cfg.BackoffBase
	failures := 0
	for {
		progressed, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			log.Log.Info("binlog source finished", zap.String("destination", s.cfg.Destination),
				zap.Stringer("position", s.sink.Committed().Position))
			return
		}
		if progressed {
			// 重置 backoff
			backoff = s.cfg.BackoffBase
			failures = 0
		}
		failures++
		if failures > s.cfg.MaxRetries {
			log.Log.Error("session failed too many times, exit", zap.String("destination", s.cfg.Destination),
				zap.Int("failures", failures), zap.Error(err))
			s.err = err
			return
		}
		log.Log.Error("session failed, retry again", zap.String("destination", s.cfg.Destination),
			zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		backoff = min(backoff*2, s.cfg.BackoffMax)
	}
}

// runOnce streams from the start position until the source ends or
// fails. It reports whether any transaction was committed.
func (s *Session) runOnce(ctx context.Context) (progressed bool, err error) {
	from, err := s.startPosition(ctx)
	if err != nil {
		return false, err
	}
	if err := s.sink.Restore(from); err != nil {
		return false, err
	}
	fetcher, err := s.openFetcher(ctx, from)
	if err != nil {
		return false, err
	}
	defer func() {
		err = multierr.Append(err, fetcher.Close())
	}()
	log.Log.Info("start streaming", zap.String("destination", s.cfg.Destination),
		zap.Stringer("position", from.Position), zap.String("gtid", from.GTID))

	verify := s.cfg.Binlog.VerifyChecksum == nil || *s.cfg.Binlog.VerifyChecksum
	opts := []binlog.DecoderOption{binlog.WithChecksumVerify(verify)}
	if s.cfg.Binlog.LazyFill {
		opts = append(opts, binlog.WithLazyFill())
	}
	decoder := binlog.NewDecoder(opts...)
	bctx := binlog.NewContext()
	bctx.SetPosition(from.Position)

	rotated := false
	for ctx.Err() == nil {
		ok, err := fetcher.Fetch()
		if err != nil {
			return progressed, errors.Annotatef(err, "fetch after %s", bctx.Position())
		}
		if !ok {
			if !rotated || !s.followRotate() {
				return progressed, nil
			}
			// 文件模式下跟随 rotate 打开下一个文件
			next, err := s.openFetcher(ctx, position.Entry{Position: bctx.Position()})
			if err != nil {
				return progressed, err
			}
			err = fetcher.Close()
			fetcher = next
			rotated = false
			if err != nil {
				return progressed, errors.Trace(err)
			}
			continue
		}
		ev, err := decoder.Decode(fetcher.Buffer(), bctx)
		if err != nil {
			return progressed, errors.Annotatef(err, "decode after %s", bctx.Position())
		}
		if _, ok := ev.Data.(*binlog.RotateEvent); ok && !ev.Header.Artificial() {
			rotated = true
		}
		before := s.sink.Committed()
		if err := s.sink.Handle(ctx, decoder, bctx, ev); err != nil {
			return progressed, err
		}
		if s.sink.Committed() != before {
			progressed = true
		}
	}
	return progressed, nil
}

func (s *Session) followRotate() bool {
	return s.cfg.Binlog.Source == config.SourceFile && s.cfg.Binlog.FollowRotate
}

// startPosition prefers, in order: the position committed in this
// process, the saved position, the configured one, the source's current
// master status.
func (s *Session) startPosition(ctx context.Context) (position.Entry, error) {
	if c := s.sink.Committed(); !c.Position.IsZero() {
		return c, nil
	}
	if store := s.sink.cfg.Store; store != nil {
		e, err := store.Load(ctx, s.cfg.Destination)
		if err == nil {
			return *e, nil
		}
		if errors.Cause(err) != position.ErrNotFound {
			return position.Entry{}, err
		}
	}
	if s.cfg.Binlog.File != "" || s.cfg.Binlog.GTID != "" {
		e := position.Entry{
			Position: binlog.LogPosition{File: s.cfg.Binlog.File, Offset: uint64(s.cfg.Binlog.Position)},
			GTID:     s.cfg.Binlog.GTID,
		}
		if e.Position.File != "" && e.Position.Offset < binlog.BIN_LOG_HEADER_SIZE {
			e.Position.Offset = binlog.BIN_LOG_HEADER_SIZE
		}
		return e, nil
	}
	if s.holder == nil {
		return position.Entry{}, errors.New("no start position: configure BINLOG.file or a datasource")
	}
	st, err := s.holder.Source.MasterStatus(ctx)
	if err != nil {
		return position.Entry{}, errors.Annotate(err, "master status")
	}
	return position.Entry{
		Position: binlog.LogPosition{File: st.File, Offset: uint64(st.Position)},
		GTID:     st.GTID.String(),
	}, nil
}

func (s *Session) defaultFetcher(ctx context.Context, from position.Entry) (binlog.Fetcher, error) {
	if s.cfg.Binlog.Source == config.SourceFile {
		if from.Position.File == "" {
			return nil, errors.New("file source needs a start file")
		}
		return binlog.OpenFile(filepath.Join(s.cfg.Binlog.Dir, from.Position.File), int64(from.Position.Offset))
	}
	if s.holder == nil {
		return nil, errors.New("mysql source needs a datasource")
	}
	if err := s.checkSource(ctx); err != nil {
		return nil, err
	}
	addr, err := s.address()
	if err != nil {
		return nil, err
	}
	syncerCfg, err := syncdb.SyncerConfig(s.holder.Config, addr, s.cfg.Binlog.HeartbeatPeriod())
	if err != nil {
		return nil, err
	}
	gtid := ""
	if from.Position.File == "" {
		gtid = from.GTID
	}
	return syncdb.NewBinlogFetcher(ctx, syncerCfg, from.Position, gtid, s.cfg.Binlog.BufferSize)
}

func (s *Session) address() (string, error) {
	if s.resolver != nil {
		return s.resolver.CurrentAddress()
	}
	cfg := s.holder.Config
	return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), nil
}

// checkSource rejects a replica id equal to the source's own.
func (s *Session) checkSource(ctx context.Context) error {
	id, err := s.holder.Source.ServerID(ctx)
	if err != nil {
		return errors.Annotate(err, "source server id")
	}
	if id == s.holder.Config.ServerID {
		return errors.Errorf("server_id %d is the source's own id", id)
	}
	checksum, err := s.holder.Source.BinlogChecksum(ctx)
	if err != nil {
		return errors.Annotate(err, "source binlog checksum")
	}
	log.Log.Info("source checked", zap.String("destination", s.cfg.Destination),
		zap.Uint32("server_id", id), zap.String("binlog_checksum", checksum))
	return nil
}

// DescribeFilter logs the tables of the source the filter lets through.
func (s *Session) DescribeFilter(ctx context.Context) error {
	if s.holder == nil {
		return nil
	}
	schemas, err := s.holder.Source.ListSchemas(ctx)
	if err != nil {
		return err
	}
	if f := s.sink.cfg.Filter; f != nil {
		schemas = f.AllowSchemas(schemas)
	}
	if len(schemas) == 0 {
		log.Log.Warn("filter excludes every schema", zap.String("destination", s.cfg.Destination))
		return nil
	}
	tables, err := s.holder.Source.ListTables(ctx, schemas...)
	if err != nil {
		return err
	}
	included := 0
	for schema, names := range tables {
		for _, name := range names {
			if s.sink.allow(schema, name) {
				included++
			}
		}
	}
	log.Log.Info("filter applied", zap.String("destination", s.cfg.Destination),
		zap.Strings("schemas", schemas), zap.Int("tables", included))
	return nil
}
