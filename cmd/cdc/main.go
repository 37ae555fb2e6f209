package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go-canal/internal/cannal"
	"go-canal/internal/cluster"
	"go-canal/internal/db"
	"go-canal/internal/log"
	"go-canal/internal/model"
	"go-canal/internal/position"
	"go-canal/internal/syncdb"
	"go-canal/pkg/config"

	"github.com/pingcap/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// leaseTTL is the running lease lifetime in poll intervals.
const leaseTTL = 3

func main() {
	configPath := flag.String("config", "config.toml", "path of the TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Log.Error("go-canal exit", zap.Error(err))
		log.Sync()
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
	log.Sync()
}

func run(configPath string) (err error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := log.Init(cfg.Log); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	holders, err := syncdb.OpenDataSources(ctx, cfg.DataSourceConfigs)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, syncdb.CloseAll(holders))
	}()

	var rdb *redis.Client
	if cfg.Cluster.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Cluster.Addr,
			Password: cfg.Cluster.Password,
			DB:       cfg.Cluster.DB,
		})
		defer func() {
			err = multierr.Append(err, rdb.Close())
		}()
	}

	if cfg.Cluster.Enabled && rdb == nil {
		return errors.New("CLUSTER: enabled without addr")
	}

	store, repo, err := openStore(cfg, rdb)
	if err != nil {
		return err
	}

	var sessions []*cannal.Session
	if len(holders) == 0 {
		if cfg.Binlog.Source != config.SourceFile {
			return errors.New("no DATASOURCE configured")
		}
		dest := cfg.Cluster.Destination
		if dest == "" {
			dest = cfg.Binlog.File
		}
		sink := newSink(cfg, dest, nil, store, repo)
		sessions = append(sessions, cannal.NewSession(cannal.SessionConfig{Destination: dest, Binlog: cfg.Binlog}, sink))
	}
	for id, holder := range holders {
		opts := []cannal.SessionOption{cannal.WithDataSource(holder)}
		if cfg.Cluster.Enabled {
			res, release, werr := watchCluster(ctx, cfg.Cluster, rdb, holder)
			if werr != nil {
				return werr
			}
			defer func() {
				err = multierr.Append(err, release())
			}()
			opts = append(opts, cannal.WithResolver(res))
		}
		sink := newSink(cfg, id, holder, store, repo)
		s := cannal.NewSession(cannal.SessionConfig{Destination: id, Binlog: cfg.Binlog}, sink, opts...)
		if err := s.DescribeFilter(ctx); err != nil {
			log.Log.Warn("describe filter failed", zap.String("datasource", id), zap.Error(err))
		}
		sessions = append(sessions, s)
	}

	for _, s := range sessions {
		if err := s.Start(ctx); err != nil {
			return err
		}
	}
	log.Log.Info("go-canal started", zap.Int("sessions", len(sessions)))

	done := make(chan error, len(sessions))
	for _, s := range sessions {
		s := s
		go func() { done <- s.Wait() }()
	}
	for range sessions {
		select {
		case werr := <-done:
			err = multierr.Append(err, werr)
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}

	log.Log.Info("go-canal stopping")
	for _, s := range sessions {
		err = multierr.Append(err, s.Stop())
	}
	return err
}

func openStore(cfg *config.CdcConfig, rdb *redis.Client) (position.Store, *model.MetaRepository, error) {
	switch cfg.Position.Store {
	case config.StoreRedis:
		return position.NewRedisStore(rdb, cfg.Position.Key), nil, nil
	case config.StoreMySQL:
		gdb, err := db.InitCDCDataSource(cfg.CDCDataSource)
		if err != nil {
			return nil, nil, err
		}
		return position.NewGormStore(gdb), model.NewMetaRepository(gdb), nil
	default:
		return position.NewMemoryStore(), nil, nil
	}
}

func newSink(cfg *config.CdcConfig, dest string, holder *syncdb.DataSourceHolder, store position.Store, repo *model.MetaRepository) *cannal.Sink {
	sc := cannal.SinkConfig{
		DataSource:  dest,
		Destination: dest,
		Store:       store,
		Charset:     cfg.Binlog.Charset,
	}
	if holder != nil {
		sc.Filter = holder.Config.ParseFilterConfig()
		sc.Columns = syncdb.NewColumnCache(holder.Source)
	}
	sink := cannal.NewSink(sc)
	sink.AddHandler(cannal.NewBroadcaster(cannal.ConsoleConsumer{}))
	if repo != nil {
		sink.AddHandler(cannal.NewDDLRecorder(repo))
	}
	return sink
}

// watchCluster registers the datasource as a candidate, competes for the
// running lease with it and keeps a resolver in step with the registry.
// release stops the lease and gives it up.
func watchCluster(ctx context.Context, cfg config.ClusterConfig, rdb *redis.Client, holder *syncdb.DataSourceHolder) (*cluster.Resolver, func() error, error) {
	dest := cfg.Destination
	if dest == "" {
		dest = holder.Config.ID
	}
	addr := net.JoinHostPort(holder.Config.Host, strconv.Itoa(holder.Config.Port))
	registry := cluster.NewRedisRegistry(rdb, cfg.Prefix, dest)
	if err := registry.Register(ctx, addr); err != nil {
		return nil, nil, err
	}
	res := cluster.NewResolver(dest)
	if err := registry.Refresh(ctx, res); err != nil {
		return nil, nil, err
	}
	go func() {
		if err := registry.Watch(ctx, res, cfg.PollInterval()); err != nil && ctx.Err() == nil {
			log.Log.Error("cluster watch stopped", zap.String("destination", dest), zap.Error(err))
		}
	}()

	holdCtx, cancel := context.WithCancel(ctx)
	held := make(chan error, 1)
	go func() { held <- registry.Hold(holdCtx, addr, leaseTTL*cfg.PollInterval()) }()
	release := func() error {
		cancel()
		return <-held
	}
	return res, release, nil
}
