package cannal

import (
	"context"

	"go-canal/internal/log"
	"go-canal/internal/model"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EventConsumer 事件消费者
type EventConsumer interface {
	Consume(ctx context.Context, events []*model.Event) error
}

// Broadcaster decodes each row change once and hands the same events to
// every consumer concurrently. OnRow returns after all consumers did, so
// the order between changes is kept. Consumers share the events and must
// not modify them.
type Broadcaster struct {
	NopHandler
	consumers []EventConsumer
}

func NewBroadcaster(consumers ...EventConsumer) *Broadcaster {
	return &Broadcaster{consumers: consumers}
}

func (b *Broadcaster) OnRow(ctx context.Context, e *RowChange) error {
	events, err := e.Events()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, c := range b.consumers {
		c := c
		g.Go(func() error {
			return c.Consume(gctx, events)
		})
	}
	return g.Wait()
}

// ChannelConsumer 事件分发到通道
type ChannelConsumer struct {
	ch chan<- *model.Event
}

func NewChannelConsumer(ch chan<- *model.Event) *ChannelConsumer {
	return &ChannelConsumer{ch: ch}
}

func (cc *ChannelConsumer) Consume(ctx context.Context, events []*model.Event) error {
	for _, e := range events {
		select {
		case cc.ch <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// ConsoleConsumer 事件控制台消费实现
type ConsoleConsumer struct{}

func (cc ConsoleConsumer) Consume(_ context.Context, events []*model.Event) error {
	for _, e := range events {
		b, err := e.Marshal()
		if err != nil {
			return err
		}
		log.Log.Info("Consume", zap.String("schema", e.Schema), zap.String("table", e.Table),
			zap.String("op", e.Op), zap.ByteString("event", b))
	}
	return nil
}
