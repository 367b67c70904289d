package eventsource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"voicedash/internal/events"
)

// Channel layout for the redis transport. The platform broadcasts shared
// events on the firehose channel and per-resource events on scoped ones.
const (
	channelFirehose = "voicedash:events"
	channelCallFmt  = "voicedash:call:%s"
	channelCampFmt  = "voicedash:campaign:%s"
)


// RedisSource consumes the push stream from redis pub/sub instead of a
// WebSocket. It satisfies the same handler/observer contracts as Client,
// so the rest of the process does not care which transport is configured.
// Desired channel subscriptions are tracked and replayed on every
// (re)connect, mirroring the WebSocket client's resubscribe behavior.
type RedisSource struct {
	rdb      *redis.Client
	handler  Handler
	observer Observer
	log      *slog.Logger
	clock    func() time.Time

	heartbeatInterval time.Duration
	retryInterval     time.Duration

	mu       sync.Mutex
	pubsub   *redis.PubSub
	channels map[string]struct{}
}

func NewRedisSource(rdb *redis.Client, handler Handler, observer Observer, heartbeatInterval time.Duration, log *slog.Logger) *RedisSource {
	if log == nil {
		log = slog.Default()
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &RedisSource{
		rdb:               rdb,
		handler:           handler,
		observer:          observer,
		log:               log,
		clock:             time.Now,
		heartbeatInterval: heartbeatInterval,
		retryInterval:     5 * time.Second,
		channels:          map[string]struct{}{},
	}
}

// Run consumes the stream until ctx is canceled, re-establishing the
// pub/sub after drops (including deliberate ones via Reconnect) at a
// fixed interval.
func (s *RedisSource) Run(ctx context.Context) error {
	hbCtx, stopHB := context.WithCancel(ctx)
	defer stopHB()
	go s.heartbeatLoop(hbCtx)

	for {
		if ctx.Err() != nil {
			s.observer.Disconnected()
			return ctx.Err()
		}
		s.observer.Connecting()

		err := s.consume(ctx)
		if ctx.Err() != nil {
			s.observer.Disconnected()
			return ctx.Err()
		}
		s.observer.ConnectionLost()
		s.log.Warn("redis stream dropped", "err", err)

		select {
		case <-ctx.Done():
			s.observer.Disconnected()
			return ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

// consume subscribes the firehose plus every tracked channel and reads
// until the pub/sub drops.
func (s *RedisSource) consume(ctx context.Context) error {
	s.mu.Lock()
	chans := make([]string, 0, len(s.channels)+1)
	chans = append(chans, channelFirehose)
	for c := range s.channels {
		chans = append(chans, c)
	}
	s.mu.Unlock()

	pubsub := s.rdb.Subscribe(ctx, chans...)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("eventsource: redis subscribe: %w", err)
	}
	s.mu.Lock()
	s.pubsub = pubsub
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.pubsub == pubsub {
			s.pubsub = nil
		}
		s.mu.Unlock()
		pubsub.Close()
	}()

	s.observer.Connected()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("eventsource: redis channel closed")
			}
			ev, err := events.Normalize([]byte(msg.Payload), s.clock())
			if err != nil {
				s.log.Debug("frame dropped", "channel", msg.Channel, "err", err)
				continue
			}
			if s.handler != nil {
				s.handler(ev)
			}
		}
	}
}

// heartbeatLoop measures broker round trips with PING; these feed the same
// quality classifier as WebSocket pongs.
func (s *RedisSource) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := s.clock()
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err := s.rdb.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				s.observer.RecordLoss()
				continue
			}
			s.observer.RecordHeartbeat(s.clock().Sub(start))
		}
	}
}

// Reconnect satisfies connmon.Reconnector: it tears down the live pub/sub
// so the run loop re-establishes it with a fresh subscription set.
func (s *RedisSource) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	pubsub := s.pubsub
	s.pubsub = nil
	s.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	return pubsub.Close()
}

/* ===================== subscriptions ===================== */

func (s *RedisSource) SubscribeCall(id string) error {
	return s.subscribe(fmt.Sprintf(channelCallFmt, id))
}

func (s *RedisSource) UnsubscribeCall(id string) error {
	return s.unsubscribe(fmt.Sprintf(channelCallFmt, id))
}

func (s *RedisSource) SubscribeCampaign(id string) error {
	return s.subscribe(fmt.Sprintf(channelCampFmt, id))
}

func (s *RedisSource) UnsubscribeCampaign(id string) error {
	return s.unsubscribe(fmt.Sprintf(channelCampFmt, id))
}

// subscribe tolerates a missing pub/sub: the tracked set is replayed on
// (re)connect, so callers need not order subscribes against connection
// establishment.
func (s *RedisSource) subscribe(channel string) error {
	s.mu.Lock()
	s.channels[channel] = struct{}{}
	pubsub := s.pubsub
	s.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return pubsub.Subscribe(ctx, channel)
}

func (s *RedisSource) unsubscribe(channel string) error {
	s.mu.Lock()
	delete(s.channels, channel)
	pubsub := s.pubsub
	s.mu.Unlock()
	if pubsub == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return pubsub.Unsubscribe(ctx, channel)
}
