package storage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const reconnectDelay = time.Second

func changeChannel(collection, userID string) string {
	return "changes:" + collection + ":" + userID
}

// fetchFunc loads a snapshot and returns the callback that hands it to the
// subscriber. fresh forces a read that bypasses the snapshot cache.
type fetchFunc func(ctx context.Context, fresh bool) (deliver func(), err error)

func (s *Storage) watch(collection, userID string, fetch fetchFunc, onError func(error)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var stopped atomic.Bool
	emit := func(ctx context.Context, fresh bool) error {
		deliver, err := fetch(ctx, fresh)
		if err != nil {
			return err
		}
		if !stopped.Load() {
			deliver()
		}
		return nil
	}
	report := func(err error) {
		if !stopped.Load() && onError != nil {
			onError(err)
		}
	}
	go watchChannel(ctx, s.redis, changeChannel(collection, userID), s.logger, emit, report)
	return func() {
		stopped.Store(true)
		cancel()
	}
}

// watchChannel emits a snapshot once the subscription is confirmed and again
// for every burst of change notifications on channel. A dropped pub/sub
// connection is re-established after reconnectDelay; the first snapshot after
// a reconnect always bypasses the cache because notifications may have been
// missed in between. It returns when ctx is cancelled.
func watchChannel(
	ctx context.Context,
	rc *redis.Client,
	channel string,
	logger *log.Logger,
	emit func(ctx context.Context, fresh bool) error,
	onError func(error),
) {
	fresh := false
	for {
		sub := rc.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			onError(fmt.Errorf("%w: subscribe %s: %w", ErrUnavailable, channel, err))
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			fresh = true
			continue
		}
		if err := emit(ctx, fresh); err != nil {
			if ctx.Err() != nil {
				_ = sub.Close()
				return
			}
			onError(err)
		}
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case _, ok := <-ch:
				if !ok {
					break recv
				}
				drain(ch)
				if err := emit(ctx, true); err != nil {
					if ctx.Err() != nil {
						_ = sub.Close()
						return
					}
					onError(err)
				}
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
		fresh = true
	}
}

// drain discards notifications that are already queued; one fresh snapshot
// covers all of them.
func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
