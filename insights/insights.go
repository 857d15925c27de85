// Package insights is a typed, non-blocking publish/subscribe bus for
// channel lifecycle events. Every subscriber is fed through its own FIFO
// queue so a slow consumer cannot stall publication to the others.
package insights

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"context"

	gcq "github.com/enriquebris/goconcurrentqueue"
	"github.com/hannahhoward/go-pubsub"
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("insights")

// Subscriber receives events in the order they were published.
type Subscriber func(Event)

func dispatcher(event pubsub.Event, subscriberFn pubsub.SubscriberFn) error {
	fn := subscriberFn.(Subscriber)
	fn(event.(Event))
	return nil
}

// Bus is the exposed channel lifecycle event stream.
type Bus struct {
	ps   *pubsub.PubSub
	subs []*subscription
}

type subscription struct {
	queue  gcq.Queue
	cancel context.CancelFunc
	unsub  pubsub.Unsubscribe
}

// NewBus creates an empty insights bus.
func NewBus() *Bus {
	return &Bus{ps: pubsub.New(dispatcher)}
}

// Subscribe registers fn to receive every future event, delivered in
// publication order through a dedicated queue. The returned function
// unsubscribes and stops fn's delivery goroutine.
//
// @input - subscriber function.
//
// @output - unsubscribe function.
func (b *Bus) Subscribe(fn Subscriber) func() {
	queue := gcq.NewFIFO()
	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{queue: queue, cancel: cancel}
	sub.unsub = b.ps.Subscribe(Subscriber(func(e Event) {
		if err := queue.Enqueue(e); err != nil {
			log.Warnw("failed to enqueue insight", "error", err)
		}
	}))
	b.subs = append(b.subs, sub)

	go func() {
		for {
			v, err := queue.DequeueOrWaitForNextElementContext(ctx)
			if err != nil {
				return
			}
			fn(v.(Event))
		}
	}()

	return func() {
		sub.unsub()
		sub.cancel()
	}
}

// Publish fans event out to every current subscriber's queue without
// blocking on any subscriber's processing.
//
// @input - event.
func (b *Bus) Publish(event Event) {
	if err := b.ps.Publish(event); err != nil {
		log.Warnw("failed to publish insight", "error", err)
	}
}

// ChannelsCreated filters the bus to only ChannelsCreated events.
func (b *Bus) ChannelsCreated(fn func(ChannelsCreated)) func() {
	return b.Subscribe(func(e Event) {
		if e.Kind == KindChannelsCreated {
			fn(*e.Created)
		}
	})
}

// ChannelsReady filters the bus to only ChannelsReady events.
func (b *Bus) ChannelsReady(fn func(ChannelsReady)) func() {
	return b.Subscribe(func(e Event) {
		if e.Kind == KindChannelsReady {
			fn(*e.Ready)
		}
	})
}

// ChannelsSynced filters the bus to only ChannelsSynced events.
func (b *Bus) ChannelsSynced(fn func(ChannelsSynced)) func() {
	return b.Subscribe(func(e Event) {
		if e.Kind == KindChannelsSynced {
			fn(*e.Synced)
		}
	})
}

// ChannelsRetired filters the bus to only ChannelsRetired events.
func (b *Bus) ChannelsRetired(fn func(ChannelsRetired)) func() {
	return b.Subscribe(func(e Event) {
		if e.Kind == KindChannelsRetired {
			fn(*e.Retired)
		}
	})
}

// ChannelsClosed filters the bus to only ChannelsClosed events.
func (b *Bus) ChannelsClosed(fn func(ChannelsClosed)) func() {
	return b.Subscribe(func(e Event) {
		if e.Kind == KindChannelsClosed {
			fn(*e.Closed)
		}
	})
}
