// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package loadgen_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/absmach/stompbench/dispatch"
	"github.com/absmach/stompbench/loadgen"
	"github.com/absmach/stompbench/metrics"
	"github.com/absmach/stompbench/testutil"
	"github.com/absmach/stompbench/transport"
)

// TestProducerConsumerEndToEnd runs one producer and one consumer against an
// in-process broker over the real transport and checks that messages flow,
// both counters advance, and shutdown leaves no error behind.
func TestProducerConsumerEndToEnd(t *testing.T) {
	broker, err := testutil.Start()
	require.NoError(t, err)
	defer broker.Close()
	host, port := broker.Addr()

	pool := dispatch.NewPool(4)
	defer pool.Close()

	dialer := loadgen.NewTransportDialer(transport.Options{Host: host, Port: port})
	counters := metrics.NewCounters()
	var done atomic.Bool

	consumer, err := loadgen.NewConsumer(loadgen.ConsumerOptions{
		ClientOptions: loadgen.ClientOptions{
			ID:       0,
			Name:     "consumer-e2e",
			Queue:    pool.NewQueue("consumer-e2e"),
			Dialer:   dialer,
			Counters: counters,
			Done:     &done,
		},
		Destination: "/queue/e2e",
		AckMode:     loadgen.AckClient,
	})
	require.NoError(t, err)
	consumer.Start()

	// Let the subscription land before producing so nothing is dropped.
	require.Eventually(t, func() bool { return broker.Subscriptions() == 1 },
		3*time.Second, 5*time.Millisecond)

	producer, err := loadgen.NewProducer(loadgen.ProducerOptions{
		ClientOptions: loadgen.ClientOptions{
			ID:       0,
			Name:     "producer-e2e",
			Queue:    pool.NewQueue("producer-e2e"),
			Dialer:   dialer,
			Counters: counters,
			Done:     &done,
		},
		Destination: "/queue/e2e",
		MessageSize: 256,
		SyncSend:    true,
	})
	require.NoError(t, err)
	producer.Start()

	require.Eventually(t, func() bool {
		return counters.Produced() >= 20 && counters.Consumed() >= 20
	}, 5*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, broker.Acks(), uint64(1))

	done.Store(true)
	producer.Shutdown()
	consumer.Shutdown()

	require.Zero(t, counters.Errors())
	require.GreaterOrEqual(t, counters.Consumed(), uint64(20))
}

// TestEndToEndRecoversFromBrokerDrop drops every live session mid-run and
// checks both clients reconnect and traffic resumes.
func TestEndToEndRecoversFromBrokerDrop(t *testing.T) {
	broker, err := testutil.Start()
	require.NoError(t, err)
	defer broker.Close()
	host, port := broker.Addr()

	pool := dispatch.NewPool(4)
	defer pool.Close()

	dialer := loadgen.NewTransportDialer(transport.Options{Host: host, Port: port})
	counters := metrics.NewCounters()
	var done atomic.Bool

	consumer, err := loadgen.NewConsumer(loadgen.ConsumerOptions{
		ClientOptions: loadgen.ClientOptions{
			ID:       1,
			Name:     "consumer-drop",
			Queue:    pool.NewQueue("consumer-drop"),
			Dialer:   dialer,
			Counters: counters,
			Done:     &done,
		},
		Destination: "/queue/drop",
		AckMode:     loadgen.AckAuto,
	})
	require.NoError(t, err)
	consumer.Start()

	producer, err := loadgen.NewProducer(loadgen.ProducerOptions{
		ClientOptions: loadgen.ClientOptions{
			ID:       1,
			Name:     "producer-drop",
			Queue:    pool.NewQueue("producer-drop"),
			Dialer:   dialer,
			Counters: counters,
			Done:     &done,
		},
		Destination: "/queue/drop",
		MessageSize: 64,
		SyncSend:    true,
		SendDelay:   time.Millisecond,
	})
	require.NoError(t, err)
	producer.Start()

	require.Eventually(t, func() bool { return counters.Consumed() >= 5 },
		3*time.Second, 5*time.Millisecond)

	broker.DropAll()

	// Reconnect is gated on the fixed backoff, so recovery takes at least
	// one ReconnectDelay. Wait past it and require fresh consumption.
	before := counters.Consumed()
	require.Eventually(t, func() bool { return counters.Consumed() > before },
		loadgen.ReconnectDelay+5*time.Second, 10*time.Millisecond)
	require.GreaterOrEqual(t, counters.Errors(), uint64(1))

	done.Store(true)
	producer.Shutdown()
	consumer.Shutdown()
}
