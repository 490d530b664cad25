// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersConcurrentIncrement(t *testing.T) {
	c := NewCounters()

	const workers = 16
	const perWorker = 1000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				c.IncProduced()
				c.IncConsumed()
				c.IncErrors()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), c.Produced())
	assert.Equal(t, uint64(workers*perWorker), c.Consumed())
	assert.Equal(t, uint64(workers*perWorker), c.Errors())
}

func TestSnapshot(t *testing.T) {
	c := NewCounters()
	c.IncProduced()
	c.IncProduced()
	c.IncErrors()

	s := c.Snapshot()
	assert.Equal(t, uint64(2), s.Produced)
	assert.Equal(t, uint64(0), s.Consumed)
	assert.Equal(t, uint64(1), s.Errors)
}

func TestCollector(t *testing.T) {
	c := NewCounters()
	c.IncProduced()
	c.IncProduced()
	c.IncProduced()
	c.IncConsumed()

	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(c)))

	expected := `
# HELP stompbench_consumed_total Messages successfully received and acknowledged.
# TYPE stompbench_consumed_total counter
stompbench_consumed_total 1
# HELP stompbench_errors_total Transport and protocol failures.
# TYPE stompbench_errors_total counter
stompbench_errors_total 0
# HELP stompbench_produced_total Messages successfully sent to the broker.
# TYPE stompbench_produced_total counter
stompbench_produced_total 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected)))
}
