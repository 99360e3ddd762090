package collector

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/search-spider/internal/models"
)

func record(pos int) models.Record {
	return models.Record{Source: "test", Keyword: "laptop", Page: 1, Position: pos}
}

func stopped(c *Collector) bool {
	select {
	case <-c.Stop():
		return true
	default:
		return false
	}
}

func TestCollector_Offer(t *testing.T) {
	c := New(2)
	assert.False(t, stopped(c))

	assert.True(t, c.Offer(record(1)))
	assert.False(t, c.Done())
	assert.True(t, c.Offer(record(2)))
	assert.True(t, c.Done())
	assert.True(t, stopped(c))

	assert.False(t, c.Offer(record(3)))
	assert.False(t, c.Offer(record(4)))

	recs := c.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].Position)
	assert.Equal(t, 2, recs[1].Position)
	assert.Equal(t, 2, c.Dropped())
}

func TestCollector_ZeroLimit(t *testing.T) {
	for _, limit := range []int{0, -3} {
		c := New(limit)
		assert.True(t, c.Done())
		assert.True(t, stopped(c))
		assert.False(t, c.Offer(record(1)))
		assert.Equal(t, 0, c.Len())
		assert.Equal(t, 1, c.Dropped())
	}
}

func TestCollector_RecordsIsCopy(t *testing.T) {
	c := New(5)
	c.Offer(record(1))

	recs := c.Records()
	recs[0].Position = 99
	assert.Equal(t, 1, c.Records()[0].Position)
}

func TestCollector_ConcurrentOffers(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		limit := rand.Intn(40)
		producers := 1 + rand.Intn(8)
		perProducer := rand.Intn(20)

		c := New(limit)
		var accepted atomic.Int64
		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for i := 0; i < perProducer; i++ {
					if c.Offer(record(p*100 + i)) {
						accepted.Add(1)
					}
				}
			}(p)
		}
		wg.Wait()

		total := producers * perProducer
		expected := min(limit, total)
		assert.Equal(t, expected, c.Len())
		assert.Equal(t, int64(expected), accepted.Load())
		assert.Equal(t, total-expected, c.Dropped())
		assert.LessOrEqual(t, c.Len(), limit)
		assert.Equal(t, total >= limit, c.Done())
	}
}
