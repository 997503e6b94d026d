package portfolio

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateLimits(t *testing.T) {
	m := New(1, 100, 10)
	assert.True(t, m.CanEnter())

	m.Entered()
	assert.False(t, m.CanEnter(), "one open position fills the cap")
	assert.Equal(t, 1, m.OpenPositions())

	m.Exited(250.0, false)
	assert.True(t, m.CanEnter())
	assert.Equal(t, 0, m.OpenPositions())
	assert.Equal(t, 250.0, m.TotalProfit())
	assert.Equal(t, 0, m.SlHits())
}

func TestGateStopLossCap(t *testing.T) {
	m := New(5, 100, 2)
	for i := 0; i < 2; i++ {
		m.Entered()
		m.Exited(-100, true)
	}
	assert.Equal(t, 2, m.SlHits())
	assert.False(t, m.CanEnter(), "stop-loss cap reached")
}

func TestGateTradeCap(t *testing.T) {
	m := New(10, 3, 10)
	for i := 0; i < 3; i++ {
		m.Entered()
		m.Exited(0, false)
	}
	assert.False(t, m.CanEnter())
}

func TestGateConcurrentCounters(t *testing.T) {
	m := New(1000, 100000, 100000)
	const n = 500

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Entered()
			m.Exited(1, i%2 == 0)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, m.OpenPositions())
	assert.Equal(t, float64(n), m.TotalProfit())
	assert.Equal(t, n/2, m.SlHits())
}
