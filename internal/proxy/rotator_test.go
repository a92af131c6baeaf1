package proxy

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextCyclesInPoolOrder(t *testing.T) {
	pool := []string{"http://proxy-a:8080", "http://proxy-b:8080", "socks5://proxy-c:1080"}
	rotator, err := NewRotator(pool)
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		for _, expected := range pool {
			endpoint, ok := rotator.Next()
			require.True(t, ok)
			assert.Equal(t, expected, endpoint.String())
		}
	}
}

func TestNextOnEmptyPoolMeansDirect(t *testing.T) {
	rotator, err := NewRotator([]string{"", "  "})
	require.NoError(t, err)

	endpoint, ok := rotator.Next()
	assert.False(t, ok)
	assert.Nil(t, endpoint)
	assert.Zero(t, rotator.Len())

	var missing *Rotator
	_, ok = missing.Next()
	assert.False(t, ok)
}

func TestNewRotatorRejectsInvalidEndpoints(t *testing.T) {
	for _, raw := range []string{"ftp://proxy:21", "http://", "://broken"} {
		_, err := NewRotator([]string{raw})
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, ErrInvalidEndpoint), raw)
	}
}

func TestNextIsSafeUnderContention(t *testing.T) {
	pool := []string{"http://a:1", "http://b:1", "http://c:1", "http://d:1"}
	rotator, err := NewRotator(pool)
	require.NoError(t, err)

	const callers = 16
	const callsPerCaller = 25

	var mu sync.Mutex
	counts := make(map[string]int)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerCaller; j++ {
				endpoint, ok := rotator.Next()
				if !assert.True(t, ok) {
					return
				}
				mu.Lock()
				counts[endpoint.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := callers * callsPerCaller
	for _, endpoint := range pool {
		assert.Equal(t, total/len(pool), counts[endpoint], endpoint)
	}
}

func TestNextReturnsIndependentCopies(t *testing.T) {
	rotator, err := NewRotator([]string{"http://a:1"})
	require.NoError(t, err)

	first, _ := rotator.Next()
	first.Host = "mutated:1"
	second, _ := rotator.Next()
	assert.Equal(t, "a:1", second.Host)
}
