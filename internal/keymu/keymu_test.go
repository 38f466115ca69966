package keymu_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"stakeproof/internal/keymu"
)

func TestMapSerializesPerKey(t *testing.T) {
	var m keymu.Map
	var a, b int
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				unlock := m.Lock("a")
				a++
				unlock()
				return
			}
			unlock := m.Lock("b")
			b++
			unlock()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
	assert.Equal(t, 0, m.Len())
}
