package utils_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wardenbot/warden/pkg/utils"
)

func TestKeyMutex(t *testing.T) {
	t.Parallel()

	t.Run("serializes same key", func(t *testing.T) {
		t.Parallel()

		m := utils.NewKeyMutex[string]()
		counter := 0

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				m.Lock("key")
				counter++
				m.Unlock("key")
			}()
		}

		wg.Wait()
		assert.Equal(t, 50, counter)
	})

	t.Run("distinct keys do not block each other", func(t *testing.T) {
		t.Parallel()

		m := utils.NewKeyMutex[int]()
		m.Lock(1)

		released := make(chan struct{})

		go func() {
			m.Lock(2)
			m.Unlock(2)
			close(released)
		}()

		// Key 2 must proceed while key 1 is still held
		<-released
		m.Unlock(1)
	})

	t.Run("unlock of unlocked key panics", func(t *testing.T) {
		t.Parallel()

		m := utils.NewKeyMutex[string]()
		assert.Panics(t, func() {
			m.Unlock("never locked")
		})
	})
}
