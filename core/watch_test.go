package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestHub_Latest(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHub[int](4, true)
	defer h.close()

	initial := 0
	w, err := h.watch(&initial)
	require.NoError(t, err)
	defer w.Close()

	for i := 1; i <= 5; i++ {
		h.publish(i)
	}
	// only the most recent value is kept for a slow reader
	require.Eventually(t, func() bool {
		select {
		case v := <-w.C:
			return v == 5
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestHub_All(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHub[int](16, false)
	w, err := h.watch(nil)
	require.NoError(t, err)

	for i := range 3 {
		h.publish(i)
	}
	for i := range 3 {
		select {
		case v := <-w.C:
			assert.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatal("missing value")
		}
	}

	h.close()
	_, ok := <-w.C
	assert.False(t, ok)
	w.Close()

	_, err = h.watch(nil)
	assert.ErrorIs(t, err, ErrSocketClosed)
}

func TestHub_WatchClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHub[int](16, false)
	defer h.close()
	w, err := h.watch(nil)
	require.NoError(t, err)
	w.Close()
	_, ok := <-w.C
	assert.False(t, ok)
	// publishing to a hub with no watchers does not block
	h.publish(1)
}
