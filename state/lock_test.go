package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHighWaterMarkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := NewHighWaterMark(dir)

	initial, err := h.Read()
	require.NoError(t, err)
	require.Empty(t, initial)

	require.NoError(t, h.Write("2026-03-01 10:05:00"))
	got, err := h.Read()
	require.NoError(t, err)
	require.Equal(t, "2026-03-01 10:05:00", got)
}

func TestWithGroupLockSerializes(t *testing.T) {
	dir := t.TempDir()
	var order []int
	done := make(chan struct{})

	go func() {
		_ = WithGroupLock(dir, func() error {
			order = append(order, 1)
			return nil
		})
		done <- struct{}{}
	}()
	<-done

	_ = WithGroupLock(dir, func() error {
		order = append(order, 2)
		return nil
	})

	require.Equal(t, []int{1, 2}, order)
}
