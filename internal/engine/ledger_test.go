package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBreachLedger_RecordAndCount(t *testing.T) {
	ledger := NewBreachLedger()
	now := time.Now()

	key := BreachKey("threshold-1", "device-1")
	ledger.Record(key, 95.0, now.Add(-10*time.Minute))
	ledger.Record(key, 97.0, now.Add(-3*time.Minute))
	ledger.Record(key, 99.0, now.Add(-1*time.Minute))

	// Exact key, 5 minute window excludes the oldest entry
	require.Equal(t, 2, ledger.CountSince(key, now.Add(-5*time.Minute)))

	// Window that excludes everything
	require.Equal(t, 0, ledger.CountSince(key, now))

	// Unknown key
	require.Equal(t, 0, ledger.CountSince("threshold-9:device-1", now.Add(-time.Hour)))
}

func TestBreachLedger_WildcardPattern(t *testing.T) {
	ledger := NewBreachLedger()
	now := time.Now()

	ledger.Record(BreachKey("threshold-1", "device-1"), 95.0, now.Add(-time.Minute))
	ledger.Record(BreachKey("threshold-1", "device-2"), 96.0, now.Add(-time.Minute))
	ledger.Record(BreachKey("threshold-2", "device-1"), 97.0, now.Add(-time.Minute))

	require.Equal(t, 2, ledger.CountSince("threshold-1:*", now.Add(-5*time.Minute)))
	require.Equal(t, 1, ledger.CountSince("threshold-2:*", now.Add(-5*time.Minute)))
}

func TestBreachLedger_CapsAtHundredEntries(t *testing.T) {
	ledger := NewBreachLedger()
	base := time.Now().Add(-time.Hour)

	key := BreachKey("threshold-1", "device-1")
	for i := 0; i < 250; i++ {
		ledger.Record(key, float64(i), base.Add(time.Duration(i)*time.Second))
	}

	require.Equal(t, 100, ledger.Len(key))

	// Only the newest 100 entries survive
	require.Equal(t, 100, ledger.CountSince(key, base))
	require.Equal(t, 0, ledger.CountSince(key, base.Add(250*time.Second)))
}

func TestBreachLedger_Prune(t *testing.T) {
	ledger := NewBreachLedger()
	now := time.Now()

	ledger.Record(BreachKey("threshold-1", "device-1"), 95.0, now)
	ledger.Record(BreachKey("threshold-1", "device-2"), 96.0, now)
	ledger.Record(BreachKey("threshold-2", "device-1"), 97.0, now)

	ledger.Prune("threshold-1")

	require.Equal(t, 0, ledger.CountSince("threshold-1:*", now.Add(-time.Hour)))
	require.Equal(t, 1, ledger.CountSince("threshold-2:*", now.Add(-time.Hour)))
}

func TestBreachLedger_ConcurrentAppends(t *testing.T) {
	ledger := NewBreachLedger()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := BreachKey("threshold-1", fmt.Sprintf("device-%d", n))
			for j := 0; j < 200; j++ {
				ledger.Record(key, float64(j), now)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 10; i++ {
		require.Equal(t, 100, ledger.Len(BreachKey("threshold-1", fmt.Sprintf("device-%d", i))))
	}
	require.Equal(t, 1000, ledger.CountSince("threshold-1:*", now.Add(-time.Minute)))
}
