package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealClock_NewTicker(t *testing.T) {
	ticker := RealClock{}.NewTicker(time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
	assert.WithinDuration(t, time.Now(), RealClock{}.Now(), time.Second)
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)
	c.Advance(time.Hour)
	assert.Equal(t, start.Add(time.Hour), c.Now())
}

func TestMockClock_Ticker(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	ticker := c.NewTicker(20 * time.Millisecond)

	c.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	c.Advance(10 * time.Millisecond)
	select {
	case got := <-ticker.C():
		assert.Equal(t, time.Unix(0, 0).Add(20*time.Millisecond), got)
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	assert.True(t, ticker.(*MockTicker).Stopped())
	c.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_BlockUntilTickers(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	created := make(chan Ticker)
	go func() { created <- c.NewTicker(time.Second) }()

	c.BlockUntilTickers(1)
	c.Advance(time.Second)
	ticker := <-created
	require.NotNil(t, ticker)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker created before Advance did not fire")
	}
}
