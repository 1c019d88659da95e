package live

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexgrid/internal/domain"
)

func TestHub_DeliversOnlySubscribedTokens(t *testing.T) {
	h := NewHub()
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	subscribed := &Client{hub: h, send: make(chan []byte, 4), tokens: map[string]struct{}{"tokA": {}}}
	all := &Client{hub: h, send: make(chan []byte, 4), tokens: nil}

	h.register <- subscribed
	h.register <- all
	waitRegistered(t, h, 2)

	h.Notify([]domain.BucketRecord{
		{Token: "tokA", BucketStart: time.Now().UTC(), BaseVolume: decimal.NewFromInt(1)},
		{Token: "tokB", BucketStart: time.Now().UTC(), BaseVolume: decimal.NewFromInt(2)},
	})

	var gotSubscribed, gotAll []Tick
	require.Eventually(t, func() bool {
		select {
		case data := <-subscribed.send:
			require.NoError(t, json.Unmarshal(data, &gotSubscribed))
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		select {
		case data := <-all.send:
			require.NoError(t, json.Unmarshal(data, &gotAll))
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)

	require.Len(t, gotSubscribed, 1)
	assert.Equal(t, "tokA", gotSubscribed[0].Token)
	assert.Len(t, gotAll, 2)
}

func TestHub_NotifyWithNoRowsIsNoop(t *testing.T) {
	h := NewHub()
	stop := make(chan struct{})
	go h.Run(stop)
	defer close(stop)

	h.Notify(nil)
}

func waitRegistered(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return len(h.clients) == n
	}, time.Second, time.Millisecond)
}
