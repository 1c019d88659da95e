// Package live broadcasts ten-minute bucket upserts to subscribed dashboards
// as they land. It is purely observational: nothing else in the pipeline
// reads from it, and its absence never affects correctness.
package live

import (
	"encoding/json"
	"sync"

	"dexgrid/internal/domain"
)

// Tick is the wire shape of one broadcast row.
type Tick struct {
	Token        string `json:"token"`
	BucketStart  string `json:"bucket_start"`
	BaseVolume   string `json:"base_volume"`
	TargetVolume string `json:"target_volume"`
	High         string `json:"high"`
	Low          string `json:"low"`
	TradeCount   int64  `json:"trade_count"`
	IsComplete   bool   `json:"is_complete"`
}

func tickFromRecord(r domain.BucketRecord) Tick {
	return Tick{
		Token:        r.Token,
		BucketStart:  r.BucketStart.UTC().Format("2006-01-02T15:04:05Z"),
		BaseVolume:   r.BaseVolume.String(),
		TargetVolume: r.TargetVolume.String(),
		High:         r.High.String(),
		Low:          r.Low.String(),
		TradeCount:   r.TradeCount,
		IsComplete:   r.IsComplete,
	}
}

// Client is one subscribed connection. tokens is the subscription filter; an
// empty set means "every token".
type Client struct {
	hub    *Hub
	send   chan []byte
	tokens map[string]struct{}
}

// Hub serialises registration, unregistration, and broadcast through a single
// goroutine so client maps are never touched concurrently.
type Hub struct {
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan []domain.BucketRecord

	mu sync.RWMutex
}

// NewHub creates a Hub. Call Run in its own goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan []domain.BucketRecord, 256),
	}
}

// Run is the hub's serialising loop; it blocks until stopCh is closed.
func (h *Hub) Run(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case rows := <-h.broadcast:
			h.deliver(rows)
		}
	}
}

func (h *Hub) deliver(rows []domain.BucketRecord) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	byToken := make(map[string][]Tick)
	for _, r := range rows {
		byToken[r.Token] = append(byToken[r.Token], tickFromRecord(r))
	}

	for _, c := range clients {
		ticks := c.matching(byToken, rows)
		if len(ticks) == 0 {
			continue
		}
		data, err := json.Marshal(ticks)
		if err != nil {
			continue
		}
		select {
		case c.send <- data:
		default:
			h.unregister <- c
		}
	}
}

func (c *Client) matching(byToken map[string][]Tick, rows []domain.BucketRecord) []Tick {
	if len(c.tokens) == 0 {
		out := make([]Tick, 0, len(rows))
		for _, r := range rows {
			out = append(out, tickFromRecord(r))
		}
		return out
	}

	var out []Tick
	for token := range c.tokens {
		out = append(out, byToken[token]...)
	}
	return out
}

// Notify broadcasts an upserted batch of rows. Non-blocking.
func (h *Hub) Notify(rows []domain.BucketRecord) {
	if h == nil || len(rows) == 0 {
		return
	}
	select {
	case h.broadcast <- rows:
	default:
	}
}
