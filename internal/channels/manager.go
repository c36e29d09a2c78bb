package channels

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/dayuer/estatedesk/internal/bus"
)

// ErrUnknownChannel is returned when no adapter is registered for a tag.
var ErrUnknownChannel = errors.New("unknown channel")

// Manager owns the registered channel adapters.
type Manager struct {
	channels map[string]Channel
	mu       sync.RWMutex
}

// NewManager creates a channel manager.
func NewManager() *Manager {
	return &Manager{channels: make(map[string]Channel)}
}

// Register adds a channel to the manager, replacing any with the same name.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name, or nil.
func (m *Manager) Get(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// EnabledChannels returns the registered channel names, sorted.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch sends text to userID through the adapter registered for channel.
func (m *Manager) Dispatch(ctx context.Context, channel, userID, text string) error {
	ch := m.Get(channel)
	if ch == nil {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}
	return ch.Send(ctx, bus.OutboundMessage{Channel: channel, UserID: userID, Text: text})
}

// StartAll starts all channels concurrently. Blocks until every channel has
// returned, which normally means ctx was cancelled.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	chans := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		chans[name] = ch
	}
	m.mu.RUnlock()

	if len(chans) == 0 {
		log.Println("[Channels] No channels enabled")
		return nil
	}

	var wg sync.WaitGroup
	for name, ch := range chans {
		wg.Add(1)
		go func(n string, c Channel) {
			defer wg.Done()
			log.Printf("[Channels] Starting %s channel...", n)
			if err := c.Start(ctx); err != nil {
				log.Printf("[Channels] ⚠️ Channel %s error: %v", n, err)
			}
		}(name, ch)
	}

	wg.Wait()
	return nil
}

// StopAll stops all channels.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			log.Printf("[Channels] Error stopping %s: %v", name, err)
		}
	}
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}
