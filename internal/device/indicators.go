package device

import (
	"log/slog"
	"sync"

	"github.com/talkiebox/talkie/internal/session"
)

// ConsoleIndicators logs indicator transitions instead of driving LEDs.
// Repeated sets to the same state are suppressed so the log only shows
// actual changes.
type ConsoleIndicators struct {
	log *slog.Logger

	mu   sync.Mutex
	last map[string]session.IndicatorState
}

func NewConsoleIndicators() *ConsoleIndicators {
	return &ConsoleIndicators{
		log:  slog.Default().With("component", "indicators"),
		last: make(map[string]session.IndicatorState),
	}
}

func (i *ConsoleIndicators) SetIndicator(friendID string, state session.IndicatorState) {
	i.mu.Lock()
	prev, seen := i.last[friendID]
	i.last[friendID] = state
	i.mu.Unlock()

	if seen && prev == state {
		return
	}
	i.log.Info("indicator", "friend", friendID, "state", state)
}

func (i *ConsoleIndicators) FlashError() {
	i.log.Warn("indicator error flash")
}
