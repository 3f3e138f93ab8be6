package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// persistedState is the on-disk snapshot of conversation history. Layout
// matters: existing state files from earlier firmware use these exact keys.
type persistedState struct {
	Messages   map[string][]*Message `json:"messages"`
	SentStatus map[string]bool       `json:"sent_status"`
}

// loadState merges the persisted snapshot into the coordinator. Received
// messages whose audio files have vanished are dropped during load; sent
// entries are kept regardless, their files are not needed again.
func (c *Coordinator) loadState() {
	if c.statePath == "" {
		return
	}

	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("state file unreadable, starting fresh", "error", err)
		}
		return
	}

	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		c.log.Warn("state file corrupt, starting fresh", "error", err)
		return
	}

	for friendID, msgs := range st.Messages {
		kept := make([]*Message, 0, len(msgs))
		for _, m := range msgs {
			if m.Direction == DirectionReceived && !fileExists(m.AudioRef) {
				c.log.Warn("dropping message with missing audio",
					"friend", friendID, "message_id", m.ID)
				continue
			}
			kept = append(kept, m)
		}
		c.messages[friendID] = kept
	}
	for friendID, pending := range st.SentStatus {
		c.sentStatus[friendID] = pending
	}

	c.log.Info("state loaded", "path", c.statePath)
}

func (c *Coordinator) saveState() {
	if c.statePath == "" {
		return
	}

	st := persistedState{
		Messages:   c.messages,
		SentStatus: c.sentStatus,
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		c.log.Error("state encode failed", "error", err)
		return
	}

	if err := os.MkdirAll(filepath.Dir(c.statePath), 0o755); err != nil {
		c.log.Error("state dir create failed", "error", err)
		return
	}
	if err := os.WriteFile(c.statePath, data, 0o644); err != nil {
		c.log.Error("state write failed", "error", err)
	}
}
