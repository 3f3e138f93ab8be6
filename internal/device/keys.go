package device

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/talkiebox/talkie/internal/session"
)

// Dispatcher receives the button events decoded from input.
type Dispatcher interface {
	Dispatch(session.Event)
}

// ReadKeys maps console input lines onto button events for development
// without the physical buttons:
//
//	r          record toggle
//	d          conversation mode toggle
//	<anything> friend button for that friend id
//
// It returns when the reader hits EOF or the context is cancelled.
func ReadKeys(ctx context.Context, r io.Reader, coord Dispatcher) {
	log := slog.Default().With("component", "keys")
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "r":
			coord.Dispatch(session.RecordButtonPressed{})
		case "d":
			coord.Dispatch(session.DialogButtonPressed{})
		default:
			coord.Dispatch(session.FriendButtonPressed{FriendID: line})
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("input reader stopped", "error", err)
	}
}
