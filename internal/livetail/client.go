package livetail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"

	"diaglog/internal/entry"
)

// URLForAddr turns a host:port into the hub's WebSocket URL. Full ws:// URLs
// are returned unchanged.
func URLForAddr(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr + "/ws"
}

// Follow connects to a hub, subscribes to classes and calls fn for every
// fragment until ctx is cancelled or the connection drops. A cancelled ctx
// is not reported as an error.
func Follow(ctx context.Context, url string, classes []entry.Class, fn func(entry.Class, []byte)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("livetail: dial %s: %w", url, err)
	}
	defer conn.Close()

	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	payload, err := json.Marshal(subscribeMsg{Action: subscribeAction, Classes: names})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("livetail: subscribe: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("livetail: read: %w", err)
		}
		switch msgType {
		case websocket.BinaryMessage:
			class, data, derr := DecodeFragment(msg)
			if derr != nil {
				return derr
			}
			fn(class, data)
		case websocket.TextMessage:
			var em errorMsg
			if json.Unmarshal(msg, &em) == nil && em.Type == "error" {
				return errors.New("livetail: server rejected request: " + em.Message)
			}
		}
	}
}
