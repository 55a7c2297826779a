package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/xiaot623/annotator/internal/protocol"
)

// watcher is a websocket client subscribed to one conversation.
type watcher struct {
	conn *websocket.Conn
	done chan struct{}
}

// dialWatcher connects to the notification server.
func dialWatcher(ctx context.Context, addr string) (*watcher, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &watcher{conn: conn, done: make(chan struct{})}, nil
}

// Subscribe asks for the change events of a conversation.
func (w *watcher) Subscribe(conversationID string) error {
	return w.conn.WriteJSON(protocol.SubscribeMessage{
		BaseMessage: protocol.BaseMessage{
			Type:           protocol.TypeSubscribe,
			Ts:             time.Now().UnixMilli(),
			ConversationID: conversationID,
		},
	})
}

// ReadMessages prints server messages until the connection closes.
func (w *watcher) ReadMessages(out io.Writer) {
	defer close(w.done)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("read failed", "error", err)
			}
			return
		}
		printEvent(out, data)
	}
}

// Close sends a close frame and waits briefly for the reader to stop.
func (w *watcher) Close() error {
	err := w.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	if cerr := w.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func printEvent(out io.Writer, data []byte) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		fmt.Fprintf(out, "unreadable message: %s\n", data)
		return
	}
	ts := time.UnixMilli(base.Ts).Format(time.TimeOnly)

	switch base.Type {
	case protocol.TypeSubscribed:
		fmt.Fprintf(out, "%s watching %s\n", ts, base.ConversationID)
	case protocol.TypeAnnotationsChanged:
		var msg protocol.AnnotationsChangedMessage
		_ = json.Unmarshal(data, &msg)
		if msg.AnnotationID != "" {
			fmt.Fprintf(out, "%s annotation %s created in %s\n", ts, msg.AnnotationID, msg.ConversationID)
		} else {
			fmt.Fprintf(out, "%s annotations changed in %s\n", ts, msg.ConversationID)
		}
	case protocol.TypeError:
		var msg protocol.ErrorMessage
		_ = json.Unmarshal(data, &msg)
		fmt.Fprintf(out, "%s error [%s]: %s\n", ts, msg.Code, msg.Message)
	default:
		fmt.Fprintf(out, "%s %s\n", ts, data)
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <conversation-id>",
		Short: "Print annotation changes of a conversation as they happen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w, err := dialWatcher(ctx, a.wsURL())
			if err != nil {
				return err
			}
			go w.ReadMessages(cmd.OutOrStdout())

			if err := w.Subscribe(args[0]); err != nil {
				_ = w.conn.Close()
				return fmt.Errorf("subscribe: %w", err)
			}

			select {
			case <-ctx.Done():
				return w.Close()
			case <-w.done:
				return fmt.Errorf("connection closed by server")
			}
		},
	}
}
