package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/annotator/internal/config"
	"github.com/xiaot623/annotator/internal/hub"
	"github.com/xiaot623/annotator/internal/protocol"
)

func TestSubscribeAndReceiveAnnotationsChanged(t *testing.T) {
	cfg := &config.Config{
		PingInterval:   time.Second,
		WriteTimeout:   time.Second,
		ReadTimeout:    5 * time.Second,
		MaxMessageSize: 4096,
	}
	h := hub.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	e := echo.New()
	NewServer(cfg, h).RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	require.NoError(t, client.WriteJSON(map[string]string{"type": "bogus"}))
	var errMsg protocol.ErrorMessage
	require.NoError(t, client.ReadJSON(&errMsg))
	assert.Equal(t, protocol.TypeError, errMsg.Type)
	assert.Equal(t, protocol.ErrorCodeInvalidMessage, errMsg.Code)

	require.NoError(t, client.WriteJSON(map[string]string{"type": protocol.TypeSubscribe, "conversation_id": "c1"}))
	var ack protocol.SubscribedMessage
	require.NoError(t, client.ReadJSON(&ack))
	assert.Equal(t, protocol.TypeSubscribed, ack.Type)
	assert.Equal(t, "c1", ack.ConversationID)

	h.AnnotationsChanged("c1", "a1")
	var changed protocol.AnnotationsChangedMessage
	require.NoError(t, client.ReadJSON(&changed))
	assert.Equal(t, protocol.TypeAnnotationsChanged, changed.Type)
	assert.Equal(t, "a1", changed.AnnotationID)
}
