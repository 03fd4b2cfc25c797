package api

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	ws "roomwatch-backend/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// GetRoomStatus returns the latest reconciled status of a room.
func (h *Handler) GetRoomStatus(c *gin.Context) {
	room, err := h.room(c.Query("room_id"))
	if err != nil {
		writeError(c, err)
		return
	}

	status, ok := h.Reconciler.Status(room)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "room status not yet available"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// statusCacheKey maps every spelling of a room status request onto the room
// it resolves to. Unknown rooms are not cached.
func (h *Handler) statusCacheKey(c *gin.Context) string {
	room, err := h.room(c.Query("room_id"))
	if err != nil {
		return ""
	}
	return "room_status:" + room
}

// RoomStatusStream upgrades to a websocket that receives every status change of
// the requested room, or of every room when room_id is omitted.
func (h *Handler) RoomStatusStream(c *gin.Context) {
	roomID := c.Query("room_id")
	if roomID != "" {
		if _, err := h.room(roomID); err != nil {
			writeError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.Hub, roomID)
	for _, st := range h.Reconciler.Statuses() {
		if !client.Watches(st.RoomID) {
			continue
		}
		data, err := ws.NewMessage(ws.TypeRoomSnapshot, st).JSON()
		if err != nil {
			continue
		}
		client.Send() <- data
	}
	h.Hub.Register(client)

	go writePump(conn, client)
	go readPump(conn, client, h.Hub)
}

// writePump pumps messages from the hub to the WebSocket connection.
func writePump(conn *websocket.Conn, client *ws.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection so pongs and close frames are processed.
func readPump(conn *websocket.Conn, client *ws.Client, hub *ws.Hub) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
	}
}
