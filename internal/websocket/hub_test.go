package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomwatch-backend/internal/model"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send():
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestHub_BroadcastFiltersByRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	all := NewClient(hub, "")
	room1 := NewClient(hub, "R-0001")
	room2 := NewClient(hub, "R-0002")
	hub.Register(all)
	hub.Register(room1)
	hub.Register(room2)
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 10*time.Millisecond)

	b := NewRoomBroadcaster(hub)
	b.Broadcast(model.RoomStatus{RoomID: "R-0001", RoomState: model.RoomCleanup, PeopleCount: 2})

	for _, c := range []*Client{all, room1} {
		var msg struct {
			Type    MessageType      `json:"type"`
			Payload model.RoomStatus `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(receive(t, c), &msg))
		assert.Equal(t, TypeRoomStatus, msg.Type)
		assert.Equal(t, model.RoomCleanup, msg.Payload.RoomState)
		assert.Equal(t, 2, msg.Payload.PeopleCount)
	}

	select {
	case <-room2.Send():
		t.Fatal("client watching another room got the message")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	c := NewClient(hub, "")
	hub.Register(c)
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("send channel was not closed")
	}
	assert.Zero(t, hub.ClientCount())
}

func TestHub_ShutdownClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	c := NewClient(hub, "R-0001")
	hub.Register(c)
	cancel()
	<-done

	_, ok := <-c.Send()
	assert.False(t, ok)
}
