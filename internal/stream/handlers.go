package stream

import (
	"github.com/gofiber/websocket/v2"
)

// Conn is the part of a websocket connection the pump needs.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Serve pumps client.Send to conn and hands every inbound text frame to
// onMessage until the connection fails. It unregisters the client before
// returning.
func Serve(hub *Hub, conn Conn, client *Client, onMessage func([]byte)) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range client.Send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = conn.Close()
				break
			}
		}
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType == websocket.TextMessage && onMessage != nil {
			onMessage(msg)
		}
	}

	hub.Unregister(client)
	<-done
}
