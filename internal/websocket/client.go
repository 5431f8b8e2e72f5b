package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 32
	pingInterval   = 25 * time.Second
	writeTimeout   = 10 * time.Second
)

// Client is one dashboard connection. The stream is server to client only;
// anything the browser sends is treated as a protocol error.
type Client struct {
	hub       *Hub
	conn      *ws.Conn
	accountID int64
	send      chan []byte
}

func NewClient(hub *Hub, conn *ws.Conn, accountID int64) *Client {
	return &Client{
		hub:       hub,
		conn:      conn,
		accountID: accountID,
		send:      make(chan []byte, sendBufferSize),
	}
}

// Run streams the account's events until the peer goes away, the request
// context ends or the hub drops the client.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	// CloseRead keeps control frames flowing and cancels ctx once the peer
	// closes or sends a data frame.
	ctx = c.conn.CloseRead(ctx)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.Close(ws.StatusGoingAway, "server closing")
				return
			}
			if err := c.write(ctx, msg); err != nil {
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) write(ctx context.Context, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, ws.MessageText, msg)
}
