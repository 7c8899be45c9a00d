package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/zlnvch/artstudio/metrics"
	"github.com/zlnvch/artstudio/models"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Canvas updates carry whole serialized canvases.
	maxMessageSize = 1024 * 1024

	// Cursor moves arrive in bursts; 60 messages per second with a burst of 120
	messagesPerSecond = 60
	burstLimit        = 120

	sendBufferSize = 256
)

type MessageHandler func(client *Client, messageType int, messageBytes []byte)

func NewClient(id string, hub *Hub, conn *websocket.Conn, user models.User, handler MessageHandler, onDisconnect func(*Client)) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:           id,
		hub:          hub,
		conn:         conn,
		user:         user,
		handler:      handler,
		onDisconnect: onDisconnect,
		send:         make(chan []byte, sendBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		limiter:      rate.NewLimiter(rate.Limit(messagesPerSecond), burstLimit),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id           string
	hub          *Hub
	conn         *websocket.Conn
	user         models.User
	handler      MessageHandler
	onDisconnect func(*Client)
	send         chan []byte // Buffered channel of outbound messages.
	ctx          context.Context
	cancel       context.CancelFunc
	limiter      *rate.Limiter
}

func (c *Client) Id() string {
	return c.id
}

func (c *Client) User() models.User {
	return c.user
}

// enqueue drops the message when the client is not keeping up. Callers hold the hub lock.
func (c *Client) enqueue(messageBytes []byte) {
	select {
	case c.send <- messageBytes:
	default:
		metrics.DroppedEvents.WithLabelValues(metrics.ReasonSendBufferFull).Inc()
		log.WithField("connection_id", c.id).Warn("send buffer full, dropping message")
	}
}

func (c *Client) ReadPump() {
	defer func() {
		if c.onDisconnect != nil {
			c.onDisconnect(c)
		}
		c.hub.Close(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		messageType, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.WithError(err).WithField("connection_id", c.id).Warn("ws close error")
			}
			break
		}

		if !c.limiter.Allow() {
			metrics.DroppedEvents.WithLabelValues(metrics.ReasonRateLimited).Inc()
			log.WithFields(log.Fields{"connection_id": c.id, "user_id": c.user.Id}).Warn("closing connection: message rate limit exceeded")
			break
		}

		c.handler(c, messageType, messageBytes)
	}
}

func (c *Client) WritePump(shutdownCtx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.cancel()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.WithError(err).WithField("connection_id", c.id).Warn("ws send error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-shutdownCtx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Collaboration service shutting down"),
			)
			return
		}
	}
}
