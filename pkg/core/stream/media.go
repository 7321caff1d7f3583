package stream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Media stream lifecycle opcodes carried by session update messages.
const (
	SessionUpdateActive  = 1
	SessionUpdatePaused  = 2
	SessionUpdateResumed = 3
	SessionUpdateStopped = 4
)

type mediaMessage struct {
	MsgType    int    `json:"msg_type"`
	StatusCode *int   `json:"status_code,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	State      int    `json:"state,omitempty"`
	Reason     int    `json:"reason,omitempty"`
	Content    *struct {
		UserID    int64  `json:"user_id"`
		UserName  string `json:"user_name"`
		Data      string `json:"data"` // base64
		Timestamp int64  `json:"timestamp"`
	} `json:"content,omitempty"`
}

// MediaClient reads the media data connection for one meeting and forwards
// decoded events to a Handler.
type MediaClient struct {
	creds  Credentials
	desc   Descriptor
	logger *slog.Logger

	conn      *websocket.Conn
	stop      chan struct{}
	closeOnce sync.Once
}

// NewMediaClient creates an unconnected media client.
func NewMediaClient(creds Credentials, desc Descriptor, logger *slog.Logger) *MediaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaClient{creds: creds, desc: desc, logger: logger, stop: make(chan struct{})}
}

// Connect opens the media connection, performs the media handshake, and
// starts the read loop delivering events to h. The handshake status code is
// reported through h.OnJoinConfirm; a non-zero status still returns nil from
// Connect so the handler owns the fatality decision.
func (c *MediaClient) Connect(ctx context.Context, mediaURL string, h Handler) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, mediaURL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("media connect %s: %w", mediaURL, err)
	}
	c.conn = conn

	req := signalingMessage{
		MsgType:         msgMediaHandReq,
		ProtocolVersion: 1,
		MeetingID:       c.desc.MeetingID,
		StreamID:        c.desc.StreamID,
		Sequence:        rand.Uint32(),
		Signature:       c.creds.Signature(c.desc.MeetingID, c.desc.StreamID),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		_ = conn.Close()
		return fmt.Errorf("media handshake send: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var resp mediaMessage
	if err := conn.ReadJSON(&resp); err != nil {
		_ = conn.Close()
		return fmt.Errorf("media handshake read: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if resp.MsgType != msgMediaHandResp {
		_ = conn.Close()
		return fmt.Errorf("media handshake: expected msg_type %d, got %d", msgMediaHandResp, resp.MsgType)
	}

	status := -1
	if resp.StatusCode != nil {
		status = *resp.StatusCode
	}
	h.OnJoinConfirm(status)
	if status != 0 {
		_ = conn.Close()
		return nil
	}

	go c.readLoop(h)
	return nil
}

func (c *MediaClient) readLoop(h Handler) {
	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
				// Deliberate close; not an event.
			default:
				c.logger.Info("media connection closed", "meeting", c.desc.MeetingID, "error", err)
				h.OnLeave(-1)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg mediaMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("media: non-JSON message, ignoring", "meeting", c.desc.MeetingID)
			continue
		}

		switch msg.MsgType {
		case msgKeepAliveReq:
			resp := mediaMessage{MsgType: msgKeepAliveResp, Timestamp: msg.Timestamp}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(resp); err != nil {
				c.logger.Warn("media keepalive write failed", "meeting", c.desc.MeetingID, "error", err)
			}
		case msgMediaVideo:
			if msg.Content == nil {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(msg.Content.Data)
			if err != nil {
				c.logger.Debug("media: undecodable chunk dropped", "meeting", c.desc.MeetingID)
				continue
			}
			h.OnRawData(data, fmt.Sprintf("%d", msg.Content.UserID), msg.Content.UserName, msg.Content.Timestamp)
		case msgSessionUpdate:
			h.OnSessionUpdate(msg.State)
		case msgStreamUpdate:
			if msg.State == SessionUpdateStopped {
				h.OnLeave(msg.Reason)
				return
			}
		default:
			c.logger.Debug("media: unhandled message", "msg_type", msg.MsgType)
		}
	}
}

// Close shuts the media connection down. Safe to call more than once.
func (c *MediaClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
