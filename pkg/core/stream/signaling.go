package stream

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Signaling protocol message types.
const (
	msgHandshakeReq  = 1
	msgHandshakeResp = 2
	msgMediaHandReq  = 3
	msgMediaHandResp = 4
	msgSessionUpdate = 5
	msgStreamUpdate  = 6
	msgKeepAliveReq  = 12
	msgKeepAliveResp = 13
	msgMediaVideo    = 14
)

const (
	connectTimeout   = 5 * time.Second
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Credentials authenticate against the stream platform.
type Credentials struct {
	ClientID     string
	ClientSecret string
}

// Signature returns the hex HMAC-SHA256 of "clientID,meetingID,streamID"
// keyed with the client secret, as the signaling handshake requires.
func (c Credentials) Signature(meetingID, streamID string) string {
	mac := hmac.New(sha256.New, []byte(c.ClientSecret))
	fmt.Fprintf(mac, "%s,%s,%s", c.ClientID, meetingID, streamID)
	return hex.EncodeToString(mac.Sum(nil))
}

type signalingMessage struct {
	MsgType         int    `json:"msg_type"`
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	MeetingID       string `json:"meeting_uuid,omitempty"`
	StreamID        string `json:"rtms_stream_id,omitempty"`
	Sequence        uint32 `json:"sequence,omitempty"`
	Signature       string `json:"signature,omitempty"`
	StatusCode      *int   `json:"status_code,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
	MediaServer     *struct {
		ServerURLs []string `json:"server_urls"`
	} `json:"media_server,omitempty"`
}

// SignalingClient connects to the signaling endpoint, authenticates, and
// keeps the keepalive echo running for the lifetime of a session.
type SignalingClient struct {
	creds  Credentials
	desc   Descriptor
	logger *slog.Logger

	conn      *websocket.Conn
	stop      chan struct{}
	closeOnce sync.Once
}

// NewSignalingClient creates an unconnected signaling client.
func NewSignalingClient(creds Credentials, desc Descriptor, logger *slog.Logger) *SignalingClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingClient{creds: creds, desc: desc, logger: logger, stop: make(chan struct{})}
}

// Connect tries each signaling URL in order and returns the negotiated media
// server URL. On success the keepalive loop runs until Close.
func (c *SignalingClient) Connect(ctx context.Context) (mediaURL string, err error) {
	if len(c.desc.ServerURLs) == 0 {
		return "", errors.New("signaling: server URL list is empty")
	}

	var lastErr error
	for _, url := range c.desc.ServerURLs {
		dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		conn, _, derr := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
		cancel()
		if derr != nil {
			c.logger.Warn("signaling connect failed", "url", url, "error", derr)
			lastErr = derr
			continue
		}

		mediaURL, herr := c.handshake(conn)
		if herr != nil {
			c.logger.Warn("signaling handshake failed", "url", url, "error", herr)
			lastErr = herr
			_ = conn.Close()
			continue
		}

		c.conn = conn
		go c.keepaliveLoop()
		c.logger.Info("signaling connected", "meeting", c.desc.MeetingID, "media_url", mediaURL)
		return mediaURL, nil
	}
	return "", fmt.Errorf("signaling: exhausted all URLs for meeting %s: %w", c.desc.MeetingID, lastErr)
}

func (c *SignalingClient) handshake(conn *websocket.Conn) (string, error) {
	req := signalingMessage{
		MsgType:         msgHandshakeReq,
		ProtocolVersion: 1,
		MeetingID:       c.desc.MeetingID,
		StreamID:        c.desc.StreamID,
		Sequence:        rand.Uint32(),
		Signature:       c.creds.Signature(c.desc.MeetingID, c.desc.StreamID),
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(req); err != nil {
		return "", fmt.Errorf("send handshake: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var resp signalingMessage
	if err := conn.ReadJSON(&resp); err != nil {
		return "", fmt.Errorf("read handshake response: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if resp.MsgType != msgHandshakeResp {
		return "", fmt.Errorf("expected msg_type %d, got %d", msgHandshakeResp, resp.MsgType)
	}
	if resp.StatusCode == nil || *resp.StatusCode != 0 {
		code := -1
		if resp.StatusCode != nil {
			code = *resp.StatusCode
		}
		return "", fmt.Errorf("auth rejected: status_code=%d", code)
	}
	if resp.MediaServer == nil || len(resp.MediaServer.ServerURLs) == 0 {
		return "", errors.New("handshake response has no media server URLs")
	}
	return resp.MediaServer.ServerURLs[0], nil
}

// keepaliveLoop echoes keepalive requests back until the connection closes.
// The platform drops the signaling connection if an echo is not received
// within ~90 seconds of its request.
func (c *SignalingClient) keepaliveLoop() {
	for {
		var msg signalingMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.stop:
			default:
				c.logger.Info("signaling connection closed", "meeting", c.desc.MeetingID, "error", err)
			}
			return
		}
		if msg.MsgType != msgKeepAliveReq {
			c.logger.Debug("signaling: unhandled message", "msg_type", msg.MsgType)
			continue
		}
		resp := signalingMessage{MsgType: msgKeepAliveResp, Timestamp: msg.Timestamp}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(resp); err != nil {
			c.logger.Warn("signaling keepalive write failed", "meeting", c.desc.MeetingID, "error", err)
			return
		}
	}
}

// Close shuts the signaling connection down. Safe to call more than once.
func (c *SignalingClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
