package stream

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type rawEvent struct {
	data          []byte
	participantID string
	name          string
	timestampMs   int64
}

// recordingHandler collects events from the media read loop.
type recordingHandler struct {
	mu         sync.Mutex
	joinStatus []int
	raw        chan rawEvent
	left       chan int
	updates    chan int
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		raw:     make(chan rawEvent, 16),
		left:    make(chan int, 1),
		updates: make(chan int, 16),
	}
}

func (h *recordingHandler) OnJoinConfirm(statusCode int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.joinStatus = append(h.joinStatus, statusCode)
}

func (h *recordingHandler) OnParticipantJoin(participantID, name string) {}

func (h *recordingHandler) OnRawData(data []byte, participantID, name string, timestampMs int64) {
	h.raw <- rawEvent{data: data, participantID: participantID, name: name, timestampMs: timestampMs}
}

func (h *recordingHandler) OnLeave(reasonCode int)     { h.left <- reasonCode }
func (h *recordingHandler) OnSessionUpdate(opCode int) { h.updates <- opCode }

func (h *recordingHandler) joinStatuses() []int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]int(nil), h.joinStatus...)
}

// mediaServer accepts one media connection, checks the handshake request, and
// hands the connection to script for the rest of the exchange.
func mediaServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var req signalingMessage
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		if req.MsgType != msgMediaHandReq {
			t.Errorf("media handshake msg_type=%d, want %d", req.MsgType, msgMediaHandReq)
			return
		}
		script(conn)
	}))
}

func TestMediaClient_DeliversVideoAndLeave(t *testing.T) {
	chunk := []byte{0x00, 0x00, 0x01, 0x67}
	ts := mediaServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"msg_type": msgMediaHandResp, "status_code": 0})
		_ = conn.WriteJSON(map[string]any{
			"msg_type": msgMediaVideo,
			"content": map[string]any{
				"user_id":   16778240,
				"user_name": "Alice",
				"data":      base64.StdEncoding.EncodeToString(chunk),
				"timestamp": 42,
			},
		})
		_ = conn.WriteJSON(map[string]any{"msg_type": msgStreamUpdate, "state": SessionUpdateStopped, "reason": 7})
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	h := newRecordingHandler()
	c := NewMediaClient(Credentials{}, Descriptor{MeetingID: "m1", StreamID: "s1"}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), wsURL(ts), h); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.joinStatuses(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("join statuses=%v, want [0]", got)
	}

	select {
	case ev := <-h.raw:
		if ev.participantID != "16778240" {
			t.Fatalf("participantID=%q, want %q", ev.participantID, "16778240")
		}
		if ev.name != "Alice" || ev.timestampMs != 42 {
			t.Fatalf("event=%+v", ev)
		}
		if string(ev.data) != string(chunk) {
			t.Fatalf("data=%v, want %v", ev.data, chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no video data delivered")
	}

	select {
	case reason := <-h.left:
		if reason != 7 {
			t.Fatalf("leave reason=%d, want 7", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no leave event delivered")
	}
}

func TestMediaClient_SessionUpdateForwarded(t *testing.T) {
	ts := mediaServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"msg_type": msgMediaHandResp, "status_code": 0})
		_ = conn.WriteJSON(map[string]any{"msg_type": msgSessionUpdate, "state": SessionUpdatePaused})
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	h := newRecordingHandler()
	c := NewMediaClient(Credentials{}, Descriptor{MeetingID: "m1"}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), wsURL(ts), h); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case op := <-h.updates:
		if op != SessionUpdatePaused {
			t.Fatalf("session update=%d, want %d", op, SessionUpdatePaused)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no session update delivered")
	}
}

func TestMediaClient_HandshakeRejected(t *testing.T) {
	ts := mediaServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"msg_type": msgMediaHandResp, "status_code": 3})
	})
	defer ts.Close()

	h := newRecordingHandler()
	c := NewMediaClient(Credentials{}, Descriptor{MeetingID: "m1"}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), wsURL(ts), h); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := h.joinStatuses(); len(got) != 1 || got[0] != 3 {
		t.Fatalf("join statuses=%v, want [3]", got)
	}
	// Rejected handshake must not start the read loop or report a leave.
	select {
	case <-h.left:
		t.Fatalf("unexpected leave event after rejected handshake")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMediaClient_UndecodableChunkDropped(t *testing.T) {
	ts := mediaServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteJSON(map[string]any{"msg_type": msgMediaHandResp, "status_code": 0})
		_ = conn.WriteJSON(map[string]any{
			"msg_type": msgMediaVideo,
			"content":  map[string]any{"user_id": 1, "data": "!!not-base64!!"},
		})
		_ = conn.WriteJSON(map[string]any{
			"msg_type": msgMediaVideo,
			"content": map[string]any{
				"user_id": 2,
				"data":    base64.StdEncoding.EncodeToString([]byte("ok")),
			},
		})
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	h := newRecordingHandler()
	c := NewMediaClient(Credentials{}, Descriptor{MeetingID: "m1"}, nil)
	defer c.Close()

	if err := c.Connect(context.Background(), wsURL(ts), h); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	select {
	case ev := <-h.raw:
		if ev.participantID != "2" {
			t.Fatalf("participantID=%q, want the decodable chunk from user 2", ev.participantID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("decodable chunk never delivered")
	}
}
