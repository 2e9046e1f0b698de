package bridge

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/p2p-industries/hyveos-sub001/internal/debugfanout"
	"github.com/p2p-industries/hyveos-sub001/internal/kv"
)

func startTestServer(t *testing.T, deps Deps) (sockPath string, stop func()) {
	t.Helper()
	runtimeDir := t.TempDir()
	srv, err := NewServer(runtimeDir, -1, deps)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()
	return filepath.Join(runtimeDir, "bridge.sock"), func() {
		cancel()
		srv.Close()
		<-done
	}
}

func dial(t *testing.T, sockPath string) net.Conn {
	t.Helper()
	conn, err := net.Dial("unix", sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func call(t *testing.T, conn net.Conn, method string, params interface{}) response {
	t.Helper()
	var raw json.RawMessage
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		raw = b
	}
	if err := writeFrame(conn, request{Method: method, Params: raw}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	var resp response
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := readFrame(conn, &resp); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	return resp
}

func TestBridgeKVPutGetRoundTrip(t *testing.T) {
	db, err := kv.Open(filepath.Join(t.TempDir(), "hyveos.db"))
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sockPath, stop := startTestServer(t, Deps{KV: db})
	defer stop()
	conn := dial(t, sockPath)

	putResp := call(t, conn, "kv.put", map[string]interface{}{"key": "greeting", "value": []byte("hello")})
	if putResp.Error != "" {
		t.Fatalf("kv.put: %s", putResp.Error)
	}

	getResp := call(t, conn, "kv.get", map[string]interface{}{"key": "greeting"})
	if getResp.Error != "" {
		t.Fatalf("kv.get: %s", getResp.Error)
	}
	var out struct {
		Value []byte `json:"value"`
	}
	if err := json.Unmarshal(getResp.Data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(out.Value) != "hello" {
		t.Fatalf("got %q", out.Value)
	}
}

func TestBridgeUnknownMethodReturnsError(t *testing.T) {
	sockPath, stop := startTestServer(t, Deps{})
	defer stop()
	conn := dial(t, sockPath)

	resp := call(t, conn, "nonexistent.method", nil)
	if resp.Error == "" {
		t.Fatal("expected an error for an unknown method")
	}
	if !resp.Final {
		t.Fatal("expected the error frame to be final")
	}
}

func TestBridgeHeartbeatInvokesCallback(t *testing.T) {
	called := make(chan struct{}, 1)
	sockPath, stop := startTestServer(t, Deps{Heartbeat: func() { called <- struct{}{} }})
	defer stop()
	conn := dial(t, sockPath)

	resp := call(t, conn, "heartbeat", nil)
	if resp.Error != "" {
		t.Fatalf("heartbeat: %s", resp.Error)
	}
	select {
	case <-called:
	default:
		t.Fatal("expected heartbeat callback to run")
	}
}

func TestBridgeKVDeleteThenGetFails(t *testing.T) {
	db, err := kv.Open(filepath.Join(t.TempDir(), "hyveos.db"))
	if err != nil {
		t.Fatalf("kv.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	sockPath, stop := startTestServer(t, Deps{KV: db})
	defer stop()
	conn := dial(t, sockPath)

	call(t, conn, "kv.put", map[string]interface{}{"key": "k", "value": []byte("v")})
	delResp := call(t, conn, "kv.delete", map[string]interface{}{"key": "k"})
	if delResp.Error != "" {
		t.Fatalf("kv.delete: %s", delResp.Error)
	}
	getResp := call(t, conn, "kv.get", map[string]interface{}{"key": "k"})
	if getResp.Error == "" {
		t.Fatal("expected an error after delete")
	}
}

func TestBridgeInspectSubscribeStreamsFanoutEvents(t *testing.T) {
	debug := debugfanout.New()
	sockPath, stop := startTestServer(t, Deps{Debug: debug})
	defer stop()
	conn := dial(t, sockPath)

	if err := writeFrame(conn, request{Method: "inspect.subscribe", Params: json.RawMessage(`{"topic":"mesh-topology"}`)}); err != nil {
		t.Fatalf("writeFrame: %v", err)
	}

	for debug.RefCount("mesh-topology") == 0 {
		time.Sleep(time.Millisecond)
	}
	debug.Publish("mesh-topology", map[string]string{"event": "peer-joined"})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp response
	if err := readFrame(conn, &resp); err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if resp.Final {
		t.Fatal("expected a non-final event frame")
	}
	var event map[string]string
	if err := json.Unmarshal(resp.Data, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event["event"] != "peer-joined" {
		t.Fatalf("expected peer-joined event, got %v", event)
	}
}
