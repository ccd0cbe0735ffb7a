package client

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"gbxremote/gbxerr"
	"gbxremote/xmlvalue"
)

// stubServer accepts exactly one connection, sends banner, then serves
// caller-supplied request/response behavior.
type stubServer struct {
	ln net.Listener
}

func newStubServer(t *testing.T) *stubServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return &stubServer{ln: ln}
}

func (s *stubServer) addr() string { return s.ln.Addr().String() }

func (s *stubServer) accept(t *testing.T) net.Conn {
	t.Helper()
	conn, err := s.ln.Accept()
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func sendBanner(t *testing.T, conn net.Conn, banner string) {
	t.Helper()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(banner)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write([]byte(banner)); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn net.Conn) (uint32, []byte) {
	t.Helper()
	var hdr [8]byte
	if _, err := readFull(conn, hdr[:]); err != nil {
		t.Fatal(err)
	}
	bodyLen := binary.LittleEndian.Uint32(hdr[0:4])
	handle := binary.LittleEndian.Uint32(hdr[4:8])
	body := make([]byte, bodyLen)
	if _, err := readFull(conn, body); err != nil {
		t.Fatal(err)
	}
	return handle, body
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func sendFrame(t *testing.T, conn net.Conn, handle uint32, body []byte) {
	t.Helper()
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[4:8], handle)
	if _, err := conn.Write(hdr[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(body); err != nil {
		t.Fatal(err)
	}
}

func TestConnectHandshakeSuccess(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	connected := make(chan struct{}, 1)

	go func() {
		conn := srv.accept(t)
		defer conn.Close()
		sendBanner(t, conn, "GBXRemote 2")
		time.Sleep(200 * time.Millisecond)
	}()

	c := New()
	c.SubscribeConnected(func() { connected <- struct{}{} })

	if err := c.Connect(context.Background(), srv.addr(), 0, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if c.State() != StateConnected {
		t.Fatalf("expected Connected, got %v", c.State())
	}

	select {
	case <-connected:
	case <-time.After(time.Second):
		t.Fatal("on_connected never fired")
	}

	c.Disconnect()
}

func TestConnectInvalidBanner(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	go func() {
		conn := srv.accept(t)
		defer conn.Close()
		sendBanner(t, conn, "GBX 999")
		time.Sleep(200 * time.Millisecond)
	}()

	c := New()
	err := c.Connect(context.Background(), srv.addr(), 0, 0)

	var invalid *gbxerr.InvalidProtocol
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidProtocol, got %v", err)
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected Disconnected after failed handshake, got %v", c.State())
	}
}

func TestCallSimpleScenario(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	go func() {
		conn := srv.accept(t)
		defer conn.Close()
		sendBanner(t, conn, "GBXRemote 2")

		handle, body := readFrame(t, conn)
		if handle != 0x80000001 {
			t.Errorf("expected handle 0x80000001, got %#08x", handle)
		}
		want := "<methodCall><methodName>system.listMethods</methodName><params></params></methodCall>"
		if string(body) != want {
			t.Errorf("unexpected call body: %s", body)
		}

		resp, err := xmlvalue.EncodeResponse(xmlvalue.Array(xmlvalue.String("a"), xmlvalue.String("b")))
		if err != nil {
			t.Fatal(err)
		}
		sendFrame(t, conn, handle, resp)
		time.Sleep(200 * time.Millisecond)
	}()

	c := New()
	if err := c.Connect(context.Background(), srv.addr(), 0, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.Call("system.listMethods", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if len(resp.Value.Array) != 2 || resp.Value.Array[0].Str != "a" || resp.Value.Array[1].Str != "b" {
		t.Fatalf("unexpected response: %+v", resp.Value)
	}
}

func TestCallFault(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	go func() {
		conn := srv.accept(t)
		defer conn.Close()
		sendBanner(t, conn, "GBXRemote 2")

		handle, _ := readFrame(t, conn)
		fault, err := xmlvalue.EncodeFault(-1000, "nope")
		if err != nil {
			t.Fatal(err)
		}
		sendFrame(t, conn, handle, fault)
		time.Sleep(200 * time.Millisecond)
	}()

	c := New()
	if err := c.Connect(context.Background(), srv.addr(), 0, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.Call("some.method", nil)
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}
	if !resp.IsFault || resp.Fault.Code != -1000 || resp.Fault.Message != "nope" {
		t.Fatalf("unexpected fault: %+v", resp.Fault)
	}
	if c.State() != StateConnected {
		t.Fatalf("connection must remain Connected after a fault, got %v", c.State())
	}
}

func TestInterleavedCallback(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	go func() {
		conn := srv.accept(t)
		defer conn.Close()
		sendBanner(t, conn, "GBXRemote 2")

		handle, _ := readFrame(t, conn)

		callbackBody, err := xmlvalue.EncodeMethodCall("Server.PlayerChat", []xmlvalue.Value{xmlvalue.Int(42)})
		if err != nil {
			t.Fatal(err)
		}
		sendFrame(t, conn, 0x00000000, callbackBody)

		resp, err := xmlvalue.EncodeResponse(xmlvalue.String("ok"))
		if err != nil {
			t.Fatal(err)
		}
		sendFrame(t, conn, handle, resp)
		time.Sleep(200 * time.Millisecond)
	}()

	c := New()
	received := make(chan []xmlvalue.Value, 1)
	c.SubscribeCallback(func(method string, params []xmlvalue.Value) {
		if method == "Server.PlayerChat" {
			received <- params
		}
	})

	if err := c.Connect(context.Background(), srv.addr(), 0, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Disconnect()

	resp, err := c.Call("server.status", nil)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if resp.Value.Str != "ok" {
		t.Fatalf("unexpected response: %+v", resp.Value)
	}

	select {
	case params := <-received:
		if len(params) != 1 || params[0].Int != 42 {
			t.Fatalf("unexpected callback params: %+v", params)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never delivered")
	}
}

func TestDisconnectFanOut(t *testing.T) {
	srv := newStubServer(t)
	defer srv.ln.Close()

	conns := make(chan net.Conn, 1)
	go func() {
		conn := srv.accept(t)
		sendBanner(t, conn, "GBXRemote 2")
		conns <- conn
	}()

	c := New()
	disconnected := make(chan error, 1)
	c.SubscribeDisconnected(func(err error) { disconnected <- err })

	if err := c.Connect(context.Background(), srv.addr(), 0, 0); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := c.Call("some.method", nil)
			errs <- err
		}()
	}

	serverConn := <-conns
	time.Sleep(50 * time.Millisecond)
	serverConn.Close()

	for i := 0; i < 3; i++ {
		err := <-errs
		var closed *gbxerr.TransportClosed
		if !errors.As(err, &closed) {
			t.Fatalf("expected TransportClosed, got %v", err)
		}
	}

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("on_disconnected never fired")
	}
	if c.State() != StateDisconnected {
		t.Fatalf("expected Disconnected, got %v", c.State())
	}
}

func TestDoubleDisconnectIsNoOp(t *testing.T) {
	c := New()
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect on never-connected client should be a no-op, got %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second disconnect should be a no-op, got %v", err)
	}
}

func TestCallWhileNotConnected(t *testing.T) {
	c := New()
	_, err := c.Call("anything", nil)
	var notConnected *gbxerr.NotConnected
	if !errors.As(err, &notConnected) {
		t.Fatalf("expected NotConnected, got %v", err)
	}
}
