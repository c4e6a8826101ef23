package net

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/gorilla/websocket"
	"github.com/l1jgo/worldmesh/internal/config"
	"github.com/l1jgo/worldmesh/internal/net/packet"
	"go.uber.org/zap"
)

func testOptions() Options {
	return Options{
		Endian:       packet.LittleEndian,
		OutQueueSize: 16,
		MaxFrameSize: 1024,
	}
}

func TestFrameRoundTrip(t *testing.T) {
	out := packet.Encode(packet.BigEndian, packet.Login{Username: "ann", Password: "pw", Version: 7})

	var wire bytes.Buffer
	assert.Equal(t, nil, WriteFrame(&wire, out.Bytes()))
	frame, err := ReadFrame(&wire, packet.BigEndian, 1024)
	assert.Equal(t, nil, err)
	assert.Equal(t, out.Bytes(), frame)
}

func TestReadFrameTooLarge(t *testing.T) {
	b := packet.NewBuffer(packet.LittleEndian)
	b.WriteBytes(make([]byte, 64))
	b.MustFinish()

	_, err := ReadFrame(bytes.NewReader(b.Bytes()), packet.LittleEndian, 32)
	assert.NotEqual(t, nil, err)
}

func TestPromoteForwardOnly(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	sess := NewSession(a, testOptions(), zap.NewNop())
	defer sess.Close()

	assert.Equal(t, packet.OnlineNone, sess.State())
	assert.T(t, !sess.Promote(packet.OnlineOnline), "skipping Accepted must fail")
	assert.T(t, sess.Promote(packet.OnlineAccepted))
	assert.T(t, !sess.Promote(packet.OnlineAccepted), "repeat must fail")
	assert.T(t, sess.Promote(packet.OnlineOnline))
	assert.T(t, !sess.Promote(packet.OnlineAccepted), "no regression")
	assert.T(t, !sess.Promote(packet.OnlineNone), "no regression")
	assert.Equal(t, packet.OnlineOnline, sess.State())
}

func TestServeDispatchesAndClosesOnError(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := NewSession(server, testOptions(), zap.NewNop())
	sess.Promote(packet.OnlineAccepted)

	got := make(chan packet.Command, 4)
	router := packet.NewRouter(zap.NewNop())
	router.Register(packet.CPing, func(_ any, cmd packet.Command) { got <- cmd })

	done := make(chan struct{})
	go func() {
		sess.Serve(func(s *Session, buf *packet.Buffer) error {
			return router.Dispatch(s, s.State(), buf)
		})
		close(done)
	}()

	ping := packet.Encode(packet.LittleEndian, packet.Ping{})
	_, err := client.Write(ping.Bytes())
	assert.Equal(t, nil, err)
	select {
	case cmd := <-got:
		assert.Equal(t, packet.Command(packet.Ping{}), cmd)
	case <-time.After(time.Second):
		t.Fatal("ping not dispatched")
	}

	// Move is not allowed while Accepted: the session must close.
	move := packet.Encode(packet.LittleEndian, packet.Move{Dir: 1})
	client.Write(move.Bytes())
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session still serving after protocol violation")
	}
	assert.T(t, sess.IsClosed())
}

func TestSendBackpressureCloses(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	opts := testOptions()
	opts.OutQueueSize = 1
	sess := NewSession(a, opts, zap.NewNop())

	msg := packet.NewBufferWithID(packet.LittleEndian, packet.SPing).MustFinish()
	assert.T(t, sess.Send(msg))
	assert.T(t, !sess.Send(msg), "second send must overflow")
	assert.T(t, sess.IsClosed())
	assert.T(t, !sess.Send(msg))
}

func TestRelayLimitsConnections(t *testing.T) {
	cfg := config.Defaults()
	cfg.Network.MaxConnections = 1
	cfg.RateLimit.Enabled = false
	relay := NewRelay(cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	mk := func() *Session {
		a, b := net.Pipe()
		t.Cleanup(func() { b.Close() })
		return NewSession(a, testOptions(), zap.NewNop())
	}

	first := mk()
	relay.Intake() <- first
	select {
	case s := <-relay.Ready():
		assert.Equal(t, first, s)
		assert.Equal(t, packet.OnlineAccepted, s.State())
	case <-time.After(time.Second):
		t.Fatal("first session not admitted")
	}

	second := mk()
	relay.Intake() <- second
	select {
	case <-second.Done():
	case <-time.After(time.Second):
		t.Fatal("second session should be refused")
	}
	assert.Equal(t, packet.OnlineNone, second.State())

	first.Close()
	deadline := time.Now().Add(time.Second)
	for relay.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(0), relay.Active())
}

func TestRelayRateLimit(t *testing.T) {
	cfg := config.Defaults()
	cfg.RateLimit.ConnectionsPerMinute = 2
	relay := NewRelay(cfg, zap.NewNop())

	a1, _ := net.Pipe()
	a2, _ := net.Pipe()
	a3, _ := net.Pipe()
	s1 := NewSession(a1, testOptions(), zap.NewNop())
	s2 := NewSession(a2, testOptions(), zap.NewNop())
	s3 := NewSession(a3, testOptions(), zap.NewNop())

	assert.T(t, relay.admit(s1))
	assert.T(t, relay.admit(s2))
	assert.T(t, !relay.admit(s3), "third connection in a minute must be refused")

	later := time.Now().Add(2 * time.Minute)
	relay.now = func() time.Time { return later }
	assert.T(t, relay.admit(s3))
}

func TestWSTransport(t *testing.T) {
	relay := make(chan *Session, 1)
	srv, err := NewWSServer("127.0.0.1:0", testOptions(), relay, zap.NewNop())
	assert.Equal(t, nil, err)
	go srv.Serve()
	defer srv.Shutdown(context.Background())

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr().String()+"/ws", nil)
	assert.Equal(t, nil, err)
	defer ws.Close()

	var sess *Session
	select {
	case sess = <-relay:
	case <-time.After(time.Second):
		t.Fatal("websocket session not handed to relay")
	}
	sess.Promote(packet.OnlineAccepted)
	sess.Start()

	got := make(chan packet.Command, 1)
	router := packet.NewRouter(zap.NewNop())
	router.Register(packet.CHandShake, func(s any, cmd packet.Command) {
		got <- cmd
		s.(*Session).Send(packet.NewBufferWithID(packet.LittleEndian, packet.SHandShake).MustFinish())
	})
	go sess.Serve(func(s *Session, buf *packet.Buffer) error {
		return router.Dispatch(s, s.State(), buf)
	})

	// one frame split over two websocket messages
	frame := packet.Encode(packet.LittleEndian, packet.HandShake{Handshake: "worldmesh"}).Bytes()
	assert.Equal(t, nil, ws.WriteMessage(websocket.BinaryMessage, frame[:5]))
	assert.Equal(t, nil, ws.WriteMessage(websocket.BinaryMessage, frame[5:]))

	select {
	case cmd := <-got:
		assert.Equal(t, packet.Command(packet.HandShake{Handshake: "worldmesh"}), cmd)
	case <-time.After(time.Second):
		t.Fatal("handshake not dispatched")
	}

	ws.SetReadDeadline(time.Now().Add(time.Second))
	mt, reply, err := ws.ReadMessage()
	assert.Equal(t, nil, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	in, err := packet.Wrap(reply, packet.LittleEndian)
	assert.Equal(t, nil, err)
	id, _ := in.ReadU16()
	assert.Equal(t, uint16(packet.SHandShake), id)
	sess.Close()
}
