package engine

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/julienstroheker/framerelay/internal/endpoint"
)

func freeUDPPort(t *testing.T) uint16 {
	t.Helper()
	c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := uint16(c.LocalAddr().(*net.UDPAddr).Port)
	_ = c.Close()
	return port
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	if opts.Linger == 0 {
		opts.Linger = 2 * time.Second
	}
	eng, err := New(opts)
	if err != nil {
		t.Fatalf("Expected engine to be created, got: %v", err)
	}
	return eng
}

// connectPair brings up a listening and a connecting Connection on loopback
func connectPair(t *testing.T, ctx context.Context, eng *Engine) (listen, connect *Connection) {
	t.Helper()

	port := freeUDPPort(t)
	listenSpec := endpoint.Spec{
		Local: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port),
		Mode:  endpoint.ModeListen,
	}
	connectSpec := endpoint.Spec{
		Local:  netip.MustParseAddrPort("127.0.0.1:0"),
		Remote: listenSpec.Local,
		Mode:   endpoint.ModeConnect,
	}

	type result struct {
		conn *Connection
		err  error
	}
	accepted := make(chan result, 1)
	go func() {
		conn, err := eng.BuildEndpoint(ctx, listenSpec)
		accepted <- result{conn, err}
	}()

	connect, err := eng.BuildEndpoint(ctx, connectSpec)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	res := <-accepted
	if res.err != nil {
		t.Fatalf("Listen failed: %v", res.err)
	}
	return res.conn, connect
}

func TestBuildEndpoint_ConnectToListen(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{})
	listen, connect := connectPair(t, ctx, eng)

	recv, _, err := listen.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	_, send, err := connect.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	want := [][]byte{[]byte("first"), {}, []byte("third frame")}

	received := make(chan [][]byte, 1)
	recvErr := make(chan error, 1)
	go func() {
		var got [][]byte
		for {
			frame, err := recv.Recv(ctx)
			if err == io.EOF {
				received <- got
				_ = recv.Close()
				return
			}
			if err != nil {
				recvErr <- err
				_ = recv.Close()
				return
			}
			got = append(got, frame)
		}
	}()

	for _, frame := range want {
		if err := send.Send(ctx, frame); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	if err := send.Close(); err != nil {
		t.Logf("Sender close: %v", err)
	}

	select {
	case got := <-received:
		if len(got) != len(want) {
			t.Fatalf("Expected %d frames, got: %d", len(want), len(got))
		}
		for i := range want {
			if string(got[i]) != string(want[i]) {
				t.Errorf("Frame %d: expected %q, got %q", i, want[i], got[i])
			}
		}
	case err := <-recvErr:
		t.Fatalf("Recv failed: %v", err)
	case <-ctx.Done():
		t.Fatal("Timed out waiting for frames")
	}
}

func TestBuildEndpoint_ListenSideSends(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{})
	listen, connect := connectPair(t, ctx, eng)

	_, send, err := listen.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	recv, _, err := connect.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	defer func() {
		_ = recv.Close()
	}()

	go func() {
		for i := 0; i < 5; i++ {
			_ = send.Send(ctx, []byte(fmt.Sprintf("frame-%d", i)))
		}
		_ = send.Close()
	}()

	for i := 0; i < 5; i++ {
		frame, err := recv.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i, err)
		}
		if string(frame) != fmt.Sprintf("frame-%d", i) {
			t.Errorf("Expected frame-%d, got: %s", i, frame)
		}
	}

	if _, err := recv.Recv(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF after last frame, got: %v", err)
	}
}

// TestReceiver_SlowReaderNotTruncated closes a sender whose linger is far
// shorter than the time the peer needs to drain the stream. The receiver
// must either get every frame or fail; it must never see a clean end of
// stream after a partial read.
func TestReceiver_SlowReaderNotTruncated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{Linger: 50 * time.Millisecond})
	listen, connect := connectPair(t, ctx, eng)

	recv, _, err := listen.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	_, send, err := connect.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	defer func() {
		_ = recv.Close()
	}()

	const total = 100
	payload := make([]byte, 8<<10)
	for i := 0; i < total; i++ {
		if err := send.Send(ctx, payload); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	closed := make(chan error, 1)
	go func() {
		closed <- send.Close()
	}()

	var (
		got    int
		endErr error
	)
	for {
		frame, err := recv.Recv(ctx)
		if err != nil {
			endErr = err
			break
		}
		if len(frame) != len(payload) {
			t.Fatalf("Expected %d byte frame, got: %d", len(payload), len(frame))
		}
		got++
		time.Sleep(5 * time.Millisecond)
	}

	if endErr == io.EOF && got != total {
		t.Fatalf("Expected an error after a partial read, got io.EOF after %d of %d frames", got, total)
	}
	if endErr != io.EOF && got == total {
		t.Errorf("Expected io.EOF after all %d frames, got: %v", total, endErr)
	}
	if errors.Is(endErr, context.DeadlineExceeded) {
		t.Errorf("Expected the receiver to end before the test deadline, got: %v", endErr)
	}

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("Expected sender close to return once its linger elapsed")
	}
}

func TestReceiver_EmptyStream(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{})
	listen, connect := connectPair(t, ctx, eng)

	recv, _, err := listen.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	_, send, err := connect.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}
	defer func() {
		_ = recv.Close()
	}()

	start := time.Now()
	if err := send.Close(); err != nil {
		t.Logf("Sender close: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected a sender that never sent to close without lingering, took: %v", elapsed)
	}

	if _, err := recv.Recv(ctx); err != io.EOF {
		t.Errorf("Expected io.EOF from a peer that sent nothing, got: %v", err)
	}
}

func TestConnection_SplitOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{})
	listen, connect := connectPair(t, ctx, eng)
	defer func() {
		_ = listen.Close()
		_ = connect.Close()
	}()

	if _, _, err := listen.Split(); err != nil {
		t.Fatalf("First split failed: %v", err)
	}
	if _, _, err := listen.Split(); !errors.Is(err, ErrAlreadySplit) {
		t.Errorf("Expected ErrAlreadySplit, got: %v", err)
	}
}

func TestSender_FrameTooLarge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	eng := newTestEngine(t, Options{MaxFrameSize: 8})
	listen, connect := connectPair(t, ctx, eng)
	defer func() {
		_ = listen.Close()
		_ = connect.Close()
	}()

	_, send, err := connect.Split()
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	err = send.Send(ctx, make([]byte, 9))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge, got: %v", err)
	}
}

func TestBuildEndpoint_BindFailure(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	defer func() {
		_ = busy.Close()
	}()

	eng := newTestEngine(t, Options{})
	spec := endpoint.Spec{
		Local: busy.LocalAddr().(*net.UDPAddr).AddrPort(),
		Mode:  endpoint.ModeListen,
	}

	done := make(chan error, 1)
	go func() {
		_, err := eng.BuildEndpoint(context.Background(), spec)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected bind failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected bind failure before waiting for a peer")
	}
}

func TestBuildEndpoint_HandshakeTimeout(t *testing.T) {
	eng := newTestEngine(t, Options{HandshakeTimeout: 300 * time.Millisecond})

	spec := endpoint.Spec{
		Local: netip.MustParseAddrPort("127.0.0.1:0"),
		Mode:  endpoint.ModeListen,
	}

	start := time.Now()
	_, err := eng.BuildEndpoint(context.Background(), spec)
	if err == nil {
		t.Fatal("Expected listen without a peer to time out")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Expected timeout near 300ms, took: %v", elapsed)
	}
}

func TestNew_HandshakeTimeout(t *testing.T) {
	tests := []struct {
		name     string
		timeout  time.Duration
		expected time.Duration
	}{
		{"unbounded", 0, unboundedHandshake},
		{"bounded", 3 * time.Second, 3 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, Options{HandshakeTimeout: tt.timeout})
			if got := eng.quicConf.HandshakeIdleTimeout; got != tt.expected {
				t.Errorf("Expected handshake idle timeout %v, got: %v", tt.expected, got)
			}
		})
	}
}

// TestBuildEndpoint_ConnectWaitsWithoutTimeout dials a port nobody answers
// with no handshake timeout; only the caller's context may end the attempt
func TestBuildEndpoint_ConnectWaitsWithoutTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits past the quic default handshake timeout")
	}

	eng := newTestEngine(t, Options{})
	spec := endpoint.Spec{
		Local:  netip.MustParseAddrPort("127.0.0.1:0"),
		Remote: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), freeUDPPort(t)),
		Mode:   endpoint.ModeConnect,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 7*time.Second)
	defer cancel()

	start := time.Now()
	_, err := eng.BuildEndpoint(ctx, spec)
	if err == nil {
		t.Fatal("Expected connect to an unanswered port to fail")
	}
	if elapsed := time.Since(start); elapsed < 6*time.Second {
		t.Errorf("Expected connect to wait for the caller's deadline, gave up after %v: %v", elapsed, err)
	}
}

func TestBuildEndpoint_InvalidSpec(t *testing.T) {
	eng := newTestEngine(t, Options{})

	spec := endpoint.Spec{
		Local: netip.MustParseAddrPort("127.0.0.1:0"),
		Mode:  endpoint.ModeConnect,
	}

	if _, err := eng.BuildEndpoint(context.Background(), spec); err == nil {
		t.Error("Expected error for connect spec without remote")
	}
}
