package app

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/log"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

var testLogger = log.NewNoopLogger()

// fakeUpstream records frames sent to the gateway.
type fakeUpstream struct {
	mu     sync.Mutex
	frames []frame.Frame
	err    error
	sent   chan frame.Frame
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{sent: make(chan frame.Frame, 64)}
}

func (u *fakeUpstream) Send(ctx context.Context, f frame.Frame) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.frames = append(u.frames, f)
	u.sent <- f
	return nil
}

func (u *fakeUpstream) setErr(err error) {
	u.mu.Lock()
	u.err = err
	u.mu.Unlock()
}

func (u *fakeUpstream) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.frames)
}

// fakeJournal records finished commands.
type fakeJournal struct {
	mu      sync.Mutex
	records []domain.CommandRecord
}

func (j *fakeJournal) Record(ctx context.Context, rec domain.CommandRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, rec)
	return nil
}

func (j *fakeJournal) Recent(ctx context.Context, limit int) ([]domain.CommandRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.CommandRecord{}, j.records...), nil
}

func (j *fakeJournal) Close() error { return nil }

func (j *fakeJournal) statuses() []domain.CommandStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []domain.CommandStatus
	for _, r := range j.records {
		out = append(out, r.Status)
	}
	return out
}

// fakeBridge records outbound text and exposes its inject callback.
type fakeBridge struct {
	outbound chan string
	injectCh chan ports.InjectFunc
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		outbound: make(chan string, 16),
		injectCh: make(chan ports.InjectFunc, 1),
	}
}

func (b *fakeBridge) Name() string { return "fake" }

func (b *fakeBridge) Run(ctx context.Context, inject ports.InjectFunc) error {
	b.injectCh <- inject
	<-ctx.Done()
	return nil
}

func (b *fakeBridge) Outbound(ctx context.Context, text string, channel uint8) error {
	b.outbound <- text
	return nil
}

// pipeSession registers one end of a net.Pipe and returns the other.
func pipeSession(t *testing.T, r *Registry) (*Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	return r.Register(server), client
}

func textPacket(id uint32, channel uint8, text string) mesh.Packet {
	p := mesh.NewText(id, channel, text)
	p.From = 0x1234abcd
	return p
}

func fromRadioFrame(t *testing.T, p mesh.Packet) frame.Frame {
	t.Helper()
	f, err := encodeFromRadio(p)
	require.NoError(t, err)
	return f
}

// queued pops the next frame queued on s.
func queued(t *testing.T, s *Session) []byte {
	t.Helper()
	select {
	case b := <-s.out:
		return b
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame queued for client %d", s.ID())
		return nil
	}
}

// decodeOne decodes exactly one frame from b.
func decodeOne(t *testing.T, b []byte) frame.Frame {
	t.Helper()
	results := frame.NewDecoder().Decode(b)
	require.Len(t, results, 1)
	require.True(t, results[0].OK())
	return results[0].Frame
}

// readFrame reads frames from conn until one is complete.
func readFrame(t *testing.T, conn net.Conn, dec *frame.Decoder) frame.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	defer conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1024)
	for {
		if r, ok := dec.Next(); ok {
			require.True(t, r.OK())
			return r.Frame
		}
		n, err := conn.Read(buf)
		require.NoError(t, err)
		dec.Feed(buf[:n])
	}
}

// loopbackPair returns both ends of a TCP connection on 127.0.0.1.
func loopbackPair(t *testing.T) (server, client net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

// stallingConn blocks every Write until the connection is closed, like a
// peer that stopped reading.
type stallingConn struct {
	net.Conn
	writing     chan struct{}
	release     chan struct{}
	writingOnce sync.Once
	closeOnce   sync.Once
}

func newStallingConn(c net.Conn) *stallingConn {
	return &stallingConn{
		Conn:    c,
		writing: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (c *stallingConn) Write(b []byte) (int, error) {
	c.writingOnce.Do(func() { close(c.writing) })
	<-c.release
	return 0, net.ErrClosed
}

func (c *stallingConn) Close() error {
	c.closeOnce.Do(func() { close(c.release) })
	return c.Conn.Close()
}
