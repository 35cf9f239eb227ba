package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/pkg/frame"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

func TestRouter_UpstreamToClientsReachesEverySession(t *testing.T) {
	r := NewRegistry(8, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)

	var sessions []*Session
	for i := 0; i < 3; i++ {
		s, _ := pipeSession(t, r)
		sessions = append(sessions, s)
	}

	f := fromRadioFrame(t, textPacket(7, 0, "ping"))
	d := router.UpstreamToClients(f)

	assert.Equal(t, Delivery{Delivered: 3}, d)
	for _, s := range sessions {
		assert.Equal(t, f.Bytes(), queued(t, s))
	}
}

func TestRouter_ChannelThreeScenario(t *testing.T) {
	r := NewRegistry(8, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)
	a, _ := pipeSession(t, r)
	b, _ := pipeSession(t, r)

	f := fromRadioFrame(t, textPacket(42, 3, "hello"))
	router.UpstreamToClients(f)

	for _, s := range []*Session{a, b} {
		raw := queued(t, s)
		assert.Equal(t, f.Bytes(), raw, "bytes are relayed unchanged")

		env := mesh.DecodeFromRadio(decodeOne(t, raw).Payload)
		require.Equal(t, mesh.KindPacket, env.Kind)
		assert.Equal(t, uint8(3), env.Packet.Channel)
		assert.Equal(t, "hello", env.Packet.Text())
	}
}

func TestRouter_FullQueueSkipsOnlyThatClient(t *testing.T) {
	r := NewRegistry(1, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)
	slow, _ := pipeSession(t, r)
	fast, _ := pipeSession(t, r)

	first := fromRadioFrame(t, textPacket(1, 0, "one"))
	second := fromRadioFrame(t, textPacket(2, 0, "two"))

	router.UpstreamToClients(first)
	assert.Equal(t, first.Bytes(), queued(t, fast))

	d := router.UpstreamToClients(second)
	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, 1, d.Skipped)
	assert.Equal(t, second.Bytes(), queued(t, fast))

	// The slow client keeps its place and still has the first frame.
	assert.Equal(t, first.Bytes(), queued(t, slow))
	assert.Equal(t, 2, r.Len())
}

func TestRouter_ClosedSessionIsUnregistered(t *testing.T) {
	r := NewRegistry(4, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)
	gone, _ := pipeSession(t, r)
	alive, _ := pipeSession(t, r)
	gone.Close()

	d := router.UpstreamToClients(fromRadioFrame(t, textPacket(1, 0, "x")))

	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, 1, d.Dropped)
	_, ok := r.Get(gone.ID())
	assert.False(t, ok)
	_, ok = r.Get(alive.ID())
	assert.True(t, ok)
}

func TestRouter_ClientClosedMidWriteDoesNotAffectOthers(t *testing.T) {
	r := NewRegistry(8, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)

	slowServer, _ := loopbackPair(t)
	stalled := newStallingConn(slowServer)
	slow := r.Register(stalled)
	fastServer, fastClient := loopbackPair(t)
	fast := r.Register(fastServer)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	for _, s := range []*Session{slow, fast} {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.writeLoop(ctx)
			r.Unregister(s.ID())
		}(s)
	}
	defer func() {
		cancel()
		r.CloseAll()
		wg.Wait()
	}()

	dec := frame.NewDecoder()
	first := fromRadioFrame(t, textPacket(1, 0, "first"))
	router.UpstreamToClients(first)

	select {
	case <-stalled.writing:
	case <-time.After(2 * time.Second):
		t.Fatal("slow client writer never started writing")
	}
	assert.Equal(t, first.Payload, readFrame(t, fastClient, dec).Payload)

	// Force-close the slow client while its writer is blocked in Write.
	require.NoError(t, slow.Close())

	second := fromRadioFrame(t, textPacket(2, 0, "second"))
	router.UpstreamToClients(second)
	assert.Equal(t, second.Payload, readFrame(t, fastClient, dec).Payload)

	assert.Eventually(t, func() bool {
		_, ok := r.Get(slow.ID())
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "closed client is unregistered")
	_, ok := r.Get(fast.ID())
	assert.True(t, ok)
}

func TestRouter_FIFOPerSession(t *testing.T) {
	r := NewRegistry(16, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)
	s, _ := pipeSession(t, r)

	var sent [][]byte
	for i := uint32(1); i <= 5; i++ {
		f := fromRadioFrame(t, textPacket(i, 0, "m"))
		sent = append(sent, f.Bytes())
		router.UpstreamToClients(f)
	}
	for _, want := range sent {
		assert.Equal(t, want, queued(t, s))
	}
}

func TestRouter_ClientToUpstream(t *testing.T) {
	up := newFakeUpstream()
	router := NewRouter(NewRegistry(4, testLogger), up, testLogger)
	f, err := frame.Encode([]byte{0x08, 0x01})
	require.NoError(t, err)

	require.NoError(t, router.ClientToUpstream(context.Background(), f, 1))
	assert.Equal(t, 1, up.count())

	up.setErr(domain.ErrNotConnected)
	err = router.ClientToUpstream(context.Background(), f, 1)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestRouter_SendToClient(t *testing.T) {
	r := NewRegistry(4, testLogger)
	router := NewRouter(r, newFakeUpstream(), testLogger)
	target, _ := pipeSession(t, r)
	other, _ := pipeSession(t, r)

	require.NoError(t, router.SendToClient(target.ID(), textPacket(9, 1, "only you")))
	env := mesh.DecodeFromRadio(decodeOne(t, queued(t, target)).Payload)
	assert.Equal(t, "only you", env.Packet.Text())
	assert.Len(t, other.out, 0)

	assert.ErrorIs(t, router.SendToClient(999, textPacket(9, 1, "x")), domain.ErrSessionClosed)
}
