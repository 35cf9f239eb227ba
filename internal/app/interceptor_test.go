package app

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/meshrelay/internal/domain"
	"github.com/bft-labs/meshrelay/internal/ports"
	"github.com/bft-labs/meshrelay/pkg/mesh"
)

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{"simple", "/gem 2+2", "2+2", true},
		{"trimmed", "/gem    what is lora?  ", "what is lora?", true},
		{"no question", "/gem", "", false},
		{"only spaces", "/gem    ", "", false},
		{"no space", "/gemini hi", "", false},
		{"case sensitive", "/GEM hi", "", false},
		{"not at start", "hey /gem hi", "", false},
		{"plain text", "hello", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTrigger("/gem", tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		max    int
		want   string
	}{
		{"collapses whitespace", "  four \n\n is\tthe answer ", 200, "four is the answer"},
		{"strips trigger prefix", "/gem /gem 4", 200, "4"},
		{"truncates", "abcdefghij", 4, "abcd"},
		{"keeps runes whole", "héllo", 2, "h"},
		{"empty", "   ", 200, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.answer, "/gem", tt.max))
		})
	}
}

type interceptorHarness struct {
	up      *fakeUpstream
	reg     *Registry
	journal *fakeJournal
	bridge  *fakeBridge
	ic      *Interceptor
	cancel  context.CancelFunc
	done    chan error
}

func newHarness(t *testing.T, cfg InterceptorConfig, answerer ports.Answerer) *interceptorHarness {
	t.Helper()
	h := &interceptorHarness{
		up:      newFakeUpstream(),
		reg:     NewRegistry(16, testLogger),
		journal: &fakeJournal{},
		bridge:  newFakeBridge(),
		done:    make(chan error, 1),
	}
	router := NewRouter(h.reg, h.up, testLogger)
	h.ic = NewInterceptor(cfg, answerer, h.journal, h.bridge, h.up, router, testLogger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.ic.Run(ctx) }()
	require.Eventually(t, func() bool {
		h.ic.mu.RLock()
		defer h.ic.mu.RUnlock()
		return h.ic.runCtx != nil
	}, time.Second, time.Millisecond)

	t.Cleanup(h.stop)
	return h
}

func (h *interceptorHarness) stop() {
	h.cancel()
	<-h.done
	h.done <- nil
}

func testConfig() InterceptorConfig {
	return InterceptorConfig{
		Settings: Settings{
			TriggerPrefix: "/gem",
			BotChannel:    2,
			ResponseDelay: 20 * time.Millisecond,
		},
		AITimeout:      time.Second,
		MaxPending:     4,
		MaxAnswerBytes: 200,
	}
}

func staticAnswer(answer string) ports.Answerer {
	return ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		return answer, nil
	})
}

func TestInterceptor_GemScenario(t *testing.T) {
	h := newHarness(t, testConfig(), ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		if q == "2+2" {
			return "4", nil
		}
		return "", errors.New("unexpected question")
	}))
	a, _ := pipeSession(t, h.reg)
	b, _ := pipeSession(t, h.reg)

	start := time.Now()
	require.True(t, h.ic.Inspect(textPacket(100, 0, "/gem 2+2"), domain.ClientOrigin(a.ID())))

	var upFrame = <-h.up.sent
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "answer waits for the response delay")

	env := mesh.DecodeToRadio(upFrame.Payload)
	require.Equal(t, mesh.KindPacket, env.Kind)
	assert.Equal(t, "4", env.Packet.Text())
	assert.Equal(t, uint8(2), env.Packet.Channel)
	assert.Equal(t, mesh.BroadcastAddr, env.Packet.To)
	assert.True(t, env.Packet.WantAck)
	assert.Equal(t, uint32(mesh.DefaultHopLimit), env.Packet.HopLimit)
	assert.NotZero(t, env.Packet.ID)

	for _, s := range []*Session{a, b} {
		env := mesh.DecodeFromRadio(decodeOne(t, queued(t, s)).Payload)
		require.Equal(t, mesh.KindPacket, env.Kind)
		assert.Equal(t, "4", env.Packet.Text())
		assert.Equal(t, uint8(2), env.Packet.Channel)
	}

	select {
	case text := <-h.bridge.outbound:
		assert.Equal(t, "4", text)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not receive the answer")
	}

	require.Eventually(t, func() bool { return h.ic.PendingCount() == 0 }, time.Second, time.Millisecond)
	assert.Equal(t, []domain.CommandStatus{domain.CommandAnswered}, h.journal.statuses())
	assert.True(t, h.ic.Originated(env.Packet.ID))
}

func TestInterceptor_NoFeedbackLoop(t *testing.T) {
	h := newHarness(t, testConfig(), staticAnswer("/gem repeat after me"))

	require.True(t, h.ic.Inspect(textPacket(1, 0, "/gem echo"), domain.UpstreamOrigin()))
	env := mesh.DecodeToRadio((<-h.up.sent).Payload)
	require.Equal(t, mesh.KindPacket, env.Kind)

	assert.False(t, strings.HasPrefix(env.Packet.Text(), "/gem"))
	assert.False(t, h.ic.Inspect(env.Packet, domain.UpstreamOrigin()), "the answer must not trigger again")
}

func TestInterceptor_IgnoresNonCommands(t *testing.T) {
	h := newHarness(t, testConfig(), staticAnswer("x"))

	assert.False(t, h.ic.Inspect(textPacket(1, 0, "hello mesh"), domain.UpstreamOrigin()))

	binary := textPacket(2, 0, "/gem hi")
	binary.PortNum = 67
	assert.False(t, h.ic.Inspect(binary, domain.UpstreamOrigin()))

	assert.Equal(t, 0, h.ic.PendingCount())
}

func TestInterceptor_DuplicatePacketHandledOnce(t *testing.T) {
	h := newHarness(t, testConfig(), staticAnswer("ok"))
	p := textPacket(77, 0, "/gem once")

	assert.True(t, h.ic.Inspect(p, domain.ClientOrigin(1)))
	echo := p
	echo.From = 0xdeadbeef
	assert.False(t, h.ic.Inspect(echo, domain.UpstreamOrigin()))

	<-h.up.sent
	accepted, _, _ := h.ic.CommandStats()
	assert.Equal(t, uint64(1), accepted)
}

func TestInterceptor_FailureNotifiesOriginOnly(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyFailures = true
	cfg.FailureNotice = "no answer"
	h := newHarness(t, cfg, ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		return "", errors.New("quota exceeded")
	}))
	origin, _ := pipeSession(t, h.reg)
	bystander, _ := pipeSession(t, h.reg)

	require.True(t, h.ic.Inspect(textPacket(5, 1, "/gem fail"), domain.ClientOrigin(origin.ID())))

	env := mesh.DecodeFromRadio(decodeOne(t, queued(t, origin)).Payload)
	assert.Equal(t, "no answer", env.Packet.Text())

	require.Eventually(t, func() bool { return h.ic.PendingCount() == 0 }, time.Second, time.Millisecond)
	assert.Len(t, bystander.out, 0)
	assert.Equal(t, 0, h.up.count(), "nothing goes to the mesh")
	assert.Equal(t, []domain.CommandStatus{domain.CommandFailed}, h.journal.statuses())
}

func TestInterceptor_TimeoutDropsCommand(t *testing.T) {
	cfg := testConfig()
	cfg.AITimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}))

	require.True(t, h.ic.Inspect(textPacket(5, 0, "/gem slow"), domain.UpstreamOrigin()))
	require.Eventually(t, func() bool { return h.ic.PendingCount() == 0 }, time.Second, time.Millisecond)

	_, _, failed := h.ic.CommandStats()
	assert.Equal(t, uint64(1), failed)
	assert.Equal(t, 0, h.up.count())
}

func TestInterceptor_MaxPending(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPending = 1
	release := make(chan struct{})
	h := newHarness(t, cfg, ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		select {
		case <-release:
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}))

	assert.True(t, h.ic.Inspect(textPacket(1, 0, "/gem first"), domain.UpstreamOrigin()))
	assert.False(t, h.ic.Inspect(textPacket(2, 0, "/gem second"), domain.UpstreamOrigin()))
	close(release)

	<-h.up.sent
	require.Eventually(t, func() bool { return h.ic.PendingCount() == 0 }, time.Second, time.Millisecond)
	assert.True(t, h.ic.Inspect(textPacket(3, 0, "/gem third"), domain.UpstreamOrigin()))
}

func TestInterceptor_LateAnswerDiscardedAfterStop(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, testConfig(), ports.AnswererFunc(func(ctx context.Context, q string) (string, error) {
		<-release
		return "too late", nil
	}))

	require.True(t, h.ic.Inspect(textPacket(1, 0, "/gem wait"), domain.UpstreamOrigin()))
	h.cancel()
	close(release)
	require.NoError(t, <-h.done)
	h.done <- nil

	assert.Equal(t, 0, h.up.count())
	assert.Equal(t, []domain.CommandStatus{domain.CommandAbandoned}, h.journal.statuses())
	assert.False(t, h.ic.Inspect(textPacket(2, 0, "/gem after"), domain.UpstreamOrigin()))
}

func TestInterceptor_InspectTextFromBridge(t *testing.T) {
	h := newHarness(t, testConfig(), staticAnswer("pong"))

	assert.False(t, h.ic.InspectText("just chatting", domain.BridgeOrigin("alice")))
	require.True(t, h.ic.InspectText("/gem ping", domain.BridgeOrigin("alice")))

	env := mesh.DecodeToRadio((<-h.up.sent).Payload)
	assert.Equal(t, "pong", env.Packet.Text())
	assert.Equal(t, uint8(2), env.Packet.Channel)
}

func TestInterceptor_UpdateSettings(t *testing.T) {
	h := newHarness(t, testConfig(), staticAnswer("new channel"))

	require.NoError(t, h.ic.UpdateSettings(Settings{TriggerPrefix: "/ask", BotChannel: 5}))
	assert.Error(t, h.ic.UpdateSettings(Settings{TriggerPrefix: "", BotChannel: 1}))
	err := h.ic.UpdateSettings(Settings{TriggerPrefix: "/x", BotChannel: 9})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)

	assert.False(t, h.ic.Inspect(textPacket(1, 0, "/gem old"), domain.UpstreamOrigin()))
	require.True(t, h.ic.Inspect(textPacket(2, 0, "/ask new"), domain.UpstreamOrigin()))

	env := mesh.DecodeToRadio((<-h.up.sent).Payload)
	assert.Equal(t, uint8(5), env.Packet.Channel)
}

func TestInterceptor_WithoutAnswererIgnoresCommands(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	assert.False(t, h.ic.Inspect(textPacket(1, 0, "/gem hi"), domain.UpstreamOrigin()))
}
