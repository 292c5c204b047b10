package command

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zt-overlay/ztpipe/internal/scheduler"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// fakeOverlay is a minimal zt.Overlay test double, standing in for the
// real ZeroTier-style overlay library in unit tests that only exercise
// Node/CommandHandler bookkeeping.
type fakeOverlay struct {
	addr uint64
}

func (f *fakeOverlay) Join(ctx context.Context, nwid uint64) error { return nil }
func (f *fakeOverlay) Leave(nwid uint64) error                     { return nil }
func (f *fakeOverlay) Send(nwid uint64, dstMAC [6]byte, ethertype uint16, payload []byte) error {
	return nil
}
func (f *fakeOverlay) LocalMAC(nwid uint64) ([6]byte, error) { return [6]byte{}, nil }
func (f *fakeOverlay) ProcessWirePacket(localSocket int64, from zt.UDPEndpoint, data []byte) {}
func (f *fakeOverlay) Address() uint64                       { return f.addr }
func (f *fakeOverlay) Close() error                          { return nil }

func newTestScheduler(t *testing.T) (*scheduler.Scheduler, int) {
	t.Helper()
	// scheduler.GetScheduler is a process-wide singleton shared across
	// this package's tests; each test registers its own job (all on the
	// in-memory home "", so they share one refcounted Node) and removes
	// it via defer to avoid cross-test interference.
	sched := scheduler.GetScheduler()

	jobID, err := sched.AddJob("test-node", "", 0, zt.DefaultPipeConfig(), func(cb zt.OverlayCallbacks) (zt.Overlay, error) {
		return &fakeOverlay{addr: 0x1234567890}, nil
	})
	require.NoError(t, err)
	return sched, jobID
}

func TestCommandHandler_HandleListNodes(t *testing.T) {
	sched, jobID := newTestScheduler(t)
	defer sched.RemoveJob(jobID)

	handler := NewCommandHandler(sched, nil)
	cmd := Command{Method: "list_nodes", ID: "req-1"}
	resp := handler.Handle(context.Background(), cmd)

	require.Nil(t, resp.Error)
	assert.Equal(t, "req-1", resp.ID)

	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, result, "nodes")
	assert.Contains(t, result, "count")
}

func TestCommandHandler_HandleListPipes(t *testing.T) {
	sched, jobID := newTestScheduler(t)
	defer sched.RemoveJob(jobID)

	handler := NewCommandHandler(sched, nil)
	params, err := json.Marshal(PipeStatsParams{JobID: jobID})
	require.NoError(t, err)

	cmd := Command{Method: "list_pipes", Params: params, ID: "req-2"}
	resp := handler.Handle(context.Background(), cmd)

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 0, result["count"])
}

func TestCommandHandler_HandleEventStats(t *testing.T) {
	sched, jobID := newTestScheduler(t)
	defer sched.RemoveJob(jobID)

	handler := NewCommandHandler(sched, nil)
	params, err := json.Marshal(EventStatsParams{JobID: jobID})
	require.NoError(t, err)

	cmd := Command{Method: "event_stats", Params: params, ID: "req-events"}
	resp := handler.Handle(context.Background(), cmd)

	require.Nil(t, resp.Error)
	result, ok := resp.Result.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, result, "published")
	assert.Contains(t, result, "processed")
	assert.Contains(t, result, "queued")
}

func TestCommandHandler_HandleEventStats_UnknownJob(t *testing.T) {
	sched := scheduler.GetScheduler()
	handler := NewCommandHandler(sched, nil)

	params, _ := json.Marshal(EventStatsParams{JobID: 999998})
	cmd := Command{Method: "event_stats", Params: params, ID: "req-events-2"}
	resp := handler.Handle(context.Background(), cmd)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestCommandHandler_HandleListPipes_UnknownJob(t *testing.T) {
	sched := scheduler.GetScheduler()
	handler := NewCommandHandler(sched, nil)

	params, _ := json.Marshal(PipeStatsParams{JobID: 999999})
	cmd := Command{Method: "list_pipes", Params: params, ID: "req-3"}
	resp := handler.Handle(context.Background(), cmd)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

type mockConfigReloader struct {
	reloadFunc func() error
}

func (m *mockConfigReloader) Reload() error {
	if m.reloadFunc != nil {
		return m.reloadFunc()
	}
	return nil
}

func TestCommandHandler_HandleConfigReload(t *testing.T) {
	sched := scheduler.GetScheduler()

	reloadCalled := false
	reloader := &mockConfigReloader{
		reloadFunc: func() error {
			reloadCalled = true
			return nil
		},
	}

	handler := NewCommandHandler(sched, reloader)
	cmd := Command{Method: "config_reload", ID: "req-4"}
	resp := handler.Handle(context.Background(), cmd)

	require.Nil(t, resp.Error)
	assert.Equal(t, "req-4", resp.ID)
	assert.True(t, reloadCalled)
}

func TestCommandHandler_HandleUnknownMethod(t *testing.T) {
	sched := scheduler.GetScheduler()
	handler := NewCommandHandler(sched, nil)

	cmd := Command{Method: "unknown.method", ID: "req-5"}
	resp := handler.Handle(context.Background(), cmd)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeMethodNotFound, resp.Error.Code)
}

func TestCommandHandler_InvalidParams(t *testing.T) {
	sched := scheduler.GetScheduler()
	handler := NewCommandHandler(sched, nil)

	cmd := Command{Method: "list_pipes", Params: json.RawMessage(`{invalid json}`), ID: "req-6"}
	resp := handler.Handle(context.Background(), cmd)

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidParams, resp.Error.Code)
}

func TestCommandHandler_HandleDaemonShutdown(t *testing.T) {
	sched := scheduler.GetScheduler()
	handler := NewCommandHandler(sched, nil)

	shutdownCalled := make(chan struct{})
	handler.SetShutdownFunc(func() { close(shutdownCalled) })

	cmd := Command{Method: "daemon_shutdown", ID: "req-7"}
	resp := handler.Handle(context.Background(), cmd)

	require.Nil(t, resp.Error)
	<-shutdownCalled
}
