package scheduler

import (
	"context"
	"strconv"
	"time"

	"github.com/zt-overlay/ztpipe/internal/eventbus"
	"github.com/zt-overlay/ztpipe/internal/log"
	"github.com/zt-overlay/ztpipe/internal/zt"
)

// Job supervises one open zt.Node (one home directory) on behalf of the
// daemon. Grounded on the teacher's Job shape (internal/scheduler/job.go):
// same ctx/cancel-with-timeout Stop, same CreatedAt/status bookkeeping,
// retargeted from a capture pipeline.Pipeline to a Node's lifecycle.
type Job struct {
	ID        int
	Name      string
	CreatedAt int64

	home string
	node *zt.Node
	status string

	events *eventbus.NodeEventBus

	ctx    context.Context
	cancel context.CancelFunc
}

// NewJob opens (or attaches to an already-open) Node for home and wraps
// it as a tracked background job. port is the local UDP port to bind
// (0 picks an ephemeral one); pipeCfg is applied to every pipe the Node
// establishes (spec §6 recv-max-size and friends).
func NewJob(id int, name, home string, port int, pipeCfg zt.PipeConfig, newOverlay func(zt.OverlayCallbacks) (zt.Overlay, error)) (*Job, error) {
	node, err := zt.OpenNode(home, port, pipeCfg, newOverlay)
	if err != nil {
		return nil, err
	}

	events := eventbus.NewNodeEventBus(4, 256)
	logNodeEvent := func(ev *eventbus.NodeEvent) error {
		log.GetLogger().WithField("job", name).Infof("node event: %s", ev.Type)
		return nil
	}
	for _, ev := range []zt.EventType{zt.EventPeerOnline, zt.EventPeerOffline, zt.EventNetworkReady, zt.EventNetworkDown} {
		_ = events.Subscribe(ev, logNodeEvent)
	}
	node.SetEventListener(events.Publish)

	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now().UnixMilli(),
		home:      home,
		node:      node,
		status:    "running",
		events:    events,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// EventStats reports this job's node lifecycle event bus counters
// (spec §4.6 item 5), surfaced over the control plane for diagnostics.
func (j *Job) EventStats() *eventbus.Stats { return j.events.Stats() }

func (j *Job) String() string { return j.Name }

func (j *Job) IDString() string { return strconv.Itoa(j.ID) }

// Node returns the underlying node manager this job supervises.
func (j *Job) Node() *zt.Node { return j.node }

// Stop closes this job's reference to its Node, with a bounded timeout
// so a misbehaving overlay shutdown never wedges the scheduler.
func (j *Job) Stop() {
	j.cancel()
	j.status = "stopping"
	if j.events != nil {
		_ = j.events.Close()
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	done := make(chan struct{})
	go func() {
		_ = zt.CloseNode(j.home)
		close(done)
	}()
	select {
	case <-done:
		j.status = "stopped"
	case <-stopCtx.Done():
		j.status = "stop timed out"
	}
}

func (j *Job) Status() string { return j.status }
