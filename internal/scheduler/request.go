package scheduler

import (
	"context"
	"errors"

	"github.com/me/mem/internal/config"
	"github.com/me/mem/pkg/model"
)

// ErrProtocol marks malformed or unrecognized requests. These receive an
// error reply and never mutate scheduler state.
var ErrProtocol = errors.New("protocol error")

// GuideOp identifies a control-plane operation.
type GuideOp string

const (
	GuideAdd      GuideOp = "add"
	GuideRemove   GuideOp = "remove"
	GuideQuery    GuideOp = "query"
	GuideLen      GuideOp = "len"
	GuideFetchGet GuideOp = "fetch-get"
	GuideFetchSet GuideOp = "fetch-set"
	GuideCurrent  GuideOp = "current"
)

// GuideRequest is one decoded Guide-channel message. Requests are data; they
// are applied synchronously inside the scheduler loop's drain step.
type GuideRequest struct {
	Op GuideOp

	// Records to append, for add.
	Records []*model.Measurement
	// Positions to remove, for remove.
	Positions []int
	// Value for fetch-set.
	Value int
	// Submitter filters query snapshots when non-empty.
	Submitter string

	reply chan GuideReply
}

// GuideReply carries the result of one Guide operation.
type GuideReply struct {
	Added   []int
	Removed []int
	Queue   []*model.Measurement
	Length  int
	Counter int
	Current *model.Measurement
	Err     error
}

// ControlOp identifies a worker-plane operation.
type ControlOp string

const (
	ControlConfig ControlOp = "config"
	ControlNext   ControlOp = "next"
	ControlStart  ControlOp = "start"
	ControlEnd    ControlOp = "end"
)

// ControlRequest is one decoded Controller-channel message.
type ControlRequest struct {
	Op ControlOp

	// Handle authenticates start/end signals against the active run.
	Handle string
	// Status, Record, and ErrMsg carry the terminal outcome for end.
	Status model.RunStatus
	Record *model.Measurement
	ErrMsg string

	reply chan ControlReply
}

// ControlReply carries the result of one Controller operation.
type ControlReply struct {
	Config config.InstrumentConfig
	Record *model.Measurement
	Err    error
}

// SubmitGuide hands a Guide request to the loop and blocks until the loop
// replies during a drain step, or ctx is done.
func (l *Loop) SubmitGuide(ctx context.Context, req GuideRequest) (GuideReply, error) {
	req.reply = make(chan GuideReply, 1)
	select {
	case l.guideCh <- &req:
	case <-ctx.Done():
		return GuideReply{}, ctx.Err()
	}
	l.wakeup()
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return GuideReply{}, ctx.Err()
	}
}

// SubmitControl hands a Controller request to the loop and blocks until the
// loop replies during a drain step, or ctx is done.
func (l *Loop) SubmitControl(ctx context.Context, req ControlRequest) (ControlReply, error) {
	req.reply = make(chan ControlReply, 1)
	select {
	case l.ctrlCh <- &req:
	case <-ctx.Done():
		return ControlReply{}, ctx.Err()
	}
	l.wakeup()
	select {
	case rep := <-req.reply:
		return rep, nil
	case <-ctx.Done():
		return ControlReply{}, ctx.Err()
	}
}
