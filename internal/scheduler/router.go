package scheduler

import (
	"context"
	"fmt"

	"github.com/me/mem/pkg/model"
)

// applyGuide executes one Guide-channel operation against the loop-owned
// queue and gate. Called only from the drain step; errors are returned in
// the reply and never terminate the loop.
func (l *Loop) applyGuide(req *GuideRequest) GuideReply {
	switch req.Op {

	case GuideAdd:
		if len(req.Records) == 0 {
			l.metrics.ProtocolErrors.Inc()
			return GuideReply{Err: fmt.Errorf("add: no records given: %w", ErrProtocol)}
		}
		// Validate the whole payload before appending anything: a rejected
		// request leaves the queue unchanged.
		for i, rec := range req.Records {
			if rec == nil {
				l.metrics.ProtocolErrors.Inc()
				return GuideReply{Err: fmt.Errorf("add: record %d is empty: %w", i, ErrProtocol)}
			}
			if err := rec.Validate(); err != nil {
				l.metrics.ProtocolErrors.Inc()
				return GuideReply{Err: fmt.Errorf("add: record %d: %v: %w", i, err, ErrProtocol)}
			}
		}
		added := make([]int, 0, len(req.Records))
		for _, rec := range req.Records {
			added = append(added, l.queue.Add(rec))
		}
		l.logger.Info("measurements queued", "count", len(added), "queue_length", l.queue.Len())
		return GuideReply{Added: added}

	case GuideRemove:
		removed := l.queue.Remove(req.Positions)
		l.logger.Info("measurements removed",
			"requested", len(req.Positions),
			"removed", len(removed),
			"queue_length", l.queue.Len(),
		)
		return GuideReply{Removed: removed}

	case GuideQuery:
		snap := l.queue.Snapshot()
		if req.Submitter != "" {
			filtered := snap[:0:0]
			for _, rec := range snap {
				if rec.Submitter == req.Submitter {
					filtered = append(filtered, rec)
				}
			}
			snap = filtered
		}
		return GuideReply{Queue: snap}

	case GuideLen:
		return GuideReply{Length: l.queue.Len()}

	case GuideFetchGet:
		return GuideReply{Counter: l.gate.Get()}

	case GuideFetchSet:
		effective := l.gate.Set(req.Value)
		l.logger.Info("fetch counter set", "requested", req.Value, "effective", effective)
		return GuideReply{Counter: effective}

	case GuideCurrent:
		return GuideReply{Current: l.supervisor.Current()}

	default:
		l.metrics.ProtocolErrors.Inc()
		l.logger.Error("unknown guide operation", "op", string(req.Op))
		return GuideReply{Err: fmt.Errorf("unknown guide operation %q: %w", req.Op, ErrProtocol)}
	}
}

// applyControl executes one Controller-channel operation. End signals that
// are accepted clear the run state and broadcast the outcome to listeners.
func (l *Loop) applyControl(ctx context.Context, req *ControlRequest) ControlReply {
	switch req.Op {

	case ControlConfig:
		if l.instruments == nil {
			return ControlReply{Err: fmt.Errorf("no instrument config is set: %w", ErrProtocol)}
		}
		return ControlReply{Config: l.instruments}

	case ControlNext:
		rec := l.supervisor.Current()
		if rec == nil {
			l.metrics.ProtocolErrors.Inc()
			return ControlReply{Err: fmt.Errorf("no active measurement: %w", ErrProtocol)}
		}
		return ControlReply{Record: rec}

	case ControlStart:
		if err := l.supervisor.OnWorkerStart(req.Handle); err != nil {
			return ControlReply{Err: err}
		}
		return ControlReply{}

	case ControlEnd:
		if !req.Status.Valid() {
			l.metrics.ProtocolErrors.Inc()
			return ControlReply{Err: fmt.Errorf("end: invalid status %q: %w", req.Status, ErrProtocol)}
		}
		outcome, err := l.supervisor.OnWorkerEnd(req.Handle, req.Status, req.Record, req.ErrMsg)
		if err != nil {
			return ControlReply{Err: err}
		}
		l.metrics.Completions.WithLabelValues(string(outcome.Status)).Inc()
		if l.publisher != nil {
			l.publisher.Publish(ctx, outcome)
		}
		return ControlReply{}

	default:
		l.metrics.ProtocolErrors.Inc()
		l.logger.Error("unknown controller operation", "op", string(req.Op))
		return ControlReply{Err: fmt.Errorf("unknown controller operation %q: %w", req.Op, ErrProtocol)}
	}
}

// Publisher receives accepted terminal outcomes for broadcast to Listener
// collaborators. The loop's obligation ends at Publish returning.
type Publisher interface {
	Publish(ctx context.Context, outcome *model.Outcome)
}
