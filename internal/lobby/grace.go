package lobby

import (
	"context"
	"net/netip"
	"time"
)

type graceOp struct {
	addr     netip.Addr
	deadline time.Time
	arm      bool
}

// graceTracker turns idle clients into Disconnected{Expired} intents once
// their window closes. It runs on its own goroutine so the manager never
// blocks on a timer.
type graceTracker struct {
	ops    chan graceOp
	intake chan<- Intent
}

func newGraceTracker(intake chan<- Intent) *graceTracker {
	return &graceTracker{ops: make(chan graceOp, 64), intake: intake}
}

func (g *graceTracker) Arm(addr netip.Addr, deadline time.Time) {
	g.ops <- graceOp{addr: addr, deadline: deadline, arm: true}
}

func (g *graceTracker) Disarm(addr netip.Addr) {
	g.ops <- graceOp{addr: addr}
}

func (g *graceTracker) run(ctx context.Context) {
	deadlines := make(map[netip.Addr]time.Time)
	var expired []netip.Addr
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	rearm := func() {
		timer.Stop()
		var next time.Time
		for _, d := range deadlines {
			if next.IsZero() || d.Before(next) {
				next = d
			}
		}
		if !next.IsZero() {
			timer.Reset(time.Until(next))
		}
	}

	for {
		var out chan<- Intent
		var pending Intent
		if len(expired) > 0 {
			out = g.intake
			pending = Disconnected{Addr: expired[0], Expired: true}
		}
		select {
		case <-ctx.Done():
			return
		case op := <-g.ops:
			if op.arm {
				deadlines[op.addr] = op.deadline
			} else {
				delete(deadlines, op.addr)
			}
			rearm()
		case now := <-timer.C:
			for addr, d := range deadlines {
				if !d.After(now) {
					expired = append(expired, addr)
					delete(deadlines, addr)
				}
			}
			rearm()
		case out <- pending:
			expired = expired[1:]
		}
	}
}
