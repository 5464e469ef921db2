// Package timeout implements the periodic sweep worker: it requests a
// newer map every tick, resends requests marked resend, and pings the
// daemons of requests that have gone quiet.
package timeout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marmos91/osdc/internal/logger"
	"github.com/marmos91/osdc/pkg/dispatcher"
	"github.com/marmos91/osdc/pkg/request"
	"github.com/marmos91/osdc/pkg/transport"
)

// Pinger sends a liveness probe to a daemon connection. Implementations
// come from the transport; a failed ping is logged but does not by
// itself fail any request — the next sweep's resend path handles that.
type Pinger interface {
	Ping(ctx context.Context, conn transport.Conn) error
}

// Worker runs the periodic sweep described in the concurrency model: a
// cancellable, self-rescheduling task that only reschedules while
// requests remain live.
type Worker struct {
	d       *dispatcher.Dispatcher
	monitor dispatcher.Monitor
	pinger  Pinger
	period  time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// New returns a stopped Worker. Call Start to arm it.
func New(d *dispatcher.Dispatcher, monitor dispatcher.Monitor, pinger Pinger, period time.Duration) *Worker {
	return &Worker{d: d, monitor: monitor, pinger: pinger, period: period}
}

// Start arms the worker: it runs one sweep per period until Stop is
// called or the live request count reaches zero at the end of a sweep.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.cancel != nil {
		select {
		case <-w.stopped:
			// The previous run exited after an idle sweep; arm a new one.
			w.cancel()
		default:
			w.mu.Unlock()
			return
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
}

// Stop cancels and joins the worker.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	stopped := w.stopped
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.stopped)
	timer := time.NewTimer(w.period)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			w.sweep(ctx)
			if w.d.LiveCount() == 0 {
				return
			}
			timer.Reset(w.period)
		}
	}
}

// sweep runs one pass: ask for a newer map, resend requests marked
// resend, and ping the daemon of any request whose timeout stamp has
// passed (at most once per daemon per sweep).
func (w *Worker) sweep(ctx context.Context) {
	w.monitor.RequestNewerMap(ctx)

	now := time.Now()
	pinged := make(map[int32]bool)
	var pingGroup errgroup.Group

	w.d.ForEachTimedOut(ctx, func(req *request.Request) {
		if req.Resend() {
			if err := w.d.ResendOne(ctx, req); err != nil {
				logger.WarnCtx(ctx, "timeout resend failed", logger.Tid(req.Tid), logger.Err(err))
				return
			}
			req.SetResend(false)
			return
		}

		if req.TimeoutStamp.IsZero() || req.TimeoutStamp.After(now) {
			return
		}
		req.TimeoutStamp = now.Add(w.period)

		ordinal := req.RoutedOsd
		if ordinal < 0 || pinged[ordinal] {
			return
		}
		pinged[ordinal] = true

		conn, ok := w.d.DaemonConn(ordinal)
		if !ok {
			return
		}
		pingGroup.Go(func() error {
			if err := w.pinger.Ping(ctx, conn); err != nil {
				logger.WarnCtx(ctx, "daemon ping failed", logger.Osd(ordinal), logger.Err(err))
			}
			return nil
		})
	})

	_ = pingGroup.Wait()
}
