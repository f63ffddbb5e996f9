package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
)

// AuthFailureHandler is called when a request gets a 401 response.
//
// It typically refreshes credentials and calls Client.SetBearerToken.
// Returning an error fails every request waiting on the recovery.
//
// The handler may send requests through the client; they skip the wait
// on the recovery it is running. Such a request must not be identical
// (same method, URL, body and raw mode) to one already in flight on that
// client: it would join that deduplicated call, which is itself waiting
// on the handler, and never return. Use a distinct endpoint, or a
// separate client, for the refresh call.
type AuthFailureHandler func(ctx context.Context, resp *http.Response) error

// AuthCoordinator runs at most one auth recovery at a time for every
// client that shares it.
//
// The first request to see a 401 starts a recovery; requests that hit 401
// meanwhile join it, and requests about to send wait for it to finish.
// Clients built without WithAuthCoordinator share DefaultAuthCoordinator,
// so recovery is process-wide unless a client is given its own.
type AuthCoordinator struct {
	mu     sync.Mutex
	flight *authFlight
	runs   atomic.Int64
}

// authFlight is one in-progress recovery.
type authFlight struct {
	done    chan struct{}
	err     error
	waiters atomic.Int32
}

var defaultAuthCoordinator = NewAuthCoordinator()

// DefaultAuthCoordinator returns the coordinator shared by clients that
// were not given one explicitly.
func DefaultAuthCoordinator() *AuthCoordinator {
	return defaultAuthCoordinator
}

// NewAuthCoordinator returns an idle coordinator.
func NewAuthCoordinator() *AuthCoordinator {
	return &AuthCoordinator{}
}

// Active reports whether a recovery is in progress.
func (a *AuthCoordinator) Active() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.flight != nil
}

// Runs returns how many times a handler has been started.
func (a *AuthCoordinator) Runs() int64 {
	return a.runs.Load()
}

// recoveringKey marks the context handed to a handler with its flight.
type recoveringKey struct{}

// inFlight reports whether ctx belongs to the handler of f.
func inFlight(ctx context.Context, f *authFlight) bool {
	own, _ := ctx.Value(recoveringKey{}).(*authFlight)
	return own == f
}

// Wait blocks while a recovery is in progress and returns its error.
// It returns nil immediately when the coordinator is idle, or when ctx
// is the context of the running handler, so the handler can send its
// own requests through clients sharing the coordinator.
func (a *AuthCoordinator) Wait(ctx context.Context) error {
	a.mu.Lock()
	f := a.flight
	a.mu.Unlock()
	if f == nil || inFlight(ctx, f) {
		return nil
	}
	return f.wait(ctx)
}

// Recover joins the recovery in progress or, when there is none, starts
// one by calling handler with resp. It returns once the recovery finished.
//
// The flight is cleared before waiters are released, whether the handler
// succeeded or not, so the next 401 starts a fresh recovery. A 401 seen
// by the handler's own requests fails instead of joining.
func (a *AuthCoordinator) Recover(
	ctx context.Context,
	resp *http.Response,
	handler AuthFailureHandler,
) (started bool, err error) {
	a.mu.Lock()
	if f := a.flight; f != nil {
		a.mu.Unlock()
		if inFlight(ctx, f) {
			return false, fmt.Errorf("%w: 401 during recovery", ErrAuthRecovery)
		}
		return false, f.wait(ctx)
	}
	f := &authFlight{done: make(chan struct{})}
	a.flight = f
	a.mu.Unlock()

	a.runs.Add(1)
	f.err = runHandler(context.WithValue(ctx, recoveringKey{}, f), resp, handler)

	a.mu.Lock()
	a.flight = nil
	a.mu.Unlock()
	close(f.done)

	return true, f.err
}

// waiting returns the number of requests blocked on the current flight.
func (a *AuthCoordinator) waiting() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.flight == nil {
		return 0
	}
	return int(a.flight.waiters.Load())
}

func (f *authFlight) wait(ctx context.Context) error {
	f.waiters.Add(1)
	defer f.waiters.Add(-1)

	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runHandler calls handler, turning a panic into an error so waiters are
// always released.
func runHandler(ctx context.Context, resp *http.Response, handler AuthFailureHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: handler panic: %v", ErrAuthRecovery, r)
		}
	}()
	if herr := handler(ctx, resp); herr != nil {
		return fmt.Errorf("%w: %w", ErrAuthRecovery, herr)
	}
	return nil
}
