package httpapi

import (
	"context"
	"net/http"
	"time"
)

// tooBusyError is returned when a chat request cannot be admitted.
type tooBusyError struct{ reason string }

func (e tooBusyError) Error() string   { return "server busy: " + e.reason }
func (e tooBusyError) StatusCode() int { return http.StatusTooManyRequests }

// admission serializes chat requests onto the single generation slot.
type admission struct {
	queueCh chan struct{}
	genCh   chan struct{}
	maxWait time.Duration
}

func newAdmission(depth int, maxWait time.Duration) *admission {
	return &admission{
		queueCh: make(chan struct{}, depth),
		genCh:   make(chan struct{}, 1),
		maxWait: maxWait,
	}
}

// begin acquires the generation slot. Without queuing a busy slot fails
// immediately; with queuing the caller waits behind at most depth others for
// up to maxWait. Returns a release func to be deferred.
func (a *admission) begin(ctx context.Context, queuing bool) (func(), error) {
	if err := ctx.Err(); err != nil {
		return func() {}, err
	}
	if !queuing {
		select {
		case a.genCh <- struct{}{}:
			return func() { <-a.genCh }, nil
		default:
			return func() {}, tooBusyError{reason: "busy"}
		}
	}

	timer := time.NewTimer(a.maxWait)
	defer timer.Stop()
	select {
	case a.queueCh <- struct{}{}:
	case <-ctx.Done():
		return func() {}, ctx.Err()
	default:
		return func() {}, tooBusyError{reason: "queue_full"}
	}

	acquired := false
	defer func() {
		if !acquired {
			<-a.queueCh
		}
	}()
	select {
	case a.genCh <- struct{}{}:
		acquired = true
		return func() { <-a.genCh; <-a.queueCh }, nil
	case <-ctx.Done():
		return func() {}, ctx.Err()
	case <-timer.C:
		return func() {}, tooBusyError{reason: "queue_timeout"}
	}
}
