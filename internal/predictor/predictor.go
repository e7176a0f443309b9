// Package predictor talks to the remote dust classifier.
package predictor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/imagesource"
)

// Prediction is the raw classifier response. Optional fields are nil when
// the service omitted them.
type Prediction struct {
	Result              string   `json:"result"`
	Confidence          *float64 `json:"confidence,omitempty"`
	DustinessPercentage *float64 `json:"dustiness_percentage,omitempty"`
	IsDusty             *bool    `json:"is_dusty,omitempty"`
}

// Health is the classifier's self-reported status.
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// Submitter sends a payload to the classifier and waits for its answer.
type Submitter interface {
	Submit(ctx context.Context, payload imagesource.ImagePayload) (*Prediction, error)
}

// Exclusive allows at most one outstanding Submit through the wrapped Submitter.
type Exclusive struct {
	next Submitter
	busy atomic.Bool
}

// NewExclusive wraps next with a one-request-in-flight guard.
func NewExclusive(next Submitter) *Exclusive {
	return &Exclusive{next: next}
}

// Submit forwards to the wrapped Submitter, or fails with a concurrent request
// error while another call is outstanding.
func (e *Exclusive) Submit(ctx context.Context, payload imagesource.ImagePayload) (*Prediction, error) {
	res, err := e.Reserve()
	if err != nil {
		return nil, err
	}
	return res.Submit(ctx, payload)
}

// Reserve claims the in-flight slot ahead of the upload. The slot is held
// until the reservation is submitted or cancelled.
func (e *Exclusive) Reserve() (*Reservation, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, apperrors.NewConcurrentRequestError("An analysis is already in progress")
	}
	return &Reservation{guard: e}, nil
}

// InFlight reports whether a Submit call is outstanding or reserved.
func (e *Exclusive) InFlight() bool {
	return e.busy.Load()
}

// Reservation is a claimed slot on an Exclusive.
type Reservation struct {
	guard *Exclusive
	once  sync.Once
}

// Submit sends payload through the reserved slot and frees it afterwards.
func (r *Reservation) Submit(ctx context.Context, payload imagesource.ImagePayload) (*Prediction, error) {
	defer r.Cancel()
	return r.guard.next.Submit(ctx, payload)
}

// Cancel frees the slot without submitting. Safe to call more than once.
func (r *Reservation) Cancel() {
	r.once.Do(func() { r.guard.busy.Store(false) })
}
