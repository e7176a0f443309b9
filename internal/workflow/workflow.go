// Package workflow implements the image analysis state machine:
// select an image, submit it to the classifier, and publish a verdict.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/imagesource"
	"github.com/example/dust-check/internal/logging"
	"github.com/example/dust-check/internal/predictor"
	"github.com/example/dust-check/internal/session"
	"github.com/example/dust-check/internal/verdict"
)

// Phase is the lifecycle stage of the current analysis.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// Transport is the upload side of the workflow. Reserve claims the single
// upload slot; it fails while an earlier upload, even an abandoned one, is
// still outstanding.
type Transport interface {
	Reserve() (*predictor.Reservation, error)
}

// ImageInfo describes the selected image without its bytes.
type ImageInfo struct {
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Size      int64  `json:"size"`
}

// Snapshot is a consistent copy of the workflow state.
type Snapshot struct {
	Phase         Phase                      `json:"phase"`
	SelectedImage *ImageInfo                 `json:"selected_image,omitempty"`
	Preview       *imagesource.PreviewHandle `json:"preview,omitempty"`
	Verdict       *verdict.Verdict           `json:"verdict,omitempty"`
	ErrorMessage  string                     `json:"error_message,omitempty"`
	RequestToken  uint64                     `json:"request_token"`
}

// Workflow owns the state of one user's analysis. All transitions happen
// under mu; the upload itself runs outside it.
type Workflow struct {
	gate      *session.Gate
	source    *imagesource.Source
	transport Transport
	metrics   *Metrics
	logger    *zap.Logger

	mu           sync.Mutex
	phase        Phase
	verdict      *verdict.Verdict
	errorMessage string
	token        uint64
}

// New creates an idle workflow.
func New(gate *session.Gate, source *imagesource.Source, transport Transport, metrics *Metrics, logger *zap.Logger) *Workflow {
	if metrics == nil {
		metrics = &Metrics{}
	}
	return &Workflow{
		gate:      gate,
		source:    source,
		transport: transport,
		metrics:   metrics,
		logger:    logger.Named("workflow"),
		phase:     PhaseIdle,
	}
}

// SelectFile validates file and makes it the current image. A rejected file
// leaves the selection, phase and verdict as they were and records the error
// message.
func (w *Workflow) SelectFile(ctx context.Context, file *imagesource.File) (Snapshot, error) {
	if _, err := w.gate.RequireSession(ctx); err != nil {
		return w.Snapshot(), err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase == PhaseUploading {
		return w.snapshotLocked(), apperrors.NewPreconditionError("Wait for the current analysis to finish before choosing another image")
	}

	payload, err := w.source.Select(file)
	if err != nil {
		w.errorMessage = apperrors.Message(err)
		return w.snapshotLocked(), err
	}

	w.token++
	w.phase = PhaseIdle
	w.verdict = nil
	w.errorMessage = ""
	w.logger.Debug("image selected",
		zap.String("filename", payload.Filename),
		zap.String("media_type", payload.MediaType),
		zap.Int64("size", payload.Size))
	return w.snapshotLocked(), nil
}

// Analyze uploads the selected image and classifies the answer. It only
// returns an error when the request is refused up front; upload and
// classification failures end in PhaseFailed with ErrorMessage set.
func (w *Workflow) Analyze(ctx context.Context) (Snapshot, error) {
	identity, err := w.gate.RequireSession(ctx)
	if err != nil {
		return w.Snapshot(), err
	}

	w.mu.Lock()
	payload, ok := w.source.Current()
	if !ok {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, apperrors.NewPreconditionError("No file selected")
	}
	if w.phase == PhaseUploading {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, apperrors.NewConcurrentRequestError("An analysis is already in progress")
	}
	if w.phase != PhaseIdle {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, apperrors.NewPreconditionError("Select an image or start over before analyzing again")
	}
	reservation, err := w.transport.Reserve()
	if err != nil {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, err
	}

	w.token++
	token := w.token
	w.phase = PhaseUploading
	w.verdict = nil
	w.errorMessage = ""
	w.mu.Unlock()

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(w.logger, "workflow.analyze", requestID).With(
		zap.String("subject", identity.Subject),
		zap.String("image_sha1", payload.SHA1))
	opLogger.Info("analysis started", zap.String("filename", payload.Filename))
	w.metrics.started()
	start := time.Now()

	v, err := w.run(ctx, reservation, payload)

	w.mu.Lock()
	defer w.mu.Unlock()

	if token != w.token {
		w.metrics.discarded()
		opLogger.Info("discarding result of abandoned analysis", zap.Bool("failed", err != nil))
		return w.snapshotLocked(), nil
	}

	if err != nil {
		w.phase = PhaseFailed
		w.errorMessage = apperrors.Message(err)
		w.metrics.failed()
		opLogger.Warn("analysis failed", append(logging.ErrorFields(err), zap.Duration("elapsed", time.Since(start)))...)
		return w.snapshotLocked(), nil
	}

	w.phase = PhaseSucceeded
	w.verdict = &v
	w.metrics.succeeded(time.Since(start))
	opLogger.Info("analysis completed",
		zap.String("status", string(v.Status)),
		zap.Duration("elapsed", time.Since(start)))
	return w.snapshotLocked(), nil
}

func (w *Workflow) run(ctx context.Context, reservation *predictor.Reservation, payload imagesource.ImagePayload) (verdict.Verdict, error) {
	raw, err := reservation.Submit(ctx, payload)
	if err != nil {
		return verdict.Verdict{}, err
	}
	return verdict.Classify(*raw)
}

// Reset discards the selection, verdict and error and returns to idle. An
// in-flight upload is not aborted; its result is ignored on arrival.
func (w *Workflow) Reset() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
	return w.snapshotLocked()
}

func (w *Workflow) resetLocked() {
	w.source.Reset()
	w.token++
	w.phase = PhaseIdle
	w.verdict = nil
	w.errorMessage = ""
}

// Logout signs the session out and resets the workflow. Every later call
// that needs a session fails as unauthenticated.
func (w *Workflow) Logout(ctx context.Context) Snapshot {
	w.gate.SignOut(ctx)
	return w.Reset()
}

// Snapshot returns the current state.
func (w *Workflow) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

// Preview returns the payload behind the live preview handle id. Handles that
// were released or belong to another workflow are not found.
func (w *Workflow) Preview(id string) (imagesource.ImagePayload, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	handle, ok := w.source.Preview()
	if !ok || handle.ID != id {
		return imagesource.ImagePayload{}, false
	}
	return w.source.Current()
}

func (w *Workflow) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:        w.phase,
		ErrorMessage: w.errorMessage,
		RequestToken: w.token,
	}
	if payload, ok := w.source.Current(); ok {
		snap.SelectedImage = &ImageInfo{
			Filename:  payload.Filename,
			MediaType: payload.MediaType,
			Size:      payload.Size,
		}
	}
	if handle, ok := w.source.Preview(); ok {
		snap.Preview = &handle
	}
	if w.verdict != nil {
		v := *w.verdict
		snap.Verdict = &v
	}
	return snap
}
