package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/dust-check/internal/apperrors"
	"github.com/example/dust-check/internal/imagesource"
	"github.com/example/dust-check/internal/logging"
)

const (
	imageField      = "image"
	maxResponseSize = 1 << 20
)

// HTTPClient submits images to the classifier's multipart endpoint.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewHTTPClient returns a client for the classifier rooted at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: transport, Timeout: timeout},
		logger:  logger.Named("predictor"),
	}
}

// Submit posts the payload as the "image" part and decodes the prediction.
// It never retries.
func (c *HTTPClient) Submit(ctx context.Context, payload imagesource.ImagePayload) (*Prediction, error) {
	opLogger := logging.WithOperation(c.logger, "predictor.submit", payload.SHA1)

	body, contentType, err := encodeMultipart(payload)
	if err != nil {
		return nil, apperrors.NewTransportError(logging.NewOperationError("predictor.encode", payload.SHA1, err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", body)
	if err != nil {
		return nil, apperrors.NewTransportError(err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		opLogger.Warn("prediction request failed", zap.Error(err))
		return nil, apperrors.NewTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		opLogger.Warn("failed to read prediction response", zap.Error(err))
		return nil, apperrors.NewTransportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := serviceErrorMessage(raw, resp.StatusCode)
		opLogger.Warn("prediction service rejected request",
			zap.Int("status", resp.StatusCode), zap.String("error", message))
		return nil, apperrors.NewServiceError(message, resp.StatusCode)
	}

	var prediction Prediction
	if err := json.Unmarshal(raw, &prediction); err != nil {
		opLogger.Warn("failed to decode prediction", zap.Error(err))
		return nil, apperrors.NewDecodeError("Received an unreadable response from the prediction service", err)
	}

	opLogger.Info("prediction received",
		zap.String("result", prediction.Result),
		zap.Duration("latency", time.Since(start)))
	return &prediction, nil
}

// Health queries the classifier's health endpoint.
func (c *HTTPClient) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, logging.NewOperationError("predictor.health", "", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, logging.NewOperationError("predictor.health", "", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	var health Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&health); err != nil {
		return nil, logging.NewOperationError("predictor.health", "", err)
	}
	return &health, nil
}

func encodeMultipart(payload imagesource.ImagePayload) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	filename := payload.Filename
	if filename == "" {
		filename = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, imageField, filename))
	header.Set("Content-Type", payload.MediaType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func serviceErrorMessage(raw []byte, status int) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := strings.TrimSpace(body.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("prediction service returned status %d", status)
}
