package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/dust-check/internal/auth"
	"github.com/example/dust-check/internal/handlers"
	"github.com/example/dust-check/internal/imagesource"
	"github.com/example/dust-check/internal/predictor"
	"github.com/example/dust-check/internal/session"
	"github.com/example/dust-check/internal/workflow"
)

type noRevocations struct{}

func (noRevocations) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	return nil
}

func (noRevocations) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	return false, nil
}

func TestServerGracefulShutdownFinishesAnalysis(t *testing.T) {
	logger := zap.NewNop()

	requestStarted := make(chan struct{})
	releaseRequest := make(chan struct{})

	classifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-requestStarted:
		default:
			close(requestStarted)
		}
		<-releaseRequest
		_, _ = w.Write([]byte(`{"result":"Dusty Panel","confidence":0.81,"dustiness_percentage":81}`))
	}))
	defer classifier.Close()
	defer func() {
		select {
		case <-releaseRequest:
		default:
			close(releaseRequest)
		}
	}()

	client := predictor.NewHTTPClient(classifier.URL, 5*time.Second, logger)
	previews := imagesource.NewPreviews("/api/previews")
	metrics := &workflow.Metrics{}
	registry, err := workflow.NewRegistry(4, func(gate *session.Gate) *workflow.Workflow {
		return workflow.New(gate, imagesource.NewSource(previews, 1<<20), predictor.NewExclusive(client), metrics, logger)
	}, logger)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handlers.RegisterRoutes(router,
		handlers.NewHandler(registry, metrics, previews, client, 1<<20, logger),
		auth.Middleware(auth.NewVerifier("test-secret", ""), noRevocations{}, logger))

	t.Log("creating listener")
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	t.Logf("listening on %s", addr)
	waitForServer(t, addr)

	token := signTestToken(t)
	httpClient := &http.Client{Timeout: 3 * time.Second}
	selectImage(t, httpClient, "http://"+addr, token)

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		t.Log("sending analyze request")
		req, _ := http.NewRequest(http.MethodPost, "http://"+addr+"/api/workflow/analyze", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := httpClient.Do(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-requestStarted:
		t.Log("upload reached classifier")
	case <-time.After(2 * time.Second):
		t.Fatal("upload did not start in time")
	}

	t.Log("sending signal")
	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(releaseRequest)
	t.Log("released classifier")

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(body))
		}
		var snap workflow.Snapshot
		if err := json.Unmarshal(body, &snap); err != nil {
			t.Fatalf("failed to decode snapshot: %v", err)
		}
		if snap.Phase != workflow.PhaseSucceeded || snap.Verdict == nil || snap.Verdict.Status != "dusty" {
			t.Fatalf("unexpected snapshot: %s", string(body))
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
		t.Log("server shutdown complete")
	case <-time.After(3 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func selectImage(t *testing.T, client *http.Client, baseURL, token string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("image", "panel.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	// CreateFormFile declares application/octet-stream; start with a JPEG
	// signature so the type is sniffed as an image.
	_, _ = part.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/workflow/image", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("select request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected select status: %d body: %s", resp.StatusCode, string(msg))
	}
}

func signTestToken(t *testing.T) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "user-123",
		ID:        "jti-shutdown",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
