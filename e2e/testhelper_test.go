package e2e

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/airsenalops/api/internal/airsenal"
	"github.com/airsenalops/api/internal/auth"
	"github.com/airsenalops/api/internal/config"
	"github.com/airsenalops/api/internal/handler"
	"github.com/airsenalops/api/internal/middleware"
	"github.com/airsenalops/api/internal/model"
	"github.com/airsenalops/api/internal/queue"
	"github.com/airsenalops/api/internal/store"
	ws "github.com/airsenalops/api/internal/websocket"
	"github.com/airsenalops/api/pkg/response"
)

const (
	testJWTSecret     = "test-secret-for-e2e"
	testAdminEmail    = "admin@example.com"
	testAdminPassword = "correct-horse-battery-staple"
)

// scriptedRunner satisfies queue.ProcessRunner without spawning real
// processes. Tests that need to control timing or output swap in their
// own run function before submitting.
type scriptedRunner struct {
	mu        sync.Mutex
	run       func(argv []string, lines chan<- string) ([]string, int, error)
	terminate func()
}

func (r *scriptedRunner) Run(_ context.Context, argv []string, _ map[string]string, lines chan<- string) ([]string, int, error) {
	defer close(lines)

	r.mu.Lock()
	run := r.run
	r.mu.Unlock()

	if run != nil {
		return run(argv, lines)
	}
	out := []string{"run complete"}
	for _, line := range out {
		lines <- line
	}
	return out, 0, nil
}

func (r *scriptedRunner) Terminate() {
	r.mu.Lock()
	terminate := r.terminate
	r.mu.Unlock()
	if terminate != nil {
		terminate()
	}
}

func (r *scriptedRunner) script(run func(argv []string, lines chan<- string) ([]string, int, error), terminate func()) {
	r.mu.Lock()
	r.run = run
	r.terminate = terminate
	r.mu.Unlock()
}

// nopSync leaves the database where it is; nothing here touches disk.
type nopSync struct{}

func (nopSync) Hydrate(string) error { return nil }
func (nopSync) Persist(string) error { return nil }
func (nopSync) LocalPath() string    { return "/tmp/airsenal-e2e.db" }
func (nopSync) Home() string         { return "/tmp/airsenal-e2e" }

// testApp holds all components needed for testing
type testApp struct {
	app     *fiber.App
	jobs    *store.MemoryJobStore
	secrets *store.MemorySecretStore
	runner  *scriptedRunner
	queue   *queue.Queue
}

// setupApp mirrors the wiring in cmd/server/main.go with in-memory
// stores and a scripted runner, so tests need neither Redis nor the
// AIrsenal CLI. The Prometheus registry is process-global, so the
// /metrics route is left out here; the metrics package tests cover it.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	jobStore := store.NewMemoryJobStore(500)
	secretStore := store.NewMemorySecretStore(nil)

	hash, err := bcrypt.GenerateFromPassword([]byte(testAdminPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash admin password: %v", err)
	}
	if err := secretStore.Set(ctx, model.SecretKeyAdminEmail, testAdminEmail); err != nil {
		t.Fatalf("failed to seed admin email: %v", err)
	}
	if err := secretStore.Set(ctx, model.SecretKeyAdminPasswordHash, string(hash)); err != nil {
		t.Fatalf("failed to seed admin password hash: %v", err)
	}

	hub := ws.NewHub(logger)
	go hub.Run()

	runner := &scriptedRunner{}
	jobQueue := queue.New(queue.Deps{
		Jobs:    jobStore,
		Secrets: secretStore,
		Runner:  runner,
		Sync:    nopSync{},
		Parser:  airsenal.NewParser(logger),
		Hub:     hub,
	}, config.QueueConfig{MaxRetries: 1, RetryDelaySeconds: 0, MaxLogLines: 500}, logger)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		jobQueue.Shutdown(shutdownCtx)
	})

	validate := validator.New()
	tokens := auth.NewService(testJWTSecret, time.Hour)

	// Handlers
	jobsHandler := handler.NewJobsHandler(jobQueue, jobStore, validate, logger)
	authHandler := handler.NewAuthHandler(tokens, secretStore, validate, logger)
	secretsHandler := handler.NewSecretsHandler(secretStore, validate, logger)
	reportsHandler := handler.NewReportsHandler(jobStore)
	wsHandler := handler.NewWSHandler(hub, jobStore, tokens, logger)

	authMiddleware := middleware.NewAuthMiddleware(tokens)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
				message = e.Message
			}
			return response.Error(c, code, response.CodeServiceError, message, nil)
		},
	})

	app.Get("/", handler.Root)
	app.Get("/health", handler.Health)
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/hash-password", authHandler.HashPassword)
	app.Get("/api/auth/check", authMiddleware.Authenticate(), authHandler.Check)

	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("", jobsHandler.Create)
	jobs.Get("", jobsHandler.List)
	jobs.Delete("/logs", jobsHandler.ClearAllLogs)
	jobs.Get("/:jobId", jobsHandler.Get)
	jobs.Post("/:jobId/cancel", jobsHandler.Cancel)
	jobs.Delete("/:jobId/logs", jobsHandler.ClearLogs)
	jobs.Get("/:jobId/output", jobsHandler.Output)

	secrets := api.Group("/secrets")
	secrets.Get("", secretsHandler.List)
	secrets.Post("", secretsHandler.Update)
	secrets.Delete("/:key", secretsHandler.Delete)

	api.Get("/reports/latest", reportsHandler.Latest)

	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/jobs/:jobId", wsHandler.Handle())

	return &testApp{app: app, jobs: jobStore, secrets: secretStore, runner: runner, queue: jobQueue}
}

// generateToken creates a JWT for test requests as the admin user.
func generateToken(t *testing.T) string {
	return generateTokenFor(t, testAdminEmail)
}

func generateTokenFor(t *testing.T, email string) string {
	t.Helper()
	token, err := auth.NewService(testJWTSecret, time.Hour).GenerateToken(email)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONList parses response body into a slice.
func parseJSONList(t *testing.T, resp *http.Response) []interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON list: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// errorCode extracts the code field from an error envelope.
func errorCode(t *testing.T, body map[string]interface{}) string {
	t.Helper()
	errObj, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error envelope, got %v", body)
	}
	code, _ := errObj["code"].(string)
	return code
}

// createJob submits a job and returns its id.
func createJob(t *testing.T, ta *testApp, body string) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", body)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	result := parseJSON(t, resp)
	jobID, _ := result["id"].(string)
	if jobID == "" {
		t.Fatalf("expected job id in response, got %v", result)
	}
	return jobID
}

// waitForStatus polls a job until it reaches the wanted status.
func waitForStatus(t *testing.T, ta *testApp, jobID, status string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/"+jobID, "")
		if err != nil {
			t.Fatalf("get request failed: %v", err)
		}
		job := parseJSON(t, resp)
		if job["status"] == status {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q in time", jobID, status)
	return nil
}
