package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/adreel/studio/internal/backend"
	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/config"
	"github.com/adreel/studio/internal/handler"
	"github.com/adreel/studio/internal/middleware"
	"github.com/adreel/studio/internal/poller"
	"github.com/adreel/studio/internal/service"
	"github.com/adreel/studio/internal/store"
)

const (
	redisAddr     = "localhost:6379"
	redisTestDB   = 15 // use DB 15 for tests to avoid collision
	maxUploadSize = 64 * 1024
)

// testApp holds the studio API under test and the renderd instance behind it
type testApp struct {
	app        *fiber.App
	renderdURL string
}

// setupApp starts renderd (HTTP + asynq worker) on a loopback port and builds
// the studio app against it, the same way the two mains wire them.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr, DB: redisTestDB})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available at %s: %v", redisAddr, err)
	}
	t.Cleanup(func() { redisClient.Close() })

	redisOpt := asynq.RedisClientOpt{Addr: redisAddr, DB: redisTestDB}
	asynqClient := asynq.NewClient(redisOpt)
	t.Cleanup(func() { asynqClient.Close() })

	// renderd, with r2 = nil → mock storage
	jobs := backend.NewJobService(backend.NewRedisJobStore(redisClient), asynqClient, nil, maxUploadSize)

	worker := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{"render": 1},
		LogLevel:    asynq.WarnLevel,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(backend.TaskTypeRender, backend.NewRenderWorker(jobs, 10*time.Millisecond).ProcessTask)
	if err := worker.Start(mux); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	t.Cleanup(worker.Shutdown)

	renderd := fiber.New(fiber.Config{DisableStartupMessage: true})
	backend.NewHandler(jobs, validator.New()).Register(renderd)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	go renderd.Listener(ln)
	t.Cleanup(func() { renderd.Shutdown() })
	renderdURL := "http://" + ln.Addr().String()

	// studio
	renderClient := client.NewRenderClient(&config.RenderConfig{BaseURL: renderdURL})
	gateway := service.NewRenderGateway(renderClient, nil)
	sessions := service.NewSessionManager(gateway,
		poller.New(gateway, 20*time.Millisecond),
		store.NewRedisStore(redisClient, time.Hour),
		nil,
	)
	t.Cleanup(sessions.Close)

	app := fiber.New(fiber.Config{BodyLimit: 50 * 1024 * 1024})
	// Use very high rate limits so tests don't get blocked
	handler.Register(app,
		handler.NewSessionHandler(sessions, validator.New()),
		handler.NewRenderHandler(gateway),
		middleware.NewRateLimiter(redisClient),
		config.RateLimitConfig{SessionPerHour: 10000, UploadPerHour: 10000, SubmitPerHour: 10000},
		nil,
	)

	return &testApp{app: app, renderdURL: renderdURL}
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string) (*http.Response, error) {
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

	return app.Test(req, -1)
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

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// createSession creates a session and returns its id.
func createSession(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doRequest(ta.app, http.MethodPost, "/api/sessions", `{"projectId":"e2e-project"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	body := parseJSON(t, resp)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("expected session id, got %v", body)
	}
	return id
}
