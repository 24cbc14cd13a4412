package middleware

import (
	"context"
	"io"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedApp(rl *RateLimiter, max int) *fiber.App {
	app := fiber.New()
	app.Post("/sessions/:id/submit", rl.Limit("test-"+uuid.New().String(), max, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusAccepted)
	})
	return app
}

func TestLimitDisabledWithoutRedis(t *testing.T) {
	app := limitedApp(NewRateLimiter(nil), 1)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/sessions/s1/submit", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}
}

func TestSubjectIgnoresSession(t *testing.T) {
	app := fiber.New()
	app.Post("/sessions/:id/submit", func(c *fiber.Ctx) error {
		return c.SendString(subject(c))
	})

	var keys []string
	for _, id := range []string{"s1", "s2"} {
		resp, err := app.Test(httptest.NewRequest("POST", "/sessions/"+id+"/submit", nil))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		keys = append(keys, string(body))
	}
	assert.Equal(t, keys[0], keys[1], "a fresh session must not reset the quota")
	assert.True(t, strings.HasPrefix(keys[0], "ip:"))
}

func TestLimitPerCaller(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	app := limitedApp(NewRateLimiter(rdb), 2)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/sessions/s1/submit", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}

	resp, err := app.Test(httptest.NewRequest("POST", "/sessions/s1/submit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	resp, err = app.Test(httptest.NewRequest("POST", "/sessions/s2/submit", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode, "switching sessions keeps the quota")
}
