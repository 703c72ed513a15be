package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func newAvailabilityApp(sa *ServiceAvailability, handler fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Use(sa.Middleware())
	app.Get("/health", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Get("/api", handler)
	return app
}

func ok(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) }

func TestMaintenanceModeToggle(t *testing.T) {
	sa := NewServiceAvailability(0, true)
	app := newAvailabilityApp(sa, ok)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 in maintenance mode, got %d", resp.StatusCode)
	}

	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected health to bypass maintenance, got %d", resp.StatusCode)
	}

	sa.SetMaintenanceMode(false)
	if sa.IsMaintenanceMode() {
		t.Fatal("Expected maintenance mode off")
	}
	resp, _ = app.Test(httptest.NewRequest(http.MethodGet, "/api", nil))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after leaving maintenance, got %d", resp.StatusCode)
	}
}

func TestOverloadRejectsBeyondLimit(t *testing.T) {
	release := make(chan struct{})
	sa := NewServiceAvailability(1, false)
	app := newAvailabilityApp(sa, func(c *fiber.Ctx) error {
		<-release
		return c.SendStatus(fiber.StatusOK)
	})

	first := make(chan int, 1)
	go func() {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api", nil), -1)
		if err != nil {
			first <- 0
			return
		}
		first <- resp.StatusCode
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sa.InFlightRequests() != 1 {
		if time.Now().After(deadline) {
			close(release)
			t.Fatal("First request never reached the handler")
		}
		time.Sleep(time.Millisecond)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api", nil))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 while overloaded, got %d", resp.StatusCode)
	}

	close(release)
	if status := <-first; status != http.StatusOK {
		t.Errorf("Expected in-flight request to finish with 200, got %d", status)
	}
	if n := sa.InFlightRequests(); n != 0 {
		t.Errorf("Expected no requests in flight, got %d", n)
	}
}

func TestRateLimiterKeysByForwardedFor(t *testing.T) {
	app := fiber.New()
	app.Use(RateLimiter(2, time.Minute))
	app.Get("/", ok)

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Forwarded-For", forwarded)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if status := send("10.0.0.1"); status != http.StatusOK {
			t.Fatalf("Request %d: expected 200, got %d", i, status)
		}
	}
	if status := send("10.0.0.1"); status != http.StatusTooManyRequests {
		t.Errorf("Expected 429 after limit, got %d", status)
	}
	if status := send("10.0.0.2"); status != http.StatusOK {
		t.Errorf("Expected another client to pass, got %d", status)
	}
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger(true))
	app.Get("/", ok)

	resp, _ := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Header.Get(fiber.HeaderXRequestID) == "" {
		t.Error("Expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(fiber.HeaderXRequestID, "abc-123")
	resp, _ = app.Test(req)
	if got := resp.Header.Get(fiber.HeaderXRequestID); got != "abc-123" {
		t.Errorf("Expected caller request id to be echoed, got %q", got)
	}
}
