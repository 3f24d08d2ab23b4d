package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/kit/metrics/generic"
	"go.uber.org/zap/zaptest"

	"muxrpc/message"
	"muxrpc/metrics"
)

// echoHandler answers immediately.
func echoHandler(ctx context.Context, req *message.Request) *message.Response {
	return &message.Response{Payload: []byte("ok")}
}

// slowHandler takes 200ms unless its context ends first.
func slowHandler(ctx context.Context, req *message.Request) *message.Response {
	select {
	case <-time.After(200 * time.Millisecond):
	case <-ctx.Done():
	}
	return &message.Response{Payload: []byte("ok")}
}

func panicHandler(ctx context.Context, req *message.Request) *message.Response {
	panic("handler exploded")
}

var addReq = &message.Request{ServiceName: "Arith", MethodName: "Add"}

func TestLogging(t *testing.T) {
	handler := Logging(zaptest.NewLogger(t))(echoHandler)

	resp := handler(context.Background(), addReq)
	if resp == nil {
		t.Fatal("expect non-nil response")
	}
	if string(resp.Payload) != "ok" {
		t.Fatalf("expect payload 'ok', got '%s'", string(resp.Payload))
	}
}

func TestTimeoutPass(t *testing.T) {
	handler := Timeout(500 * time.Millisecond)(echoHandler)

	resp := handler(context.Background(), addReq)
	if resp.Status != message.StatusOK {
		t.Fatalf("expect no error, got '%s'", resp.Error)
	}
}

func TestTimeoutExceeded(t *testing.T) {
	handler := Timeout(50 * time.Millisecond)(slowHandler)

	start := time.Now()
	resp := handler(context.Background(), addReq)
	if resp.Status != message.StatusApplication {
		t.Fatalf("expect application error status, got %s", resp.Status)
	}
	if resp.Error != "handler timed out after 50ms" {
		t.Fatalf("unexpected error text '%s'", resp.Error)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("timeout returned after %s", elapsed)
	}
}

func TestTimeoutTrackedWaitsForAbandonedHandler(t *testing.T) {
	var running sync.WaitGroup
	var finished bool
	stubborn := func(ctx context.Context, req *message.Request) *message.Response {
		time.Sleep(150 * time.Millisecond)
		finished = true
		return &message.Response{}
	}
	handler := TimeoutTracked(20*time.Millisecond, &running)(stubborn)

	resp := handler(context.Background(), addReq)
	if resp.Status != message.StatusApplication {
		t.Fatalf("expect application error status, got %s", resp.Status)
	}

	running.Wait()
	if !finished {
		t.Fatal("Wait returned before the abandoned handler finished")
	}
}

func TestRateLimit(t *testing.T) {
	// rate=1 per second, burst=2: the first two pass, the third is rejected
	handler := RateLimit(1, 2)(echoHandler)

	for i := 0; i < 2; i++ {
		resp := handler(context.Background(), addReq)
		if resp.Status != message.StatusOK {
			t.Fatalf("request %d should pass, got error: %s", i, resp.Error)
		}
	}

	resp := handler(context.Background(), addReq)
	if resp.Error != "rate limit exceeded" {
		t.Fatalf("request 3 should be rate limited, got: '%s'", resp.Error)
	}
}

func TestRecover(t *testing.T) {
	handler := Recover(zaptest.NewLogger(t))(panicHandler)

	resp := handler(context.Background(), addReq)
	if resp.Status != message.StatusApplication {
		t.Fatalf("expect application error, got %s", resp.Status)
	}
	if resp.Error != "panic in Arith.Add: handler exploded" {
		t.Fatalf("unexpected error text '%s'", resp.Error)
	}
}

func TestInstrument(t *testing.T) {
	inFlight := generic.NewGauge("in_flight")
	m := metrics.NopServer()
	m.InFlight = inFlight

	var during float64
	handler := Instrument(m)(func(ctx context.Context, req *message.Request) *message.Response {
		during = inFlight.Value()
		return &message.Response{}
	})
	handler(context.Background(), addReq)

	if during != 1 {
		t.Fatalf("expect 1 call in flight during the handler, got %v", during)
	}
	if inFlight.Value() != 0 {
		t.Fatalf("expect 0 calls in flight after the handler, got %v", inFlight.Value())
	}
}

func TestChain(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next HandlerFunc) HandlerFunc {
			return func(ctx context.Context, req *message.Request) *message.Response {
				order = append(order, name)
				return next(ctx, req)
			}
		}
	}

	chained := Chain(mark("a"), Logging(zaptest.NewLogger(t)), mark("b"), Timeout(500*time.Millisecond))
	resp := chained(echoHandler)(context.Background(), addReq)

	if resp == nil || resp.Status != message.StatusOK {
		t.Fatalf("expect success, got %+v", resp)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("expect outermost-first order [a b], got %v", order)
	}
}
