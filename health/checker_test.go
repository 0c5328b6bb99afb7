package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mycobrun/cobrun-picker/resilience"
)

func ok(context.Context) error { return nil }

func failing(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func TestChecker_Check(t *testing.T) {
	tests := []struct {
		name   string
		checks []Check
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all healthy", []Check{{"a", ok, true}, {"b", ok, false}}, StatusHealthy},
		{"non-critical failure degrades", []Check{{"a", ok, true}, {"b", failing("down"), false}}, StatusDegraded},
		{"critical failure", []Check{{"a", failing("down"), true}, {"b", ok, false}}, StatusUnhealthy},
		{"critical wins over degraded", []Check{{"a", failing("x"), false}, {"b", failing("y"), true}}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("1.0.0")
			for _, c := range tt.checks {
				checker.AddCheck(c.Name, c.CheckFn, c.Critical)
			}

			resp := checker.Check(context.Background())
			if resp.Status != tt.want {
				t.Errorf("status = %s, want %s", resp.Status, tt.want)
			}
			if len(resp.Checks) != len(tt.checks) {
				t.Fatalf("expected %d results, got %d", len(tt.checks), len(resp.Checks))
			}
			for i, r := range resp.Checks {
				if r.Name != tt.checks[i].Name {
					t.Errorf("result %d name = %s, want %s", i, r.Name, tt.checks[i].Name)
				}
			}
			if _, err := time.Parse(time.RFC3339, resp.Timestamp); err != nil {
				t.Errorf("timestamp %q is not RFC3339", resp.Timestamp)
			}
		})
	}
}

func TestChecker_FailureMessage(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("redis", failing("connection refused"), false)

	resp := checker.Check(context.Background())
	if resp.Checks[0].Status != StatusDegraded || resp.Checks[0].Message != "connection refused" {
		t.Errorf("unexpected result %+v", resp.Checks[0])
	}
}

func TestChecker_LivenessHandler(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddCheck("critical", failing("down"), true)

	w := httptest.NewRecorder()
	checker.LivenessHandler()(w, httptest.NewRequest("GET", "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("liveness ignores checks, got %d", w.Code)
	}
}

func TestChecker_ReadinessHandler(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		want     int
	}{
		{"degraded stays ready", false, http.StatusOK},
		{"critical failure not ready", true, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("1.2.3")
			checker.AddCheck("dep", failing("down"), tt.critical)

			w := httptest.NewRecorder()
			checker.ReadinessHandler()(w, httptest.NewRequest("GET", "/readyz", nil))

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}

			var resp HealthResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Version != "1.2.3" {
				t.Errorf("version = %q", resp.Version)
			}
		})
	}
}

type fixedState resilience.CircuitState

func (s fixedState) State() resilience.CircuitState { return resilience.CircuitState(s) }

func TestBreakerCheck(t *testing.T) {
	tests := []struct {
		state   resilience.CircuitState
		wantErr bool
	}{
		{resilience.StateClosed, false},
		{resilience.StateHalfOpen, false},
		{resilience.StateOpen, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			err := BreakerCheck("geocode", fixedState(tt.state))(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRedisCheck_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer client.Close()

	if err := RedisCheck(client, 200*time.Millisecond)(context.Background()); err == nil {
		t.Error("expected an error for an unreachable Redis")
	}
}
