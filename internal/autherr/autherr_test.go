package autherr

import (
	"errors"
	"testing"
	"time"
)

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "dial tcp: i/o timeout" }
func (fakeNetError) Timeout() bool   { return true }
func (fakeNetError) Temporary() bool { return true }

func TestClassifyByStatus(t *testing.T) {
	cases := []struct {
		status int
		want   Kind
	}{
		{401, KindUnauthorized},
		{403, KindForbidden},
		{429, KindRateLimited},
		{500, KindServerError},
		{502, KindServerError},
		{599, KindServerError},
	}
	for _, c := range cases {
		if got := Classify(c.status, nil); got != c.want {
			t.Errorf("Classify(%d) = %q, want %q", c.status, got, c.want)
		}
	}
}

func TestClassifyByError(t *testing.T) {
	cases := []struct {
		err  error
		want Kind
	}{
		{fakeNetError{}, KindNetwork},
		{errors.New("OAuth token has expired, please re-authenticate"), KindExpired},
		{errors.New("401 Unauthorized"), KindUnauthorized},
		{errors.New("permission denied for repository"), KindForbidden},
		{errors.New("API rate limit exceeded"), KindRateLimited},
		{errors.New("connection refused"), KindNetwork},
		{errors.New("something inexplicable"), KindUnauthorized}, // conservative default
	}
	for _, c := range cases {
		if got := Classify(0, c.err); got != c.want {
			t.Errorf("Classify(%v) = %q, want %q", c.err, got, c.want)
		}
	}
}

func TestPolicyTable(t *testing.T) {
	for _, kind := range []Kind{KindUnauthorized, KindForbidden, KindExpired} {
		if PolicyFor(kind) != nil {
			t.Errorf("PolicyFor(%q) should be nil (immediate pause)", kind)
		}
		if Retryable(kind) {
			t.Errorf("Retryable(%q) should be false", kind)
		}
	}

	rate := PolicyFor(KindRateLimited)
	if rate == nil || rate.Initial != 30*time.Second || rate.Factor != 2 || rate.Cap != 300*time.Second || rate.MaxAttempts != 5 {
		t.Errorf("429 policy = %+v", rate)
	}
	server := PolicyFor(KindServerError)
	if server == nil || server.Initial != 5*time.Second || server.Cap != 60*time.Second || server.MaxAttempts != 3 {
		t.Errorf("5xx policy = %+v", server)
	}
	network := PolicyFor(KindNetwork)
	if network == nil || network.Initial != 2*time.Second || network.Cap != 30*time.Second || network.MaxAttempts != 3 {
		t.Errorf("network policy = %+v", network)
	}
}

func TestDelayDoublesAndCaps(t *testing.T) {
	p := PolicyFor(KindRateLimited)

	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		300 * time.Second, // capped, not 480
		300 * time.Second,
	}
	for i, w := range want {
		if got := p.Delay(i + 1); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestExhausted(t *testing.T) {
	p := PolicyFor(KindNetwork)
	if p.Exhausted(2) {
		t.Error("2 attempts should not exhaust a 3-attempt budget")
	}
	if !p.Exhausted(3) {
		t.Error("3 attempts should exhaust a 3-attempt budget")
	}
}

// A run of rate-limit failures retries on the 429 schedule, but a 401 in the
// middle pauses immediately regardless of remaining retry budget.
func TestRateLimitThenUnauthorized(t *testing.T) {
	sequence := []struct {
		status int
		err    error
	}{
		{429, nil},
		{429, nil},
		{401, nil},
	}

	attempts := 0
	var delays []time.Duration
	paused := false

	for _, failure := range sequence {
		kind := Classify(failure.status, failure.err)
		policy := PolicyFor(kind)
		if policy == nil {
			paused = true
			break
		}
		attempts++
		if policy.Exhausted(attempts) {
			t.Fatalf("budget exhausted after %d attempts, want pause via 401 first", attempts)
		}
		delays = append(delays, policy.Delay(attempts))
	}

	if !paused {
		t.Fatal("expected an immediate pause on the 401")
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2 retries before the pause", attempts)
	}
	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second}
	for i, w := range wantDelays {
		if delays[i] != w {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], w)
		}
	}
}
