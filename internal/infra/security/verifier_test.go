package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

type recordingHasher struct {
	inner    *Argon2Hasher
	verified []string
	err      error
}

func (h *recordingHasher) Hash(password string) (string, error) {
	return h.inner.Hash(password)
}

func (h *recordingHasher) Verify(password, encoded string) (bool, error) {
	h.verified = append(h.verified, encoded)
	if h.err != nil {
		return false, h.err
	}
	return h.inner.Verify(password, encoded)
}

func newTestVerifier(t *testing.T, opts ...VerifierOption) (*CredentialVerifier, *recordingHasher) {
	t.Helper()

	hasher := &recordingHasher{inner: newTestHasher(t)}
	verifier, err := NewCredentialVerifier(hasher, zaptest.NewLogger(t), opts...)
	if err != nil {
		t.Fatalf("NewCredentialVerifier returned error: %v", err)
	}
	return verifier, hasher
}

func TestVerifyMatchesStoredHash(t *testing.T) {
	verifier, hasher := newTestVerifier(t)

	stored, err := hasher.inner.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	if !verifier.Verify("s3cret", stored) {
		t.Fatal("expected match for correct password")
	}
	if verifier.Verify("wrong", stored) {
		t.Fatal("expected mismatch for wrong password")
	}
}

func TestVerifyMissingAccountStillCompares(t *testing.T) {
	verifier, hasher := newTestVerifier(t)

	if verifier.Verify("anything", "") {
		t.Fatal("missing account must never match")
	}
	if len(hasher.verified) != 1 {
		t.Fatalf("expected one comparison, got %d", len(hasher.verified))
	}
	if hasher.verified[0] != verifier.dummyHash || verifier.dummyHash == "" {
		t.Fatal("expected comparison against the precomputed dummy hash")
	}
}

func TestVerifyMalformedHashReturnsFalse(t *testing.T) {
	verifier, hasher := newTestVerifier(t)
	hasher.err = errors.New("boom")

	if verifier.Verify("pw", "garbage") {
		t.Fatal("expected false when the stored hash cannot be decoded")
	}
}

func TestRemainingDelay(t *testing.T) {
	cases := []struct {
		elapsed, min, want time.Duration
	}{
		{0, 200 * time.Millisecond, 200 * time.Millisecond},
		{50 * time.Millisecond, 200 * time.Millisecond, 150 * time.Millisecond},
		{200 * time.Millisecond, 200 * time.Millisecond, 0},
		{time.Second, 200 * time.Millisecond, 0},
		{10 * time.Millisecond, 0, 0},
	}
	for _, tc := range cases {
		if got := RemainingDelay(tc.elapsed, tc.min); got != tc.want {
			t.Fatalf("RemainingDelay(%v, %v) = %v, want %v", tc.elapsed, tc.min, got, tc.want)
		}
	}
}

func TestTimedVerifySleepsRemainingFloor(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var slept []time.Duration

	verifier, _ := newTestVerifier(t,
		WithVerifierClock(func() time.Time { return start.Add(30 * time.Millisecond) }),
		WithVerifierSleep(func(_ context.Context, d time.Duration) { slept = append(slept, d) }),
	)

	verifier.TimedVerify(context.Background(), "pw", "", start, 200*time.Millisecond)

	if len(slept) != 1 || slept[0] != 170*time.Millisecond {
		t.Fatalf("expected a single 170ms sleep, got %v", slept)
	}
}

func TestTimedVerifyNoSleepPastFloor(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	called := false

	verifier, _ := newTestVerifier(t,
		WithVerifierClock(func() time.Time { return start.Add(time.Second) }),
		WithVerifierSleep(func(context.Context, time.Duration) { called = true }),
	)

	verifier.TimedVerify(context.Background(), "pw", "", start, 200*time.Millisecond)
	if called {
		t.Fatal("expected no sleep once the floor has passed")
	}
}

func TestTimedVerifyTimingInvariance(t *testing.T) {
	if testing.Short() {
		t.Skip("wall-clock timing test")
	}

	verifier, hasher := newTestVerifier(t)
	stored, err := hasher.inner.Hash("right-password")
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}

	const (
		minDelay  = 120 * time.Millisecond
		trials    = 5
		tolerance = 20 * time.Millisecond
	)

	measure := func(storedHash string) time.Duration {
		var total time.Duration
		for i := 0; i < trials; i++ {
			start := time.Now()
			verifier.TimedVerify(context.Background(), "wrong-password", storedHash, start, minDelay)
			total += time.Since(start)
		}
		return total / trials
	}

	wrongPassword := measure(stored)
	missingAccount := measure("")

	if wrongPassword < minDelay || missingAccount < minDelay {
		t.Fatalf("floor not enforced: wrong=%v missing=%v", wrongPassword, missingAccount)
	}
	diff := wrongPassword - missingAccount
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		t.Fatalf("timing differs by %v (wrong=%v missing=%v)", diff, wrongPassword, missingAccount)
	}
}

func TestSleepContextReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	sleepContext(ctx, time.Minute)
	if time.Since(start) > time.Second {
		t.Fatal("expected cancelled context to cut the sleep short")
	}
}
