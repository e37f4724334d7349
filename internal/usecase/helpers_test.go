package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/marketplace-auth/internal/core/domain"
	"github.com/arklim/marketplace-auth/internal/infra/security"
	"github.com/arklim/marketplace-auth/internal/repository"
	redisrepo "github.com/arklim/marketplace-auth/internal/repository/redis"
)

const (
	testAccessSecret  = "access-secret-for-tests-0123456789abcdef"
	testRefreshSecret = "refresh-secret-for-tests-0123456789abcdef"
	testPassword      = "correct horse battery staple"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
	err   error
}

func newFakeUserRepo(users ...domain.User) *fakeUserRepo {
	repo := &fakeUserRepo{users: make(map[string]domain.User, len(users))}
	for _, u := range users {
		repo.users[u.ID] = u
	}
	return repo
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	if user, ok := r.users[id]; ok {
		copy := user
		return &copy, nil
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, user := range r.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			copy := user
			return &copy, nil
		}
	}
	return nil, repository.ErrNotFound
}

type recordingPublisher struct {
	mu          sync.Mutex
	revoked     []domain.TokenRevokedEvent
	failed      []domain.LoginFailedEvent
	rateLimited []domain.LoginRateLimitedEvent
}

func (p *recordingPublisher) PublishTokenRevoked(_ context.Context, event domain.TokenRevokedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked = append(p.revoked, event)
	return nil
}

func (p *recordingPublisher) PublishLoginFailed(_ context.Context, event domain.LoginFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, event)
	return nil
}

func (p *recordingPublisher) PublishLoginRateLimited(_ context.Context, event domain.LoginRateLimitedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rateLimited = append(p.rateLimited, event)
	return nil
}

func (p *recordingPublisher) counts() (int, int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.revoked), len(p.failed), len(p.rateLimited)
}

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client, server
}

func newTestTokenManager(t *testing.T, clock func() time.Time) *security.TokenManager {
	t.Helper()

	manager, err := security.NewTokenManager(security.TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "marketplace-auth-test",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, security.WithTokenClock(clock))
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}
	return manager
}

func newTestHasher(t *testing.T) *security.Argon2Hasher {
	t.Helper()

	hasher, err := security.NewArgon2Hasher(security.Argon2Config{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2Hasher returned error: %v", err)
	}
	return hasher
}

func newTestUser(t *testing.T, hasher *security.Argon2Hasher, id, email string, status domain.UserStatus) domain.User {
	t.Helper()

	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash returned error: %v", err)
	}
	return domain.User{
		ID:           id,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleSeller,
		Status:       status,
	}
}

func defaultTestTiers() LoginTiers {
	strict := domain.NewDegradationPolicy(domain.DegradationPolicyModeStrict)
	lenient := domain.NewDegradationPolicy(domain.DegradationPolicyModeLenient)
	return LoginTiers{
		Address: domain.RateLimitTier{
			Name: domain.TierAddress, Points: 10, Duration: 15 * time.Minute, BlockDuration: time.Hour, Policy: strict,
		},
		Identity: domain.RateLimitTier{
			Name: domain.TierIdentity, Points: 5, Duration: 15 * time.Minute, BlockDuration: 2 * time.Hour, Policy: strict,
		},
		Combined: domain.RateLimitTier{
			Name: domain.TierCombined, Points: 1, Duration: time.Second, ExecEvenly: true, Policy: lenient,
		},
		Refresh: domain.RateLimitTier{
			Name: domain.TierRefresh, Points: 30, Duration: 15 * time.Minute, BlockDuration: 15 * time.Minute, Policy: lenient,
		},
	}
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

type authFixture struct {
	service     *AuthService
	revocations *RevocationService
	limiter     *LoginLimiter
	tokens      *security.TokenManager
	users       *fakeUserRepo
	events      *recordingPublisher
	server      *miniredis.Miniredis
}

type fixtureOptions struct {
	clock            func() time.Time
	minDelay         time.Duration
	revocationPolicy domain.DegradationPolicyMode
}

func newAuthFixture(t *testing.T, opts fixtureOptions, users ...domain.User) *authFixture {
	t.Helper()

	clock := opts.clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}

	client, server := newTestRedis(t)
	log := zaptest.NewLogger(t)
	events := &recordingPublisher{}
	tokens := newTestTokenManager(t, clock)

	revocations := NewRevocationService(
		redisrepo.NewRevocationRepository(client, "auth:revoked"),
		tokens,
		domain.NewDegradationPolicy(opts.revocationPolicy),
		events,
		nil,
		log,
	)
	revocations.WithClock(clock)

	limiter := NewLoginLimiter(redisrepo.NewRateLimitRepository(client, "auth:rl"), defaultTestTiers(), events, nil, log)
	limiter.WithSleep((&sleepRecorder{}).sleep)

	verifier, err := security.NewCredentialVerifier(newTestHasher(t), log)
	if err != nil {
		t.Fatalf("NewCredentialVerifier returned error: %v", err)
	}

	repo := newFakeUserRepo(users...)
	service, err := NewAuthService(AuthServiceDeps{
		Users:         repo,
		Tokens:        tokens,
		Verifier:      verifier,
		Revocations:   revocations,
		Limiter:       limiter,
		Events:        events,
		Logger:        log,
		MinLoginDelay: opts.minDelay,
	})
	if err != nil {
		t.Fatalf("NewAuthService returned error: %v", err)
	}
	service.WithClock(clock)

	return &authFixture{
		service:     service,
		revocations: revocations,
		limiter:     limiter,
		tokens:      tokens,
		users:       repo,
		events:      events,
		server:      server,
	}
}
