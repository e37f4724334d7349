package security

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/marketplace-auth/internal/core/domain"
)

const (
	testAccessSecret  = "access-secret-0123456789abcdef0123456789"
	testRefreshSecret = "refresh-secret-0123456789abcdef012345678"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestTokenManager(t *testing.T, clock *testClock) *TokenManager {
	t.Helper()

	mgr, err := NewTokenManager(TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		Issuer:        "marketplace-auth",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
	}, WithTokenClock(clock.Now))
	if err != nil {
		t.Fatalf("NewTokenManager returned error: %v", err)
	}
	return mgr
}

func TestNewTokenManagerRejectsUnsafeConfig(t *testing.T) {
	base := TokenConfig{
		AccessSecret:  testAccessSecret,
		RefreshSecret: testRefreshSecret,
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}

	cases := map[string]func(*TokenConfig){
		"missing access":  func(c *TokenConfig) { c.AccessSecret = "" },
		"missing refresh": func(c *TokenConfig) { c.RefreshSecret = "  " },
		"equal secrets":   func(c *TokenConfig) { c.RefreshSecret = c.AccessSecret },
		"zero ttl":        func(c *TokenConfig) { c.AccessTTL = 0 },
		"ttl ordering":    func(c *TokenConfig) { c.AccessTTL = 2 * time.Hour },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			_, err := NewTokenManager(cfg)
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newTestTokenManager(t, clock)

	token, issued, err := mgr.IssueAccess("user-1", domain.RoleSeller, map[string]any{"shop": "s-9"})
	if err != nil {
		t.Fatalf("IssueAccess returned error: %v", err)
	}
	if len(strings.Split(token, ".")) != 3 {
		t.Fatalf("expected compact JWS, got %q", token)
	}
	if issued.ID == "" {
		t.Fatal("expected jti to be set")
	}

	claims, err := mgr.Verify(token, domain.TokenTypeAccess)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "user-1" || claims.Role != domain.RoleSeller || claims.Type != domain.TokenTypeAccess {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Extra["shop"] != "s-9" {
		t.Fatalf("expected extra claim, got %v", claims.Extra)
	}
	if !claims.ExpiresAtTime().Equal(clock.now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", claims.ExpiresAtTime())
	}
	if !claims.ExpiresAtTime().After(claims.IssuedAtTime()) {
		t.Fatal("expected exp after iat")
	}
}

func TestIssueAccessDefaultsRole(t *testing.T) {
	mgr := newTestTokenManager(t, &testClock{now: time.Now()})

	_, claims, err := mgr.IssueAccess("user-1", "", nil)
	if err != nil {
		t.Fatalf("IssueAccess returned error: %v", err)
	}
	if claims.Role != domain.RoleUser {
		t.Fatalf("expected default role, got %q", claims.Role)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	mgr := newTestTokenManager(t, &testClock{now: time.Now()})

	if _, _, err := mgr.IssueRefresh(" "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestTokensCarryDistinctIDs(t *testing.T) {
	mgr := newTestTokenManager(t, &testClock{now: time.Now()})

	first, _, _ := mgr.IssueRefresh("user-1")
	second, _, _ := mgr.IssueRefresh("user-1")
	if first == second {
		t.Fatal("identical issuance inputs must still produce distinct tokens")
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	mgr := newTestTokenManager(t, &testClock{now: time.Now()})

	token, _, err := mgr.IssueRefresh("user-1")
	if err != nil {
		t.Fatalf("IssueRefresh returned error: %v", err)
	}

	first, err := mgr.Verify(token, domain.TokenTypeRefresh)
	if err != nil {
		t.Fatalf("first Verify returned error: %v", err)
	}
	second, err := mgr.Verify(token, domain.TokenTypeRefresh)
	if err != nil {
		t.Fatalf("second Verify returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("claims differ between verifications: %+v vs %+v", first, second)
	}
}

func TestVerifyErrorKinds(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newTestTokenManager(t, clock)

	access, _, _ := mgr.IssueAccess("user-1", domain.RoleUser, nil)
	refresh, _, _ := mgr.IssueRefresh("user-1")

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &domain.SessionClaims{
		Type: domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "marketplace-auth",
			IssuedAt:  jwt.NewNumericDate(clock.now),
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(time.Minute)),
		},
	}).SignedString([]byte("some-other-secret-value-0123456789abcd"))
	if err != nil {
		t.Fatalf("sign forged token: %v", err)
	}

	future, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &domain.SessionClaims{
		Type: domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "marketplace-auth",
			IssuedAt:  jwt.NewNumericDate(clock.now),
			NotBefore: jwt.NewNumericDate(clock.now.Add(time.Hour)),
			ExpiresAt: jwt.NewNumericDate(clock.now.Add(2 * time.Hour)),
		},
	}).SignedString([]byte(testAccessSecret))
	if err != nil {
		t.Fatalf("sign future token: %v", err)
	}

	cases := []struct {
		name     string
		token    string
		expected domain.TokenType
		advance  time.Duration
		want     error
		kind     domain.ErrorKind
	}{
		{"malformed", "not-a-jwt", domain.TokenTypeAccess, 0, ErrTokenMalformed, domain.KindValidation},
		{"empty", "", domain.TokenTypeAccess, 0, ErrTokenMalformed, domain.KindValidation},
		{"signature", forged, domain.TokenTypeAccess, 0, ErrTokenSignatureInvalid, domain.KindAuthenticationFailed},
		{"refresh as access", refresh, domain.TokenTypeAccess, 0, ErrTokenWrongType, domain.KindAuthenticationFailed},
		{"access as refresh", access, domain.TokenTypeRefresh, 0, ErrTokenWrongType, domain.KindAuthenticationFailed},
		{"expired", access, domain.TokenTypeAccess, 16 * time.Minute, ErrTokenExpired, domain.KindAuthenticationFailed},
		{"not yet valid", future, domain.TokenTypeAccess, 0, ErrTokenNotYetValid, domain.KindAuthenticationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			original := clock.now
			clock.now = clock.now.Add(tc.advance)
			defer func() { clock.now = original }()

			_, err := mgr.Verify(tc.token, tc.expected)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if kind := domain.KindOf(err); kind != tc.kind {
				t.Fatalf("expected kind %q, got %q", tc.kind, kind)
			}
		})
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	mgr := newTestTokenManager(t, &testClock{now: time.Now()})

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &domain.SessionClaims{
		Type:             domain.TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none token: %v", err)
	}

	if _, err := mgr.Verify(unsigned, domain.TokenTypeAccess); !errors.Is(err, ErrTokenSignatureInvalid) {
		t.Fatalf("expected ErrTokenSignatureInvalid, got %v", err)
	}
}

func TestDecodeIgnoresSignatureAndExpiry(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newTestTokenManager(t, clock)

	token, issued, _ := mgr.IssueAccess("user-1", domain.RoleUser, nil)
	clock.now = clock.now.Add(24 * time.Hour)

	claims, err := mgr.Decode(token)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if claims.ID != issued.ID || claims.Type != domain.TokenTypeAccess {
		t.Fatalf("unexpected decoded claims: %+v", claims)
	}

	if _, err := mgr.Decode("garbage"); !errors.Is(err, ErrTokenMalformed) {
		t.Fatalf("expected ErrTokenMalformed, got %v", err)
	}
}

func TestIssuePair(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)}
	mgr := newTestTokenManager(t, clock)

	pair, err := mgr.IssuePair("user-1", domain.RoleAdmin, nil)
	if err != nil {
		t.Fatalf("IssuePair returned error: %v", err)
	}
	if !pair.AccessExpiresAt.Before(pair.RefreshExpiresAt) {
		t.Fatal("expected access token to expire before refresh token")
	}
	if _, err := mgr.Verify(pair.RefreshToken, domain.TokenTypeRefresh); err != nil {
		t.Fatalf("refresh token did not verify: %v", err)
	}
}
