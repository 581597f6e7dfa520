package auth

import (
	"encoding/base64"
	"testing"
	"time"

	"tonecrate/internal/library"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	lib, err := library.New(
		map[string]string{"jazz": "/srv/music/jazz", "open": "/srv/music/open"},
		map[string]library.Credential{"jazz": {Username: "miles", Password: "kindofblue"}},
	)
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	return NewGate(lib, NewSessionManager(time.Minute))
}

func basicHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func TestAuthenticateUnknownFolder(t *testing.T) {
	gate := newTestGate(t)
	for _, header := range []string{"", basicHeader("miles", "kindofblue"), "Bearer xyz"} {
		result, err := gate.Authenticate("metal", "", header)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if result.Decision != DecisionNotFound {
			t.Fatalf("header %q: expected not_found, got %s", header, result.Decision)
		}
	}
}

func TestAuthenticateFolderWithoutCredential(t *testing.T) {
	gate := newTestGate(t)
	// "open" resolves in the library but carries no credential entry, which
	// makes it invisible to the gate.
	result, err := gate.Authenticate("open", "", basicHeader("any", "thing"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Decision != DecisionNotFound {
		t.Fatalf("expected not_found, got %s", result.Decision)
	}
}

func TestAuthenticateChallengesWithoutHeader(t *testing.T) {
	gate := newTestGate(t)
	result, err := gate.Authenticate("jazz", "", "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Decision != DecisionChallenge {
		t.Fatalf("expected challenge, got %s", result.Decision)
	}
	if result.Message != "Authentication required" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestAuthenticateRejectsNonBasicSchemes(t *testing.T) {
	gate := newTestGate(t)
	for _, header := range []string{"Bearer abc123", "Digest foo", "Basic not-base64!!"} {
		result, err := gate.Authenticate("jazz", "", header)
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if result.Decision != DecisionChallenge {
			t.Fatalf("header %q: expected challenge, got %s", header, result.Decision)
		}
	}
}

func TestAuthenticateValidCredentials(t *testing.T) {
	gate := newTestGate(t)
	result, err := gate.Authenticate("jazz", "", basicHeader("miles", "kindofblue"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", result.Decision)
	}
	if result.Token == "" {
		t.Fatal("expected a session token on first allow")
	}
	if result.Expires.Before(time.Now()) {
		t.Fatal("expected future expiry")
	}
}

func TestAuthenticateWrongCredentials(t *testing.T) {
	gate := newTestGate(t)
	cases := []struct{ username, password string }{
		{"miles", "wrong"},
		{"wrong", "kindofblue"},
		{"", ""},
	}
	for _, tc := range cases {
		result, err := gate.Authenticate("jazz", "", basicHeader(tc.username, tc.password))
		if err != nil {
			t.Fatalf("Authenticate: %v", err)
		}
		if result.Decision != DecisionChallenge {
			t.Fatalf("%s:%s expected challenge, got %s", tc.username, tc.password, result.Decision)
		}
		if result.Message != "Invalid credentials" {
			t.Fatalf("unexpected message %q", result.Message)
		}
	}
}

func TestAuthenticatedSessionSkipsCredentialCheck(t *testing.T) {
	gate := newTestGate(t)
	first, err := gate.Authenticate("jazz", "", basicHeader("miles", "kindofblue"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if first.Decision != DecisionAllow {
		t.Fatalf("expected allow, got %s", first.Decision)
	}

	// Once authenticated, even a wrong header must not matter.
	second, err := gate.Authenticate("jazz", first.Token, basicHeader("miles", "totally-wrong"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if second.Decision != DecisionAllow {
		t.Fatalf("expected session short-circuit allow, got %s", second.Decision)
	}

	// And no header at all still passes.
	third, err := gate.Authenticate("jazz", first.Token, "")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if third.Decision != DecisionAllow {
		t.Fatalf("expected allow with no header, got %s", third.Decision)
	}
}

func TestSessionDoesNotLeakAcrossFolders(t *testing.T) {
	lib, err := library.New(
		map[string]string{"jazz": "/srv/jazz", "rock": "/srv/rock"},
		map[string]library.Credential{
			"jazz": {Username: "miles", Password: "kindofblue"},
			"rock": {Username: "jimi", Password: "voodoo"},
		},
	)
	if err != nil {
		t.Fatalf("library.New: %v", err)
	}
	gate := NewGate(lib, NewSessionManager(time.Minute))

	jazz, err := gate.Authenticate("jazz", "", basicHeader("miles", "kindofblue"))
	if err != nil || jazz.Decision != DecisionAllow {
		t.Fatalf("jazz auth failed: %v %s", err, jazz.Decision)
	}

	rock, err := gate.Authenticate("rock", jazz.Token, "")
	if err != nil {
		t.Fatalf("Authenticate rock: %v", err)
	}
	if rock.Decision != DecisionChallenge {
		t.Fatalf("expected rock to challenge despite jazz session, got %s", rock.Decision)
	}
}

func TestWrongCredentialsOnFreshSessionNeverAllow(t *testing.T) {
	gate := newTestGate(t)
	if result, _ := gate.Authenticate("jazz", "", basicHeader("miles", "kindofblue")); result.Decision != DecisionAllow {
		t.Fatalf("seed auth failed: %s", result.Decision)
	}
	// A different client with no session and a wrong password must still be
	// challenged even though some other session is authenticated.
	result, err := gate.Authenticate("jazz", "", basicHeader("miles", "sketchofspain"))
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if result.Decision != DecisionChallenge {
		t.Fatalf("expected challenge on fresh session, got %s", result.Decision)
	}
}

func TestForgetRequiresReauthentication(t *testing.T) {
	gate := newTestGate(t)
	result, err := gate.Authenticate("jazz", "", basicHeader("miles", "kindofblue"))
	if err != nil || result.Decision != DecisionAllow {
		t.Fatalf("auth failed: %v %s", err, result.Decision)
	}

	if err := gate.Forget("jazz", result.Token); err != nil {
		t.Fatalf("Forget: %v", err)
	}

	after, err := gate.Authenticate("jazz", result.Token, "")
	if err != nil {
		t.Fatalf("Authenticate after forget: %v", err)
	}
	if after.Decision != DecisionChallenge {
		t.Fatalf("expected challenge after logout, got %s", after.Decision)
	}
}

func TestParseBasicAuth(t *testing.T) {
	username, password, ok := parseBasicAuth(basicHeader("miles", "kind:of:blue"))
	if !ok {
		t.Fatal("expected header to parse")
	}
	if username != "miles" || password != "kind:of:blue" {
		t.Fatalf("unexpected pair %q %q", username, password)
	}

	if _, _, ok := parseBasicAuth("basic " + base64.StdEncoding.EncodeToString([]byte("a:b"))); !ok {
		t.Fatal("expected lowercase scheme to parse")
	}
	if _, _, ok := parseBasicAuth(base64.StdEncoding.EncodeToString([]byte("a:b"))); ok {
		t.Fatal("expected missing scheme to fail")
	}
	if _, _, ok := parseBasicAuth("Basic " + base64.StdEncoding.EncodeToString([]byte("nocolon"))); ok {
		t.Fatal("expected pair without colon to fail")
	}
}
