package auth

import (
	"encoding/base64"
	"strings"
	"time"

	"tonecrate/internal/library"
)

// Decision is the outcome of gating a request against a folder.
type Decision int

const (
	// DecisionNotFound means the folder is not configured; callers respond 404.
	DecisionNotFound Decision = iota
	// DecisionChallenge means credentials are missing or wrong; callers respond
	// 401 with a Basic challenge.
	DecisionChallenge
	// DecisionAllow means the request may proceed.
	DecisionAllow
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionChallenge:
		return "challenge"
	default:
		return "not_found"
	}
}

// Result carries the gate decision plus the session state the caller must
// propagate: the token to set as the session cookie (possibly freshly minted)
// and the client-facing message for challenge responses.
type Result struct {
	Decision Decision
	Token    string
	Expires  time.Time
	Message  string
}

const (
	messageAuthRequired       = "Authentication required"
	messageInvalidCredentials = "Invalid credentials"
)

// Gate decides whether a request may access a folder. Per (session, folder)
// pair it implements a two-state machine: unauthenticated sessions are
// challenged until a request carries a matching Basic credential, after which
// the session short-circuits every later check until logout or expiry.
type Gate struct {
	Library  *library.Library
	Sessions *SessionManager
}

// NewGate wires a gate over the given library and session manager.
func NewGate(lib *library.Library, sessions *SessionManager) *Gate {
	return &Gate{Library: lib, Sessions: sessions}
}

// Authenticate gates one request. The folder lookup runs before any session or
// credential inspection, so unknown folders are indistinguishable whether or
// not the client sent an Authorization header. A session hit skips credential
// verification entirely. The returned error reports store failures only; every
// protocol-level outcome is a Decision.
func (g *Gate) Authenticate(folder, sessionToken, authorization string) (Result, error) {
	if _, ok := g.Library.Resolve(folder); !ok {
		return Result{Decision: DecisionNotFound}, nil
	}
	cred, ok := g.Library.CredentialFor(folder)
	if !ok {
		return Result{Decision: DecisionNotFound}, nil
	}

	if sessionToken != "" {
		authorized, err := g.Sessions.Authorized(sessionToken, folder)
		if err != nil {
			return Result{}, err
		}
		if authorized {
			return Result{Decision: DecisionAllow, Token: sessionToken}, nil
		}
	}

	username, password, ok := parseBasicAuth(authorization)
	if !ok {
		return Result{Decision: DecisionChallenge, Message: messageAuthRequired}, nil
	}
	if !verifyCredential(cred, username, password) {
		return Result{Decision: DecisionChallenge, Message: messageInvalidCredentials}, nil
	}

	token, expires, err := g.Sessions.Grant(sessionToken, folder)
	if err != nil {
		return Result{}, err
	}
	return Result{Decision: DecisionAllow, Token: token, Expires: expires}, nil
}

// Forget drops the folder from the session's authenticated set. Unknown
// folders and missing sessions are acknowledged silently, matching the logout
// contract.
func (g *Gate) Forget(folder, sessionToken string) error {
	return g.Sessions.Forget(sessionToken, folder)
}

func parseBasicAuth(header string) (username, password string, ok bool) {
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return "", "", false
	}
	pair := string(decoded)
	idx := strings.IndexByte(pair, ':')
	if idx < 0 {
		return "", "", false
	}
	return pair[:idx], pair[idx+1:], true
}
