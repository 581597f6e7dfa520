package api

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func findCookie(t *testing.T, cookies []*http.Cookie, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("cookie %q not set", name)
	return nil
}

func TestSetSessionCookieDefaults(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/resources/jazz/files/a.mp3", nil)
	req.TLS = &tls.ConnectionState{}

	setSessionCookie(rec, req, "token", time.Now().Add(time.Hour), DefaultSessionCookiePolicy())

	cookie := findCookie(t, rec.Result().Cookies(), sessionCookieName)
	if cookie.Path != "/" {
		t.Fatalf("expected session cookie Path=/, got %q", cookie.Path)
	}
	if !cookie.HttpOnly {
		t.Fatal("expected session cookie to be HttpOnly by default")
	}
	if !cookie.Secure {
		t.Fatal("expected HTTPS request to set Secure on session cookie")
	}
	if cookie.SameSite != http.SameSiteStrictMode {
		t.Fatalf("expected SameSite=Strict, got %v", cookie.SameSite)
	}
}

func TestSetSessionCookieRespectsForwardedProto(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/resources/jazz/files/a.mp3", nil)
	req.Header.Set("X-Forwarded-Proto", "https")

	setSessionCookie(rec, req, "token", time.Now().Add(time.Hour), DefaultSessionCookiePolicy())

	cookie := findCookie(t, rec.Result().Cookies(), sessionCookieName)
	if !cookie.Secure {
		t.Fatal("expected Secure cookie when X-Forwarded-Proto includes HTTPS")
	}
}

func TestSetSessionCookiePlainHTTPStaysInsecure(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/resources/jazz/files/a.mp3", nil)

	setSessionCookie(rec, req, "token", time.Now().Add(time.Hour), DefaultSessionCookiePolicy())

	cookie := findCookie(t, rec.Result().Cookies(), sessionCookieName)
	if cookie.Secure {
		t.Fatal("expected plain HTTP request to leave Secure unset in auto mode")
	}
}

func TestClearSessionCookieExpiresImmediately(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/resources/jazz/logout", nil)

	clearSessionCookie(rec, req, DefaultSessionCookiePolicy())

	cookie := findCookie(t, rec.Result().Cookies(), sessionCookieName)
	if cookie.Value != "" {
		t.Fatalf("expected cleared cookie value, got %q", cookie.Value)
	}
	if cookie.MaxAge != -1 {
		t.Fatalf("expected MaxAge=-1, got %d", cookie.MaxAge)
	}
}

func TestSessionTokenReadsCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/resources/jazz", nil)
	if got := SessionToken(req); got != "" {
		t.Fatalf("expected empty token without cookie, got %q", got)
	}
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: "abc123"})
	if got := SessionToken(req); got != "abc123" {
		t.Fatalf("expected abc123, got %q", got)
	}
}
