package session

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"testing"
	"time"

	"gomess/internal/bus"
	"gomess/internal/chat"
)

// unsignedJWT builds a token with only a sub claim and no signature, which
// is all subjectOf ever looks at.
func unsignedJWT(t *testing.T, sub string) string {
	t.Helper()
	enc := func(v any) string {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatal(err)
		}
		return base64.RawURLEncoding.EncodeToString(data)
	}
	header := enc(map[string]string{"alg": "none", "typ": "JWT"})
	claims := enc(map[string]any{"sub": sub, "exp": time.Now().Add(time.Hour).Unix()})
	return header + "." + claims + "."
}

func TestTokenPersistRoundtrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s := New("alpha", nil)
	s.SetToken("tok-1")

	fresh := New("alpha", nil)
	if !fresh.RestoreToken() {
		t.Fatal("RestoreToken() = false")
	}
	if fresh.Token() != "tok-1" {
		t.Errorf("token = %q", fresh.Token())
	}

	other := New("beta", nil)
	if other.RestoreToken() {
		t.Error("session beta restored alpha's token")
	}
}

func TestClearRemovesTokenAndAnnounces(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	b := bus.New()
	ch, unsub := b.Subscribe(bus.KindSessionCleared, 4)
	defer unsub()

	s := New("alpha", b)
	s.SetToken("tok-1")
	s.SetUser(&chat.User{ID: "me"})
	s.Clear()

	if s.Authenticated() || s.User() != nil {
		t.Error("session not emptied")
	}
	if _, err := os.Stat(TokenPath("alpha")); !os.IsNotExist(err) {
		t.Errorf("token file still present: %v", err)
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("session.cleared not published")
	}

	if New("alpha", nil).RestoreToken() {
		t.Error("cleared token restorable")
	}
}

func TestUserIDFallsBackToTokenSubject(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s := New("alpha", nil)
	s.SetToken(unsignedJWT(t, "u42"))
	if got := s.UserID(); got != "u42" {
		t.Errorf("UserID() = %q, want u42 from sub claim", got)
	}
	if !s.IsOwn("u42") || s.IsOwn("u7") {
		t.Error("IsOwn mismatch")
	}

	s.SetUser(&chat.User{ID: "profile-id"})
	if got := s.UserID(); got != "profile-id" {
		t.Errorf("UserID() = %q, profile must win over claim", got)
	}
}

func TestUserIDEmptyForOpaqueToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	s := New("alpha", nil)
	s.SetToken("not-a-jwt")
	if got := s.UserID(); got != "" {
		t.Errorf("UserID() = %q, want empty", got)
	}
	if s.IsOwn("") {
		t.Error("IsOwn(\"\") must be false without identity")
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"default", "work-2", "a_b"} {
		if err := ValidateName(name); err != nil {
			t.Errorf("ValidateName(%q) = %v", name, err)
		}
	}
	for _, name := range []string{"", "UPPER", "has space", "x/y"} {
		if err := ValidateName(name); err == nil {
			t.Errorf("ValidateName(%q) = nil, want error", name)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	if got := Resolve("cli-pick"); got != "cli-pick" {
		t.Errorf("Resolve(flag) = %q", got)
	}
	if got := Resolve(""); got != DefaultSessionName {
		t.Errorf("Resolve() = %q, want %q without config", got, DefaultSessionName)
	}
}
