package telegram

import (
	"errors"
	"strings"
	"testing"

	"megaphone/internal/address"
	"megaphone/internal/registry"
	"megaphone/internal/target"
)

const token = "123456:AAAAbbbbCCCCddddEEEE"

func build(t *testing.T, raw string) (target.Target, error) {
	t.Helper()
	addr, err := address.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return construct(addr, nil)
}

func TestConstructValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"token and chat", "tgram://" + token + "/1001", true},
		{"multiple chats", "tgram://" + token + "/1001/-424242", true},
		{"no colon in token", "tgram://notatoken/1001", false},
		{"no chats", "tgram://" + token, false},
		{"non-numeric chat", "tgram://" + token + "/lounge", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := build(t, tt.raw)
			if tt.ok && err != nil {
				t.Fatalf("construct: %v", err)
			}
			if !tt.ok {
				var cerr *target.ConstructionError
				if !errors.As(err, &cerr) {
					t.Fatalf("err = %v, want ConstructionError", err)
				}
			}
		})
	}
}

func TestRegisterAndResolve(t *testing.T) {
	t.Parallel()
	reg := registry.New()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	addr, err := address.Parse("tgram://" + token + "/1001")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, _, err := reg.Resolve(addr); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestRedactedMasksToken(t *testing.T) {
	t.Parallel()
	tgt, err := build(t, "tgram://"+token+"/1001")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	red := tgt.(*Sender).Redacted()
	if strings.Contains(red, token) || strings.Contains(red, "AAAAbbbb") {
		t.Fatalf("Redacted leaked the token: %s", red)
	}
	if !strings.Contains(red, address.Mask) {
		t.Fatalf("Redacted has no mask: %s", red)
	}
}

func TestIdentityCoversTokenAndChats(t *testing.T) {
	t.Parallel()
	a, err := build(t, "tgram://"+token+"/1001")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	b, err := build(t, "tgram://"+token+"/1001")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if target.Identity(a) != target.Identity(b) {
		t.Fatal("identical addresses produced different identities")
	}

	otherBot, err := build(t, "tgram://999999:otherSecretValue/1001")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if target.Identity(a) == target.Identity(otherBot) {
		t.Fatal("different tokens share an identity")
	}
	otherChat, err := build(t, "tgram://"+token+"/2002")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if target.Identity(a) == target.Identity(otherChat) {
		t.Fatal("different chats share an identity")
	}
}

func TestQueryToggles(t *testing.T) {
	t.Parallel()
	tgt, err := build(t, "tgram://"+token+"/1001?silent=yes&preview=no")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	s := tgt.(*Sender)
	if !s.silent {
		t.Fatal("silent=yes ignored")
	}
	if s.preview {
		t.Fatal("preview=no ignored")
	}
}

func TestCapsLimitBody(t *testing.T) {
	t.Parallel()
	tgt, err := build(t, "tgram://"+token+"/1001")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	c := tgt.Capabilities()
	if c.MaxBodyLen != maxBodyLen || !c.SupportsTitle || c.SupportsAttachment {
		t.Fatalf("caps = %+v", c)
	}
}
