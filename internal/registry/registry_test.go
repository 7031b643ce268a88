package registry

import (
	"context"
	"errors"
	"testing"

	"megaphone/internal/address"
	"megaphone/internal/target"
)

type fakeTarget struct {
	target.Base
}

func (f *fakeTarget) Send(ctx context.Context, msg target.Message) error { return nil }

func testFactory(addr *address.Address, tags []string) (target.Target, error) {
	return &fakeTarget{Base: target.NewBase(addr, tags, target.Capabilities{}, target.Tuning{})}, nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()
	r := New()
	s := Schema{Name: "json", SecureName: "jsons", Factory: testFactory}
	if err := r.Register(s); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register(s); err == nil {
		t.Fatal("duplicate scheme silently accepted")
	}
	// An alias colliding with an existing primary name must also fail.
	if err := r.Register(Schema{Name: "other", SecureName: "json", Factory: testFactory}); err == nil {
		t.Fatal("alias collision silently accepted")
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.Register(Schema{Factory: testFactory}); err == nil {
		t.Fatal("empty name accepted")
	}
	if err := r.Register(Schema{Name: "x"}); err == nil {
		t.Fatal("nil factory accepted")
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()
	r := New()
	if err := r.Register(Schema{Name: "json", SecureName: "jsons", Factory: testFactory}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	addr, _ := address.Parse("json://host")
	f, got, err := r.Resolve(addr)
	if err != nil || f == nil {
		t.Fatalf("Resolve(json) = %v", err)
	}
	if got.Secure {
		t.Fatal("plain scheme marked secure")
	}

	saddr, _ := address.Parse("jsons://host")
	_, got, err = r.Resolve(saddr)
	if err != nil {
		t.Fatalf("Resolve(jsons) = %v", err)
	}
	if !got.Secure {
		t.Fatal("secure alias did not set Secure")
	}

	unknown, _ := address.Parse("nope://host")
	if _, _, err := r.Resolve(unknown); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("Resolve(nope) = %v, want ErrUnknownScheme", err)
	}
}

func TestSchemasSortedAndDeduplicated(t *testing.T) {
	t.Parallel()
	r := New()
	for _, name := range []string{"zulu", "alpha", "mike"} {
		secure := ""
		if name == "alpha" {
			secure = "alphas"
		}
		if err := r.Register(Schema{Name: name, SecureName: secure, Factory: testFactory}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	infos := r.Schemas()
	if len(infos) != 3 {
		t.Fatalf("len(Schemas) = %d, want 3 (aliases must not duplicate)", len(infos))
	}
	want := []string{"alpha", "mike", "zulu"}
	for i, info := range infos {
		if info.Scheme != want[i] {
			t.Fatalf("Schemas()[%d] = %q, want %q", i, info.Scheme, want[i])
		}
	}
	if infos[0].SecureScheme != "alphas" {
		t.Fatalf("alpha's secure alias missing: %+v", infos[0])
	}
}
