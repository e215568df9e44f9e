package credentials

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func envLookup(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func TestEnvStore(t *testing.T) {
	ctx := context.Background()
	s := EnvStore{Lookup: envLookup(map[string]string{"VNC_SERVER": "desk::5901", "VNC_PASSWORD": "pw"})}
	creds, err := s.Get(ctx, "ignored")
	if err != nil || creds.Server != "desk::5901" || creds.Password != "pw" {
		t.Fatalf("unexpected %+v %v", creds, err)
	}
	if err := s.Set(ctx, "h", Credentials{}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only, got %v", err)
	}
	hosts, _ := s.List(ctx)
	if len(hosts) != 1 || hosts[0] != "desk::5901" {
		t.Fatalf("unexpected hosts %v", hosts)
	}

	empty := EnvStore{Lookup: envLookup(nil)}
	if _, err := empty.Get(ctx, "h"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.age")
	s := NewFileStore(path)

	if _, err := s.Get(ctx, "vnc-prod"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on empty store, got %v", err)
	}
	if err := s.Set(ctx, "vnc-prod", Credentials{Server: "prod.example.com::5901", Password: "hunter2"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "vnc-desktop", Credentials{}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read store: %v", err)
	}
	if strings.Contains(string(raw), "hunter2") || strings.Contains(string(raw), "vnc-prod") {
		t.Fatal("store must be encrypted at rest")
	}
	if info, _ := os.Stat(path); info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected permissions %v", info.Mode().Perm())
	}
	if id, _ := os.ReadFile(filepath.Join(dir, "identity.txt")); !strings.Contains(string(id), "AGE-SECRET-KEY-1") {
		t.Fatal("expected generated identity file")
	}

	reopened := NewFileStore(path)
	creds, err := reopened.Get(ctx, "vnc-prod")
	if err != nil || creds.Server != "prod.example.com::5901" || creds.Password != "hunter2" {
		t.Fatalf("unexpected %+v %v", creds, err)
	}
	if creds, _ := reopened.Get(ctx, "vnc-desktop"); creds.Server != "vnc-desktop" {
		t.Fatalf("server should default to hostname, got %+v", creds)
	}
	hosts, _ := reopened.List(ctx)
	if strings.Join(hosts, ",") != "vnc-desktop,vnc-prod" {
		t.Fatalf("unexpected hosts %v", hosts)
	}

	if err := reopened.Delete(ctx, "vnc-prod"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := reopened.Delete(ctx, "vnc-prod"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestFileStoreWrongIdentity(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.age")
	if err := NewFileStore(path).Set(ctx, "h", Credentials{Password: "x"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	other := NewFileStore(path, WithIdentityFile(filepath.Join(dir, "other.txt")))
	if err := other.Set(ctx, "seed", Credentials{}); err == nil {
		t.Fatal("expected missing identity to fail")
	}
}

func TestFileStorePassphrase(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.age")
	s := NewFileStore(path, WithPassphrase("correct horse"))
	if err := s.Set(ctx, "h", Credentials{Server: "h:1", Password: "pw"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	creds, err := NewFileStore(path, WithPassphrase("correct horse")).Get(ctx, "h")
	if err != nil || creds.Server != "h:1" {
		t.Fatalf("unexpected %+v %v", creds, err)
	}
	if _, err := NewFileStore(path, WithPassphrase("wrong")).Get(ctx, "h"); err == nil {
		t.Fatal("expected wrong passphrase to fail")
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()
	file := NewFileStore(filepath.Join(t.TempDir(), "credentials.age"))
	env := EnvStore{Lookup: envLookup(map[string]string{"VNC_SERVER": "fallback::5900"})}
	chain := NewChain(nil, env, file)

	if chain.Name() != "chain(env,age-file)" {
		t.Fatalf("unexpected name %q", chain.Name())
	}
	if err := chain.Set(ctx, "vnc-prod", Credentials{Server: "prod::5901"}); err != nil {
		t.Fatalf("Set should skip the read-only store: %v", err)
	}
	// env answers every hostname, so it wins while first in the chain.
	if creds, _ := chain.Get(ctx, "vnc-prod"); creds.Server != "fallback::5900" {
		t.Fatalf("unexpected %+v", creds)
	}
	ordered := NewChain(nil, file, env)
	if creds, _ := ordered.Get(ctx, "vnc-prod"); creds.Server != "prod::5901" {
		t.Fatalf("unexpected %+v", creds)
	}
	hosts, _ := ordered.List(ctx)
	if strings.Join(hosts, ",") != "fallback::5900,vnc-prod" {
		t.Fatalf("unexpected hosts %v", hosts)
	}
	if err := ordered.Delete(ctx, "vnc-prod"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ordered.Delete(ctx, "vnc-prod"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	readOnly := NewChain(nil, EnvStore{Lookup: envLookup(nil)})
	if err := readOnly.Set(ctx, "h", Credentials{}); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected read-only, got %v", err)
	}
	if _, err := readOnly.Get(ctx, "h"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCredentialsStringMasksPassword(t *testing.T) {
	s := Credentials{Server: "h::1", Password: "secret"}.String()
	if strings.Contains(s, "secret") || !strings.Contains(s, "***") {
		t.Fatalf("password leaked: %q", s)
	}
}
