package credstore

import (
	"runtime"
	"testing"
)

func withTempHome(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	if runtime.GOOS == "windows" {
		t.Setenv("APPDATA", dir)
	}
	t.Setenv("HOME", dir)
}

func TestLoadMissingFileReturnsEmptyStore(t *testing.T) {
	withTempHome(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Channels == nil || len(s.Channels) != 0 {
		t.Fatalf("expected empty store, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	withTempHome(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Set("https://conda.anaconda.org/my-channel", Credential{Username: "alice", Token: "secret"})
	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded, err := Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	cred, ok := reloaded.Get("https://conda.anaconda.org/my-channel")
	if !ok {
		t.Fatal("expected credential to round-trip")
	}
	if cred.Username != "alice" || cred.Token != "secret" {
		t.Fatalf("unexpected credential: %+v", cred)
	}
}

func TestDeleteRemovesCredential(t *testing.T) {
	withTempHome(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s.Set("https://example.com/ch", Credential{Token: "t"})
	s.Delete("https://example.com/ch")

	if _, ok := s.Get("https://example.com/ch"); ok {
		t.Fatal("expected credential to be deleted")
	}
}
