package chain

import (
	"testing"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

func TestLoadMissingReturnsZeroState(t *testing.T) {
	s, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load on empty dir: %v", err)
	}
	if s.LatestVersion != 0 || s.LatestBackupID != "" || s.KeyFingerprint != "" {
		t.Fatalf("expected zero state, got %+v", s)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2025, 1, 12, 2, 0, 0, 0, time.UTC)

	s := &State{}
	s.Advance("backup_20250112_020000", 7, "a1b2c3d4e5f60718", now)
	if err := Save(dir, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LatestVersion != 7 || got.LatestBackupID != "backup_20250112_020000" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.KeyFingerprint != "a1b2c3d4e5f60718" || !got.LastUpdated.Equal(now) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestVerifyRejectsRollback(t *testing.T) {
	s := &State{LatestVersion: 5}

	for _, version := range []int64{4, 5} {
		if err := s.Verify(version, "", false); !skerrors.Is(err, skerrors.ErrChainRollback) {
			t.Fatalf("version %d: want ErrChainRollback, got %v", version, err)
		}
	}
	if err := s.Verify(6, "", false); err != nil {
		t.Fatalf("strictly newer version rejected: %v", err)
	}
}

func TestVerifyRejectsKeyFingerprintChange(t *testing.T) {
	s := &State{LatestVersion: 1, KeyFingerprint: "aaaaaaaaaaaaaaaa"}

	err := s.Verify(2, "bbbbbbbbbbbbbbbb", false)
	if !skerrors.Is(err, skerrors.ErrKeyRotation) {
		t.Fatalf("want ErrKeyRotation, got %v", err)
	}

	// Explicit rotation authorization bypasses the fingerprint check.
	if err := s.Verify(2, "bbbbbbbbbbbbbbbb", true); err != nil {
		t.Fatalf("authorized rotation rejected: %v", err)
	}

	// Same key always passes.
	if err := s.Verify(2, "aaaaaaaaaaaaaaaa", false); err != nil {
		t.Fatalf("same key rejected: %v", err)
	}
}

func TestVerifyFirstObservationAcceptsAnyKey(t *testing.T) {
	s := &State{}
	if err := s.Verify(1, "cccccccccccccccc", false); err != nil {
		t.Fatalf("first observed key rejected: %v", err)
	}
}
