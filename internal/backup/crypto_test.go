package backup

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKeyDeterminism(t *testing.T) {
	salt := []byte("1234567890abcdef")

	key1 := deriveKey("mypassphrase", salt)
	key2 := deriveKey("mypassphrase", salt)

	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase+salt should produce same key")
	}
	if len(key1) != keySize {
		t.Errorf("key length = %d, want %d", len(key1), keySize)
	}
	if bytes.Equal(key1, deriveKey("other", salt)) {
		t.Error("different passphrases should produce different keys")
	}
}

func TestSealOpen(t *testing.T) {
	original := []byte("SQLite format 3\x00 chores and chat")

	sealed, err := Seal(original, "correct horse")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(sealed) <= saltSize+nonceSize {
		t.Fatalf("sealed length = %d", len(sealed))
	}
	if bytes.Contains(sealed, []byte("chores and chat")) {
		t.Error("sealed output contains plaintext")
	}

	got, err := Open(sealed, "correct horse")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Errorf("open = %q, want %q", got, original)
	}
}

func TestSealUsesFreshSalt(t *testing.T) {
	a, _ := Seal([]byte("x"), "pass")
	b, _ := Seal([]byte("x"), "pass")
	if bytes.Equal(a[:saltSize], b[:saltSize]) {
		t.Error("two seals should not share a salt")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	sealed, err := Seal([]byte("secret"), "right")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := Open(sealed, "wrong"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestOpenTruncated(t *testing.T) {
	if _, err := Open([]byte("short"), "pass"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}
