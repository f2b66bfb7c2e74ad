package cmn

import "testing"

func TestNewSaltLength(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(salt) != SaltLen {
		t.Errorf("len(salt) = %d, want %d", len(salt), SaltLen)
	}
}

func TestDeriveKeyIsDeterministicAndKeyLenCorrect(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")
	k1 := DeriveKey("hunter2", salt)
	k2 := DeriveKey("hunter2", salt)
	if string(k1) != string(k2) {
		t.Error("DeriveKey is not deterministic for the same passphrase and salt")
	}
	if len(k1) != KDFKeyLen {
		t.Errorf("len(key) = %d, want %d", len(k1), KDFKeyLen)
	}

	other := DeriveKey("different", salt)
	if string(other) == string(k1) {
		t.Error("expected different passphrases to derive different keys")
	}
}

func TestEncryptDecryptPasswordRoundTrip(t *testing.T) {
	key := DeriveKey("hunter2", []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := EncryptPassword("s3cr3t", key)
	if err != nil {
		t.Fatalf("EncryptPassword: %v", err)
	}
	if string(sealed) == "s3cr3t" {
		t.Error("expected ciphertext to differ from plaintext")
	}

	got, err := DecryptPassword(sealed, key)
	if err != nil {
		t.Fatalf("DecryptPassword: %v", err)
	}
	if got != "s3cr3t" {
		t.Errorf("DecryptPassword = %q, want s3cr3t", got)
	}
}

func TestDecryptPasswordFailsWithWrongKey(t *testing.T) {
	key := DeriveKey("hunter2", []byte("0123456789abcdef0123456789abcdef"))
	wrongKey := DeriveKey("wrong", []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := EncryptPassword("s3cr3t", key)
	if err != nil {
		t.Fatalf("EncryptPassword: %v", err)
	}
	if _, err := DecryptPassword(sealed, wrongKey); err == nil {
		t.Error("expected DecryptPassword to fail with the wrong key")
	}
}
