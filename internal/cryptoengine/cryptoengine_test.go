package cryptoengine

import (
	"bytes"
	"testing"
)

func TestAEADRoundTrip(t *testing.T) {
	for _, suite := range []Suite{SuiteAES256GCM, SuiteChaCha20Poly1305} {
		t.Run(suite.String(), func(t *testing.T) {
			key := make([]byte, 32)
			for i := range key {
				key[i] = byte(i)
			}
			aead, err := NewAEAD(suite, key)
			if err != nil {
				t.Fatalf("NewAEAD: %v", err)
			}
			nonce, err := GenerateNonce(suite)
			if err != nil {
				t.Fatalf("GenerateNonce: %v", err)
			}
			plaintext := []byte("the quick brown fox")
			ciphertext, err := aead.Encrypt(nonce, plaintext)
			if err != nil {
				t.Fatalf("Encrypt: %v", err)
			}
			got, err := aead.Decrypt(nonce, ciphertext)
			if err != nil {
				t.Fatalf("Decrypt: %v", err)
			}
			if !bytes.Equal(got, plaintext) {
				t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
			}

			ciphertext[0] ^= 0xFF
			if _, err := aead.Decrypt(nonce, ciphertext); err == nil {
				t.Fatal("expected tamper detection, got nil error")
			}
		})
	}
}

func TestBlockCipherXformIsReversible(t *testing.T) {
	key := make([]byte, 32)
	bc, err := NewBlockCipher(key)
	if err != nil {
		t.Fatalf("NewBlockCipher: %v", err)
	}
	plaintext := bytes.Repeat([]byte("A"), 4096)
	ciphertext := bc.Xform(42, plaintext)
	if bytes.Equal(ciphertext, plaintext) {
		t.Fatal("ciphertext equals plaintext")
	}
	recovered := bc.Xform(42, ciphertext)
	if !bytes.Equal(recovered, plaintext) {
		t.Fatal("Xform is not its own inverse under the same IV")
	}

	other := bc.Xform(43, plaintext)
	if bytes.Equal(other, ciphertext) {
		t.Fatal("different IVs produced identical ciphertext")
	}
}

func TestMAC64Verify(t *testing.T) {
	for _, backend := range []MACBackend{MACBackendHMACSHA256, MACBackendBLAKE3} {
		key := []byte("0123456789abcdef0123456789abcdef")
		m := NewMAC64(backend, key)
		data := []byte("rand||plaintext block contents")

		sum, err := m.Sum(data, 8)
		if err != nil {
			t.Fatalf("Sum: %v", err)
		}
		if len(sum) != 8 {
			t.Fatalf("Sum length = %d, want 8", len(sum))
		}

		ok, err := m.Verify(data, sum, 8)
		if err != nil || !ok {
			t.Fatalf("Verify of untampered data failed: ok=%v err=%v", ok, err)
		}

		tampered := append([]byte(nil), data...)
		tampered[0] ^= 1
		ok, err = m.Verify(tampered, sum, 8)
		if err == nil && ok {
			t.Fatal("Verify accepted tampered data")
		}
	}
}

func TestSIVDeterministicAndAuthenticated(t *testing.T) {
	key := make([]byte, 64)
	siv, err := NewSIV(key)
	if err != nil {
		t.Fatalf("NewSIV: %v", err)
	}
	plaintext := []byte("some/path/component")

	a, err := siv.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := siv.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt (again): %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("SIV encryption is not deterministic for identical input")
	}

	got, err := siv.Decrypt(a)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("Decrypt = %q, want %q", got, plaintext)
	}

	a[len(a)-1] ^= 1
	if _, err := siv.Decrypt(a); err == nil {
		t.Fatal("expected authentication failure on tampered blob")
	}
}

func TestWrapUnwrapKey(t *testing.T) {
	kek := make([]byte, 32)
	dataKey, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}

	wrapped, err := WrapKey(SuiteAES256GCM, kek, dataKey)
	if err != nil {
		t.Fatalf("WrapKey: %v", err)
	}
	unwrapped, err := UnwrapKey(SuiteAES256GCM, kek, wrapped)
	if err != nil {
		t.Fatalf("UnwrapKey: %v", err)
	}
	if !bytes.Equal(unwrapped, dataKey) {
		t.Fatal("unwrapped key does not match original")
	}

	badKek := make([]byte, 32)
	badKek[0] = 1
	if _, err := UnwrapKey(SuiteAES256GCM, badKek, wrapped); err != ErrBadPassword {
		t.Fatalf("UnwrapKey with wrong kek = %v, want ErrBadPassword", err)
	}
}

func TestDeriveSubkeysAreDistinct(t *testing.T) {
	master := make([]byte, 32)
	for i := range master {
		master[i] = byte(i)
	}
	salt := []byte("volumesalt")

	subkeys, err := DeriveSubkeys(master, salt)
	if err != nil {
		t.Fatalf("DeriveSubkeys: %v", err)
	}
	if bytes.Equal(subkeys.Data, subkeys.Name) || bytes.Equal(subkeys.Data, subkeys.MAC) || bytes.Equal(subkeys.Name, subkeys.MAC) {
		t.Fatal("derived subkeys are not pairwise distinct")
	}

	again, err := DeriveSubkeys(master, salt)
	if err != nil {
		t.Fatalf("DeriveSubkeys (again): %v", err)
	}
	if !bytes.Equal(subkeys.Data, again.Data) {
		t.Fatal("DeriveSubkeys is not deterministic for the same inputs")
	}
}

func TestPasswordKeyProviderRoundTrip(t *testing.T) {
	pw := []byte("correct horse battery staple")
	kp := NewPasswordKeyProviderPBKDF2(pw, PBKDF2Params{Iterations: 1000, KeySize: 32})
	salt, err := kp.GenerateSalt()
	if err != nil {
		t.Fatalf("GenerateSalt: %v", err)
	}
	k1, err := kp.DeriveKey(salt)
	if err != nil {
		t.Fatalf("DeriveKey: %v", err)
	}
	k2, err := kp.DeriveKey(salt)
	if err != nil {
		t.Fatalf("DeriveKey (again): %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatal("DeriveKey not deterministic for the same salt")
	}
}
