package password

import (
	"strings"
	"testing"
)

func TestHashAndVerify(t *testing.T) {
	digest, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if !strings.HasPrefix(digest, "$argon2id$v=19$") {
		t.Fatalf("expected PHC argon2id digest, got %s", digest)
	}
	if strings.Contains(digest, "secret1") {
		t.Fatalf("digest must not contain the plaintext")
	}
	if !Verify(digest, "secret1") {
		t.Fatalf("expected verify to succeed for matching password")
	}
	if Verify(digest, "wrong") {
		t.Fatalf("expected verify to fail for wrong password")
	}
}

func TestHashIsSalted(t *testing.T) {
	first, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	second, err := Hash("secret1")
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct digests for the same password")
	}
	if !Verify(first, "secret1") || !Verify(second, "secret1") {
		t.Fatalf("expected both digests to verify")
	}
}

func TestVerifyMalformedDigest(t *testing.T) {
	cases := []string{
		"",
		"not a digest",
		"$argon2id$v=19$m=65536,t=3,p=2$salt",
		"$bcrypt$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=abc,t=3,p=2$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=2$!!!$aGFzaA",
		"$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$!!!",
		"$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$",
	}
	for _, digest := range cases {
		if Verify(digest, "secret1") {
			t.Fatalf("expected verify to fail for malformed digest %q", digest)
		}
	}
}
