package dsn

import (
	"errors"
	"strings"
	"testing"
)

func TestFingerprintIgnoresCredentials(t *testing.T) {
	a := Target{Host: "h1", DBName: "d1", Username: "u1", Password: "p1"}
	b := Target{Host: "h1", DBName: "d1", Username: "u2", Password: "p2"}

	if a.Fingerprint() != b.Fingerprint() {
		t.Fatalf("same host/db must share a fingerprint")
	}
	if a.CredentialFingerprint() == b.CredentialFingerprint() {
		t.Fatalf("credential fingerprint must split differing credentials")
	}
}

func TestFingerprintSeparatesFields(t *testing.T) {
	a := Target{Host: "h1", DBName: "d"}
	b := Target{Host: "h", DBName: "1d"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatalf("concatenation collision: %s", a.Fingerprint())
	}
	if len(a.Fingerprint()) != 40 {
		t.Fatalf("want 40 hex chars, got %q", a.Fingerprint())
	}
}

func TestFingerprintByName(t *testing.T) {
	tg := Target{Host: "h", DBName: "d", Password: "x"}
	if FingerprintByName("credentials")(tg) != tg.CredentialFingerprint() {
		t.Fatalf("credentials mode not selected")
	}
	if FingerprintByName("")(tg) != tg.Fingerprint() {
		t.Fatalf("default mode must be host+dbname")
	}
}

func TestValidateAndString(t *testing.T) {
	if err := (Target{Host: "h"}).Validate(); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("missing dbname: got %v", err)
	}
	tg := Target{Host: "h", DBName: "d", Username: "u", Password: "secret", ReadonlyHost: "r"}
	if err := tg.Validate(); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}
	if strings.Contains(tg.String(), "secret") {
		t.Fatalf("String leaks password: %s", tg)
	}
}
