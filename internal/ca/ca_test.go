package ca

import (
	"crypto/x509"
	"strings"
	"testing"
)

func newTestCA(t *testing.T) *CA {
	t.Helper()
	ca, err := New(Options{CertDir: t.TempDir()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ca
}

func TestNewPersistsAndReloadsRoot(t *testing.T) {
	dir := t.TempDir()
	first, err := New(Options{CertDir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	second, err := New(Options{CertDir: dir})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatal("reloading must return the same root, not mint a new one")
	}
	if !second.root.IsCA {
		t.Fatal("root certificate must carry the CA flag")
	}
}

func TestLeafCarriesWildcardSAN(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.GetOrCreateCert("api.example.com:443")
	if err != nil {
		t.Fatalf("GetOrCreateCert: %v", err)
	}

	leaf := cert.Leaf
	if leaf == nil {
		t.Fatal("minted cert must carry a parsed leaf")
	}
	wantSANs := map[string]bool{"api.example.com": false, "*.api.example.com": false}
	for _, name := range leaf.DNSNames {
		if _, ok := wantSANs[name]; ok {
			wantSANs[name] = true
		}
	}
	for name, seen := range wantSANs {
		if !seen {
			t.Fatalf("SAN %q missing from %v", name, leaf.DNSNames)
		}
	}
	if err := leaf.CheckSignatureFrom(ca.root); err != nil {
		t.Fatalf("leaf not signed by root: %v", err)
	}
}

func TestLeafForIPUsesIPSAN(t *testing.T) {
	ca := newTestCA(t)
	cert, err := ca.GetOrCreateCert("127.0.0.1")
	if err != nil {
		t.Fatalf("GetOrCreateCert: %v", err)
	}
	leaf := cert.Leaf
	if len(leaf.IPAddresses) != 1 || leaf.IPAddresses[0].String() != "127.0.0.1" {
		t.Fatalf("IPAddresses = %v", leaf.IPAddresses)
	}
	if len(leaf.DNSNames) != 0 {
		t.Fatalf("IP leaf must not carry DNS SANs, got %v", leaf.DNSNames)
	}
}

func TestGetOrCreateCertReusesCachedLeaf(t *testing.T) {
	ca := newTestCA(t)
	a, err := ca.GetOrCreateCert("example.com")
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}
	b, err := ca.GetOrCreateCert("example.com:8443")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}
	if a != b {
		t.Fatal("same host must hit the in-memory cache")
	}
	if ca.CertCount() != 1 {
		t.Fatalf("CertCount = %d, want 1", ca.CertCount())
	}
}

func TestLeafUsableRejectsNearExpiry(t *testing.T) {
	ca, err := New(Options{CertDir: t.TempDir(), CertValidityDays: 1})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// A one-day leaf is inside the renew window from the moment it is
	// minted, so a second lookup must replace it.
	a, err := ca.GetOrCreateCert("short.example.com")
	if err != nil {
		t.Fatalf("first mint: %v", err)
	}
	b, err := ca.GetOrCreateCert("short.example.com")
	if err != nil {
		t.Fatalf("renewal mint: %v", err)
	}
	if a == b {
		t.Fatal("near-expiry leaf must be re-minted, not served from cache")
	}
}

func TestRegenerateInvalidatesLeaves(t *testing.T) {
	ca := newTestCA(t)
	leaf, err := ca.GetOrCreateCert("example.com")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	oldRoot := ca.root

	if err := ca.Regenerate(); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	if ca.Fingerprint() == fingerprintOf(oldRoot) {
		t.Fatal("regenerated root must differ")
	}
	if ca.CertCount() != 0 {
		t.Fatalf("CertCount = %d after Regenerate, want 0", ca.CertCount())
	}

	fresh, err := ca.GetOrCreateCert("example.com")
	if err != nil {
		t.Fatalf("re-mint: %v", err)
	}
	if fresh == leaf {
		t.Fatal("old leaf survived regeneration")
	}
	if err := fresh.Leaf.CheckSignatureFrom(ca.root); err != nil {
		t.Fatalf("new leaf not signed by new root: %v", err)
	}
}

func TestFingerprintFormat(t *testing.T) {
	fp := newTestCA(t).Fingerprint()
	parts := strings.Split(fp, ":")
	if len(parts) != 32 {
		t.Fatalf("fingerprint has %d groups, want 32: %s", len(parts), fp)
	}
	for _, p := range parts {
		if len(p) != 2 {
			t.Fatalf("malformed fingerprint group %q in %s", p, fp)
		}
	}
}

func fingerprintOf(cert *x509.Certificate) string {
	c := &CA{root: cert}
	return c.Fingerprint()
}
