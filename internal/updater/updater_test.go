package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func generateKeyPair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})
	return priv, pemBytes
}

func buildTarGz(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, data := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0755}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func sign(t *testing.T, priv *rsa.PrivateKey, data []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	return sig
}

// S5 Update happy path (spec.md §8 S5): signature valid ⇒ sequence
// {Fetching, Downloading, Unpacking, Verifying, Installing, Completed}.
func TestUpdateHappyPath(t *testing.T) {
	priv, pubPEM := generateKeyPair(t)
	binary := []byte("fake binary contents v42")
	sig := sign(t, priv, binary)

	archive := buildTarGz(t, map[string][]byte{
		"puppynet":     binary,
		"puppynet.sig": sig,
	})

	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(release{
			TagName: "42",
			Assets: []asset{
				{Name: "puppynet-linux.tar.gz", BrowserDownloadURL: serverURL + "/puppynet-linux.tar.gz"},
			},
		})
	})
	mux.HandleFunc("/puppynet-linux.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	serverURL = srv.URL

	base := t.TempDir()
	cfg := Config{
		ReleasesBaseURL: srv.URL,
		CurrentVersion:  41,
		BaseDir:         base,
		PublicKeyPEM:    pubPEM,
		HTTPClient:      srv.Client(),
	}

	var stages []string
	for ev := range Run(cfg) {
		stages = append(stages, ev.Stage)
		if ev.Stage == StageFailed {
			t.Fatalf("unexpected failure: %s", ev.Error)
		}
	}
	want := []string{StageFetching, StageDownloading, StageUnpacking, StageVerifying, StageInstalling, StageCompleted}
	if len(stages) != len(want) {
		t.Fatalf("stage sequence mismatch: got %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stage sequence mismatch at %d: got %v, want %v", i, stages, want)
		}
	}

	installed := filepath.Join(base, "bin", "puppynet")
	data, err := os.ReadFile(installed)
	if err != nil {
		t.Fatalf("expected installed binary at %q: %v", installed, err)
	}
	if !bytes.Equal(data, binary) {
		t.Fatal("installed binary contents do not match the original")
	}
}

// S6 Update blocked (spec.md §8 S6, invariant 9): a tampered binary fails
// verification and installs nothing.
func TestUpdateTamperedSignatureFails(t *testing.T) {
	priv, pubPEM := generateKeyPair(t)
	binary := []byte("fake binary contents v42")
	sig := sign(t, priv, binary)
	tampered := append([]byte{}, binary...)
	tampered[0] ^= 0xff

	archive := buildTarGz(t, map[string][]byte{
		"puppynet":     tampered,
		"puppynet.sig": sig,
	})

	mux := http.NewServeMux()
	var serverURL string
	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(release{
			TagName: "42",
			Assets:  []asset{{Name: "puppynet-linux.tar.gz", BrowserDownloadURL: serverURL + "/puppynet-linux.tar.gz"}},
		})
	})
	mux.HandleFunc("/puppynet-linux.tar.gz", func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	serverURL = srv.URL

	base := t.TempDir()
	cfg := Config{
		ReleasesBaseURL: srv.URL,
		CurrentVersion:  41,
		BaseDir:         base,
		PublicKeyPEM:    pubPEM,
		HTTPClient:      srv.Client(),
	}

	var stages []string
	var failMsg string
	for ev := range Run(cfg) {
		stages = append(stages, ev.Stage)
		if ev.Stage == StageFailed {
			failMsg = ev.Error
		}
	}
	if stages[len(stages)-1] != StageFailed {
		t.Fatalf("expected the sequence to end in Failed, got %v", stages)
	}
	if failMsg != "Signature verification failed" {
		t.Fatalf("expected the verification failure message, got %q", failMsg)
	}
	if _, err := os.Stat(filepath.Join(base, "bin", "puppynet")); err == nil {
		t.Fatal("expected no binary to have been installed")
	}
}

func TestAlreadyUpToDateShortCircuits(t *testing.T) {
	_, pubPEM := generateKeyPair(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/releases/latest", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(release{TagName: "40"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := Config{
		ReleasesBaseURL: srv.URL,
		CurrentVersion:  41,
		BaseDir:         t.TempDir(),
		PublicKeyPEM:    pubPEM,
		HTTPClient:      srv.Client(),
	}
	var stages []string
	for ev := range Run(cfg) {
		stages = append(stages, ev.Stage)
	}
	if len(stages) != 2 || stages[0] != StageFetching || stages[1] != StageAlreadyUpToDate {
		t.Fatalf("expected {Fetching, AlreadyUpToDate}, got %v", stages)
	}
}
