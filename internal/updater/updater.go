// Package updater implements the staged self-update pipeline (§4.6):
// fetch release metadata, download the platform asset, unpack, verify an
// RSA-PKCS1v15/SHA-256 signature against a baked-in public key, and
// install.
package updater

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/j45k4/puppynet/internal/metrics"
)

// Stage names, in the strict order §4.6 guarantees.
const (
	StageFetching         = "fetching"
	StageAlreadyUpToDate  = "already_up_to_date"
	StageDownloading      = "downloading"
	StageUnpacking        = "unpacking"
	StageVerifying        = "verifying"
	StageInstalling       = "installing"
	StageCompleted        = "completed"
	StageFailed           = "failed"
	minFreeBytesForUpdate = 64 << 20
)

// Event is one UpdateProgress emission.
type Event struct {
	Stage    string
	Filename string
	Version  string
	Error    string
}

// release is the GitHub-style release metadata shape (§6).
type release struct {
	TagName string  `json:"tag_name"`
	Assets  []asset `json:"assets"`
}

type asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Config parameterizes one Update run.
type Config struct {
	// ReleasesBaseURL is the upstream host, e.g.
	// "https://api.github.com/repos/acme/puppynet".
	ReleasesBaseURL string
	CurrentVersion  uint32
	// Version, if set, pins the update to a specific tag instead of
	// "latest".
	Version string
	BaseDir string // ~/.puppynet
	PublicKeyPEM []byte
	HTTPClient   *http.Client
}

// Run executes the staged pipeline, publishing Events on a channel it
// creates and closes after the terminal event (mirrors scan.Run's shape
// per §4.6/§4.3 symmetry).
func Run(cfg Config) <-chan Event {
	events := make(chan Event, 8)
	go func() {
		defer close(events)
		runUpdate(cfg, events)
	}()
	return events
}

func runUpdate(cfg Config, events chan<- Event) {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	events <- Event{Stage: StageFetching}
	rel, err := fetchRelease(client, cfg.ReleasesBaseURL, cfg.Version)
	if err != nil {
		fail(events, "fetching", err)
		return
	}

	if cfg.Version == "" {
		if v, convErr := strconv.ParseUint(rel.TagName, 10, 32); convErr == nil && uint32(v) <= cfg.CurrentVersion {
			events <- Event{Stage: StageAlreadyUpToDate, Version: rel.TagName}
			metrics.UpdatesTotal.WithLabelValues(StageAlreadyUpToDate).Inc()
			return
		}
	}

	a, err := selectAsset(rel.Assets)
	if err != nil {
		fail(events, "selecting asset", err)
		return
	}

	if err := checkDiskSpace(cfg.BaseDir); err != nil {
		fail(events, "checking disk space", err)
		return
	}

	events <- Event{Stage: StageDownloading, Filename: a.Name}
	stagingPath := filepath.Join(cfg.BaseDir, a.Name)
	if err := download(client, a.BrowserDownloadURL, stagingPath); err != nil {
		fail(events, "downloading", err)
		return
	}

	events <- Event{Stage: StageUnpacking}
	appDir := filepath.Join(cfg.BaseDir, "staging")
	if err := unpack(stagingPath, appDir); err != nil {
		fail(events, "unpacking", err)
		return
	}

	events <- Event{Stage: StageVerifying}
	binPath, sigPath, err := locateBinaryAndSignature(appDir)
	if err != nil {
		fail(events, "locating binary/signature", err)
		return
	}
	if err := verifySignature(cfg.PublicKeyPEM, binPath, sigPath); err != nil {
		events <- Event{Stage: StageFailed, Error: "Signature verification failed"}
		metrics.UpdatesTotal.WithLabelValues(StageFailed).Inc()
		log.WithError(err).Warn("Update signature verification failed")
		return
	}

	events <- Event{Stage: StageInstalling}
	if err := install(cfg.BaseDir, binPath, sigPath); err != nil {
		fail(events, "installing", err)
		return
	}
	os.Remove(stagingPath)

	events <- Event{Stage: StageCompleted, Version: rel.TagName}
	metrics.UpdatesTotal.WithLabelValues(StageCompleted).Inc()
}

func fail(events chan<- Event, what string, err error) {
	events <- Event{Stage: StageFailed, Error: fmt.Sprintf("%s: %v", what, err)}
	metrics.UpdatesTotal.WithLabelValues(StageFailed).Inc()
}

func fetchRelease(client *http.Client, baseURL, version string) (release, error) {
	url := strings.TrimRight(baseURL, "/") + "/releases/latest"
	if version != "" {
		url = strings.TrimRight(baseURL, "/") + "/releases/tags/" + version
	}
	resp, err := client.Get(url)
	if err != nil {
		return release{}, errors.Wrap(err, "GET release metadata")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return release{}, errors.Errorf("release metadata request returned %s", resp.Status)
	}
	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return release{}, errors.Wrap(err, "decode release metadata")
	}
	return rel, nil
}

func platformToken() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	case "windows":
		return "windows"
	default:
		return "linux"
	}
}

func selectAsset(assets []asset) (asset, error) {
	token := platformToken()
	for _, a := range assets {
		if strings.Contains(strings.ToLower(a.Name), token) {
			return a, nil
		}
	}
	return asset{}, errors.Errorf("no release asset matching platform %q", token)
}

func checkDiskSpace(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "create base directory")
	}
	free, err := freeBytes(dir)
	if err != nil {
		return errors.Wrap(err, "stat free space")
	}
	if free < minFreeBytesForUpdate {
		return errors.New("not enough disk space")
	}
	return nil
}

func download(client *http.Client, url, dest string) error {
	resp, err := client.Get(url)
	if err != nil {
		return errors.Wrap(err, "GET asset")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("asset download returned %s", resp.Status)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return errors.Wrap(err, "create staging directory")
	}
	f, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "create staging file")
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return errors.Wrap(err, "write staging file")
	}
	return nil
}

// unpack dispatches on file extension: .zip flattens (strip directories,
// extract by basename); .tar.gz preserves relative paths (§4.6 step 5).
func unpack(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0700); err != nil {
		return errors.Wrap(err, "create unpack destination")
	}
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return unpackZipFlat(archivePath, destDir)
	case strings.HasSuffix(archivePath, ".tar.gz") || strings.HasSuffix(archivePath, ".tgz"):
		return unpackTarGz(archivePath, destDir)
	default:
		return errors.Errorf("unrecognized archive format: %s", archivePath)
	}
}

func unpackZipFlat(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return errors.Wrap(err, "open zip archive")
	}
	defer r.Close()
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if err := extractZipEntry(f, filepath.Join(destDir, filepath.Base(f.Name))); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return errors.Wrapf(err, "open zip entry %q", f.Name)
	}
	defer rc.Close()
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
	if err != nil {
		return errors.Wrapf(err, "create %q", destPath)
	}
	defer out.Close()
	_, err = io.Copy(out, rc)
	return errors.Wrapf(err, "write %q", destPath)
}

func unpackTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrap(err, "open tar.gz archive")
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "open gzip stream")
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "read tar entry")
		}
		dest := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, 0700); err != nil {
				return errors.Wrapf(err, "mkdir %q", dest)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
				return errors.Wrapf(err, "mkdir %q", filepath.Dir(dest))
			}
			out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return errors.Wrapf(err, "create %q", dest)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errors.Wrapf(err, "write %q", dest)
			}
			out.Close()
		}
	}
}

var knownBinaryNames = []string{"puppynet", "puppynet.exe"}

func locateBinaryAndSignature(appDir string) (binPath, sigPath string, err error) {
	for _, name := range knownBinaryNames {
		p := filepath.Join(appDir, name)
		if _, statErr := os.Stat(p); statErr == nil {
			binPath = p
			break
		}
	}
	if binPath == "" {
		return "", "", errors.Errorf("no binary named one of %v found in %q", knownBinaryNames, appDir)
	}

	for _, candidate := range []string{binPath + ".sig", filepath.Join(appDir, "puppynet.sig")} {
		if _, statErr := os.Stat(candidate); statErr == nil {
			sigPath = candidate
			break
		}
	}
	if sigPath == "" {
		entries, readErr := os.ReadDir(appDir)
		if readErr == nil {
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".sig") {
					sigPath = filepath.Join(appDir, e.Name())
					break
				}
			}
		}
	}
	if sigPath == "" {
		return "", "", errors.Errorf("no .sig file found in %q", appDir)
	}
	return binPath, sigPath, nil
}

func verifySignature(publicKeyPEM []byte, binPath, sigPath string) error {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return errors.New("invalid PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return errors.Wrap(err, "parse public key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return errors.New("baked-in public key is not RSA")
	}

	binData, err := os.ReadFile(binPath)
	if err != nil {
		return errors.Wrap(err, "read binary")
	}
	sigData, err := os.ReadFile(sigPath)
	if err != nil {
		return errors.Wrap(err, "read signature")
	}

	digest := sha256.Sum256(binData)
	return rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sigData)
}

func install(baseDir, binPath, sigPath string) error {
	binDir := filepath.Join(baseDir, "bin")
	if err := os.MkdirAll(binDir, 0700); err != nil {
		return errors.Wrap(err, "create bin directory")
	}
	dest := filepath.Join(binDir, filepath.Base(binPath))
	data, err := os.ReadFile(binPath)
	if err != nil {
		return errors.Wrap(err, "read verified binary")
	}
	if err := os.WriteFile(dest, data, 0755); err != nil {
		return errors.Wrap(err, "install binary")
	}
	os.Remove(binPath)
	os.Remove(sigPath)
	return nil
}
