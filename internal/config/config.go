package config

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// DefaultBaseDirectoryPath is where puppynetd stores configuration,
	// the keypair, the catalog and the cache. It defaults to
	// $PUPPYNET_BASE if set, otherwise $HOME/lib/puppynet. Commands
	// override this via the -base flag.
	DefaultBaseDirectoryPath string
)

func init() {
	if base := os.Getenv("PUPPYNET_BASE"); base != "" {
		DefaultBaseDirectoryPath = base
	} else {
		DefaultBaseDirectoryPath = os.ExpandEnv("$HOME/lib/puppynet")
	}
}

// SharedFolder is an operator-registered FolderRule; the union of these is
// the default ACL for the owner identity (§3 of the spec). Remote peers
// never inherit these — they must be granted access explicitly.
type SharedFolder struct {
	Path  string
	Read  bool
	Write bool
}

// C holds puppynetd's configuration, loaded from a file called "config" in
// the base directory.
type C struct {
	ListenNet  string
	ListenAddr string

	// HTTPAddr, if non-empty, serves the thin JSON façade on this address.
	HTTPAddr string

	// Path to the Ed25519 keypair file. Defaults to $KEYPAIR or
	// ./peer_keypair.bin if both this and the environment variable are
	// unset.
	KeypairPath string

	// Path to the SQLite catalog file.
	CatalogPath string

	// Path to content-mirror cache. Defaults to <base>/cache.
	CacheDirectory string

	// Content-mirror durable tier: "none", "disk" or "s3".
	MirrorTier string

	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string

	// JWTSecret signs session tokens. If empty at startup, an ephemeral
	// secret is generated and a warning is logged (§6 of the spec).
	JWTSecret string

	SharedFolders []SharedFolder

	base string
}

// Load loads the configuration from the file called "config" in the
// provided base directory. The file must not be group/world readable,
// since it may carry S3 and JWT secrets.
func Load(base string) (*C, error) {
	filename := filepath.Join(base, "config")
	fi, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if fi.Mode()&0077 != 0 {
		return nil, fmt.Errorf("config.Load %q: mode is %#o, want at most %#o",
			filename, fi.Mode()&0777, fi.Mode()&0700)
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	c, err := load(f)
	if err != nil {
		return nil, err
	}
	c.base = base
	if c.KeypairPath == "" {
		if env := os.Getenv("KEYPAIR"); env != "" {
			c.KeypairPath = env
		} else {
			c.KeypairPath = "./peer_keypair.bin"
		}
	}
	if c.CatalogPath == "" {
		c.CatalogPath = filepath.Join(base, "catalog.db")
	}
	if c.CacheDirectory != "" && !filepath.IsAbs(c.CacheDirectory) {
		c.CacheDirectory = filepath.Clean(filepath.Join(base, c.CacheDirectory))
	}
	if c.MirrorTier == "" {
		c.MirrorTier = "none"
	}
	if c.JWTSecret == "" {
		c.JWTSecret = os.Getenv("JWT_SECRET")
	}
	return c, nil
}

func load(f io.Reader) (*C, error) {
	c := C{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i == -1 {
			return nil, fmt.Errorf("load: no separator in %q", line)
		}
		key, val := line[:i], strings.TrimSpace(line[i:])
		switch key {
		case "listen-net":
			c.ListenNet = val
		case "listen-addr":
			c.ListenAddr = val
		case "http-addr":
			c.HTTPAddr = val
		case "keypair-path":
			c.KeypairPath = val
		case "catalog-path":
			c.CatalogPath = val
		case "cache-directory":
			c.CacheDirectory = val
		case "mirror-tier":
			c.MirrorTier = val
		case "s3-bucket":
			c.S3Bucket = val
		case "s3-access-key":
			c.S3AccessKey = val
		case "s3-secret-key":
			c.S3SecretKey = val
		case "s3-region":
			c.S3Region = val
		case "jwt-secret":
			c.JWTSecret = val
		case "shared-folder":
			sf, err := parseSharedFolder(val)
			if err != nil {
				return nil, fmt.Errorf("load: %q: %w", val, err)
			}
			c.SharedFolders = append(c.SharedFolders, sf)
		default:
			return nil, fmt.Errorf("load: unknown key %q", key)
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	return &c, nil
}

// parseSharedFolder parses "<path> <read:bool> <write:bool>".
func parseSharedFolder(val string) (SharedFolder, error) {
	fields := strings.Fields(val)
	if len(fields) != 3 {
		return SharedFolder{}, fmt.Errorf("want \"path read write\", got %d fields", len(fields))
	}
	read, err := strconv.ParseBool(fields[1])
	if err != nil {
		return SharedFolder{}, err
	}
	write, err := strconv.ParseBool(fields[2])
	if err != nil {
		return SharedFolder{}, err
	}
	return SharedFolder{Path: fields[0], Read: read, Write: write}, nil
}

func (c *C) CacheDirectoryPath() string {
	if c.CacheDirectory != "" {
		return c.CacheDirectory
	}
	return filepath.Join(c.base, "cache")
}

// PropagationLogFilePath is the append-only log the content mirror's
// Paired store uses to guarantee eventual propagation from the fast tier
// to the durable tier, even across restarts.
func (c *C) PropagationLogFilePath() string {
	return filepath.Join(c.base, "propagation.log")
}

func (c *C) StagingDirectoryPath() string {
	return filepath.Join(c.base, "staging")
}

func (c *C) UpdateBaseDirectoryPath() string {
	return os.ExpandEnv("$HOME/.puppynet")
}

// Initialize generates an initial configuration at the given base
// directory, in the same spirit as a first-run wizard: a random local
// listen port and no shared folders (the operator adds those explicitly).
func Initialize(baseDir string) error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("%q: could not mkdir: %w", baseDir, err)
	}
	path := filepath.Join(baseDir, "config")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%q: already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("%q: could not determine if it exists: %w", path, err)
	}

	var buf bytes.Buffer
	buf.WriteString("listen-net tcp\n")
	buf.WriteString("listen-addr 0.0.0.0:0\n")
	buf.WriteString("mirror-tier none\n")

	b := make([]byte, 32)
	if n, err := rand.Read(b); err != nil || n != 32 {
		return fmt.Errorf("could not read 32 random bytes: %w", err)
	}
	fmt.Fprintf(&buf, "jwt-secret %02x\n", b)

	if err := os.WriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("config.Initialize %q: %w", path, err)
	}
	return nil
}
