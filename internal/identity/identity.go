// Package identity manages this node's Ed25519 keypair and the PeerId /
// NodeId derived from it (§3 of the spec).
package identity

import (
	"encoding/hex"
	"os"
	"path/filepath"

	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NodeIDLen is the number of leading bytes of a PeerId used as the
// catalog's node_id foreign key.
const NodeIDLen = 16

// PeerID is an opaque identity derived from an Ed25519 keypair: the
// marshaled libp2p peer ID bytes (at least 32 bytes).
type PeerID []byte

// NodeID is the first NodeIDLen bytes of a PeerID, used as a catalog
// foreign key.
type NodeID [NodeIDLen]byte

// NodeIDOf truncates a PeerID down to its NodeID. Historically some
// catalog rows held longer prefixes; catalog.Open normalizes stored
// node ids when the catalog is opened (§4.2 invariant 1).
func NodeIDOf(p PeerID) NodeID {
	var id NodeID
	copy(id[:], p)
	return id
}

func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

func (p PeerID) String() string {
	return hex.EncodeToString(p)
}

// Identity is this node's Ed25519 keypair plus the PeerId/NodeId derived
// from its public key.
type Identity struct {
	Priv libp2pcrypto.PrivKey
	Pub  libp2pcrypto.PubKey

	Peer   peer.ID
	PeerID PeerID
	NodeID NodeID
}

// Load reads the keypair at path, generating and persisting a fresh
// Ed25519 keypair if the file is absent (§3: "ephemeral key generated on
// first run if absent").
func Load(path string) (*Identity, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "reading keypair %q", path)
		}
		log.WithField("path", path).Info("No keypair found, generating a new Ed25519 identity")
		return generate(path)
	}
	priv, err := libp2pcrypto.UnmarshalPrivateKey(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshaling keypair %q", path)
	}
	return fromPrivateKey(priv)
}

func generate(path string) (*Identity, error) {
	priv, _, err := libp2pcrypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, errors.Wrap(err, "generating Ed25519 key")
	}
	raw, err := libp2pcrypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "marshaling private key")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, errors.Wrapf(err, "mkdir %q", dir)
		}
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return nil, errors.Wrapf(err, "persisting keypair %q", path)
	}
	return fromPrivateKey(priv)
}

func fromPrivateKey(priv libp2pcrypto.PrivKey) (*Identity, error) {
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, errors.Wrap(err, "deriving peer id")
	}
	pidBytes := []byte(pid)
	return &Identity{
		Priv:   priv,
		Pub:    priv.GetPublic(),
		Peer:   pid,
		PeerID: PeerID(pidBytes),
		NodeID: NodeIDOf(pidBytes),
	}, nil
}
