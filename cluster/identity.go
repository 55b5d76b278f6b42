package cluster

import (
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c360/rulecore/errors"
)

const nodeIDFile = "node_id"

// NodeIdentity is the persistent service id of this process. It is a ULID
// generated on first start and kept in the data directory, so partition
// ownership stays stable across restarts.
type NodeIdentity struct {
	id      string
	dataDir string
}

// LoadIdentity returns the identity stored in dataDir/node_id, generating it
// when absent. An override other than "" or "auto" is used as is and must be
// a valid ULID.
func LoadIdentity(dataDir, override string) (*NodeIdentity, error) {
	if dataDir == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NodeIdentity", "Load", "check data dir")
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, errors.WrapFatal(err, "NodeIdentity", "Load", "create data dir")
	}

	if override != "" && override != "auto" {
		if _, err := ulid.ParseStrict(override); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: node id %q: %v", errors.ErrInvalidConfig, override, err),
				"NodeIdentity", "Load", "parse node id override")
		}
		return &NodeIdentity{id: override, dataDir: dataDir}, nil
	}

	id, err := loadOrGenerate(dataDir)
	if err != nil {
		return nil, err
	}
	return &NodeIdentity{id: id, dataDir: dataDir}, nil
}

// ID returns the node's ULID string
func (n *NodeIdentity) ID() string { return n.id }

// DataDir returns the directory holding the identity file
func (n *NodeIdentity) DataDir() string { return n.dataDir }

func (n *NodeIdentity) String() string { return n.id }

func loadOrGenerate(dataDir string) (string, error) {
	path := filepath.Join(dataDir, nodeIDFile)

	data, err := os.ReadFile(path)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if _, err := ulid.ParseStrict(id); err != nil {
			return "", errors.WrapFatal(fmt.Errorf("%w: persisted node id %q", errors.ErrDataCorrupted, id),
				"NodeIdentity", "Load", "parse node id file")
		}
		return id, nil
	}
	if !stderrors.Is(err, os.ErrNotExist) {
		return "", errors.WrapFatal(err, "NodeIdentity", "Load", "read node id file")
	}

	id, err := NewULID()
	if err != nil {
		return "", errors.WrapFatal(err, "NodeIdentity", "Load", "generate node id")
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o640); err != nil {
		return "", errors.WrapFatal(err, "NodeIdentity", "Load", "persist node id")
	}
	return id, nil
}

// monotonic entropy keeps ids generated in the same millisecond ordered
var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// NewULID returns a fresh time ordered ULID string
func NewULID() (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
