package repository

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/pkg/utils"
)

// ProxyState is the persisted part of the proxy pool: which slots are used.
// Leases themselves, and their credentials, are never written.
type ProxyState struct {
	Fingerprint string   `json:"fingerprint"`
	Size        int      `json:"size"`
	Used        []uint64 `json:"used"`
}

type ProxyRepository interface {
	LoadPool() ([]models.ProxyLease, error)
	LoadState() (ProxyState, error)
	SaveState(state ProxyState) error
	// UpdateState runs fn on the stored state under the pool's lock file and
	// saves the result, so concurrent processes never drop each other's leases.
	UpdateState(fn func(state *ProxyState) error) error
}

type proxyRepository struct {
	listPath  string
	statePath string
}

func NewProxyRepository(listPath, statePath string) ProxyRepository {
	return &proxyRepository{listPath: listPath, statePath: statePath}
}

// LoadPool reads host:port[:user:pass] lines. Blank lines and # comments are
// ignored; a missing list file is an empty pool.
func (r *proxyRepository) LoadPool() ([]models.ProxyLease, error) {
	f, err := os.Open(r.listPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pool []models.ProxyLease
	scanner := bufio.NewScanner(f)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lease, err := ParseProxyLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", r.listPath, n, err)
		}
		pool = append(pool, lease)
	}
	return pool, scanner.Err()
}

func ParseProxyLine(line string) (models.ProxyLease, error) {
	parts := strings.Split(line, ":")
	if len(parts) != 2 && len(parts) != 4 {
		return models.ProxyLease{}, apperr.Errorf(apperr.KindDataFormat, "proxy.parse",
			"expected host:port or host:port:user:pass")
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return models.ProxyLease{}, apperr.Errorf(apperr.KindDataFormat, "proxy.parse",
			"invalid port %q", parts[1])
	}
	lease := models.ProxyLease{Endpoint: parts[0], Port: port}
	if len(parts) == 4 {
		lease.Username, lease.Password = parts[2], parts[3]
	}
	return lease, nil
}

// PoolFingerprint identifies a pool by its addresses only.
func PoolFingerprint(pool []models.ProxyLease) string {
	h := sha256.New()
	for _, l := range pool {
		h.Write([]byte(l.Address()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (r *proxyRepository) LoadState() (ProxyState, error) {
	var state ProxyState
	if _, err := utils.ReadJSON(r.statePath, &state); err != nil {
		return ProxyState{}, err
	}
	return state, nil
}

func (r *proxyRepository) SaveState(state ProxyState) error {
	return utils.WriteJSONAtomic(r.statePath, state)
}

func (r *proxyRepository) UpdateState(fn func(state *ProxyState) error) error {
	return utils.WithFileLock(r.statePath+".lock", func() error {
		state, err := r.LoadState()
		if err != nil {
			return err
		}
		if err := fn(&state); err != nil {
			return err
		}
		return r.SaveState(state)
	})
}
