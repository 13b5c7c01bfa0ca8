package service

import (
	"math/bits"
	"math/rand"
	"slices"
	"sync"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
	"github.com/sirupsen/logrus"
)

type ProxyRotator interface {
	Lease(accountID string) (models.ProxyLease, bool)
	Stats() ProxyStats
}

type ProxyStats struct {
	Size     int `json:"size"`
	Used     int `json:"used"`
	Recycles int `json:"recycles"`
}

// proxyRotator keeps the pool in memory and tracks use in a bitset. Only the
// bitset and the pool fingerprint are persisted.
type proxyRotator struct {
	mu          sync.Mutex
	repo        repository.ProxyRepository
	log         *logrus.Entry
	rnd         *rand.Rand
	pool        []models.ProxyLease
	fingerprint string
	used        []uint64
	recycles    int
}

func NewProxyRotator(repo repository.ProxyRepository, log *logrus.Entry, rnd *rand.Rand) (ProxyRotator, error) {
	pool, err := repo.LoadPool()
	if err != nil {
		return nil, err
	}
	p := &proxyRotator{
		repo:        repo,
		log:         log,
		rnd:         rnd,
		pool:        pool,
		fingerprint: repository.PoolFingerprint(pool),
		used:        make([]uint64, (len(pool)+63)/64),
	}

	state, err := repo.LoadState()
	if err != nil {
		return nil, err
	}
	if p.matches(state) {
		copy(p.used, state.Used)
	} else if state.Fingerprint != "" {
		log.WithField("size", len(pool)).Info("proxy pool changed, resetting used set")
	}
	return p, nil
}

// Lease hands out a random unused proxy and marks it used. When every proxy
// is used the pool recycles first. An empty pool returns false and the
// caller connects directly. The used set is re-read from disk under the
// pool's lock so leases taken by other processes count too.
func (p *proxyRotator) Lease(accountID string) (models.ProxyLease, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.pool) == 0 {
		return models.ProxyLease{}, false
	}

	idx := -1
	err := p.repo.UpdateState(func(state *repository.ProxyState) error {
		if p.matches(*state) {
			copy(p.used, state.Used)
		}
		idx = p.pick(accountID)
		*state = repository.ProxyState{
			Fingerprint: p.fingerprint,
			Size:        len(p.pool),
			Used:        slices.Clone(p.used),
		}
		return nil
	})
	if err != nil {
		p.log.WithError(err).Error("failed to persist proxy state")
		if idx < 0 {
			idx = p.pick(accountID)
		}
	}

	p.log.WithFields(logrus.Fields{
		"account_id": accountID,
		"proxy":      p.pool[idx].Address(),
	}).Debug("proxy leased")
	return p.pool[idx], true
}

func (p *proxyRotator) matches(state repository.ProxyState) bool {
	return state.Fingerprint == p.fingerprint && state.Size == len(p.pool) && len(state.Used) == len(p.used)
}

// pick marks a random unused slot, recycling the pool when none is left.
func (p *proxyRotator) pick(accountID string) int {
	free := p.unused()
	if len(free) == 0 {
		for i := range p.used {
			p.used[i] = 0
		}
		p.recycles++
		p.log.WithFields(logrus.Fields{
			"account_id": accountID,
			"size":       len(p.pool),
			"cause":      apperr.ErrProxyPoolEmpty.Error(),
		}).Warn("proxy pool recycled")
		free = p.unused()
	}

	idx := free[p.rnd.Intn(len(free))]
	p.used[idx/64] |= 1 << (uint(idx) % 64)
	return idx
}

func (p *proxyRotator) unused() []int {
	var free []int
	for i := range p.pool {
		if p.used[i/64]&(1<<(uint(i)%64)) == 0 {
			free = append(free, i)
		}
	}
	return free
}

func (p *proxyRotator) Stats() ProxyStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	used := 0
	for _, w := range p.used {
		used += bits.OnesCount64(w)
	}
	return ProxyStats{Size: len(p.pool), Used: used, Recycles: p.recycles}
}
