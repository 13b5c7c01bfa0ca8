package service

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/internal/repository"
)

type SelectionService interface {
	PickContent(accountID string) (models.ContentItem, error)
	MatchAffiliate(contentID, accountID string) (models.AffiliateItem, error)
}

type selectionService struct {
	contents    repository.ContentRepository
	allowShared bool

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSelectionService(contents repository.ContentRepository, allowShared bool, rnd *rand.Rand) SelectionService {
	return &selectionService{
		contents:    contents,
		allowShared: allowShared,
		rnd:         rnd,
	}
}

// PickContent chooses uniformly among the account's eligible items that are
// not in its recent history. Owned items come first; shared items are the
// fallback. When history excludes everything the full eligible set is used.
func (s *selectionService) PickContent(accountID string) (models.ContentItem, error) {
	eligible := s.contents.ContentsFor(accountID)
	if len(eligible) == 0 && s.allowShared {
		eligible = s.contents.SharedContents()
	}
	if len(eligible) == 0 {
		return models.ContentItem{}, fmt.Errorf("content for account %s: %w", accountID, apperr.ErrNotFound)
	}

	recent := map[string]bool{}
	for _, id := range s.contents.Recent(accountID) {
		recent[id] = true
	}

	candidates := make([]models.ContentItem, 0, len(eligible))
	for _, c := range eligible {
		if !recent[c.ID] {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		candidates = eligible
	}
	return candidates[s.intn(len(candidates))], nil
}

// MatchAffiliate prefers an exact (content, account) pairing and falls back
// to any affiliate attached to the content.
func (s *selectionService) MatchAffiliate(contentID, accountID string) (models.AffiliateItem, error) {
	all := s.contents.AffiliatesFor(contentID)
	if len(all) == 0 {
		return models.AffiliateItem{}, apperr.ErrNoAffiliate
	}

	var exact []models.AffiliateItem
	for _, a := range all {
		if a.OwnerAccountID == accountID {
			exact = append(exact, a)
		}
	}
	if len(exact) > 0 {
		return exact[s.intn(len(exact))], nil
	}
	return all[s.intn(len(all))], nil
}

func (s *selectionService) intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}
