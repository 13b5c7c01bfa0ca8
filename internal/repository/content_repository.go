package repository

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/pkg/utils"
)

const (
	contentsFileName   = "contents.json"
	affiliatesFileName = "affiliates.json"
	recentFileName     = "recent.json"
)

// ContentSource is one snapshot of the tabular content feed. Affiliates is
// optional; when nil the stored affiliates are left as they are.
type ContentSource struct {
	Contents    Table
	Affiliates  *Table
	Fingerprint string
}

type RefreshReport struct {
	Contents    int  `json:"contents"`
	Affiliates  int  `json:"affiliates"`
	Deactivated int  `json:"deactivated"`
	SkippedRows int  `json:"skipped_rows"`
	Unchanged   bool `json:"unchanged"`
}

type ContentRepository interface {
	Load() error
	Refresh(src ContentSource, force bool) (RefreshReport, error)
	RefreshAccount(accountID string, src ContentSource) (RefreshReport, error)
	ContentsFor(accountID string) []models.ContentItem
	SharedContents() []models.ContentItem
	Get(id string) (models.ContentItem, error)
	AffiliatesFor(contentID string) []models.AffiliateItem
	RecordUsage(accountID, contentID string) error
	Recent(accountID string) []string
	Fingerprint() string
}

type contentsFile struct {
	Fingerprint string                        `json:"fingerprint"`
	Items       map[string]models.ContentItem `json:"items"`
}

// contentState is one consistent snapshot of the store. A published
// snapshot is never modified; mutations build a new one from disk.
type contentState struct {
	fingerprint string
	contents    map[string]models.ContentItem
	affiliates  map[string]models.AffiliateItem
	recent      map[string][]string
}

// contentRepository owns contents, affiliates and the per-account recent-use
// ring. Every mutation takes the data directory's lock file, re-reads the
// files, applies the change and rewrites them atomically, so processes
// sharing the directory never lose each other's writes.
type contentRepository struct {
	mu    sync.Mutex
	dir   string
	depth int
	now   func() time.Time
	state *contentState
	stamp string
	// persist writes a snapshot; replaced in tests
	persist func(st *contentState) error
}

func NewContentRepository(dir string, recentDepth int) ContentRepository {
	return newContentRepository(dir, recentDepth, time.Now)
}

func newContentRepository(dir string, recentDepth int, now func() time.Time) *contentRepository {
	r := &contentRepository{
		dir:   dir,
		depth: recentDepth,
		now:   now,
		state: &contentState{
			contents:   map[string]models.ContentItem{},
			affiliates: map[string]models.AffiliateItem{},
			recent:     map[string][]string{},
		},
	}
	r.persist = r.writeState
	return r
}

func (r *contentRepository) path(name string) string {
	return filepath.Join(r.dir, name)
}

func (r *contentRepository) lockPath() string {
	return r.path(".contents.lock")
}

func (r *contentRepository) readState() (*contentState, error) {
	var cf contentsFile
	if _, err := utils.ReadJSON(r.path(contentsFileName), &cf); err != nil {
		return nil, err
	}
	affiliates := map[string]models.AffiliateItem{}
	if _, err := utils.ReadJSON(r.path(affiliatesFileName), &affiliates); err != nil {
		return nil, err
	}
	recent := map[string][]string{}
	if _, err := utils.ReadJSON(r.path(recentFileName), &recent); err != nil {
		return nil, err
	}
	if cf.Items == nil {
		cf.Items = map[string]models.ContentItem{}
	}
	return &contentState{
		fingerprint: cf.Fingerprint,
		contents:    cf.Items,
		affiliates:  affiliates,
		recent:      recent,
	}, nil
}

func (r *contentRepository) writeState(st *contentState) error {
	if err := utils.WriteJSONAtomic(r.path(contentsFileName), contentsFile{
		Fingerprint: st.fingerprint,
		Items:       st.contents,
	}); err != nil {
		return err
	}
	if err := utils.WriteJSONAtomic(r.path(affiliatesFileName), st.affiliates); err != nil {
		return err
	}
	return utils.WriteJSONAtomic(r.path(recentFileName), st.recent)
}

// fileStamp changes whenever another writer replaces one of the files.
func (r *contentRepository) fileStamp() string {
	var b strings.Builder
	for _, name := range []string{contentsFileName, affiliatesFileName, recentFileName} {
		if fi, err := os.Stat(r.path(name)); err == nil {
			fmt.Fprintf(&b, "%d:%d;", fi.ModTime().UnixNano(), fi.Size())
		} else {
			b.WriteString("-;")
		}
	}
	return b.String()
}

// reloadLocked replaces the snapshot with the files on disk. Callers hold mu.
func (r *contentRepository) reloadLocked() error {
	return utils.WithSharedFileLock(r.lockPath(), func() error {
		st, err := r.readState()
		if err != nil {
			return err
		}
		r.state, r.stamp = st, r.fileStamp()
		return nil
	})
}

func (r *contentRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadLocked()
}

// current returns the latest snapshot, picking up writes made by other
// processes. A failed reload keeps serving the previous snapshot.
func (r *contentRepository) current() *contentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fileStamp() != r.stamp {
		_ = r.reloadLocked()
	}
	return r.state
}

// mutate runs fn on a fresh copy of the on-disk state under the lock file.
// The copy is written and published only when fn reports a change and the
// write succeeds; on any error memory keeps the previous snapshot.
func (r *contentRepository) mutate(fn func(st *contentState) (bool, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return utils.WithFileLock(r.lockPath(), func() error {
		st, err := r.readState()
		if err != nil {
			return err
		}
		changed, err := fn(st)
		if err != nil {
			return err
		}
		if changed {
			if err := r.persist(st); err != nil {
				return err
			}
		}
		r.state, r.stamp = st, r.fileStamp()
		return nil
	})
}

func (r *contentRepository) Refresh(src ContentSource, force bool) (RefreshReport, error) {
	var report RefreshReport
	err := r.mutate(func(st *contentState) (bool, error) {
		if !force && src.Fingerprint != "" && src.Fingerprint == st.fingerprint {
			report = RefreshReport{Unchanged: true}
			return false, nil
		}
		var err error
		report, err = r.apply(st, src, func(owner string) bool { return true })
		if err != nil {
			return false, err
		}
		st.fingerprint = src.Fingerprint
		return true, nil
	})
	return report, err
}

// RefreshAccount applies only the rows owned by accountID. The stored
// fingerprint is left alone because the rest of the source was not applied.
func (r *contentRepository) RefreshAccount(accountID string, src ContentSource) (RefreshReport, error) {
	var report RefreshReport
	err := r.mutate(func(st *contentState) (bool, error) {
		var err error
		report, err = r.apply(st, src, func(owner string) bool { return owner == accountID })
		return err == nil, err
	})
	return report, err
}

// apply parses src into st, replacing the items whose owner matches inScope.
func (r *contentRepository) apply(st *contentState, src ContentSource, inScope func(owner string) bool) (RefreshReport, error) {
	var report RefreshReport

	items, skipped, err := parseContents(src.Contents, r.now().UTC())
	if err != nil {
		return report, err
	}
	report.SkippedRows += skipped

	var affiliates map[string]models.AffiliateItem
	if src.Affiliates != nil {
		affiliates, skipped, err = parseAffiliates(*src.Affiliates)
		if err != nil {
			return report, err
		}
		report.SkippedRows += skipped
	}

	for id, old := range st.contents {
		if !inScope(old.OwnerAccountID) {
			continue
		}
		if _, kept := items[id]; !kept && old.Active {
			old.Active = false
			old.UpdatedAt = r.now().UTC()
			st.contents[id] = old
			report.Deactivated++
		}
	}
	for id, item := range items {
		if !inScope(item.OwnerAccountID) {
			continue
		}
		if old, ok := st.contents[id]; ok {
			item.UsageCount = old.UsageCount
			if sameContent(old, item) && old.Active {
				item.UpdatedAt = old.UpdatedAt
			}
		}
		st.contents[id] = item
		report.Contents++
	}

	if affiliates != nil {
		nextAff := make(map[string]models.AffiliateItem, len(affiliates))
		for id, a := range st.affiliates {
			if !inScope(a.OwnerAccountID) {
				nextAff[id] = a
			}
		}
		for id, a := range affiliates {
			if inScope(a.OwnerAccountID) {
				nextAff[id] = a
				report.Affiliates++
			}
		}
		st.affiliates = nextAff
	}
	return report, nil
}

func sameContent(a, b models.ContentItem) bool {
	return a.OwnerAccountID == b.OwnerAccountID &&
		a.BodyText == b.BodyText &&
		a.UseMedia == b.UseMedia &&
		slices.Equal(a.MediaRefs, b.MediaRefs)
}

func parseContents(t Table, now time.Time) (map[string]models.ContentItem, int, error) {
	cols := t.columns()
	if err := cols.require("contents", "account_id", "content_id", "body_text"); err != nil {
		return nil, 0, err
	}

	items := make(map[string]models.ContentItem, len(t.Rows))
	skipped := 0
	for _, row := range t.Rows {
		id := cols.get(row, "content_id")
		owner := cols.get(row, "account_id")
		body := cols.get(row, "body_text")
		if id == "" || owner == "" || body == "" {
			skipped++
			continue
		}
		if _, dup := items[id]; dup {
			skipped++
			continue
		}
		useMedia, refs := parseImageUsage(cols.get(row, "image_usage"))
		items[id] = models.ContentItem{
			ID:             id,
			OwnerAccountID: owner,
			BodyText:       body,
			MediaRefs:      refs,
			UseMedia:       useMedia,
			Active:         true,
			UpdatedAt:      now,
		}
	}
	return items, skipped, nil
}

// parseImageUsage reads the optional image_usage column: a yes/no flag, or
// an explicit ';' or '|' separated list of media references.
func parseImageUsage(v string) (bool, []string) {
	switch strings.ToLower(v) {
	case "", "yes", "y", "true", "1", "on", "あり", "有":
		return true, nil
	case "no", "n", "false", "0", "off", "none", "なし", "無":
		return false, nil
	}
	var refs []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ';' || r == '|' }) {
		if p := strings.TrimSpace(part); p != "" {
			refs = append(refs, p)
		}
	}
	return true, refs
}

func parseAffiliates(t Table) (map[string]models.AffiliateItem, int, error) {
	cols := t.columns()
	if err := cols.require("affiliates", "content_id", "reply_text"); err != nil {
		return nil, 0, err
	}

	items := make(map[string]models.AffiliateItem, len(t.Rows))
	skipped := 0
	for _, row := range t.Rows {
		a := models.AffiliateItem{
			ID:             cols.get(row, "affiliate_id"),
			OwnerAccountID: cols.get(row, "account_id"),
			ContentID:      cols.get(row, "content_id"),
			ReplyText:      cols.get(row, "reply_text"),
			PromoURL:       cols.get(row, "promo_url"),
		}
		if a.ContentID == "" || a.ReplyText == "" {
			skipped++
			continue
		}
		if a.ID == "" {
			a.ID = affiliateID(a)
		}
		if _, dup := items[a.ID]; dup {
			skipped++
			continue
		}
		items[a.ID] = a
	}
	return items, skipped, nil
}

// affiliateID derives a stable id so re-importing the same row keeps its id.
func affiliateID(a models.AffiliateItem) string {
	sum := sha1.Sum([]byte(strings.Join([]string{a.OwnerAccountID, a.ContentID, a.ReplyText, a.PromoURL}, "\x1f")))
	return "aff-" + hex.EncodeToString(sum[:])[:12]
}

func (r *contentRepository) ContentsFor(accountID string) []models.ContentItem {
	return r.current().filter(func(c models.ContentItem) bool { return c.OwnerAccountID == accountID })
}

func (r *contentRepository) SharedContents() []models.ContentItem {
	return r.current().filter(models.ContentItem.Shared)
}

func (st *contentState) filter(keep func(models.ContentItem) bool) []models.ContentItem {
	var out []models.ContentItem
	for _, c := range st.contents {
		if c.Active && keep(c) {
			out = append(out, cloneContent(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func cloneContent(c models.ContentItem) models.ContentItem {
	c.MediaRefs = slices.Clone(c.MediaRefs)
	return c
}

func (r *contentRepository) Get(id string) (models.ContentItem, error) {
	c, ok := r.current().contents[id]
	if !ok {
		return models.ContentItem{}, fmt.Errorf("content %s: %w", id, apperr.ErrNotFound)
	}
	return cloneContent(c), nil
}

func (r *contentRepository) AffiliatesFor(contentID string) []models.AffiliateItem {
	var out []models.AffiliateItem
	for _, a := range r.current().affiliates {
		if a.ContentID == contentID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *contentRepository) RecordUsage(accountID, contentID string) error {
	return r.mutate(func(st *contentState) (bool, error) {
		c, ok := st.contents[contentID]
		if !ok {
			return false, fmt.Errorf("record usage of %s: %w", contentID, apperr.ErrNotFound)
		}
		c.UsageCount++
		st.contents[contentID] = c

		if r.depth > 0 {
			ring := append(st.recent[accountID], contentID)
			if len(ring) > r.depth {
				ring = ring[len(ring)-r.depth:]
			}
			st.recent[accountID] = slices.Clone(ring)
		}
		return true, nil
	})
}

func (r *contentRepository) Recent(accountID string) []string {
	return slices.Clone(r.current().recent[accountID])
}

func (r *contentRepository) Fingerprint() string {
	return r.current().fingerprint
}
