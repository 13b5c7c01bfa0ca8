package repository

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maheshrc27/threadpost/internal/models"
)

const postHistoryFileName = "post_history.jsonl"

// PostHistoryRepository is the local append-only log of PostRecords.
type PostHistoryRepository interface {
	Append(rec models.PostRecord) error
	List(accountID string, limit int) ([]models.PostRecord, error)
}

type postHistoryRepository struct {
	mu   sync.Mutex
	path string
}

func NewPostHistoryRepository(dir string) PostHistoryRepository {
	return &postHistoryRepository{path: filepath.Join(dir, postHistoryFileName)}
}

func (r *postHistoryRepository) Append(rec models.PostRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal post record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open post history: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append post history: %w", err)
	}
	return f.Close()
}

// List returns the newest records first. An empty accountID matches all
// accounts; limit <= 0 returns everything.
func (r *postHistoryRepository) List(accountID string, limit int) ([]models.PostRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []models.PostRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec models.PostRecord
		// a torn trailing line from a crash is ignored
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if accountID == "" || rec.AccountID == accountID {
			all = append(all, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]models.PostRecord, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
