package repository

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/maheshrc27/threadpost/internal/apperr"
	"github.com/maheshrc27/threadpost/internal/models"
	"github.com/maheshrc27/threadpost/pkg/utils"
)

// CredentialSource supplies account access tokens from outside the
// content/account files.
type CredentialSource interface {
	Credential(accountID string) (string, error)
}

// CredentialStore is a CredentialSource that can also persist refreshed tokens.
type CredentialStore interface {
	CredentialSource
	StoreCredential(accountID, token string) error
}

type AccountRepository interface {
	Load() error
	Active() []models.Account
	All() []models.Account
	Get(id string) (models.Account, error)
	SetStatus(id, status string) error
	UpdateCredential(id, token string) error
}

type accountRepository struct {
	mu       sync.RWMutex
	path     string
	creds    CredentialSource
	accounts []models.Account
}

func NewAccountRepository(path string, creds CredentialSource) AccountRepository {
	return &accountRepository{path: path, creds: creds}
}

// Load reads the account list and resolves credentials for every active
// account. A missing credential is a startup error.
func (r *accountRepository) Load() error {
	var accounts []models.Account
	found, err := utils.ReadJSON(r.path, &accounts)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("accounts file %s: %w", r.path, os.ErrNotExist)
	}

	seen := map[string]bool{}
	var missing []string
	for i := range accounts {
		a := &accounts[i]
		if a.ID == "" {
			return fmt.Errorf("accounts file %s: entry %d has no id", r.path, i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts file %s: duplicate id %s", r.path, a.ID)
		}
		seen[a.ID] = true
		if a.Status == "" {
			a.Status = models.AccountStatusActive
		}
		if a.RemoteUserID == "" {
			a.RemoteUserID = "me"
		}
		if !a.IsActive() {
			continue
		}
		token, err := r.creds.Credential(a.ID)
		if err != nil || token == "" {
			missing = append(missing, a.ID)
			continue
		}
		a.Credential = token
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing credentials for accounts: %s", strings.Join(missing, ", "))
	}

	r.mu.Lock()
	r.accounts = accounts
	r.mu.Unlock()
	return nil
}

func (r *accountRepository) Active() []models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.Account
	for _, a := range r.accounts {
		if a.IsActive() {
			out = append(out, a)
		}
	}
	return out
}

func (r *accountRepository) All() []models.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.Account(nil), r.accounts...)
}

func (r *accountRepository) Get(id string) (models.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Account{}, fmt.Errorf("account %s: %w", id, apperr.ErrNotFound)
}

func (r *accountRepository) SetStatus(id, status string) error {
	if status != models.AccountStatusActive && status != models.AccountStatusDisabled {
		return fmt.Errorf("unknown account status %q", status)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.accounts {
		if r.accounts[i].ID != id {
			continue
		}
		if status == models.AccountStatusActive && r.accounts[i].Credential == "" {
			token, err := r.creds.Credential(id)
			if err != nil || token == "" {
				return fmt.Errorf("activate %s: no credential", id)
			}
			r.accounts[i].Credential = token
		}
		r.accounts[i].Status = status
		// Credential is tagged json:"-" so tokens never reach the accounts file.
		return utils.WriteJSONAtomic(r.path, r.accounts)
	}
	return fmt.Errorf("account %s: %w", id, apperr.ErrNotFound)
}

func (r *accountRepository) UpdateCredential(id, token string) error {
	store, ok := r.creds.(CredentialStore)
	if !ok {
		return errors.New("credential source is read-only")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.accounts {
		if r.accounts[i].ID == id {
			if err := store.StoreCredential(id, token); err != nil {
				return err
			}
			r.accounts[i].Credential = token
			return nil
		}
	}
	return fmt.Errorf("account %s: %w", id, apperr.ErrNotFound)
}

// EnvCredentials reads THREADPOST_TOKEN_<ACCOUNT_ID> style variables.
type EnvCredentials struct {
	Prefix string
}

func (e EnvCredentials) Credential(accountID string) (string, error) {
	key := e.Prefix + envKey(accountID)
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s not set", key)
	}
	return v, nil
}

func envKey(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, id)
}

// EncryptedCredentials keeps AES-GCM sealed tokens in a JSON file keyed by
// account id.
type EncryptedCredentials struct {
	mu     sync.Mutex
	path   string
	secret []byte
}

func NewEncryptedCredentials(path, secret string) (*EncryptedCredentials, error) {
	if secret == "" {
		return nil, errors.New("encrypted credentials need SECRET_KEY")
	}
	return &EncryptedCredentials{path: path, secret: []byte(secret)}, nil
}

func (e *EncryptedCredentials) read() (map[string]string, error) {
	sealed := map[string]string{}
	if _, err := utils.ReadJSON(e.path, &sealed); err != nil {
		return nil, err
	}
	return sealed, nil
}

func (e *EncryptedCredentials) Credential(accountID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	sealed, err := e.read()
	if err != nil {
		return "", err
	}
	v, ok := sealed[accountID]
	if !ok {
		return "", fmt.Errorf("credential for %s: %w", accountID, apperr.ErrNotFound)
	}
	return utils.Decrypt(v, e.secret)
}

func (e *EncryptedCredentials) StoreCredential(accountID, token string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, err := utils.Encrypt([]byte(token), e.secret)
	if err != nil {
		return err
	}
	return utils.WithFileLock(e.path+".lock", func() error {
		sealed, err := e.read()
		if err != nil {
			return err
		}
		sealed[accountID] = v
		return utils.WriteJSONAtomic(e.path, sealed)
	})
}
