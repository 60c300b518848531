// Package vault keeps the encrypted multi-account credential registry.
//
// Records live in a single accounts.json whose credential fields are
// ciphertext produced by pkg/secretstore. The file is rewritten atomically
// and kept owner-only. Fields we do not understand are carried through
// load/save untouched so older and newer builds can share one file.
package vault

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/betbot/binance-vault/pkg/secretstore"
)

const accountsFile = "accounts.json"

// Account is one stored exchange account. APIKey and APISecret hold
// ciphertext, never plaintext.
type Account struct {
	Name            string
	APIKey          string
	APISecret       string
	Passphrase      string
	Testnet         bool
	PortfolioMargin bool
	Description     string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Extra keeps record fields this build does not know about.
	Extra map[string]json.RawMessage
}

// Credentials is a decrypted key pair. It is returned by value and never
// stored.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

// PublicView is an account record with every credential field stripped.
// Listing surfaces only ever see this shape; even ciphertext stays inside
// the vault.
type PublicView struct {
	Name            string
	Testnet         bool
	PortfolioMargin bool
	Description     string
	HasPassphrase   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func publicView(a *Account) PublicView {
	return PublicView{
		Name:            a.Name,
		Testnet:         a.Testnet,
		PortfolioMargin: a.PortfolioMargin,
		Description:     a.Description,
		HasPassphrase:   a.Passphrase != "",
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type accountJSON struct {
	APIKey          string `json:"api_key"`
	APISecret       string `json:"api_secret"`
	Passphrase      string `json:"passphrase,omitempty"`
	Testnet         bool   `json:"testnet"`
	PortfolioMargin bool   `json:"portfolio_margin"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

var knownAccountFields = map[string]bool{
	"api_key": true, "api_secret": true, "passphrase": true, "testnet": true,
	"portfolio_margin": true, "description": true, "created_at": true, "updated_at": true,
}

// Registry is the on-disk account table. All methods are safe for concurrent
// use.
type Registry struct {
	path  string
	store *secretstore.Store

	mu       sync.Mutex
	accounts map[string]*Account
	// extra keeps top-level file fields other than "accounts".
	extra map[string]json.RawMessage
}

// Open loads the registry at dir/accounts.json, creating an empty one on
// first use. The secret store encrypts credentials at rest.
func Open(dir string, store *secretstore.Store) (*Registry, error) {
	r := &Registry{
		path:     filepath.Join(dir, accountsFile),
		store:    store,
		accounts: make(map[string]*Account),
		extra:    make(map[string]json.RawMessage),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read accounts file")
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return errors.Wrapf(err, "parse %s", r.path)
	}
	for k, v := range top {
		if k != "accounts" {
			r.extra[k] = v
			continue
		}
		var recs map[string]json.RawMessage
		if err := json.Unmarshal(v, &recs); err != nil {
			return errors.Wrap(err, "parse accounts table")
		}
		for name, rec := range recs {
			acct, err := decodeAccount(name, rec)
			if err != nil {
				return err
			}
			r.accounts[name] = acct
		}
	}
	return nil
}

func decodeAccount(name string, raw json.RawMessage) (*Account, error) {
	var known accountJSON
	if err := json.Unmarshal(raw, &known); err != nil {
		return nil, errors.Wrapf(err, "parse account %q", name)
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, errors.Wrapf(err, "parse account %q", name)
	}
	acct := &Account{
		Name:            name,
		APIKey:          known.APIKey,
		APISecret:       known.APISecret,
		Passphrase:      known.Passphrase,
		Testnet:         known.Testnet,
		PortfolioMargin: known.PortfolioMargin,
		Description:     known.Description,
	}
	if known.CreatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, known.CreatedAt); err == nil {
			acct.CreatedAt = t
		}
	}
	if known.UpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339Nano, known.UpdatedAt); err == nil {
			acct.UpdatedAt = t
		}
	}
	for k, v := range all {
		if !knownAccountFields[k] {
			if acct.Extra == nil {
				acct.Extra = make(map[string]json.RawMessage)
			}
			acct.Extra[k] = v
		}
	}
	return acct, nil
}

func encodeAccount(a *Account) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	for k, v := range a.Extra {
		fields[k] = v
	}
	known := accountJSON{
		APIKey:          a.APIKey,
		APISecret:       a.APISecret,
		Passphrase:      a.Passphrase,
		Testnet:         a.Testnet,
		PortfolioMargin: a.PortfolioMargin,
		Description:     a.Description,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	kraw, err := json.Marshal(known)
	if err != nil {
		return nil, err
	}
	var kmap map[string]json.RawMessage
	if err := json.Unmarshal(kraw, &kmap); err != nil {
		return nil, err
	}
	for k, v := range kmap {
		fields[k] = v
	}
	return json.Marshal(fields)
}

// save rewrites the file atomically: marshal, write a sibling temp file with
// owner-only permissions, rename over the old one.
func (r *Registry) save() error {
	top := map[string]json.RawMessage{}
	for k, v := range r.extra {
		top[k] = v
	}
	recs := map[string]json.RawMessage{}
	for name, acct := range r.accounts {
		enc, err := encodeAccount(acct)
		if err != nil {
			return errors.Wrapf(err, "encode account %q", name)
		}
		recs[name] = enc
	}
	recsRaw, err := json.Marshal(recs)
	if err != nil {
		return err
	}
	top["accounts"] = recsRaw
	out, err := json.MarshalIndent(top, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return errors.Wrap(err, "create config dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(r.path), accountsFile+".*")
	if err != nil {
		return errors.Wrap(err, "create temp accounts file")
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write accounts file")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return errors.Wrap(os.Rename(tmp.Name(), r.path), "replace accounts file")
}

// NewAccount carries the fields of an add request. Credentials arrive in
// plaintext and are encrypted before anything is stored.
type NewAccount struct {
	Name            string
	APIKey          string
	APISecret       string
	Passphrase      string
	Testnet         bool
	PortfolioMargin bool
	Description     string
}

// Add stores a new account, encrypting every credential field. It refuses to
// overwrite an existing record.
func (r *Registry) Add(req NewAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[req.Name]; ok {
		return &DuplicateAccountError{Name: req.Name}
	}
	encKey, err := r.store.Encrypt(req.APIKey)
	if err != nil {
		return errors.Wrap(err, "encrypt api key")
	}
	encSecret, err := r.store.Encrypt(req.APISecret)
	if err != nil {
		return errors.Wrap(err, "encrypt api secret")
	}
	acct := &Account{
		Name:            req.Name,
		APIKey:          encKey,
		APISecret:       encSecret,
		Testnet:         req.Testnet,
		PortfolioMargin: req.PortfolioMargin,
		Description:     req.Description,
	}
	if req.Passphrase != "" {
		enc, err := r.store.Encrypt(req.Passphrase)
		if err != nil {
			return errors.Wrap(err, "encrypt passphrase")
		}
		acct.Passphrase = enc
	}
	now := time.Now().UTC()
	acct.CreatedAt, acct.UpdatedAt = now, now
	r.accounts[req.Name] = acct
	if err := r.save(); err != nil {
		delete(r.accounts, req.Name)
		return err
	}
	return nil
}

// Update is a partial update: nil fields keep their current value.
type Update struct {
	APIKey          *string
	APISecret       *string
	Passphrase      *string
	Testnet         *bool
	PortfolioMargin *bool
	Description     *string
}

// Update applies a partial update to an existing account and persists it.
func (r *Registry) Update(name string, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[name]
	if !ok {
		return &AccountNotFoundError{Name: name, Known: r.namesLocked()}
	}
	prev := *acct
	if upd.APIKey != nil {
		enc, err := r.store.Encrypt(*upd.APIKey)
		if err != nil {
			return errors.Wrap(err, "encrypt api key")
		}
		acct.APIKey = enc
	}
	if upd.APISecret != nil {
		enc, err := r.store.Encrypt(*upd.APISecret)
		if err != nil {
			return errors.Wrap(err, "encrypt api secret")
		}
		acct.APISecret = enc
	}
	if upd.Passphrase != nil {
		if *upd.Passphrase == "" {
			acct.Passphrase = ""
		} else {
			enc, err := r.store.Encrypt(*upd.Passphrase)
			if err != nil {
				return errors.Wrap(err, "encrypt passphrase")
			}
			acct.Passphrase = enc
		}
	}
	if upd.Testnet != nil {
		acct.Testnet = *upd.Testnet
	}
	if upd.PortfolioMargin != nil {
		acct.PortfolioMargin = *upd.PortfolioMargin
	}
	if upd.Description != nil {
		acct.Description = *upd.Description
	}
	acct.UpdatedAt = time.Now().UTC()
	if err := r.save(); err != nil {
		*acct = prev
		return err
	}
	return nil
}

// Remove deletes an account record.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[name]
	if !ok {
		return &AccountNotFoundError{Name: name, Known: r.namesLocked()}
	}
	delete(r.accounts, name)
	if err := r.save(); err != nil {
		r.accounts[name] = acct
		return err
	}
	return nil
}

// Get returns a copy of the stored record. Credentials stay encrypted.
func (r *Registry) Get(name string) (Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[name]
	if !ok {
		return Account{}, &AccountNotFoundError{Name: name, Known: r.namesLocked()}
	}
	return *acct, nil
}

// List returns credential-free views of all records sorted by name.
func (r *Registry) List() []PublicView {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PublicView, 0, len(r.accounts))
	for _, acct := range r.accounts {
		out = append(out, publicView(acct))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// View returns the credential-free view of one record.
func (r *Registry) View(name string) (PublicView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[name]
	if !ok {
		return PublicView{}, &AccountNotFoundError{Name: name, Known: r.namesLocked()}
	}
	return publicView(acct), nil
}

// Names returns the sorted account names.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.accounts))
	for name := range r.accounts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Credentials decrypts and returns the key pair for an account. A failed
// decrypt surfaces as *secretstore.DecryptionError, which usually means the
// master key changed.
func (r *Registry) Credentials(name string) (Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[name]
	if !ok {
		return Credentials{}, &AccountNotFoundError{Name: name, Known: r.namesLocked()}
	}
	if acct.APIKey == "" {
		return Credentials{}, &MissingCredentialError{Name: name, Field: "api key"}
	}
	if acct.APISecret == "" {
		return Credentials{}, &MissingCredentialError{Name: name, Field: "api secret"}
	}
	key, err := r.store.Decrypt(acct.APIKey)
	if err != nil {
		return Credentials{}, errors.Wrapf(err, "decrypt api key for %q", name)
	}
	secret, err := r.store.Decrypt(acct.APISecret)
	if err != nil {
		return Credentials{}, errors.Wrapf(err, "decrypt api secret for %q", name)
	}
	// an empty plaintext is as unusable as a missing field
	if key == "" {
		return Credentials{}, &MissingCredentialError{Name: name, Field: "api key"}
	}
	if secret == "" {
		return Credentials{}, &MissingCredentialError{Name: name, Field: "api secret"}
	}
	creds := Credentials{APIKey: key, APISecret: secret}
	if acct.Passphrase != "" {
		pass, err := r.store.Decrypt(acct.Passphrase)
		if err != nil {
			return Credentials{}, errors.Wrapf(err, "decrypt passphrase for %q", name)
		}
		creds.Passphrase = pass
	}
	return creds, nil
}

// Validate reports whether an account has a usable credential pair. Lookup
// and decryption failures read as false, never as errors.
func (r *Registry) Validate(name string) bool {
	creds, err := r.Credentials(name)
	return err == nil && creds.APIKey != "" && creds.APISecret != ""
}
