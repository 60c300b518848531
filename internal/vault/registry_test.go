package vault

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/betbot/binance-vault/pkg/secretstore"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := secretstore.NewWithKey(make([]byte, 32))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	r, err := Open(dir, store)
	if err != nil {
		t.Fatalf("open registry: %v", err)
	}
	return r, dir
}

func addAccount(t *testing.T, r *Registry, name, key, secret string) {
	t.Helper()
	if err := r.Add(NewAccount{Name: name, APIKey: key, APISecret: secret}); err != nil {
		t.Fatalf("add %s: %v", name, err)
	}
}

func TestAddGetCredentials(t *testing.T) {
	r, _ := newTestRegistry(t)
	err := r.Add(NewAccount{
		Name:            "main",
		APIKey:          "key-1",
		APISecret:       "secret-1",
		PortfolioMargin: true,
		Description:     "primary trading account",
	})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	acct, err := r.Get("main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.APIKey == "key-1" || acct.APISecret == "secret-1" {
		t.Fatal("stored credentials must be encrypted")
	}
	if !acct.PortfolioMargin || acct.Testnet {
		t.Fatalf("flags wrong: %+v", acct)
	}
	if acct.Description != "primary trading account" {
		t.Fatalf("description = %q", acct.Description)
	}
	if acct.CreatedAt.IsZero() || acct.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}

	creds, err := r.Credentials("main")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.APIKey != "key-1" || creds.APISecret != "secret-1" {
		t.Fatalf("decrypted credentials wrong: %+v", creds)
	}
}

func TestAddDuplicate(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "main", "k", "s")
	err := r.Add(NewAccount{Name: "main", APIKey: "k2", APISecret: "s2"})
	var dup *DuplicateAccountError
	if !errors.As(err, &dup) {
		t.Fatalf("want DuplicateAccountError, got %v", err)
	}
	// the original record must be intact
	creds, err := r.Credentials("main")
	if err != nil || creds.APIKey != "k" {
		t.Fatalf("original record damaged: %v %+v", err, creds)
	}
}

func TestNotFoundListsKnown(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "alpha", "k", "s")
	addAccount(t, r, "beta", "k", "s")

	_, err := r.Get("gamma")
	var nf *AccountNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want AccountNotFoundError, got %v", err)
	}
	if len(nf.Known) != 2 || nf.Known[0] != "alpha" || nf.Known[1] != "beta" {
		t.Fatalf("known names wrong: %v", nf.Known)
	}
}

func TestUpdatePartial(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "main", "k", "s")

	newKey := "k2"
	pm := true
	if err := r.Update("main", Update{APIKey: &newKey, PortfolioMargin: &pm}); err != nil {
		t.Fatalf("update: %v", err)
	}
	creds, err := r.Credentials("main")
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.APIKey != "k2" || creds.APISecret != "s" {
		t.Fatalf("partial update wrong: %+v", creds)
	}
	acct, _ := r.Get("main")
	if !acct.PortfolioMargin {
		t.Fatal("portfolio margin flag not updated")
	}
	if acct.UpdatedAt.Before(acct.CreatedAt) {
		t.Fatal("updated_at not refreshed")
	}

	err = r.Update("missing", Update{APIKey: &newKey})
	var nf *AccountNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("want AccountNotFoundError, got %v", err)
	}
}

func TestUpdateDescriptionOnly(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "main", "k", "s")

	desc := "rotated to new box"
	if err := r.Update("main", Update{Description: &desc}); err != nil {
		t.Fatalf("update: %v", err)
	}
	acct, _ := r.Get("main")
	if acct.Description != desc {
		t.Fatalf("description = %q", acct.Description)
	}
	creds, err := r.Credentials("main")
	if err != nil || creds.APIKey != "k" || creds.APISecret != "s" {
		t.Fatalf("credentials must be untouched: %v %+v", err, creds)
	}
}

func TestPassphraseRoundtrip(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Add(NewAccount{Name: "main", APIKey: "k", APISecret: "s", Passphrase: "hunter2"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	acct, _ := r.Get("main")
	if acct.Passphrase == "" || acct.Passphrase == "hunter2" {
		t.Fatal("stored passphrase must be encrypted")
	}
	creds, err := r.Credentials("main")
	if err != nil || creds.Passphrase != "hunter2" {
		t.Fatalf("passphrase roundtrip: %v %+v", err, creds)
	}
}

func TestRemove(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "main", "k", "s")
	if err := r.Remove("main"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if names := r.Names(); len(names) != 0 {
		t.Fatalf("remove left %v", names)
	}
	var nf *AccountNotFoundError
	if err := r.Remove("main"); !errors.As(err, &nf) {
		t.Fatalf("want AccountNotFoundError, got %v", err)
	}
}

func TestPersistenceRoundtrip(t *testing.T) {
	dir := t.TempDir()
	store, _ := secretstore.NewWithKey(make([]byte, 32))

	r1, err := Open(dir, store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r1.Add(NewAccount{Name: "main", APIKey: "k", APISecret: "s", Testnet: true})
	r1.Add(NewAccount{Name: "sub", APIKey: "k2", APISecret: "s2", PortfolioMargin: true})

	r2, err := Open(dir, store)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	accts := r2.List()
	if len(accts) != 2 || accts[0].Name != "main" || accts[1].Name != "sub" {
		t.Fatalf("list after reopen: %+v", accts)
	}
	if !accts[0].Testnet || accts[0].PortfolioMargin {
		t.Fatalf("main flags lost: %+v", accts[0])
	}
	creds, err := r2.Credentials("sub")
	if err != nil || creds.APISecret != "s2" {
		t.Fatalf("credentials after reopen: %v %+v", err, creds)
	}
}

func TestListStripsCredentials(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Add(NewAccount{Name: "main", APIKey: "key-1", APISecret: "secret-1", Passphrase: "hunter2"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	views := r.List()
	if len(views) != 1 || views[0].Name != "main" {
		t.Fatalf("list: %+v", views)
	}
	if !views[0].HasPassphrase {
		t.Fatal("passphrase presence lost")
	}
	single, err := r.View("main")
	if err != nil || single != views[0] {
		t.Fatalf("view: %v %+v", err, single)
	}

	// neither plaintext nor ciphertext may appear in the listed shape
	acct, _ := r.Get("main")
	raw, err := json.Marshal(views)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, secret := range []string{"key-1", "secret-1", "hunter2", acct.APIKey, acct.APISecret, acct.Passphrase} {
		if strings.Contains(string(raw), secret) {
			t.Fatalf("listing leaks %q", secret)
		}
	}
}

func TestAccountsFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file modes not enforced on windows")
	}
	r, dir := newTestRegistry(t)
	addAccount(t, r, "main", "k", "s")

	info, err := os.Stat(filepath.Join(dir, "accounts.json"))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("accounts.json mode = %o, want 600", perm)
	}
}

func TestUnknownFieldsSurviveRewrite(t *testing.T) {
	dir := t.TempDir()
	store, _ := secretstore.NewWithKey(make([]byte, 32))

	seed := `{
  "schema_version": 3,
  "accounts": {
    "legacy": {
      "api_key": "",
      "api_secret": "",
      "testnet": false,
      "portfolio_margin": false,
      "nickname": "old box",
      "rate_limit_override": 1200
    }
  }
}`
	if err := os.WriteFile(filepath.Join(dir, "accounts.json"), []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}

	r, err := Open(dir, store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	// trigger a rewrite
	addAccount(t, r, "fresh", "k", "s")

	raw, err := os.ReadFile(filepath.Join(dir, "accounts.json"))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(top["schema_version"]) != "3" {
		t.Fatalf("top-level field lost: %s", top["schema_version"])
	}
	var accounts map[string]map[string]json.RawMessage
	if err := json.Unmarshal(top["accounts"], &accounts); err != nil {
		t.Fatalf("parse accounts: %v", err)
	}
	legacy := accounts["legacy"]
	if string(legacy["nickname"]) != `"old box"` {
		t.Fatalf("record field lost: %s", legacy["nickname"])
	}
	if string(legacy["rate_limit_override"]) != "1200" {
		t.Fatalf("record field lost: %s", legacy["rate_limit_override"])
	}
}

func TestMissingCredential(t *testing.T) {
	dir := t.TempDir()
	store, _ := secretstore.NewWithKey(make([]byte, 32))
	seed := `{"accounts": {"bare": {"api_key": "", "api_secret": ""}}}`
	if err := os.WriteFile(filepath.Join(dir, "accounts.json"), []byte(seed), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	r, err := Open(dir, store)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = r.Credentials("bare")
	var missing *MissingCredentialError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingCredentialError, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	r, _ := newTestRegistry(t)
	addAccount(t, r, "good", "k", "s")
	if err := r.Add(NewAccount{Name: "empty", APIKey: "", APISecret: ""}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if !r.Validate("good") {
		t.Fatal("good account must validate")
	}
	if r.Validate("empty") {
		t.Fatal("empty credentials must not validate")
	}
	if r.Validate("missing") {
		t.Fatal("unknown account must not validate")
	}
}

func TestCredentialsWrongMasterKey(t *testing.T) {
	dir := t.TempDir()
	storeA, _ := secretstore.NewWithKey(make([]byte, 32))
	keyB := make([]byte, 32)
	keyB[0] = 1
	storeB, _ := secretstore.NewWithKey(keyB)

	r1, _ := Open(dir, storeA)
	r1.Add(NewAccount{Name: "main", APIKey: "k", APISecret: "s"})

	r2, err := Open(dir, storeB)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_, err = r2.Credentials("main")
	var dec *secretstore.DecryptionError
	if !errors.As(err, &dec) {
		t.Fatalf("want DecryptionError, got %v", err)
	}

	// validate must swallow the failure
	if r2.Validate("main") {
		t.Fatal("validate must read decryption failure as false")
	}
}
