package exchange

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/binance-vault/internal/vault"
)

// Options tunes how handles are built.
type Options struct {
	// PartnerCodes overrides the canonical broker code table.
	PartnerCodes PartnerCodes
	// SpotOrdersBypassUnified routes unified accounts' spot orders to the
	// plain spot surface. On by default.
	SpotOrdersBypassUnified bool
	// RecvWindowMS bounds how long a signed request stays valid.
	RecvWindowMS int
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		PartnerCodes:            DefaultPartnerCodes(),
		SpotOrdersBypassUnified: true,
		RecvWindowMS:            5000,
	}
}

// Factory builds and caches one Handle per account. Handles stay alive until
// the account record changes, so repeated calls share connections and rate
// limit state.
type Factory struct {
	registry *vault.Registry
	opts     Options
	log      *logrus.Entry

	mu      sync.Mutex
	handles map[string]*Handle
}

func NewFactory(registry *vault.Registry, opts Options, log *logrus.Entry) *Factory {
	if opts.PartnerCodes == nil {
		opts.PartnerCodes = DefaultPartnerCodes()
	}
	return &Factory{
		registry: registry,
		opts:     opts,
		log:      log,
		handles:  make(map[string]*Handle),
	}
}

// Handle returns the cached handle for an account, building it on first use.
// Credential problems come back as *ClientConstructionError so callers can
// tell configuration failures from venue failures.
func (f *Factory) Handle(name string) (*Handle, error) {
	f.mu.Lock()
	if h, ok := f.handles[name]; ok {
		f.mu.Unlock()
		return h, nil
	}
	f.mu.Unlock()

	acct, err := f.registry.Get(name)
	if err != nil {
		return nil, err
	}
	creds, err := f.registry.Credentials(name)
	if err != nil {
		return nil, &ClientConstructionError{Account: name, Cause: err}
	}
	h := newHandle(acct, creds, f.opts, f.log)

	// another goroutine may have built one meanwhile, keep the first
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.handles[name]; ok {
		return existing, nil
	}
	f.handles[name] = h
	return h, nil
}

// Invalidate drops the cached handle for one account. The next Handle call
// rebuilds it from the current record.
func (f *Factory) Invalidate(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handles, name)
}

// InvalidateAll drops every cached handle.
func (f *Factory) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handles = make(map[string]*Handle)
}

// Cached reports whether a handle currently exists for the account.
func (f *Factory) Cached(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handles[name]
	return ok
}
