// Package reference serves the option lists behind hospital, department,
// doctor and translator steps.
package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	c "github.com/patrickmn/go-cache"

	"github.com/BTreeMap/ReportPipe/internal/models"
	"github.com/BTreeMap/ReportPipe/internal/store"
)

// ErrInvalidOption is returned for options with an unknown kind or no name.
var ErrInvalidOption = errors.New("invalid reference option")

// DefaultCacheTTL is how long a looked-up option list is reused.
const DefaultCacheTTL = 5 * time.Minute

// Provider lists option names for a reference kind under a parent scope.
type Provider interface {
	ListOptions(ctx context.Context, kind models.ReferenceKind, parent string) ([]string, error)
}

// Registry is a Provider that can also be written to.
type Registry interface {
	Provider
	Add(ctx context.Context, opt models.ReferenceOption) error
	Remove(ctx context.Context, opt models.ReferenceOption) error
}

// DoctorParent builds the scope doctors are stored under.
func DoctorParent(hospital, department string) string {
	if hospital == "" && department == "" {
		return ""
	}
	return hospital + "/" + department
}

// StoreProvider reads options straight from a ReferenceStore.
type StoreProvider struct {
	store store.ReferenceStore
}

// NewStoreProvider creates a StoreProvider.
func NewStoreProvider(st store.ReferenceStore) *StoreProvider {
	return &StoreProvider{store: st}
}

func (p *StoreProvider) ListOptions(ctx context.Context, kind models.ReferenceKind, parent string) ([]string, error) {
	opts, err := p.store.ListReferenceOptions(kind, parent)
	if err != nil {
		return nil, fmt.Errorf("list %s options: %w", kind, err)
	}
	names := make([]string, 0, len(opts))
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		if seen[o.Name] {
			continue
		}
		seen[o.Name] = true
		names = append(names, o.Name)
	}
	return names, nil
}

func (p *StoreProvider) Add(ctx context.Context, opt models.ReferenceOption) error {
	if err := checkOption(opt); err != nil {
		return err
	}
	return p.store.AddReferenceOption(opt)
}

func (p *StoreProvider) Remove(ctx context.Context, opt models.ReferenceOption) error {
	return p.store.DeleteReferenceOption(opt)
}

// CachedProvider memoizes option lists of an underlying Registry. Writes go
// through and drop every cached list of the same kind.
type CachedProvider struct {
	next  Registry
	cache *c.Cache
}

// NewCachedProvider wraps next with a TTL cache. A ttl <= 0 uses DefaultCacheTTL.
func NewCachedProvider(next Registry, ttl time.Duration) *CachedProvider {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedProvider{next: next, cache: c.New(ttl, 2*ttl)}
}

func cacheKey(kind models.ReferenceKind, parent string) string {
	return string(kind) + "|" + parent
}

func (p *CachedProvider) ListOptions(ctx context.Context, kind models.ReferenceKind, parent string) ([]string, error) {
	key := cacheKey(kind, parent)
	if v, found := p.cache.Get(key); found {
		return append([]string(nil), v.([]string)...), nil
	}
	names, err := p.next.ListOptions(ctx, kind, parent)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, names, c.DefaultExpiration)
	return append([]string(nil), names...), nil
}

func (p *CachedProvider) Add(ctx context.Context, opt models.ReferenceOption) error {
	if err := p.next.Add(ctx, opt); err != nil {
		return err
	}
	p.invalidate(opt.Kind)
	return nil
}

func (p *CachedProvider) Remove(ctx context.Context, opt models.ReferenceOption) error {
	if err := p.next.Remove(ctx, opt); err != nil {
		return err
	}
	p.invalidate(opt.Kind)
	return nil
}

func (p *CachedProvider) invalidate(kind models.ReferenceKind) {
	prefix := string(kind) + "|"
	for key := range p.cache.Items() {
		if strings.HasPrefix(key, prefix) {
			p.cache.Delete(key)
		}
	}
}

func checkOption(opt models.ReferenceOption) error {
	if !models.IsValidReferenceKind(opt.Kind) {
		return fmt.Errorf("%w: unknown reference kind %q", ErrInvalidOption, opt.Kind)
	}
	if strings.TrimSpace(opt.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOption)
	}
	return nil
}

// Seed is the on-disk format of a reference seed file.
type Seed struct {
	Hospitals []SeedHospital `json:"hospitals"`
	// Departments without a hospital are offered under every hospital.
	Departments []string `json:"departments,omitempty"`
	Translators []string `json:"translators"`
}

// SeedHospital lists a hospital with its departments and doctors.
type SeedHospital struct {
	Name        string           `json:"name"`
	Departments []SeedDepartment `json:"departments"`
}

// SeedDepartment lists the doctors of one department.
type SeedDepartment struct {
	Name    string   `json:"name"`
	Doctors []string `json:"doctors"`
}

// Options flattens the seed into reference options.
func (s Seed) Options() []models.ReferenceOption {
	var out []models.ReferenceOption
	for _, h := range s.Hospitals {
		out = append(out, models.ReferenceOption{Kind: models.ReferenceHospital, Name: h.Name})
		for _, d := range h.Departments {
			out = append(out, models.ReferenceOption{Kind: models.ReferenceDepartment, Parent: h.Name, Name: d.Name})
			for _, doc := range d.Doctors {
				out = append(out, models.ReferenceOption{Kind: models.ReferenceDoctor, Parent: DoctorParent(h.Name, d.Name), Name: doc})
			}
		}
	}
	for _, d := range s.Departments {
		out = append(out, models.ReferenceOption{Kind: models.ReferenceDepartment, Name: d})
	}
	for _, t := range s.Translators {
		out = append(out, models.ReferenceOption{Kind: models.ReferenceTranslator, Name: t})
	}
	return out
}

// LoadSeedFile reads a JSON seed file and adds every option to reg.
// Existing options are left in place.
func LoadSeedFile(ctx context.Context, path string, reg Registry) (int, error) {
	slog.Debug("LoadSeedFile invoked", "path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	opts := seed.Options()
	for _, opt := range opts {
		if err := reg.Add(ctx, opt); err != nil {
			return 0, fmt.Errorf("seed %s %q: %w", opt.Kind, opt.Name, err)
		}
	}
	slog.Info("Reference data seeded", "path", path, "options", len(opts))
	return len(opts), nil
}
