package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"posfusion/internal/cache"
	"posfusion/internal/catalog"
	"posfusion/internal/classify"
	"posfusion/internal/composition"
	"posfusion/internal/decompose"
	"posfusion/internal/domain"
	"posfusion/internal/fusion"
	"posfusion/internal/store"
)

var ErrAdminRequired = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Snapshots           cache.SnapshotCache
	SnapshotTTL         time.Duration
	CatalogFallbackFile string
	// ExportsKeep bounds the number of stored exports.
	ExportsKeep   int
	PricesInCents bool
	Clock         func() time.Time
}

type Service struct {
	repo       store.Repository
	registry   *composition.Registry
	engine     *decompose.Engine
	classifier *classify.Classifier
	merger     *fusion.Merger
	catalogs   catalog.Loader
	catalog    atomic.Pointer[catalog.Catalog]

	exportsKeep   int
	pricesInCents bool
	now           func() time.Time

	// importMu serialises import flows and guards pending.
	importMu sync.Mutex
	pending  *pendingImport
}

func New(repo store.Repository, registry *composition.Registry, engine *decompose.Engine, classifier *classify.Classifier, opts Options) *Service {
	if opts.Snapshots == nil {
		opts.Snapshots = cache.NoopSnapshotCache{}
	}
	if opts.ExportsKeep < 2 {
		opts.ExportsKeep = 24
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if classifier == nil {
		classifier = classify.New(nil)
	}

	s := &Service{
		repo:       repo,
		registry:   registry,
		engine:     engine,
		classifier: classifier,
		merger:     fusion.NewMerger(opts.Clock),
		catalogs: catalog.Loader{
			Store:        repo,
			Snapshots:    opts.Snapshots,
			SnapshotTTL:  opts.SnapshotTTL,
			FallbackFile: opts.CatalogFallbackFile,
		},
		exportsKeep:   opts.ExportsKeep,
		pricesInCents: opts.PricesInCents,
		now:           opts.Clock,
	}
	s.catalog.Store(catalog.New(nil))
	return s
}

// Init loads the catalog and the composition registry. Missing sources only
// degrade to empty collections.
func (s *Service) Init(ctx context.Context) {
	cat, source := s.catalogs.Load(ctx)
	s.catalog.Store(cat)
	log.Printf("[service] catalog: %d entries from %s", cat.Len(), source)
	s.registry.Load(ctx)
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.catalog.Load()
}

func (s *Service) ListCatalog(_ context.Context) []domain.CatalogEntry {
	entries := s.Catalog().Entries()
	if entries == nil {
		entries = []domain.CatalogEntry{}
	}
	return entries
}

// ImportCatalog replaces the catalog with the entries read from a JSON or
// tabular file.
func (s *Service) ImportCatalog(ctx context.Context, r io.Reader, filename string) (int, error) {
	if err := requireAdmin(ctx); err != nil {
		return 0, err
	}
	entries, err := catalog.Parse(r, filename)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalid, err)
	}
	cat := catalog.New(entries)
	if cat.Len() == 0 {
		return 0, fmt.Errorf("%w: catalog file has no usable entry", store.ErrInvalid)
	}
	if err := s.catalogs.Save(ctx, cat.Entries()); err != nil {
		return 0, err
	}
	s.catalog.Store(cat)
	s.audit(ctx, "catalog_import", filename, fmt.Sprintf("entries=%d", cat.Len()))
	return cat.Len(), nil
}

func (s *Service) ListCompositions(_ context.Context) []domain.Composition {
	items := s.registry.List()
	if items == nil {
		items = []domain.Composition{}
	}
	return items
}

func (s *Service) GetComposition(_ context.Context, id string) (domain.Composition, error) {
	c, ok := s.registry.FindByID(id)
	if !ok {
		return domain.Composition{}, fmt.Errorf("%w: %s", composition.ErrUnknownID, id)
	}
	return c, nil
}

func (s *Service) CreateComposition(ctx context.Context, c domain.Composition) (domain.Composition, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Composition{}, err
	}
	created, err := s.registry.Add(ctx, c)
	if err != nil {
		return domain.Composition{}, err
	}
	s.audit(ctx, "composition_create", created.ID, fmt.Sprintf("components=%d", len(created.Components)))
	return created, nil
}

func (s *Service) UpdateComposition(ctx context.Context, id string, c domain.Composition) (domain.Composition, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Composition{}, err
	}
	updated, err := s.registry.Modify(ctx, id, c)
	if err != nil {
		return domain.Composition{}, err
	}
	s.audit(ctx, "composition_update", id, fmt.Sprintf("components=%d", len(updated.Components)))
	return updated, nil
}

func (s *Service) DeleteComposition(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.registry.Remove(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, "composition_delete", id, "")
	return nil
}

// Decompose expands a batch against the current registry and catalog
// without persisting anything.
func (s *Service) Decompose(_ context.Context, lines []domain.SalesLine) decompose.Result {
	return s.engine.Decompose(lines, s.registry, s.Catalog())
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return ErrAdminRequired
	}
	return nil
}

func (s *Service) audit(ctx context.Context, action string, entity string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}
	log.Printf("[audit] actor=%s action=%s entity=%s %s", actor.Username, action, entity, detail)
}
