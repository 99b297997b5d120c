package auth

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/identity/backend/internal/credentials"
	"github.com/MarcoPoloResearchLab/identity/backend/internal/providers"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type orchestratorFixture struct {
	db           *gorm.DB
	store        *credentials.Store
	orchestrator *Orchestrator
}

type fixtureOptions struct {
	ids        credentials.IDProvider
	store      CredentialStore
	hasher     PasswordHasher
	capability providers.Capability
	logger     *zap.Logger
}

func newOrchestratorFixture(t *testing.T, opts fixtureOptions) orchestratorFixture {
	t.Helper()
	db := openTestDatabase(t)
	ids := opts.ids
	if ids == nil {
		ids = &sequenceIDProvider{}
	}
	store, err := credentials.NewStore(credentials.StoreConfig{Database: db, IDProvider: ids})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	hasher := opts.hasher
	if hasher == nil {
		bcryptHasher, err := credentials.NewHasher(bcrypt.MinCost)
		if err != nil {
			t.Fatalf("failed to create hasher: %v", err)
		}
		hasher = bcryptHasher
	}
	capability := opts.capability
	if capability == nil {
		capability = &stubCapability{}
	}
	registry, err := providers.NewRegistry(providers.Entry{
		Type:       "github",
		Scope:      []string{"read:user", "user:email"},
		Capability: capability,
	})
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	var credentialStore CredentialStore = store
	if opts.store != nil {
		credentialStore = opts.store
	}
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Registry:  registry,
		Store:     credentialStore,
		Hasher:    hasher,
		Validator: NewValidator(),
		Logger:    opts.logger,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orchestratorFixture{db: db, store: store, orchestrator: orchestrator}
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	databasePath := filepath.Join(t.TempDir(), "auth.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true, Logger: gormlogger.Discard})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&credentials.User{}, &credentials.Authentication{}); err != nil {
		t.Fatalf("failed to migrate credential schema: %v", err)
	}
	return db
}

func countRows(t *testing.T, db *gorm.DB, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	scope := db.Model(model)
	if query != "" {
		scope = scope.Where(query, args...)
	}
	if err := scope.Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	return count
}

type sequenceIDProvider struct {
	mu     sync.Mutex
	calls  int
	failOn int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != 0 && p.calls == p.failOn {
		return "", errors.New("id source exhausted")
	}
	return fmt.Sprintf("id-%d", p.calls), nil
}

type stubCapability struct {
	grant providers.Grant
	err   error
}

func (s *stubCapability) AuthCodeURL(state string, scope []string) string {
	return fmt.Sprintf("https://github.example.com/authorize?state=%s&scope=%d", state, len(scope))
}

func (s *stubCapability) Exchange(context.Context, providers.CallbackParams) (providers.Grant, error) {
	return s.grant, s.err
}

type failingStore struct {
	err error
}

func (s failingStore) FindAuthentication(context.Context, string, string) (*credentials.Authentication, error) {
	return nil, s.err
}

func (s failingStore) FindUserByEmail(context.Context, string) (*credentials.User, error) {
	return nil, s.err
}

func (s failingStore) RegisterLocalUser(context.Context, credentials.ProfileFields, string) (credentials.User, error) {
	return credentials.User{}, s.err
}

func (s failingStore) RegisterOrLinkProviderUser(context.Context, credentials.ProviderIdentity) (credentials.User, error) {
	return credentials.User{}, s.err
}

type failingHasher struct{}

func (failingHasher) Hash(context.Context, string) (string, error) {
	return "", credentials.ErrCrypto
}

func (failingHasher) Compare(context.Context, string, string) (bool, error) {
	return false, credentials.ErrCrypto
}
