package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-authgate/authcore/internal/core"
	"github.com/go-authgate/authcore/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	_ core.GrantStore    = (*Store)(nil)
	_ core.ClientStore   = (*Store)(nil)
	_ core.ResourceStore = (*Store)(nil)
)

// Store is the durable gorm-backed implementation of the grant, client and
// resource stores.
type Store struct {
	db *gorm.DB
}

// New opens the database, migrates the schema and seeds default resources.
func New(ctx context.Context, driver, dsn string) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if driver == "sqlite" {
		// A :memory: database exists per connection.
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&models.PersistedGrant{},
		&models.Client{},
		&models.IdentityResource{},
		&models.APIResource{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	s := &Store{db: db}
	if err := s.seedData(ctx); err != nil {
		slog.Warn("failed to seed data", "error", err)
	}

	return s, nil
}

func (s *Store) seedData(ctx context.Context) error {
	db := s.db.WithContext(ctx)

	var resourceCount int64
	db.Model(&models.IdentityResource{}).Count(&resourceCount)
	if resourceCount == 0 {
		standard := []models.IdentityResource{
			{Name: "openid", DisplayName: "Your user identifier", Enabled: true, UserClaims: models.StringArray{"sub"}},
			{Name: "profile", DisplayName: "User profile", Enabled: true, UserClaims: models.StringArray{"name", "preferred_username"}},
			{Name: "email", DisplayName: "Your email address", Enabled: true, UserClaims: models.StringArray{"email", "email_verified"}},
		}
		if err := db.Create(&standard).Error; err != nil {
			return err
		}
		slog.Info("seeded standard identity resources", "count", len(standard))
	}

	var clientCount int64
	db.Model(&models.Client{}).Count(&clientCount)
	if clientCount == 0 {
		client := &models.Client{
			ClientID:      "authcore-web",
			ClientName:    "AuthCore Web",
			Enabled:       true,
			AllowedScopes: models.StringArray{"openid", "profile", "email"},
		}
		secret, err := client.GenerateClientSecret()
		if err != nil {
			return err
		}
		if err := db.Create(client).Error; err != nil {
			return err
		}
		slog.Info("created default client", "client_id", client.ClientID)
		slog.Info("client secret (save this)", "client_secret", secret)
	}

	return nil
}

// Grant operations

func (s *Store) StoreGrant(ctx context.Context, grant *models.PersistedGrant) error {
	return s.db.WithContext(ctx).Save(grant).Error
}

func (s *Store) GetGrant(ctx context.Context, key string) (*models.PersistedGrant, error) {
	var grant models.PersistedGrant
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&grant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return &grant, nil
}

func (s *Store) GetAllGrants(ctx context.Context, filter models.GrantFilter) ([]models.PersistedGrant, error) {
	if filter.IsEmpty() {
		return nil, ErrEmptyFilter
	}
	var grants []models.PersistedGrant
	err := applyGrantFilter(s.db.WithContext(ctx), filter).
		Order("creation_time ASC").
		Find(&grants).Error
	return grants, err
}

func (s *Store) RemoveGrant(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.PersistedGrant{}).Error
}

func (s *Store) RemoveAllGrants(ctx context.Context, filter models.GrantFilter) error {
	if filter.IsEmpty() {
		return ErrEmptyFilter
	}
	return applyGrantFilter(s.db.WithContext(ctx), filter).Delete(&models.PersistedGrant{}).Error
}

// DeleteExpiredGrants removes grants whose expiration has passed and reports
// how many were deleted.
func (s *Store) DeleteExpiredGrants(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expiration IS NOT NULL AND expiration < ?", time.Now()).
		Delete(&models.PersistedGrant{})
	return res.RowsAffected, res.Error
}

func applyGrantFilter(db *gorm.DB, filter models.GrantFilter) *gorm.DB {
	if filter.SubjectID != "" {
		db = db.Where("subject_id = ?", filter.SubjectID)
	}
	if filter.SessionID != "" {
		db = db.Where("session_id = ?", filter.SessionID)
	}
	if filter.ClientID != "" {
		db = db.Where("client_id = ?", filter.ClientID)
	}
	if filter.Type != "" {
		db = db.Where("type = ?", filter.Type)
	}
	return db
}

// Client operations

func (s *Store) FindClientByID(ctx context.Context, clientID string) (*models.Client, error) {
	var client models.Client
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &client, nil
}

// CreateClient registers a new client.
func (s *Store) CreateClient(ctx context.Context, client *models.Client) error {
	return s.db.WithContext(ctx).Create(client).Error
}

// Resource operations

func (s *Store) FindIdentityResourcesByScope(
	ctx context.Context,
	scopes []string,
) ([]models.IdentityResource, error) {
	var resources []models.IdentityResource
	if len(scopes) == 0 {
		return resources, nil
	}
	err := s.db.WithContext(ctx).Where("name IN ?", scopes).Find(&resources).Error
	return resources, err
}

func (s *Store) FindAPIResourcesByScope(ctx context.Context, scopes []string) ([]models.APIResource, error) {
	// Scopes live in a JSON column, so matching happens in memory.
	var all []models.APIResource
	if err := s.db.WithContext(ctx).Find(&all).Error; err != nil {
		return nil, err
	}
	return apiResourcesForScopes(all, scopes), nil
}

func (s *Store) GetAllResources(ctx context.Context) (*models.Resources, error) {
	var res models.Resources
	db := s.db.WithContext(ctx)
	if err := db.Order("name").Find(&res.IdentityResources).Error; err != nil {
		return nil, err
	}
	if err := db.Order("name").Find(&res.APIResources).Error; err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateAPIResource registers a new API resource.
func (s *Store) CreateAPIResource(ctx context.Context, api *models.APIResource) error {
	return s.db.WithContext(ctx).Create(api).Error
}

// Health checks the database connection
func (s *Store) Health(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
