package repository

import (
	"context"
	"errors"
	"time"

	"ikak/internal/models"
	"ikak/internal/observability"

	"gorm.io/gorm"
)

// AccountRepository defines persistence operations for auth accounts and
// their refresh tokens.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByConfirmToken(ctx context.Context, token string) (*models.Account, error)
	Create(ctx context.Context, a *models.Account) error
	Confirm(ctx context.Context, id string, at time.Time) error

	CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error
	// UseRefreshToken revokes token and returns its account ID. A revoked or
	// unknown token gives a not-found error.
	UseRefreshToken(ctx context.Context, token string) (string, error)
	RevokeRefreshTokens(ctx context.Context, accountID string) error
}

type accountRepository struct {
	db      *gorm.DB
	log     *observability.RepoLogger
	metrics *observability.DatabaseMetrics
}

// NewAccountRepository returns a new AccountRepository implementation.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{
		db:      db,
		log:     observability.NewRepoLogger("accounts"),
		metrics: observability.NewDatabaseMetrics(),
	}
}

func (r *accountRepository) first(ctx context.Context, op string, query string, arg interface{}) (*models.Account, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, op, "accounts")
	defer span.End()
	defer r.metrics.TrackQuery(op, "accounts")()

	var account models.Account
	if err := r.db.WithContext(ctx).Where(query, arg).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewNotFoundError("Account", arg)
		}
		r.log.LogError(ctx, err, op)
		return nil, models.NewInternalError(err)
	}
	return &account, nil
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	return r.first(ctx, "GetByID", "id = ?", id)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return r.first(ctx, "GetByEmail", "email = ?", email)
}

func (r *accountRepository) GetByConfirmToken(ctx context.Context, token string) (*models.Account, error) {
	if token == "" {
		return nil, models.NewNotFoundError("Account", token)
	}
	return r.first(ctx, "GetByConfirmToken", "confirm_token = ?", token)
}

func (r *accountRepository) Create(ctx context.Context, a *models.Account) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Create", "accounts")
	defer span.End()
	defer r.metrics.TrackQuery("create", "accounts")()

	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.NewConflictError("account already exists")
		}
		r.log.LogError(ctx, err, "create")
		return models.NewInternalError(err)
	}
	r.log.LogWrite(ctx, "create", map[string]interface{}{"id": a.ID})
	return nil
}

func (r *accountRepository) Confirm(ctx context.Context, id string, at time.Time) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "Confirm", "accounts")
	defer span.End()

	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).
		Updates(map[string]interface{}{"email_confirmed_at": at, "confirm_token": ""})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "confirm")
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Account", id)
	}
	r.log.LogWrite(ctx, "confirm", map[string]interface{}{"id": id})
	return nil
}

func (r *accountRepository) CreateRefreshToken(ctx context.Context, t *models.RefreshToken) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "CreateRefreshToken", "refresh_tokens")
	defer span.End()

	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		r.log.LogError(ctx, err, "create_refresh_token")
		return models.NewInternalError(err)
	}
	return nil
}

func (r *accountRepository) UseRefreshToken(ctx context.Context, token string) (string, error) {
	ctx, span := observability.TraceRepositoryMethod(ctx, "UseRefreshToken", "refresh_tokens")
	defer span.End()

	// Each token is single use.
	res := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND revoked = ?", token, false).
		Update("revoked", true)
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "use_refresh_token")
		return "", models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return "", models.NewNotFoundError("RefreshToken", "")
	}

	var rt models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&rt).Error; err != nil {
		return "", models.NewInternalError(err)
	}
	return rt.AccountID, nil
}

func (r *accountRepository) RevokeRefreshTokens(ctx context.Context, accountID string) error {
	ctx, span := observability.TraceRepositoryMethod(ctx, "RevokeRefreshTokens", "refresh_tokens")
	defer span.End()

	err := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("account_id = ? AND revoked = ?", accountID, false).
		Update("revoked", true).Error
	if err != nil {
		r.log.LogError(ctx, err, "revoke_refresh_tokens")
		return models.NewInternalError(err)
	}
	return nil
}
