package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/eaglebank/ledger/shared/models"
	sharedredis "github.com/eaglebank/ledger/shared/redis"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const accountViewKeyPrefix = "ledger:account:view:"

// DefaultViewTTL bounds how long a stale view can survive a missed
// invalidation.
const DefaultViewTTL = 5 * time.Minute

// AccountReadRepository serves account reads. Single-account reads go through
// the Redis view cache; listings always come from the store so a reader never
// sees one side of a transfer without the other.
type AccountReadRepository struct {
	store AccountStore
	cache *sharedredis.ViewCache[models.AccountView]
}

// NewAccountReadRepository creates the read side. redisClient may be nil, in
// which case every read goes to the store.
func NewAccountReadRepository(store AccountStore, redisClient *goredis.Client, ttl time.Duration, logger *zap.Logger) *AccountReadRepository {
	return &AccountReadRepository{
		store: store,
		cache: sharedredis.NewViewCache[models.AccountView](redisClient, ttl, logger),
	}
}

func accountViewKey(id int64) string {
	return accountViewKeyPrefix + strconv.FormatInt(id, 10)
}

// GetByID returns an AccountView, trying Redis first then the store. The
// generation is sampled before the store read so a view loaded before a
// commit is never written back over that commit's invalidation.
func (r *AccountReadRepository) GetByID(ctx context.Context, id int64) (*models.AccountView, error) {
	key := accountViewKey(id)
	if view, ok := r.cache.Get(ctx, key); ok {
		return view, nil
	}

	version := r.cache.Version(ctx, key)
	account, err := r.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	view := account.ToView()
	r.cache.Fill(ctx, key, version, view)
	return view, nil
}

// ListAll returns a consistent snapshot of every account.
func (r *AccountReadRepository) ListAll(ctx context.Context) ([]models.AccountView, error) {
	accounts, err := r.store.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]models.AccountView, 0, len(accounts))
	for i := range accounts {
		views = append(views, *accounts[i].ToView())
	}
	return views, nil
}

// InvalidateAccountViews drops cached views after their rows changed.
func (r *AccountReadRepository) InvalidateAccountViews(ctx context.Context, ids ...int64) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, accountViewKey(id))
	}
	return r.cache.Delete(ctx, keys...)
}
