package command

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/money"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type testLedger struct {
	store     *repository.MemoryAccountStore
	readRepo  *repository.AccountReadRepository
	redis     *redis.Client
	accounts  *AccountCommandService
	transfers *TransferCommandService
}

func newTestLedger(t *testing.T, opts ...TransferOption) *testLedger {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewMemoryAccountStore()
	readRepo := repository.NewAccountReadRepository(store, client, repository.DefaultViewTTL, nil)
	publisher := events.NewPublisher(client, 0)
	return &testLedger{
		store:     store,
		readRepo:  readRepo,
		redis:     client,
		accounts:  NewAccountCommandService(store, readRepo, publisher, nil),
		transfers: NewTransferCommandService(store, readRepo, publisher, nil, opts...),
	}
}

func (l *testLedger) open(t *testing.T, holder, balance string) *models.Account {
	t.Helper()
	a, err := l.store.Create(context.Background(), holder, dec(balance))
	require.NoError(t, err)
	return a
}

func (l *testLedger) balance(t *testing.T, id int64) string {
	t.Helper()
	a, err := l.store.GetByID(context.Background(), id)
	require.NoError(t, err)
	return money.String(a.Balance)
}

func (l *testLedger) total(t *testing.T) decimal.Decimal {
	t.Helper()
	all, err := l.store.GetAll(context.Background())
	require.NoError(t, err)
	total := decimal.Zero
	for _, a := range all {
		total = total.Add(a.Balance)
	}
	return total
}

func assertTransferID(t *testing.T, id string) {
	t.Helper()
	rest, ok := strings.CutPrefix(id, utils.TransferIDPrefix+"-")
	require.True(t, ok, id)
	_, err := uuid.Parse(rest)
	require.NoError(t, err, id)
}

func (l *testLedger) streamLen(t *testing.T, stream string) int64 {
	t.Helper()
	n, err := l.redis.XLen(context.Background(), stream).Result()
	require.NoError(t, err)
	return n
}
