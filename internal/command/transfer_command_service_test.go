package command

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTransfer_MovesFunds(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")
	before := l.total(t)

	res, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{
		FromID: alice.ID, ToID: bob.ID, Amount: dec("200"),
	})
	require.NoError(t, err)

	assert.Equal(t, models.TransferStatusOK, res.Status)
	assertTransferID(t, res.ID)
	assert.Equal(t, "200.00", res.Amount.StringFixed(2))
	assert.Equal(t, "100.00", l.balance(t, alice.ID))
	assert.Equal(t, "300.00", l.balance(t, bob.ID))
	assert.True(t, before.Equal(l.total(t)))
}

func TestTransfer_Rejections(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")

	tests := []struct {
		name    string
		cmd     cqrs.TransferCommand
		wantErr error
	}{
		{"same account", cqrs.TransferCommand{FromID: alice.ID, ToID: alice.ID, Amount: dec("10")}, domain.ErrSameAccount},
		{"same account wins over bad amount", cqrs.TransferCommand{FromID: alice.ID, ToID: alice.ID, Amount: dec("-1")}, domain.ErrSameAccount},
		{"same account with zero", cqrs.TransferCommand{FromID: bob.ID, ToID: bob.ID, Amount: dec("0")}, domain.ErrSameAccount},
		{"zero amount", cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("0")}, domain.ErrInvalidAmount},
		{"negative amount", cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("-5")}, domain.ErrInvalidAmount},
		{"too precise", cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("0.001")}, domain.ErrInvalidAmount},
		{"too large", cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10000000000000")}, domain.ErrInvalidAmount},
		{"missing sender", cqrs.TransferCommand{FromID: 999, ToID: bob.ID, Amount: dec("10")}, domain.ErrSenderNotFound},
		{"insufficient funds", cqrs.TransferCommand{FromID: bob.ID, ToID: alice.ID, Amount: dec("100.01")}, domain.ErrInsufficientFunds},
		{"missing receiver", cqrs.TransferCommand{FromID: alice.ID, ToID: 999, Amount: dec("50")}, domain.ErrReceiverNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := l.transfers.Transfer(context.Background(), tt.cmd)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, "300.00", l.balance(t, alice.ID))
			assert.Equal(t, "100.00", l.balance(t, bob.ID))
		})
	}
	assert.Zero(t, l.streamLen(t, events.TransferEventsStream))
}

func TestTransfer_ExactBalanceEmptiesSender(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "100.50")
	bob := l.open(t, "Bob", "0")

	_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("100.50")})
	require.NoError(t, err)
	assert.Equal(t, "0.00", l.balance(t, alice.ID))
	assert.Equal(t, "100.50", l.balance(t, bob.ID))
}

func TestTransfer_NotIdempotent(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")
	cmd := cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("100")}

	first, err := l.transfers.Transfer(context.Background(), cmd)
	require.NoError(t, err)
	second, err := l.transfers.Transfer(context.Background(), cmd)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, "100.00", l.balance(t, alice.ID))
	assert.Equal(t, "300.00", l.balance(t, bob.ID))
	assert.Equal(t, int64(2), l.streamLen(t, events.TransferEventsStream))
}

func TestTransfer_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	l := newTestLedger(t)
	sender := l.open(t, "Sender", "100")
	const workers = 20
	receivers := make([]int64, workers)
	for i := range receivers {
		receivers[i] = l.open(t, "Receiver", "0").ID
	}
	before := l.total(t)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		rejected  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(to int64) {
			defer wg.Done()
			_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: sender.ID, ToID: to, Amount: dec("10")})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientFunds):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(receivers[i])
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	assert.Equal(t, 10, rejected)
	assert.Equal(t, "0.00", l.balance(t, sender.ID))
	assert.True(t, before.Equal(l.total(t)))
}

func TestTransfer_ConcurrentDebitsAllSucceedWhenFunded(t *testing.T) {
	l := newTestLedger(t)
	const n = 12
	sender := l.open(t, "Sender", "150.00")

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		to := l.open(t, "Receiver", "0").ID
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: sender.ID, ToID: to, Amount: dec("12.50")})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, "0.00", l.balance(t, sender.ID))
	assert.Equal(t, "150.00", l.total(t).StringFixed(2))
}

func TestTransfer_ConcurrentCreditsCompose(t *testing.T) {
	l := newTestLedger(t)
	receiver := l.open(t, "Receiver", "0")
	const senders = 15
	ids := make([]int64, senders)
	for i := range ids {
		ids[i] = l.open(t, "Sender", "5.25").ID
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(from int64) {
			defer wg.Done()
			_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: from, ToID: receiver.ID, Amount: dec("5.25")})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, "78.75", l.balance(t, receiver.ID))
	for _, id := range ids {
		assert.Equal(t, "0.00", l.balance(t, id))
	}
}

// holdLock keeps id locked by another transaction until the returned func is
// called.
func holdLock(t *testing.T, l *testLedger, id int64) func() {
	t.Helper()
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.store.WithTx(context.Background(), func(ctx context.Context) error {
			if _, err := l.store.GetForUpdate(ctx, id); err != nil {
				close(locked)
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	return func() {
		close(release)
		<-done
	}
}

func TestTransfer_CallerAbandonsLockWait(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")
	unlock := holdLock(t, l, alice.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	unlock()

	assert.ErrorIs(t, err, domain.ErrStoreFault)
	assert.Equal(t, "300.00", l.balance(t, alice.ID))
	assert.Equal(t, "100.00", l.balance(t, bob.ID))

	_, err = l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, "290.00", l.balance(t, alice.ID))
}

func TestTransfer_TimeoutWhileLocked(t *testing.T) {
	l := newTestLedger(t, WithTransferTimeout(50*time.Millisecond))
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")
	unlock := holdLock(t, l, alice.ID)
	defer unlock()

	_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrStoreFault)
	assert.Equal(t, domain.ErrStoreFault.Message, domain.PublicMessage(err))
}

func TestTransfer_CancelledBeforeStart(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrStoreFault)
	assert.Equal(t, "300.00", l.balance(t, alice.ID))
}

func TestTransfer_WaitsForSenderLockThenCommits(t *testing.T) {
	l := newTestLedger(t)
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")
	unlock := holdLock(t, l, alice.ID)

	result := make(chan error, 1)
	go func() {
		_, err := l.transfers.Transfer(context.Background(), cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("50")})
		result <- err
	}()

	select {
	case err := <-result:
		t.Fatalf("transfer finished while sender was locked: %v", err)
	case <-time.After(30 * time.Millisecond):
	}
	unlock()

	require.NoError(t, <-result)
	assert.Equal(t, "250.00", l.balance(t, alice.ID))
	assert.Equal(t, "150.00", l.balance(t, bob.ID))
}

func TestTransfer_InvalidatesViewsAndPublishes(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	alice := l.open(t, "Alice", "300")
	bob := l.open(t, "Bob", "100")

	// warm the cache
	_, err := l.readRepo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	_, err = l.readRepo.GetByID(ctx, bob.ID)
	require.NoError(t, err)

	_, err = l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("200")})
	require.NoError(t, err)

	view, err := l.readRepo.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "100.00", view.Balance)
	view, err = l.readRepo.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", view.Balance)

	msgs, err := l.redis.XRange(ctx, events.TransferEventsStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Values["event"], `"amount":"200.00"`)
}

func TestTransfer_WorksWithoutRedis(t *testing.T) {
	store := newTestLedger(t).store
	alice, err := store.Create(context.Background(), "Alice", dec("10"))
	require.NoError(t, err)
	bob, err := store.Create(context.Background(), "Bob", dec("0"))
	require.NoError(t, err)

	svc := NewTransferCommandService(store, nil, nil, nil)
	_, err = svc.Transfer(context.Background(), cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	require.NoError(t, err)
}

func TestTransfer_EndToEndExample(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	alice := l.open(t, "Alice", "500")
	bob := l.open(t, "Bob", "100")

	_, err := l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("200")})
	require.NoError(t, err)
	assert.Equal(t, "300.00", l.balance(t, alice.ID))
	assert.Equal(t, "300.00", l.balance(t, bob.ID))

	res, err := l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("1000")})
	assert.Nil(t, res)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr), "got %v", err)
	assert.Equal(t, domain.KindInsufficientFunds, derr.Kind)

	assert.Equal(t, "300.00", l.balance(t, alice.ID))
	assert.Equal(t, "300.00", l.balance(t, bob.ID))
	assert.Equal(t, int64(1), l.streamLen(t, events.TransferEventsStream))
}

func TestTransfer_SnapshotNeverShowsHalfTransfer(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	alice := l.open(t, "Alice", "500")
	bob := l.open(t, "Bob", "100")
	want := l.total(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			cmd := cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("50")}
			if i%2 == 1 {
				cmd.FromID, cmd.ToID = bob.ID, alice.ID
			}
			if _, err := l.transfers.Transfer(ctx, cmd); err != nil {
				t.Errorf("transfer %d: %v", i, err)
				return
			}
		}
	}()

	var snapshots, torn int
	for running := true; running; {
		select {
		case <-done:
			running = false
		default:
		}
		all, err := l.store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		snapshots++
		if !all[0].Balance.Add(all[1].Balance).Equal(want) {
			torn++
		}
	}

	assert.Zero(t, torn, "%d of %d snapshots showed one side of a transfer", torn, snapshots)
	assert.Equal(t, "500.00", l.balance(t, alice.ID))
	assert.Equal(t, "100.00", l.balance(t, bob.ID))
}

// readHookStore runs afterRead once, right after a committed read returns.
type readHookStore struct {
	*repository.MemoryAccountStore
	afterRead func()
}

func (s *readHookStore) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	a, err := s.MemoryAccountStore.GetByID(ctx, id)
	if hook := s.afterRead; hook != nil {
		s.afterRead = nil
		hook()
	}
	return a, err
}

func TestTransfer_CommitDuringViewLoadIsNotOverwritten(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()
	alice := l.open(t, "Alice", "500")
	bob := l.open(t, "Bob", "100")

	hooked := &readHookStore{MemoryAccountStore: l.store}
	reader := repository.NewAccountReadRepository(hooked, l.redis, repository.DefaultViewTTL, nil)
	hooked.afterRead = func() {
		_, err := l.transfers.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("200")})
		require.NoError(t, err)
	}

	view, err := reader.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "500.00", view.Balance)

	view, err = reader.GetByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "300.00", view.Balance)
	assert.Equal(t, "300.00", l.balance(t, alice.ID))
}

func TestTransfer_LogsFailedInvalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	store := repository.NewMemoryAccountStore()
	readRepo := repository.NewAccountReadRepository(store, client, repository.DefaultViewTTL, nil)
	core, logs := observer.New(zap.WarnLevel)
	svc := NewTransferCommandService(store, readRepo, nil, zap.New(core))

	ctx := context.Background()
	alice, err := store.Create(ctx, "Alice", dec("10"))
	require.NoError(t, err)
	bob, err := store.Create(ctx, "Bob", dec("0"))
	require.NoError(t, err)

	mr.Close()
	res, err := svc.Transfer(ctx, cqrs.TransferCommand{FromID: alice.ID, ToID: bob.ID, Amount: dec("10")})
	require.NoError(t, err)

	entries := logs.FilterMessage("failed to invalidate account views").All()
	require.Len(t, entries, 1)
	assert.Equal(t, res.ID, entries[0].ContextMap()["transfer_id"])
	assert.Equal(t, alice.ID, entries[0].ContextMap()["from_id"])
}
