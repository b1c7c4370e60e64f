package command

import (
	"context"
	"fmt"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/logging"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/money"
	"go.uber.org/zap"
)

// AccountCommandService writes account state and keeps the read model in sync.
type AccountCommandService struct {
	store     repository.AccountStore
	readRepo  *repository.AccountReadRepository
	publisher *events.Publisher
	logger    *zap.Logger
}

func NewAccountCommandService(
	store repository.AccountStore,
	readRepo *repository.AccountReadRepository,
	publisher *events.Publisher,
	logger *zap.Logger,
) *AccountCommandService {
	return &AccountCommandService{
		store:     store,
		readRepo:  readRepo,
		publisher: publisher,
		logger:    logging.OrNop(logger),
	}
}

func (s *AccountCommandService) CreateAccount(ctx context.Context, cmd cqrs.CreateAccountCommand) (*models.Account, error) {
	account, err := s.store.Create(ctx, cmd.Holder, cmd.Balance)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.AccountCreated, events.AccountCreatedEvent{
		AccountID: account.ID,
		Holder:    account.Holder,
		Balance:   money.String(account.Balance),
	}); err != nil {
		s.logger.Warn("failed to publish account.created event", zap.Int64("account_id", account.ID), zap.Error(err))
	}
	s.logger.Info("account created", zap.Int64("account_id", account.ID))
	return account, nil
}

// UpdateBalance overwrites an account balance. It is an administrative edit:
// unlike a transfer it changes the ledger total. A zero result means the
// account does not exist.
func (s *AccountCommandService) UpdateBalance(ctx context.Context, cmd cqrs.UpdateBalanceCommand) (int64, error) {
	if err := money.ValidateBalance(cmd.Balance); err != nil {
		return 0, domain.InvalidAmount(err)
	}

	affected, err := s.store.UpdateBalance(ctx, cmd.ID, cmd.Balance)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, nil
	}

	ctx = context.WithoutCancel(ctx)
	s.invalidate(ctx, cmd.ID)
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.BalanceUpdated, events.BalanceUpdatedEvent{
		AccountID:  cmd.ID,
		NewBalance: money.String(cmd.Balance),
	}); err != nil {
		s.logger.Warn("failed to publish balance.updated event", zap.Int64("account_id", cmd.ID), zap.Error(err))
	}
	s.logger.Info("account balance overwritten", zap.Int64("account_id", cmd.ID), zap.String("balance", money.String(cmd.Balance)))
	return affected, nil
}

func (s *AccountCommandService) DeleteAccount(ctx context.Context, cmd cqrs.DeleteAccountCommand) (int64, error) {
	affected, err := s.store.Delete(ctx, cmd.ID)
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, nil
	}

	ctx = context.WithoutCancel(ctx)
	s.invalidate(ctx, cmd.ID)
	if err := s.publisher.Publish(ctx, events.AccountEventsStream, events.AccountDeleted, events.AccountDeletedEvent{
		AccountID: cmd.ID,
	}); err != nil {
		s.logger.Warn("failed to publish account.deleted event", zap.Int64("account_id", cmd.ID), zap.Error(err))
	}
	s.logger.Info("account deleted", zap.Int64("account_id", cmd.ID))
	return affected, nil
}

// HandleLedgerEvent drops cached views touched by an event. It backs up the
// inline invalidation done after each write: a returned error leaves the
// message pending so it is retried.
func (s *AccountCommandService) HandleLedgerEvent(ctx context.Context, event events.Event) error {
	var ids []int64
	switch event.Type {
	case events.TransferCompleted:
		var data events.TransferCompletedEvent
		if err := events.DecodeData(event, &data); err != nil {
			return err
		}
		ids = []int64{data.FromID, data.ToID}
	case events.BalanceUpdated:
		var data events.BalanceUpdatedEvent
		if err := events.DecodeData(event, &data); err != nil {
			return err
		}
		ids = []int64{data.AccountID}
	case events.AccountDeleted:
		var data events.AccountDeletedEvent
		if err := events.DecodeData(event, &data); err != nil {
			return err
		}
		ids = []int64{data.AccountID}
	default:
		return nil
	}

	if s.readRepo == nil {
		return nil
	}
	if err := s.readRepo.InvalidateAccountViews(ctx, ids...); err != nil {
		return fmt.Errorf("failed to invalidate views for %s: %w", event.Type, err)
	}
	return nil
}

func (s *AccountCommandService) invalidate(ctx context.Context, id int64) {
	if s.readRepo == nil {
		return
	}
	if err := s.readRepo.InvalidateAccountViews(ctx, id); err != nil {
		s.logger.Warn("failed to invalidate account view", zap.Int64("account_id", id), zap.Error(err))
	}
}
