package command

import (
	"context"
	"errors"
	"time"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/internal/repository"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/events"
	"github.com/eaglebank/ledger/shared/logging"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/money"
	"github.com/eaglebank/ledger/shared/utils"
	"go.uber.org/zap"
)

const defaultTransferTimeout = 10 * time.Second

// TransferCommandService moves funds between two accounts in one store
// transaction. The sender row is locked for the whole transaction; the
// receiver is credited with a relative update so unrelated credits to the
// same account compose without locking it up front.
type TransferCommandService struct {
	store     repository.AccountStore
	readRepo  *repository.AccountReadRepository
	publisher *events.Publisher
	logger    *zap.Logger
	timeout   time.Duration
	now       func() time.Time
}

type TransferOption func(*TransferCommandService)

// WithTransferTimeout bounds a transfer transaction once it has started.
func WithTransferTimeout(d time.Duration) TransferOption {
	return func(s *TransferCommandService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewTransferCommandService(
	store repository.AccountStore,
	readRepo *repository.AccountReadRepository,
	publisher *events.Publisher,
	logger *zap.Logger,
	opts ...TransferOption,
) *TransferCommandService {
	s := &TransferCommandService{
		store:     store,
		readRepo:  readRepo,
		publisher: publisher,
		logger:    logging.OrNop(logger),
		timeout:   defaultTransferTimeout,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transfer debits cmd.FromID and credits cmd.ToID by cmd.Amount, or changes
// nothing. Checks run in a fixed order: same account, amount, sender lock
// and existence, funds, debit, credit (receiver existence), commit.
//
// ctx may abandon the transfer while it waits for the sender lock. Once the
// lock is held the transaction is detached from ctx and bounded by the
// service timeout instead, so it always ends in commit or rollback.
//
// Transfer is not idempotent: every successful call moves funds again.
func (s *TransferCommandService) Transfer(ctx context.Context, cmd cqrs.TransferCommand) (*models.TransferResult, error) {
	logger := s.logger.With(
		zap.Int64("from_id", cmd.FromID),
		zap.Int64("to_id", cmd.ToID),
		zap.String("amount", cmd.Amount.String()),
	)

	if cmd.FromID == cmd.ToID {
		logger.Info("transfer rejected", zap.String("error_kind", string(domain.KindSameAccount)))
		return nil, domain.ErrSameAccount
	}
	if err := money.ValidateAmount(cmd.Amount); err != nil {
		logger.Info("transfer rejected", zap.String("error_kind", string(domain.KindInvalidAmount)), zap.Error(err))
		return nil, domain.InvalidAmount(err)
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.StoreFault(err)
	}

	amount := money.Normalize(cmd.Amount)

	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err := s.store.WithTx(txCtx, func(txCtx context.Context) error {
		sender, err := s.lockSender(ctx, txCtx, cmd.FromID)
		if err != nil {
			return err
		}
		if sender.Balance.LessThan(amount) {
			return domain.ErrInsufficientFunds
		}
		if _, err := s.store.UpdateBalance(txCtx, sender.ID, sender.Balance.Sub(amount)); err != nil {
			return err
		}
		credited, err := s.store.AddToBalance(txCtx, cmd.ToID, amount)
		if err != nil {
			return err
		}
		if credited == 0 {
			return domain.ErrReceiverNotFound
		}
		return nil
	})
	if err != nil {
		kind := domain.KindOf(err)
		if kind == domain.KindStoreFault {
			logger.Error("transfer failed", zap.Error(err))
			return nil, domain.StoreFault(err)
		}
		logger.Info("transfer rejected", zap.String("error_kind", string(kind)))
		return nil, err
	}

	result := &models.TransferResult{
		ID:          utils.GenerateID(utils.TransferIDPrefix),
		FromID:      cmd.FromID,
		ToID:        cmd.ToID,
		Amount:      amount,
		Status:      models.TransferStatusOK,
		CompletedAt: s.now(),
	}
	logger.Info("transfer completed", zap.String("transfer_id", result.ID))

	s.afterCommit(context.WithoutCancel(ctx), result)
	return result, nil
}

// lockSender takes the sender row lock. The wait is cancelled when either the
// caller gives up or the transaction deadline passes.
func (s *TransferCommandService) lockSender(callerCtx, txCtx context.Context, id int64) (*models.Account, error) {
	lockCtx, cancel := context.WithCancel(txCtx)
	defer cancel()
	stop := context.AfterFunc(callerCtx, cancel)
	defer stop()

	sender, err := s.store.GetForUpdate(lockCtx, id)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrSenderNotFound
	}
	return sender, err
}

// afterCommit refreshes read models and publishes the event. Neither is part
// of the transfer; failures are logged and the subscriber retries
// invalidation from the stream.
func (s *TransferCommandService) afterCommit(ctx context.Context, result *models.TransferResult) {
	if s.readRepo != nil {
		if err := s.readRepo.InvalidateAccountViews(ctx, result.FromID, result.ToID); err != nil {
			s.logger.Warn("failed to invalidate account views",
				zap.String("transfer_id", result.ID),
				zap.Int64("from_id", result.FromID),
				zap.Int64("to_id", result.ToID),
				zap.Error(err))
		}
	}
	if err := s.publisher.Publish(ctx, events.TransferEventsStream, events.TransferCompleted, events.TransferCompletedEvent{
		TransferID: result.ID,
		FromID:     result.FromID,
		ToID:       result.ToID,
		Amount:     money.String(result.Amount),
	}); err != nil {
		s.logger.Warn("failed to publish transfer.completed event", zap.String("transfer_id", result.ID), zap.Error(err))
	}
}
