package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/eaglebank/ledger/shared/utils"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AccountCommander defines the write-side operations used by AccountHandler.
type AccountCommander interface {
	CreateAccount(context.Context, cqrs.CreateAccountCommand) (*models.Account, error)
	UpdateBalance(context.Context, cqrs.UpdateBalanceCommand) (int64, error)
	DeleteAccount(context.Context, cqrs.DeleteAccountCommand) (int64, error)
}

// AccountQuerier defines the read-side operations used by AccountHandler.
type AccountQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]models.AccountView, error)
}

// AccountHandler handles account-related HTTP requests.
type AccountHandler struct {
	commands AccountCommander
	queries  AccountQuerier
}

type CreateAccountRequest struct {
	AccountHolder string           `json:"accountHolder" validate:"required,max=255"`
	Balance       *decimal.Decimal `json:"balance" validate:"required,gte=0"`
}

type UpdateBalanceRequest struct {
	Balance *decimal.Decimal `json:"balance" validate:"required"`
}

type ListAccountsResponse struct {
	Accounts []models.AccountView `json:"accounts"`
}

type AffectedResponse struct {
	Affected int64 `json:"affected"`
}

func NewAccountHandler(commands AccountCommander, queries AccountQuerier) *AccountHandler {
	return &AccountHandler{commands: commands, queries: queries}
}

func (h *AccountHandler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	account, err := h.commands.CreateAccount(c.Request.Context(), cqrs.CreateAccountCommand{
		Holder:  req.AccountHolder,
		Balance: *req.Balance,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, account.ToView())
}

func (h *AccountHandler) ListAccounts(c *gin.Context) {
	views, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{})
	if err != nil {
		respondError(c, err)
		return
	}
	if views == nil {
		views = []models.AccountView{}
	}

	c.JSON(http.StatusOK, ListAccountsResponse{Accounts: views})
}

func (h *AccountHandler) GetAccount(c *gin.Context) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid account id")
		return
	}

	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{ID: id})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, view)
}

// UpdateBalance overwrites the balance of one account.
func (h *AccountHandler) UpdateBalance(c *gin.Context) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid account id")
		return
	}

	var req UpdateBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	affected, err := h.commands.UpdateBalance(c.Request.Context(), cqrs.UpdateBalanceCommand{
		ID:      id,
		Balance: *req.Balance,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if affected == 0 {
		respondError(c, domain.ErrAccountNotFound)
		return
	}

	c.JSON(http.StatusOK, AffectedResponse{Affected: affected})
}

func (h *AccountHandler) DeleteAccount(c *gin.Context) {
	id, err := utils.ParseID(c.Param("id"))
	if err != nil {
		respondBadRequest(c, "Invalid account id")
		return
	}

	affected, err := h.commands.DeleteAccount(c.Request.Context(), cqrs.DeleteAccountCommand{ID: id})
	if err != nil {
		respondError(c, err)
		return
	}
	if affected == 0 {
		respondError(c, domain.ErrAccountNotFound)
		return
	}

	c.JSON(http.StatusOK, AffectedResponse{Affected: affected})
}
