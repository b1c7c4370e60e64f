package handler

import (
	"context"
	"net/http"

	"github.com/eaglebank/ledger/shared/cqrs"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/eaglebank/ledger/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TransferCommander defines the transfer operation used by TransferHandler.
type TransferCommander interface {
	Transfer(context.Context, cqrs.TransferCommand) (*models.TransferResult, error)
}

type TransferHandler struct {
	commands TransferCommander
}

// TransferRequest carries the amount as given; range and precision are
// checked by the transfer engine so they report InvalidAmountError.
type TransferRequest struct {
	FromID int64            `json:"fromId" validate:"required"`
	ToID   int64            `json:"toId" validate:"required"`
	Amount *decimal.Decimal `json:"amount" validate:"required"`
}

func NewTransferHandler(commands TransferCommander) *TransferHandler {
	return &TransferHandler{commands: commands}
}

func (h *TransferHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request body")
		return
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return
	}

	result, err := h.commands.Transfer(c.Request.Context(), cqrs.TransferCommand{
		FromID: req.FromID,
		ToID:   req.ToID,
		Amount: *req.Amount,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result.ToView())
}
