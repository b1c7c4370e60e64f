package handler

import (
	"net/http"

	"github.com/eaglebank/ledger/internal/domain"
	"github.com/eaglebank/ledger/shared/middleware"
	"github.com/gin-gonic/gin"
)

func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation, domain.KindInvalidAmount, domain.KindSameAccount:
		return http.StatusBadRequest
	case domain.KindSenderNotFound, domain.KindReceiverNotFound, domain.KindAccountNotFound:
		return http.StatusNotFound
	case domain.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

// respondError renders err as {errorKind, message}. Store faults never leak
// their cause.
func respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	middleware.RespondWithError(c, statusFor(kind), string(kind), domain.PublicMessage(err))
}

func respondBadRequest(c *gin.Context, message string) {
	middleware.RespondWithError(c, http.StatusBadRequest, middleware.ValidationErrorKind, message)
}
