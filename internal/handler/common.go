package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/provly/consumer-gateway/internal/apperr"
)

// subjectID extracts the numeric user id the JWT middleware stored in
// context. JWT numeric claims decode as float64; string subjects are
// parsed for tokens minted by other issuers. Zero means no
// authenticated user.
func subjectID(c echo.Context) uint64 {
	switch v := c.Get("user_id").(type) {
	case float64:
		return uint64(v)
	case uint64:
		return v
	case string:
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// kindStatus maps every error kind of the taxonomy onto an HTTP
// status. Unknown errors are treated as internal.
func kindStatus(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotLoggedIn:
		return http.StatusUnauthorized
	case apperr.KindPermissionDenied, apperr.KindUserBlocked, apperr.KindIPRestricted, apperr.KindInvalidUser:
		return http.StatusForbidden
	case apperr.KindInvalidConsumerKey:
		return http.StatusNotFound
	case apperr.KindConsumerExists, apperr.KindChangeConflict,
		apperr.KindNotProposed, apperr.KindNotApproved, apperr.KindNotDisabled,
		apperr.KindTokenAlreadyExchanged:
		return http.StatusConflict
	case apperr.KindEmailNotConfirmed, apperr.KindEmailMismatched:
		return http.StatusBadRequest
	case apperr.KindBadConsumer, apperr.KindInvalidSignature, apperr.KindInvalidRequestToken,
		apperr.KindInvalidVerifier, apperr.KindExpiredToken:
		return http.StatusUnauthorized
	case apperr.KindReadOnly:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// kindJSON renders a structured error as the (kind, detail) pair the
// API promises.
func kindJSON(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	if kind == "" {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	detail := ""
	var e *apperr.Error
	if errors.As(err, &e) {
		detail = e.Detail
	}
	return c.JSON(kindStatus(kind), echo.Map{"error": string(kind), "detail": detail})
}
