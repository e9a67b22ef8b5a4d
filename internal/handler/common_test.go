package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/provly/consumer-gateway/internal/apperr"
)

func TestKindStatus(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindNotLoggedIn:           http.StatusUnauthorized,
		apperr.KindInvalidSignature:      http.StatusUnauthorized,
		apperr.KindExpiredToken:          http.StatusUnauthorized,
		apperr.KindPermissionDenied:      http.StatusForbidden,
		apperr.KindIPRestricted:          http.StatusForbidden,
		apperr.KindInvalidConsumerKey:    http.StatusNotFound,
		apperr.KindConsumerExists:        http.StatusConflict,
		apperr.KindChangeConflict:        http.StatusConflict,
		apperr.KindTokenAlreadyExchanged: http.StatusConflict,
		apperr.KindEmailMismatched:       http.StatusBadRequest,
		apperr.KindReadOnly:              http.StatusServiceUnavailable,
		apperr.KindStorage:               http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, kindStatus(kind), string(kind))
	}
}

func TestKindJSON(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	err := kindJSON(c, apperr.E(apperr.KindChangeConflict, "consumer was modified"))
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"change_conflict","detail":"consumer was modified"}`, rec.Body.String())
}

func TestSubjectID(t *testing.T) {
	e := echo.New()
	newCtx := func(v any) echo.Context {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if v != nil {
			c.Set("user_id", v)
		}
		return c
	}
	assert.Equal(t, uint64(7), subjectID(newCtx(float64(7))))
	assert.Equal(t, uint64(7), subjectID(newCtx(uint64(7))))
	assert.Equal(t, uint64(7), subjectID(newCtx("7")))
	assert.Equal(t, uint64(0), subjectID(newCtx("abc")))
	assert.Equal(t, uint64(0), subjectID(newCtx(nil)))
}
