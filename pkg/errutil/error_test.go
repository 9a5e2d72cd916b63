package errutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gorm.io/gorm"
)

func TestHelpersCarryCause(t *testing.T) {
	cause := errors.New("boom")
	err := BadGateway("provider unavailable", cause)

	var be BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, StatusBadGateway, be.Status())
	require.ErrorIs(t, err, cause)
	require.Equal(t, "[bad_gateway] provider unavailable: boom", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[CoreStatus]int{
		StatusBadRequest:          http.StatusBadRequest,
		StatusUnauthorized:        http.StatusUnauthorized,
		StatusForbidden:           http.StatusForbidden,
		StatusUnprocessableEntity: http.StatusUnprocessableEntity,
		StatusBadGateway:          http.StatusBadGateway,
		StatusUnknown:             http.StatusInternalServerError,
	}
	for code, want := range cases {
		require.Equal(t, want, code.HTTPStatus(), string(code))
	}
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, StatusForbidden, StatusOf(Forbidden("nope", nil)))
	require.Equal(t, StatusInternal, StatusOf(errors.New("plain")))
}

func TestToGRPCError(t *testing.T) {
	require.NoError(t, ToGRPCError(nil))

	st, ok := status.FromError(ToGRPCError(NotFound("missing", nil)))
	require.True(t, ok)
	require.Equal(t, codes.NotFound, st.Code())

	st, ok = status.FromError(ToGRPCError(context.Canceled))
	require.True(t, ok)
	require.Equal(t, codes.Canceled, st.Code())

	st, _ = status.FromError(ToGRPCError(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	require.Equal(t, codes.AlreadyExists, st.Code())

	st, _ = status.FromError(ToGRPCError(errors.New("dsn password=hunter2")))
	require.Equal(t, codes.Internal, st.Code())
	require.NotContains(t, st.Message(), "hunter2")
}

func TestJSONOmitsCause(t *testing.T) {
	err := Internal("ledger unavailable", errors.New("dial tcp 10.0.0.7:5432"))

	var be BaseError
	require.True(t, errors.As(err, &be))
	body, merr := json.Marshal(be.JSON())
	require.NoError(t, merr)
	require.JSONEq(t, `{"success":false,"error":{"code":"internal","message":"ledger unavailable"}}`, string(body))
}

func TestValidationFailedNamesField(t *testing.T) {
	err := ValidationFailed("payer_handle", "too long")

	require.True(t, Is(err, StatusValidationFailed))
	require.Equal(t, http.StatusBadRequest, StatusOf(err).HTTPStatus())
	require.Equal(t, []Detail{{Field: "payer_handle", Message: "too long"}}, err.(BaseError).Details)
}
