package message

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"muxrpc/rpcerr"
)

func TestErrorResponseStatus(t *testing.T) {
	cases := []struct {
		err  error
		want Status
	}{
		{errors.Wrap(rpcerr.ErrServiceNotFound, "Echo"), StatusServiceNotFound},
		{errors.Wrap(rpcerr.ErrMethodNotFound, "Echo.nope"), StatusMethodNotFound},
		{errors.Wrap(rpcerr.ErrArgumentDecode, "json: cannot unmarshal"), StatusArgumentDecode},
		{errors.New("division by zero"), StatusApplication},
	}
	for _, tc := range cases {
		resp := ErrorResponse(tc.err)
		assert.Equal(t, tc.want, resp.Status, tc.err.Error())
		assert.Equal(t, tc.err.Error(), resp.Error)
		assert.Empty(t, resp.Payload)
	}
}

func TestResponseErr(t *testing.T) {
	assert.NoError(t, (&Response{Status: StatusOK}).Err())

	err := (&Response{Status: StatusServiceNotFound, Error: "Nope"}).Err()
	assert.True(t, errors.Is(err, rpcerr.ErrServiceNotFound))

	err = (&Response{Status: StatusMethodNotFound, Error: "Echo.nope"}).Err()
	assert.True(t, errors.Is(err, rpcerr.ErrMethodNotFound))

	err = (&Response{Status: StatusArgumentDecode, Error: "bad"}).Err()
	assert.True(t, errors.Is(err, rpcerr.ErrArgumentDecode))

	err = (&Response{Status: StatusApplication, Error: "division by zero"}).Err()
	var appErr *rpcerr.ApplicationError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "division by zero", appErr.Message)

	assert.Error(t, (&Response{Status: 42}).Err())
}
