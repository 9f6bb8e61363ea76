package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"github.com/go-playground/validator/v10"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/protobuf/proto"

	"github.com/at-ishikawa/readingquest/internal/engine"
	"github.com/at-ishikawa/readingquest/internal/identity"
)

const errorDomain = "readingquest"

// toConnectError maps engine errors to Connect codes with details.
func toConnectError(err error) *connect.Error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}

	var validationErrs validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrs):
		return badRequest(err, validationErrs)
	case errors.Is(err, identity.ErrUnauthenticated):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, engine.ErrBookNotFound), errors.Is(err, engine.ErrQuestionNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, engine.ErrInvalidSegment):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, engine.ErrUpstream):
		return withErrorInfo(connect.NewError(connect.CodeUnavailable, err), "UPSTREAM_UNAVAILABLE")
	default:
		return withErrorInfo(connect.NewError(connect.CodeInternal, err), "INTERNAL")
	}
}

func badRequest(err error, validationErrs validator.ValidationErrors) *connect.Error {
	connectErr := connect.NewError(connect.CodeInvalidArgument, err)
	var fieldViolations []*errdetails.BadRequest_FieldViolation
	for _, fe := range validationErrs {
		fieldViolations = append(fieldViolations, &errdetails.BadRequest_FieldViolation{
			Field:       fe.Field(),
			Description: fe.Error(),
		})
	}
	return addDetail(connectErr, &errdetails.BadRequest{FieldViolations: fieldViolations})
}

func withErrorInfo(connectErr *connect.Error, reason string) *connect.Error {
	return addDetail(connectErr, &errdetails.ErrorInfo{
		Reason: reason,
		Domain: errorDomain,
	})
}

// addDetail attaches msg to connectErr. A detail that fails to encode is dropped.
func addDetail(connectErr *connect.Error, msg proto.Message) *connect.Error {
	if detail, err := connect.NewErrorDetail(msg); err == nil {
		connectErr.AddDetail(detail)
	}
	return connectErr
}
