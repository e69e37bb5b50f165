package grpcapi

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/nitishm/bindle/errs"
)

// Status messages carry the error kind as a "<Kind>: " prefix so the client
// can rebuild the same errs.Kind. The gRPC code alone cannot tell a missing
// invoice from a missing parcel.

func codeFor(kind errs.Kind) codes.Code {
	switch kind {
	case errs.KindNotFound, errs.KindInvoiceNotFound:
		return codes.NotFound
	case errs.KindConflict:
		return codes.AlreadyExists
	case errs.KindDigestMismatch:
		return codes.DataLoss
	case errs.KindValidation:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return status.FromContextError(err).Err()
	}
	kind := errs.KindOf(err)
	if kind == "" {
		kind = errs.KindStorage
	}
	return status.Error(codeFor(kind), string(kind)+": "+err.Error())
}

var knownKinds = []errs.Kind{
	errs.KindNotFound,
	errs.KindInvoiceNotFound,
	errs.KindConflict,
	errs.KindDigestMismatch,
	errs.KindValidation,
	errs.KindStorage,
}

func mapRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, k := range knownKinds {
		if msg, found := strings.CutPrefix(st.Message(), string(k)+": "); found {
			return errs.New(k, op, msg)
		}
	}
	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	case codes.NotFound:
		return errs.New(errs.KindNotFound, op, st.Message())
	case codes.AlreadyExists:
		return errs.New(errs.KindConflict, op, st.Message())
	case codes.DataLoss:
		return errs.New(errs.KindDigestMismatch, op, st.Message())
	case codes.InvalidArgument:
		return errs.New(errs.KindValidation, op, st.Message())
	default:
		return err
	}
}
