package coregrpc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pppwaw/white-label-airport-core/core"
	"pkt.systems/pslog"
)

// wrapCoreError classifies a gRPC failure. Connectivity-level codes become
// transport errors; anything the core itself answered becomes a remote
// error carrying the status message.
func wrapCoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *core.Error
	if errors.As(err, &existing) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.NewError(core.ErrorKindTransport, op, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return core.NewError(core.ErrorKindRemote, op, err)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Aborted, codes.ResourceExhausted:
		return core.NewError(core.ErrorKindTransport, op, err)
	default:
		return &core.Error{Kind: core.ErrorKindRemote, Op: op, Message: st.Message(), Err: err}
	}
}

func logGRPCError(log pslog.Logger, msg string, err error) {
	if log == nil || err == nil {
		return
	}
	if st, ok := status.FromError(err); ok {
		log.Warn(msg, "err", err, "code", st.Code().String(), "message", st.Message())
		return
	}
	log.Warn(msg, "err", err)
}
