package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/surfwright/surfwright/internal/errs"
	"github.com/surfwright/surfwright/internal/framecodec"
)

// Client sends exactly one request per call: connect, write, read,
// close.
type Client struct {
	Dialer        net.Dialer
	MaxFrameBytes int
}

// Send dials addr, writes req as a single frame, and reads exactly one
// response frame. Connection failures map to ErrDaemonUnreachable
// (retryable); malformed responses map to ErrDaemonFrameInvalid
// (non-retryable).
func (c *Client) Send(ctx context.Context, addr string, req Request) (Response, error) {
	conn, err := c.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{}, errs.New(errs.ErrDaemonUnreachable, fmt.Sprintf("connect to daemon at %s: %v", addr, err),
			errs.WithContext("addr", addr))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	frame, err := framecodec.Encode(req)
	if err != nil {
		return Response{}, errs.New(errs.ErrDaemonRequestInvalid, fmt.Sprintf("encode request: %v", err))
	}
	if _, err := conn.Write(frame); err != nil {
		return Response{}, errs.New(errs.ErrDaemonUnreachable, fmt.Sprintf("write request to daemon: %v", err),
			errs.WithContext("addr", addr))
	}

	var resp Response
	if err := framecodec.Decode(conn, c.MaxFrameBytes, &resp); err != nil {
		return Response{}, errs.New(errs.ErrDaemonFrameInvalid, fmt.Sprintf("decode daemon response: %v", err))
	}
	return resp, nil
}

// ResponseError converts a non-OK Response back into the typed *errs.Error
// the caller published it as.
func ResponseError(resp Response) error {
	if resp.OK {
		return nil
	}
	return errs.New(errs.Code(resp.ErrorCode), resp.Message,
		errs.WithRetryable(resp.Retryable))
}
