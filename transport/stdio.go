package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/codes"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/observability"
)

// StdioServer serves newline-delimited JSON-RPC payloads read from in and writes
// one reply line per answered payload to out.
type StdioServer struct {
	handler Handler
	in      io.Reader
	out     io.Writer
	opts    options
}

func NewStdioServer(handler Handler, in io.Reader, out io.Writer, opts ...Option) *StdioServer {
	return &StdioServer{
		handler: handler,
		in:      in,
		out:     out,
		opts:    buildOptions(opts),
	}
}

// Run processes lines until in is exhausted or ctx is cancelled. A clean end of
// input returns nil.
func (s *StdioServer) Run(ctx context.Context) error {
	ctx, span := observability.StartSpan(ctx, "transport.StdioServer.Run")
	defer span.End()

	var err error
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), int(s.opts.maxRequestSize))

	done := make(chan error, 1)
	go func() {
		for scanner.Scan() {
			if ctx.Err() != nil {
				done <- ctx.Err()
				return
			}
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			rc := rpckit.NewRequestContext()
			rc.RemoteAddr = "stdio"

			out := s.handler.Handle(ctx, line, rc)
			if out == nil {
				continue
			}
			if _, werr := s.out.Write(append(out, '\n')); werr != nil {
				done <- fmt.Errorf("write response: %w", werr)
				return
			}
		}
		if serr := scanner.Err(); serr != nil {
			done <- fmt.Errorf("read request: %w", serr)
			return
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		s.opts.logger.Debug("Context cancelled, stdio server shutting down")
		err = ctx.Err()
	case err = <-done:
		s.opts.logger.Debug("Stdio input closed")
	}
	return err
}
