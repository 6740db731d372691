// Command rpcserver serves a small set of demo methods over HTTP and WebSocket.
//
//	rpcserver -config rpckit.toml
//	rpcserver -stdio < requests.jsonl
//
// Settings come from the TOML file, a .env file and RPCKIT_* variables. When
// RPCKIT_AUTH_TOKEN is set, auth is enabled and callers must send it as a bearer
// token.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/n-car/rpckit"
	"github.com/n-car/rpckit/config"
	"github.com/n-car/rpckit/middleware"
	"github.com/n-car/rpckit/transport"
)

type addParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

const addSchema = `{
	"type": "object",
	"properties": {
		"a": {"type": "number"},
		"b": {"type": "number"}
	},
	"required": ["a", "b"]
}`

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	stdio := flag.Bool("stdio", false, "serve newline-delimited JSON-RPC on stdin and stdout")
	flag.Parse()

	if err := run(*configPath, *stdio); err != nil {
		fmt.Fprintf(os.Stderr, "rpcserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, stdio bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	verifier, err := staticVerifier(&cfg)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	validator, err := cfg.Validator()
	if err != nil {
		return err
	}

	engine, err := rpckit.New(cfg.EngineOptions(logger, validator)...)
	if err != nil {
		return err
	}
	if err := cfg.ApplyMiddleware(engine, logger, verifier); err != nil {
		return err
	}
	if err := registerMethods(engine); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if stdio {
		return transport.NewStdioServer(engine, os.Stdin, os.Stdout, cfg.TransportOptions(logger)...).Run(ctx)
	}
	server := transport.NewServer(engine, cfg.TransportConfig(), cfg.TransportOptions(logger)...)
	return server.Run(ctx)
}

// staticVerifier accepts the single token from RPCKIT_AUTH_TOKEN.
func staticVerifier(cfg *config.Config) (middleware.Verifier, error) {
	token := os.Getenv("RPCKIT_AUTH_TOKEN")
	if token == "" {
		if cfg.Auth.Enabled {
			return nil, errors.New("auth is enabled but RPCKIT_AUTH_TOKEN is not set")
		}
		return nil, nil
	}
	cfg.Auth.Enabled = true
	return middleware.VerifierFunc(func(ctx context.Context, got string) (*middleware.Principal, error) {
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			return nil, rpckit.NewAuthenticationError("Invalid token")
		}
		return &middleware.Principal{UserID: "operator", Roles: []string{"admin"}}, nil
	}), nil
}

func registerMethods(e *rpckit.Engine) error {
	methods := []struct {
		name    string
		handler rpckit.HandlerFunc
		opts    []rpckit.MethodOption
	}{
		{
			name: "add",
			handler: rpckit.Typed(func(ctx context.Context, p addParams) (float64, error) {
				return p.A + p.B, nil
			}),
			opts: []rpckit.MethodOption{
				rpckit.WithDescription("Adds two numbers"),
				rpckit.WithSchema(json.RawMessage(addSchema)),
				rpckit.WithExposed(true),
			},
		},
		{
			name: "echo",
			handler: func(ctx context.Context, params rpckit.Params, rc *rpckit.RequestContext) (any, error) {
				return params.Value(), nil
			},
			opts: []rpckit.MethodOption{
				rpckit.WithDescription("Returns its params"),
				rpckit.WithExposed(true),
			},
		},
		{
			name: "time",
			handler: func(ctx context.Context, params rpckit.Params, rc *rpckit.RequestContext) (any, error) {
				return time.Now().UTC(), nil
			},
			opts: []rpckit.MethodOption{
				rpckit.WithDescription("Returns the server time"),
				rpckit.WithExposed(true),
			},
		},
		{
			name: "factorial",
			handler: rpckit.Typed(func(ctx context.Context, p struct {
				N int64 `json:"n"`
			}) (*big.Int, error) {
				if p.N < 0 || p.N > 1000 {
					return nil, rpckit.NewInvalidParams("n must be between 0 and 1000")
				}
				return new(big.Int).MulRange(1, p.N), nil
			}),
			opts: []rpckit.MethodOption{
				rpckit.WithDescription("Returns n! as a big integer"),
				rpckit.WithExposed(true),
			},
		},
	}

	for _, m := range methods {
		if err := e.Register(m.name, m.handler, m.opts...); err != nil {
			return fmt.Errorf("register %s: %w", m.name, err)
		}
	}
	return nil
}
