// Package middleware provides built-in hooks for the rpckit pipeline: rate
// limiting, method allow and deny lists, authentication, timing and request
// logging.
//
// Hooks are registered on an engine with Use, AddBefore or AddAfter:
//
//	engine.AddBefore(middleware.RateLimit(middleware.NewSlidingWindow(100, time.Minute), nil))
//	engine.AddBefore(middleware.NewMethodFilter(nil, []string{"admin.*"}))
//	engine.Use(middleware.NewTiming(500*time.Millisecond, logger))
package middleware
