package main

import (
	"io"
	"net/http"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	log "github.com/sirupsen/logrus"
)

// accessLog returns a writer that turns combined-format access lines into
// debug entries of the http component. Close it on shutdown.
func accessLog() io.WriteCloser {
	return logging.Component("http").WriterLevel(log.DebugLevel)
}

// baseChain wraps every route: a panic in a handler becomes a 500 and is
// logged, and each request is written to access.
func baseChain(access io.Writer) alice.Chain {
	if access == nil {
		access = io.Discard
	}
	return alice.New(
		handlers.RecoveryHandler(
			handlers.RecoveryLogger(logging.Component("http")),
			handlers.PrintRecoveryStack(true),
		),
		func(h http.Handler) http.Handler {
			return handlers.CombinedLoggingHandler(access, h)
		},
	)
}

// mountMCP routes every method on mcpPath to the streamable handler, which
// uses POST for calls, GET for the event stream and DELETE to end a session.
func mountMCP(r *mux.Router, chain alice.Chain, h http.Handler) {
	r.Handle(mcpPath, chain.Then(h))
}
