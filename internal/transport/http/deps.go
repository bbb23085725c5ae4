package http

import (
	"net/http"

	"github.com/recallbot/internal/application/pipeline"
	"github.com/recallbot/internal/application/recall"
	"github.com/recallbot/internal/transport/http/handler"
	"github.com/recallbot/internal/transport/http/middleware"
	"github.com/rs/zerolog"
)

// Deps holds the services and infrastructure the router requires.
type Deps struct {
	Pipeline pipeline.Service
	Recalls  recall.Service
	// Tokens verifies operator tokens. When nil the operator routes are
	// not mounted.
	Tokens  middleware.TokenVerifier
	Store   handler.Pinger
	Metrics http.Handler
	Logger  zerolog.Logger
}
