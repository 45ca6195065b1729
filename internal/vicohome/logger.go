package vicohome

import (
	"io"
	"log"
	"log/slog"
	"path/filepath"

	"github.com/jpaulin/freebird-go/internal/logging"
)

// Package-level logger specific to the vicohome service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "vicohome.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "vicohome", serviceLevelVar)
	if err != nil {
		log.Printf("failed to initialize vicohome file logger at %s: %v, service logging disabled", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "vicohome")
		closeLogger = func() error { return nil }
	}
}
