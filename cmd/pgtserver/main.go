package main

import (
	"context"
	"flag"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/campusweb/sso-portal-api/env"
	"github.com/campusweb/sso-portal-api/pgtserver"
)

// Starts the proxy-granting ticket callback listener and waits for
// termination signals.
// This function blocks.
func main() {
	envPath := flag.String("env", "", "path to .env file")
	logFormat := flag.String("log-format", "console", "log format (one of 'json', 'console')")
	flag.Parse()

	// Set up structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var logger zerolog.Logger
	switch *logFormat {
	case "console":
		output := zerolog.ConsoleWriter{Out: os.Stdout}
		logger = zerolog.New(output).With().Timestamp().Logger()
	case "json":
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	default:
		log.Fatal().Str("log_format", *logFormat).Msg("unknown log format given")
	}
	stdlog.SetFlags(0)
	stdlog.SetOutput(logger)

	// Load the .env file if it is specified
	if envPath != nil && *envPath != "" {
		err := godotenv.Load(*envPath)
		if err != nil {
			logger.Fatal().Err(err).Str("env_path", *envPath).Msg("error loading .env file")
		} else {
			logger.Info().Str("env_path", *envPath).Msg("loaded environment variables from file")
		}
	}

	port, err := env.GetIntEnv("PGT server port", "PGT_SERVER_PORT")
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load PGT_SERVER_PORT from env")
	}

	casBaseURL, err := env.GetEnv("CAS server URL", "CAS_SERVER_URL")
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load CAS_SERVER_URL from env")
	}

	// TLS is optional so the listener can sit behind a terminating proxy
	certFile := os.Getenv("PGT_TLS_CERT_FILE")
	keyFile := os.Getenv("PGT_TLS_KEY_FILE")

	server, err := pgtserver.NewServer(pgtserver.Config{
		CASBaseURL: casBaseURL,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("could not initialize PGT callback server object")
	}

	serverCtx, cancel := context.WithCancel(context.Background())

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	// Propagate termination signals to the cancellation of the server context
	go func() {
		<-done
		cancel()
	}()

	server.Serve(serverCtx, port, certFile, keyFile)
}
