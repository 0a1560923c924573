package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/tonbridge/relay/api/handlers"
)

func Serve(
	ctx context.Context,
	addr string,
	eventsHandler *handlers.EventsHandler,
	attestationsHandler *handlers.AttestationsHandler,
) {
	r := mux.NewRouter()
	r.HandleFunc("/v1/events", eventsHandler.HandleEvents).Methods("GET")
	r.HandleFunc("/v1/events/{eventID}", eventsHandler.HandleEvent).Methods("GET")
	r.HandleFunc("/v1/events/{eventID}/retry", eventsHandler.HandleRetry).Methods("POST")
	r.HandleFunc("/v1/attestations/{eventID}", attestationsHandler.HandleAttestation).Methods("GET")

	server := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: time.Second * 10,
	}
	go func() {
		log.Info().Msgf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			panic(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := server.Shutdown(shutdownCtx)
	if err != nil {
		log.Err(err).Msgf("Error shutting down server")
	} else {
		log.Info().Msgf("Server shut down gracefully.")
	}
}
