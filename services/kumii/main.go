package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"github.com/relabs-tech/kumii/core/access"
	"github.com/relabs-tech/kumii/core/backend"
	"github.com/relabs-tech/kumii/core/csql"
	"github.com/relabs-tech/kumii/core/events"
	"github.com/relabs-tech/kumii/core/jobs"
	"github.com/relabs-tech/kumii/core/logger"
	"github.com/relabs-tech/kumii/core/mail"
	"github.com/relabs-tech/kumii/core/store"
)

func main() {
	config, err := LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.InitLogger(logger.ParseLevel(config.LogLevel), config.LogFormat)
	rlog := logger.Default()

	db := csql.OpenWithSchema(config.Postgres, config.PostgresPassword, config.DBSchema)
	defer db.Close()

	st, err := store.New(db, config.UpdateSchema)
	if err != nil {
		rlog.WithError(err).Fatalln("cannot initialize store")
	}

	queue, err := jobs.New(&jobs.Builder{DB: db, UpdateSchema: config.UpdateSchema})
	if err != nil {
		rlog.WithError(err).Fatalln("cannot initialize job queue")
	}

	publisher := events.Nop()
	if config.KafkaBrokers != "" {
		kafka, err := events.NewKafkaPublisher(config.KafkaBrokers, config.KafkaTopic)
		if err != nil {
			rlog.WithError(err).Fatalln("cannot initialize event publisher")
		}
		publisher = kafka
	}
	defer publisher.Close()

	var verifier access.TokenVerifier
	switch config.AuthVerify {
	case "remote":
		verifier = access.NewRemoteVerifier(config.SupabaseURL, config.SupabaseServiceRoleKey)
	default:
		verifier = access.NewJWTVerifier(config.JWTSecret, "authenticated")
	}

	mailer := mail.New(mail.Configuration{APIKey: config.ResendAPIKey, From: config.ResendFromEmail})
	if !mailer.Configured() {
		rlog.Warnln("RESEND_API_KEY or RESEND_FROM_EMAIL not set, emails are not sent")
	}

	backendConfig := config.Backend()
	kssConfig := config.KSS()
	router := mux.NewRouter()
	api := backend.New(&backend.Builder{
		Config:    backendConfig,
		Store:     st,
		Router:    router,
		Verifier:  verifier,
		Queue:     queue,
		JobHealth: queue,
		Publisher: publisher,
		KSS:       &kssConfig,
	})

	webOrigin := "http://localhost:5173"
	if len(backendConfig.CORSOrigins) > 0 {
		webOrigin = backendConfig.CORSOrigins[0]
	}
	jobs.NewNotifier(st, mailer, queue, publisher, webOrigin).Register(queue)
	queue.ProcessJobsAsync(config.JobHeartbeat)

	done := make(chan struct{})
	go api.CleanupTyping(done)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		rlog.Infof("listen on port %s in %s mode", server.Addr, config.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rlog.WithError(err).Fatalln("cannot serve")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	rlog.Infoln("received", sig, "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	close(done)
	if err := queue.Close(ctx); err != nil {
		rlog.WithError(err).Warnln("job processing did not stop in time")
	}
	if err := server.Shutdown(ctx); err != nil {
		rlog.WithError(err).Warnln("server did not shut down cleanly")
	}
	rlog.Infoln("shutdown complete")
}
