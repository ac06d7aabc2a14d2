package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"therabook/affiliation"
	"therabook/auth"
	"therabook/booking"
	"therabook/db"
	"therabook/notify"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	notifyStore := notify.NewPGStore(pool)
	affiliationSvc := affiliation.NewService(affiliation.NewRepository(pool))

	server := &Server{
		authService:         auth.NewService(auth.NewRepository(pool), jwtSecret),
		bookingService:      booking.NewService(booking.NewRepository(pool), affiliationSvc, notify.NewDispatcher(notifyStore)),
		affiliationService:  affiliationSvc,
		notificationService: notifyStore,
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	log.Printf("api listening on %s", addr)
	if err := http.ListenAndServe(addr, server.routes()); err != nil {
		log.Fatalf("http server: %v", err)
	}
}
