package main

import (
	"context"
	"log"
	"os"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := newRootCommand(openFromConfig).Execute(); err != nil {
		log.Printf("slotctl: %v", err)
		os.Exit(1)
	}
}

func openFromConfig(ctx context.Context) (*booking.Service, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	repo, closeStore, err := booking.OpenRepository(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return booking.NewService(repo), closeStore, nil
}
