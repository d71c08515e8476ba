package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
)

var weekdays = [...]string{"вс", "пн", "вт", "ср", "чт", "пт", "сб"}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	users := flag.Int("users", 200, "fake chat users to create")
	days := flag.Int("days", 14, "days ahead to open slots for")
	bookRatio := flag.Float64("book", 0.3, "share of slots to book")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repo, closeStore, err := booking.OpenRepository(ctx, cfg)
	if err != nil {
		log.Fatalf("store connection error: %v", err)
	}
	defer closeStore()
	svc := booking.NewService(repo)

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	ids, err := seedUsers(ctx, svc, faker, *users)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}
	slots, err := seedSlots(ctx, svc, time.Now(), *days)
	if err != nil {
		log.Fatalf("seed slots: %v", err)
	}
	if err := seedAppointments(ctx, svc, faker, ids, slots, *bookRatio); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedUsers(ctx context.Context, svc *booking.Service, faker *gofakeit.Faker, count int) ([]int64, error) {
	log.Printf("seeding %d users", count)

	ids := make([]int64, 0, count)
	for i := 0; i < count; i++ {
		u := booking.User{
			ID:        faker.Int64(),
			Username:  faker.Username(),
			FirstName: faker.FirstName(),
			Phone:     "+7" + faker.Numerify("##########"),
		}
		if u.ID < 0 {
			u.ID = -u.ID
		}
		if u.ID == 0 {
			continue
		}
		if err := svc.RegisterUser(ctx, u); err != nil {
			return nil, err
		}
		ids = append(ids, u.ID)
	}

	log.Printf("users seeded: %d", len(ids))
	return ids, nil
}

// seedSlots opens a 10:00-18:00 half-hour grid for every day starting at
// from. Slots that already exist are left alone.
func seedSlots(ctx context.Context, svc *booking.Service, from time.Time, days int) ([]booking.Slot, error) {
	log.Printf("seeding slots for %d days", days)

	var created []booking.Slot
	for d := 0; d < days; d++ {
		day := from.AddDate(0, 0, d)
		date := day.Format("02.01")
		label := weekdays[day.Weekday()]

		for minutes := 10 * 60; minutes < 18*60; minutes += 30 {
			clock := fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
			slot, err := svc.CreateSlot(ctx, date, label, clock)
			if errors.Is(err, booking.ErrDuplicateSlot) {
				continue
			}
			if err != nil {
				return nil, err
			}
			created = append(created, *slot)
		}
		log.Printf("slots seeded: %s (%s)", date, label)
	}
	return created, nil
}

func seedAppointments(ctx context.Context, svc *booking.Service, faker *gofakeit.Faker, users []int64, slots []booking.Slot, ratio float64) error {
	if len(users) == 0 {
		return nil
	}

	booked := 0
	for _, slot := range slots {
		if faker.Float64() >= ratio {
			continue
		}
		userID := users[faker.Number(0, len(users)-1)]
		_, err := svc.Book(ctx, slot.ID, userID, faker.FirstName())
		if errors.Is(err, booking.ErrSlotUnavailable) {
			continue
		}
		if err != nil {
			return err
		}
		booked++
	}

	log.Printf("appointments seeded: %d/%d slots booked", booked, len(slots))
	return nil
}
