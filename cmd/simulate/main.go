package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/slot-booking-bot/internal/booking"
	"github.com/hackgods/slot-booking-bot/internal/config"
)

// The simulator hammers the store directly: workers race to reserve a small
// pool of slots, cancel what they won and read listings, then the slot and
// appointment tables are checked for the one-appointment-per-taken-slot rule.

type SimConfig struct {
	Duration    time.Duration
	Workers     int
	Users       int
	Slots       int
	Date        string
	BookRatio   float64
	CancelRatio float64
	ReadRatio   float64
}

type DataPool struct {
	RunID   string
	Users   []int64
	Slots   []int64
	mu      sync.Mutex
	booked  map[int64]int64 // appointment id -> owner
	bookedN atomic.Int64
}

func (dp *DataPool) AddAppointment(id, owner int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.booked[id] = owner
	dp.bookedN.Add(1)
}

// TakeRandomAppointment removes and returns a random appointment so two
// workers never cancel the same one.
func (dp *DataPool) TakeRandomAppointment(rng *rand.Rand) (id, owner int64, ok bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.booked) == 0 {
		return 0, 0, false
	}
	n := rng.Intn(len(dp.booked))
	for id, owner = range dp.booked {
		if n == 0 {
			break
		}
		n--
	}
	delete(dp.booked, id)
	return id, owner, true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]
	p50 = latencies[percentileIndex(len(latencies), 50)]
	p95 = latencies[percentileIndex(len(latencies), 95)]
	return avg, min, max, p50, p95
}

func percentileIndex(n, p int) int {
	idx := n * p / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

type Metrics struct {
	Reserve OperationMetrics
	Cancel  OperationMetrics
	List    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	svc     *booking.Service
	pool    *DataPool
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}
	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	cfg.Date, _ = booking.NormalizeSlotDate(cfg.Date)

	log.Printf("config: store=%s duration=%s workers=%d users=%d slots=%d reserve=%.2f cancel=%.2f read=%.2f",
		baseCfg.StoreDriver, cfg.Duration, cfg.Workers, cfg.Users, cfg.Slots, cfg.BookRatio, cfg.CancelRatio, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, closeStore, err := booking.OpenRepository(ctx, baseCfg)
	if err != nil {
		log.Fatalf("store connection error: %v", err)
	}
	defer closeStore()
	svc := booking.NewService(repo)

	dataPool, err := preparePool(ctx, svc, cfg)
	if err != nil {
		log.Fatalf("prepare data pool: %v", err)
	}
	log.Printf("run %s: %d users, %d slots on %s", dataPool.RunID, len(dataPool.Users), len(dataPool.Slots), cfg.Date)

	sim := &Simulator{config: cfg, svc: svc, pool: dataPool}
	sim.Run()
	sim.PrintReport()

	checkCtx, checkCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer checkCancel()
	if err := sim.CheckInvariant(checkCtx); err != nil {
		log.Fatalf("invariant violated: %v", err)
	}
	log.Println("invariant holds: every taken slot has exactly one appointment")
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 16),
		Users:       getInt("SIM_USERS", 50),
		Slots:       getInt("SIM_SLOTS", 8),
		Date:        getEnv("SIM_DATE", "31.12"),
		BookRatio:   getFloat("SIM_RESERVE_RATIO", 0.5),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.3),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.2),
	}

	total := cfg.BookRatio + cfg.CancelRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookRatio /= total
		cfg.CancelRatio /= total
		cfg.ReadRatio /= total
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.Users <= 0 || cfg.Slots <= 0 {
		return fmt.Errorf("SIM_USERS and SIM_SLOTS must be > 0")
	}
	if cfg.Slots > 24*60 {
		return fmt.Errorf("SIM_SLOTS must fit in one day")
	}
	if _, err := booking.NormalizeSlotDate(cfg.Date); err != nil {
		return fmt.Errorf("SIM_DATE: %w", err)
	}
	return nil
}

// preparePool registers throwaway users and opens a contended slot pool.
// Slots left from an earlier run on the same date are reused.
func preparePool(ctx context.Context, svc *booking.Service, cfg SimConfig) (*DataPool, error) {
	runID := uuid.NewString()
	dp := &DataPool{RunID: runID, booked: make(map[int64]int64)}

	for i := 0; i < cfg.Users; i++ {
		id := int64(uuid.New().ID()) + 1
		err := svc.RegisterUser(ctx, booking.User{
			ID:        id,
			Username:  fmt.Sprintf("sim_%s_%d", runID[:8], i),
			FirstName: "Sim",
			Phone:     fmt.Sprintf("+700000%05d", i),
		})
		if err != nil {
			return nil, fmt.Errorf("register user: %w", err)
		}
		dp.Users = append(dp.Users, id)
	}

	for i := 0; i < cfg.Slots; i++ {
		clock := fmt.Sprintf("%02d:%02d", i/60, i%60)
		slot, err := svc.CreateSlot(ctx, cfg.Date, "sim", clock)
		if errors.Is(err, booking.ErrDuplicateSlot) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create slot: %w", err)
		}
		dp.Slots = append(dp.Slots, slot.ID)
	}

	existing, err := svc.SlotsByDate(ctx, cfg.Date)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(dp.Slots) < len(existing) {
		dp.Slots = dp.Slots[:0]
		for _, s := range existing {
			dp.Slots = append(dp.Slots, s.ID)
		}
	}
	if len(dp.Slots) == 0 {
		return nil, fmt.Errorf("no slots on %s", cfg.Date)
	}
	return dp, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookRatio:
			s.doReserve(ctx, rng)
		case r < s.config.BookRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		default:
			s.doList(ctx)
		}
	}
}

func (s *Simulator) doReserve(ctx context.Context, rng *rand.Rand) {
	slotID := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	userID := s.pool.Users[rng.Intn(len(s.pool.Users))]

	start := time.Now()
	appt, err := s.svc.Book(ctx, slotID, userID, "Sim "+strconv.Itoa(rng.Intn(1000)))
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	conflict := errors.Is(err, booking.ErrSlotUnavailable)
	if err == nil {
		s.pool.AddAppointment(appt.ID, userID)
	}
	s.metrics.Reserve.Record(latency, err == nil, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	id, owner, ok := s.pool.TakeRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	_, err := s.svc.Cancel(ctx, id, &owner)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}

	s.metrics.Cancel.Record(latency, err == nil, errors.Is(err, booking.ErrAppointmentNotFound))
}

func (s *Simulator) doList(ctx context.Context) {
	start := time.Now()
	_, err := s.svc.AvailableSlots(ctx, s.config.Date)
	latency := time.Since(start)
	if ctx.Err() != nil {
		return
	}
	s.metrics.List.Record(latency, err == nil, false)
}

// CheckInvariant walks the simulated date: a slot is taken exactly when an
// appointment points at it.
func (s *Simulator) CheckInvariant(ctx context.Context) error {
	slots, err := s.svc.SlotsByDate(ctx, s.config.Date)
	if err != nil {
		return err
	}

	var problems []string
	for _, slot := range slots {
		appt, err := s.svc.AppointmentBySlot(ctx, slot.ID)
		switch {
		case errors.Is(err, booking.ErrAppointmentNotFound):
			if !slot.Available {
				problems = append(problems, fmt.Sprintf("slot %d taken without appointment", slot.ID))
			}
		case err != nil:
			return err
		case slot.Available:
			problems = append(problems, fmt.Sprintf("slot %d free but appointment %d exists", slot.ID, appt.ID))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Run: %s\n", s.pool.RunID)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Appointments created: %d\n", s.pool.bookedN.Load())
	fmt.Println()

	printOperationReport("Reserve", &s.metrics.Reserve)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List available", &s.metrics.List)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Microsecond), min.Round(time.Microsecond), max.Round(time.Microsecond),
		p50.Round(time.Microsecond), p95.Round(time.Microsecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
