// simulate drives contended load against a running api-server: many
// workers race to book the same small grid of slots, confirm their
// pending bookings, and read schedules. The report shows how the
// contention resolved.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medigrid/clinic-scheduling/internal/config"
	"github.com/medigrid/clinic-scheduling/internal/db"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	BookingRatio float64
	ConfirmRatio float64
	PatientLimit int
	DoctorLimit  int
	SlotCount    int
	PostgresDSN  string
}

// slot is one bookable window on a doctor's calendar. Keeping the grid
// small forces workers to collide.
type slot struct {
	DoctorID uuid.UUID
	ClinicID uuid.UUID
	Start    time.Time
	End      time.Time
}

type booking struct {
	AppointmentID uuid.UUID
	DoctorID      uuid.UUID
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []slot
	mu       sync.RWMutex
	bookings []booking
}

func (dp *DataPool) AddBooking(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

func (dp *DataPool) RandomBooking() (booking, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return booking{}, false
	}
	return dp.bookings[rand.Intn(len(dp.bookings))], true
}

type outcome int

const (
	outcomeWin outcome = iota
	outcomeConflict
	outcomeError
)

// tally accumulates per-operation results. The report only needs
// counts, the mean, and the p95 tail, so that is all it keeps.
type tally struct {
	mu        sync.Mutex
	wins      int
	conflicts int
	errors    int
	latencies []time.Duration
}

func (t *tally) add(d time.Duration, o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch o {
	case outcomeWin:
		t.wins++
	case outcomeConflict:
		t.conflicts++
	default:
		t.errors++
	}
	t.latencies = append(t.latencies, d)
}

func (t *tally) line(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	total := t.wins + t.conflicts + t.errors
	if total == 0 {
		return fmt.Sprintf("%-16s no calls", name)
	}

	sorted := make([]time.Duration, len(t.latencies))
	copy(sorted, t.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	avg := sum / time.Duration(len(sorted))
	p95 := sorted[min(len(sorted)*95/100, len(sorted)-1)]

	return fmt.Sprintf("%-16s total=%-6d ok=%-6d conflict=%-6d error=%-5d avg=%-8s p95=%s",
		name, total, t.wins, t.conflicts, t.errors,
		avg.Round(time.Millisecond), p95.Round(time.Millisecond))
}

// opNames fixes the report order.
var opNames = []string{"book", "confirm", "read", "schedule", "patient-list"}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	tallies map[string]*tally
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d booking=%.2f confirm=%.2f",
		cfg.Duration, cfg.Workers, cfg.BookingRatio, cfg.ConfirmRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, %d slots", len(dataPool.Patients), len(dataPool.Slots))

	sim := &Simulator{
		config:  cfg,
		pool:    dataPool,
		client:  &http.Client{Timeout: 10 * time.Second},
		tallies: make(map[string]*tally),
	}
	for _, name := range opNames {
		sim.tallies[name] = &tally{}
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	cfg := SimConfig{
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		BookingRatio: getFloat("SIM_BOOKING_RATIO", 0.5),
		ConfirmRatio: getFloat("SIM_CONFIRM_RATIO", 0.2),
		PatientLimit: getInt("SIM_PATIENT_LIMIT", 4000),
		DoctorLimit:  getInt("SIM_DOCTOR_LIMIT", 20),
		SlotCount:    getInt("SIM_SLOT_COUNT", 16),
		PostgresDSN:  baseCfg.PostgresDSN,
	}
	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.BookingRatio+cfg.ConfirmRatio > 1 {
		return fmt.Errorf("SIM_BOOKING_RATIO + SIM_CONFIRM_RATIO must not exceed 1")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM patients LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	rows, err = pool.Query(ctx, `
		SELECT id, clinic_id FROM staff_members
		WHERE role = 'doctor'
		LIMIT $1
	`, cfg.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	defer rows.Close()

	type doctor struct {
		id     uuid.UUID
		clinic uuid.UUID
	}
	var doctors []doctor
	for rows.Next() {
		var d doctor
		if err := rows.Scan(&d.id, &d.clinic); err != nil {
			return nil, err
		}
		doctors = append(doctors, d)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(doctors) == 0 {
		return nil, fmt.Errorf("no doctors loaded")
	}

	// Build tomorrow's half-hour grid across the loaded doctors.
	base := time.Now().Add(24 * time.Hour).Truncate(time.Hour)
	for i := 0; i < cfg.SlotCount; i++ {
		d := doctors[i%len(doctors)]
		start := base.Add(time.Duration(i/len(doctors)) * 30 * time.Minute)
		dataPool.Slots = append(dataPool.Slots, slot{
			DoctorID: d.id,
			ClinicID: d.clinic,
			Start:    start,
			End:      start.Add(30 * time.Minute),
		})
	}

	return dataPool, nil
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

	for {
		select {
		case <-ctx.Done():
			return
		default:
			r := rng.Float64()
			switch {
			case r < s.config.BookingRatio:
				s.doBooking(ctx, rng)
			case r < s.config.BookingRatio+s.config.ConfirmRatio:
				s.doConfirm(ctx, rng)
			default:
				switch rng.Intn(3) {
				case 0:
					s.doReadByID(ctx, rng)
				case 1:
					s.doDoctorSchedule(ctx, rng)
				case 2:
					s.doListByPatient(ctx, rng)
				}
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Slots) == 0 || len(s.pool.Patients) == 0 {
		return
	}

	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	reqBody := map[string]string{
		"patient_id": patientID.String(),
		"doctor_id":  sl.DoctorID.String(),
		"clinic_id":  sl.ClinicID.String(),
		"start":      sl.Start.Format(time.RFC3339),
		"end":        sl.End.Format(time.RFC3339),
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	o := outcomeError
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			o = outcomeWin
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			bodyBytes, _ := io.ReadAll(resp.Body)
			if len(bodyBytes) > 0 {
				json.Unmarshal(bodyBytes, &apptResp)
				if apptResp.ID != uuid.Nil {
					s.pool.AddBooking(booking{AppointmentID: apptResp.ID, DoctorID: sl.DoctorID})
				}
			}
		case http.StatusConflict:
			o = outcomeConflict
		}
	}

	s.tallies["book"].add(latency, o)
}

func (s *Simulator) doConfirm(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking()
	if !ok {
		return
	}

	reqBody := map[string]string{
		"target":     "confirmed",
		"actor_role": "doctor",
		"actor_id":   b.DoctorID.String(),
	}
	body, _ := json.Marshal(reqBody)

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "POST",
		fmt.Sprintf("%s/appointments/%s/transition", s.config.APIBaseURL, b.AppointmentID.String()),
		bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	o := outcomeError
	if err == nil {
		defer resp.Body.Close()
		switch resp.StatusCode {
		case http.StatusOK:
			o = outcomeWin
		case http.StatusConflict:
			o = outcomeConflict
		}
	}

	s.tallies["confirm"].add(latency, o)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	b, ok := s.pool.RandomBooking()
	if !ok {
		return
	}
	s.doGet(ctx, "read",
		fmt.Sprintf("%s/appointments/%s", s.config.APIBaseURL, b.AppointmentID.String()))
}

func (s *Simulator) doDoctorSchedule(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Slots) == 0 {
		return
	}

	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]
	from := sl.Start.Add(-12 * time.Hour)
	to := sl.Start.Add(12 * time.Hour)

	s.doGet(ctx, "schedule",
		fmt.Sprintf("%s/doctors/%s/schedule?from=%s&to=%s",
			s.config.APIBaseURL, sl.DoctorID.String(),
			from.Format(time.RFC3339), to.Format(time.RFC3339)))
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	if len(s.pool.Patients) == 0 {
		return
	}

	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]
	s.doGet(ctx, "patient-list",
		fmt.Sprintf("%s/appointments?patient_id=%s&limit=20&offset=0", s.config.APIBaseURL, patientID.String()))
}

func (s *Simulator) doGet(ctx context.Context, op, url string) {
	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "GET", url, nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	o := outcomeError
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			o = outcomeWin
		}
	}

	s.tallies[op].add(latency, o)
}

func (s *Simulator) PrintReport() {
	fmt.Printf("\nsimulation report: duration=%s workers=%d slots=%d\n",
		s.config.Duration, s.config.Workers, len(s.pool.Slots))
	for _, name := range opNames {
		fmt.Println(s.tallies[name].line(name))
	}
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
