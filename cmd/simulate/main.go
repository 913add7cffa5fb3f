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
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caremesh/telehealth-booking/internal/store"
)

// simulate hammers the booking API with racing, overlapping appointment
// requests for a small set of providers and reports how many bookings won,
// lost the slot, or errored. Run it against a seeded database.

type SimConfig struct {
	APIBaseURL  string
	PostgresDSN string
	JWTSecret   string
	Duration    time.Duration
	Workers     int
	Providers   int
	Patients    int
}

func loadSimConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:  getenv("SIM_API_URL", "http://localhost:8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		Duration:    30 * time.Second,
		Workers:     20,
		Providers:   5,
		Patients:    200,
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Duration = d
		}
	}
	if v := os.Getenv("SIM_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Workers = n
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

type Metrics struct {
	Total     int64
	Created   int64
	SlotTaken int64
	Contended int64
	Rejected  int64
	Errors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&m.Total, 1)
	switch {
	case status == http.StatusCreated:
		atomic.AddInt64(&m.Created, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&m.SlotTaken, 1)
	case status == http.StatusForbidden:
		atomic.AddInt64(&m.Rejected, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&m.Rejected, 1)
	default:
		atomic.AddInt64(&m.Errors, 1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, latency)
	m.mu.Unlock()
}

func (m *Metrics) Percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg := loadSimConfig()
	if cfg.PostgresDSN == "" || cfg.JWTSecret == "" {
		log.Fatal("POSTGRES_DSN and JWT_SECRET are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := store.ConnectPostgres(ctx, cfg.PostgresDSN)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}

	providers, err := loadIDs(context.Background(), pool, "SELECT id FROM providers WHERE active LIMIT $1", cfg.Providers)
	if err != nil {
		log.Fatalf("load providers: %v", err)
	}
	patients, err := loadIDs(context.Background(), pool, "SELECT id FROM patients LIMIT $1", cfg.Patients)
	if err != nil {
		log.Fatalf("load patients: %v", err)
	}
	pool.Close()

	if len(providers) == 0 || len(patients) == 0 {
		log.Fatal("no seeded providers or patients found, run cmd/seed first")
	}

	log.Printf("simulating: workers=%d duration=%s providers=%d patients=%d",
		cfg.Workers, cfg.Duration, len(providers), len(patients))

	// All workers fight over a small grid of slots so conflicts actually
	// happen: next-day slots on 30 minute boundaries.
	slotBase := time.Now().Add(24 * time.Hour).Truncate(time.Hour)

	metrics := &Metrics{}
	client := &http.Client{Timeout: 10 * time.Second}
	deadline := time.Now().Add(cfg.Duration)

	var wg sync.WaitGroup
	for w := 0; w < cfg.Workers; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))

			for time.Now().Before(deadline) {
				patientID := patients[rng.Intn(len(patients))]
				providerID := providers[rng.Intn(len(providers))]
				slot := slotBase.Add(time.Duration(rng.Intn(16)) * 30 * time.Minute)

				token, err := mintToken(cfg.JWTSecret, patientID, "patient")
				if err != nil {
					log.Printf("mint token: %v", err)
					continue
				}

				start := time.Now()
				status := postBooking(client, cfg.APIBaseURL, token, providerID, slot)
				metrics.Record(time.Since(start), status)
			}
		}(int64(w) + time.Now().UnixNano())
	}
	wg.Wait()

	fmt.Println("--- simulation results ---")
	fmt.Printf("total requests:   %d\n", metrics.Total)
	fmt.Printf("bookings created: %d\n", metrics.Created)
	fmt.Printf("slot conflicts:   %d\n", metrics.SlotTaken)
	fmt.Printf("rejected (4xx):   %d\n", metrics.Rejected)
	fmt.Printf("errors (5xx):     %d\n", metrics.Errors)
	fmt.Printf("latency p50=%s p95=%s p99=%s\n",
		metrics.Percentile(0.50), metrics.Percentile(0.95), metrics.Percentile(0.99))
}

func mintToken(secret string, userID uuid.UUID, role string) (string, error) {
	claims := jwt.MapClaims{
		"sub":  userID.String(),
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func postBooking(client *http.Client, baseURL, token string, providerID uuid.UUID, slot time.Time) int {
	body, _ := json.Marshal(map[string]any{
		"provider_id":      providerID.String(),
		"type":             "consultation",
		"mode":             "video",
		"scheduled_at":     slot.Format(time.RFC3339),
		"duration_minutes": 30,
		"method":           "upi",
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/appointments", bytes.NewReader(body))
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
