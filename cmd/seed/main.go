package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caremesh/telehealth-booking/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := store.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	if err := seedProviders(context.Background(), pool, 100); err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedPlans(context.Background(), pool); err != nil {
		log.Fatalf("seed plans: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"General Practice",
		"Dermatology",
		"Psychiatry",
		"Psychology",
		"Pediatrics",
		"Gynecology",
		"Endocrinology",
		"Cardiology",
		"Nutrition",
		"Physiotherapy",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		// Fees in minor units: 300.00 to 1500.00
		consultationFee := int64(gofakeit.Number(300, 1500)) * 100
		homeVisitFee := consultationFee + int64(gofakeit.Number(200, 800))*100

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, active, consultation_fee, home_visit_fee, created_at, updated_at)
			VALUES ($1, $2, $3, true, $4, $5, now(), now())
		`, id, name, spec, consultationFee, homeVisitFee)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("providers seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

type planSeed struct {
	name               string
	price              int64
	durationDays       int
	maxConsultations   int
	maxTherapySessions int
}

func seedPlans(ctx context.Context, pool *pgxpool.Pool) error {
	plans := []planSeed{
		{"Basic Care", 49900, 30, 2, 0},
		{"Family Care", 99900, 30, 6, 2},
		{"Mind & Body", 149900, 30, 4, 4},
		// -1 marks unlimited usage for the category.
		{"Unlimited Annual", 999900, 365, -1, 4},
	}

	log.Printf("seeding %d plans", len(plans))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, p := range plans {
		_, err := tx.Exec(ctx, `
			INSERT INTO plans (id, name, price, duration_days, max_consultations, max_therapy_sessions, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, uuid.New(), p.name, p.price, p.durationDays, p.maxConsultations, p.maxTherapySessions)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("plans seeded")
	return nil
}
