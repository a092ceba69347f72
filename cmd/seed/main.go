package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medigrid/clinic-scheduling/internal/db"
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

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	clinics, err := seedClinics(context.Background(), pool, 5)
	if err != nil {
		log.Fatalf("seed clinics: %v", err)
	}
	if err := seedStaff(context.Background(), pool, clinics, 100); err != nil {
		log.Fatalf("seed staff: %v", err)
	}
	if err := seedAmbulances(context.Background(), pool, clinics, 20); err != nil {
		log.Fatalf("seed ambulances: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 9000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedClinics(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d clinics", count)

	ids := make([]uuid.UUID, 0, count)
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Company() + " Clinic"

		_, err := tx.Exec(ctx, `
			INSERT INTO clinics (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("clinics seeded")
	return ids, nil
}

func seedStaff(ctx context.Context, pool *pgxpool.Pool, clinics []uuid.UUID, count int) error {
	log.Printf("seeding %d staff members", count)

	roles := []string{"doctor", "doctor", "doctor", "nurse", "paramedic"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		userID := uuid.New()
		clinicID := clinics[gofakeit.Number(0, len(clinics)-1)]
		role := roles[gofakeit.Number(0, len(roles)-1)]
		name := "Dr. " + gofakeit.LastName()
		if role != "doctor" {
			name = gofakeit.Name()
		}
		onDuty := gofakeit.Bool()

		_, err := tx.Exec(ctx, `
			INSERT INTO staff_members (id, user_id, clinic_id, role, name, on_duty)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, id, userID, clinicID, role, name, onDuty)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("staff seeded")
	return nil
}

func seedAmbulances(ctx context.Context, pool *pgxpool.Pool, clinics []uuid.UUID, count int) error {
	log.Printf("seeding %d ambulances", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		clinicID := clinics[gofakeit.Number(0, len(clinics)-1)]
		plate := gofakeit.LetterN(2) + "-" + gofakeit.DigitN(2) + "-" + gofakeit.DigitN(4)

		_, err := tx.Exec(ctx, `
			INSERT INTO ambulances (id, clinic_id, status, license_plate)
			VALUES ($1, $2, 'available', $3)
		`, id, clinicID, plate)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("ambulances seeded")
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
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
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
