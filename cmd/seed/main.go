package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/appointment-engine/internal/appointment"
	"github.com/clinova/appointment-engine/internal/db"
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

	pool, err := db.ConnectPostgres(ctx, dsn, 10, 1)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	orgIDs, err := seedOrganizations(context.Background(), pool, 5)
	if err != nil {
		log.Fatalf("seed organizations: %v", err)
	}
	patientIDs, err := seedPatients(context.Background(), pool, orgIDs, 500)
	if err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	doctorIDs, err := seedDoctors(context.Background(), pool, orgIDs, 40)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedAppointments(context.Background(), pool, orgIDs, patientIDs, doctorIDs, 2000); err != nil {
		log.Fatalf("seed appointments: %v", err)
	}

	log.Println("seed complete")
}

func seedOrganizations(ctx context.Context, pool *pgxpool.Pool, n int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		_, err := pool.Exec(ctx, `
			INSERT INTO organizations (id, name, created_at, updated_at)
			VALUES ($1, $2, now(), now())
		`, id, gofakeit.Company()+" Clinic")
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Printf("seeded %d organizations", n)
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, orgIDs []uuid.UUID, n int) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		org := orgIDs[gofakeit.Number(0, len(orgIDs)-1)]
		_, err := pool.Exec(ctx, `
			INSERT INTO patients (id, organization_id, name, email, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, org, gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Printf("seeded %d patients", n)
	return ids, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, orgIDs []uuid.UUID, n int) ([]uuid.UUID, error) {
	specialties := []string{"General Practice", "Dermatology", "Cardiology", "Pediatrics", "Orthopedics"}

	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		org := orgIDs[gofakeit.Number(0, len(orgIDs)-1)]
		specialty := specialties[gofakeit.Number(0, len(specialties)-1)]
		_, err := pool.Exec(ctx, `
			INSERT INTO doctors (id, organization_id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, org, "Dr. "+gofakeit.Name(), specialty)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Printf("seeded %d doctors", n)
	return ids, nil
}

func seedAppointments(ctx context.Context, pool *pgxpool.Pool, orgIDs, patientIDs, doctorIDs []uuid.UUID, n int) error {
	statuses := []appointment.AppointmentStatus{
		appointment.StatusPending,
		appointment.StatusPendingPayment,
		appointment.StatusConfirmed,
		appointment.StatusConfirmed,
		appointment.StatusConfirmed,
		appointment.StatusRescheduled,
	}

	for i := 0; i < n; i++ {
		org := orgIDs[gofakeit.Number(0, len(orgIDs)-1)]
		patient := patientIDs[gofakeit.Number(0, len(patientIDs)-1)]
		doctor := doctorIDs[gofakeit.Number(0, len(doctorIDs)-1)]
		status := statuses[gofakeit.Number(0, len(statuses)-1)]

		// Spread visits from yesterday to two weeks out so every business
		// rule has data to bite on.
		scheduledAt := time.Now().Add(time.Duration(gofakeit.Number(-24, 14*24)) * time.Hour)

		_, err := pool.Exec(ctx, `
			INSERT INTO appointments
				(id, organization_id, patient_id, doctor_id, status, scheduled_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		`, uuid.New(), org, patient, doctor, status, scheduledAt)
		if err != nil {
			return err
		}
	}
	log.Printf("seeded %d appointments", n)
	return nil
}
