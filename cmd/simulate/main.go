// simulate hammers the transition endpoint with concurrent callers and then
// checks the audit trail for consistency: for any appointment, no two
// committed entries may share the same previous_status.
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

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinova/appointment-engine/internal/appointment"
	"github.com/clinova/appointment-engine/internal/config"
	"github.com/clinova/appointment-engine/internal/db"
)

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	TargetLimit int
	PostgresDSN string
}

type target struct {
	AppointmentID  uuid.UUID
	OrganizationID uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	Latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status == http.StatusOK:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	case status == http.StatusForbidden || status == http.StatusUnprocessableEntity:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	avg = sum / time.Duration(len(latencies))

	idx := func(p int) int {
		i := len(latencies) * p / 100
		if i >= len(latencies) {
			i = len(latencies) - 1
		}
		return i
	}
	return avg, latencies[idx(50)], latencies[idx(95)]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	sim := SimConfig{
		APIBaseURL:  envOr("SIM_API_URL", "http://localhost:"+cfg.HTTPPort),
		Duration:    envDuration("SIM_DURATION", 30*time.Second),
		Workers:     envInt("SIM_WORKERS", 16),
		TargetLimit: envInt("SIM_TARGETS", 500),
		PostgresDSN: cfg.PostgresDSN,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, sim.PostgresDSN, 5, 1)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	targets, err := loadTargets(context.Background(), pool, sim.TargetLimit)
	if err != nil {
		log.Fatalf("load targets: %v", err)
	}
	if len(targets) == 0 {
		log.Fatal("no appointments to simulate against, run cmd/seed first")
	}
	log.Printf("simulating %d workers against %d appointments for %s", sim.Workers, len(targets), sim.Duration)

	metrics := &OperationMetrics{}
	runCtx, stopRun := context.WithTimeout(context.Background(), sim.Duration)
	defer stopRun()

	var wg sync.WaitGroup
	for i := 0; i < sim.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(runCtx, sim.APIBaseURL, targets, metrics)
		}()
	}
	wg.Wait()

	avg, p50, p95 := metrics.Stats()
	log.Printf("total=%d success=%d rejected=%d conflict=%d error=%d",
		metrics.Total, metrics.Success, metrics.Rejected, metrics.Conflict, metrics.Error)
	log.Printf("latency avg=%s p50=%s p95=%s", avg, p50, p95)

	if err := checkAuditConsistency(context.Background(), pool); err != nil {
		log.Fatalf("audit consistency: %v", err)
	}
	log.Println("audit trail consistent: no duplicate previous_status per appointment")
}

func worker(ctx context.Context, baseURL string, targets []target, metrics *OperationMetrics) {
	client := &http.Client{Timeout: 10 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	roles := []appointment.Role{
		appointment.RolePatient,
		appointment.RoleStaff,
		appointment.RoleDoctor,
		appointment.RoleAdmin,
	}
	statuses := appointment.AllStatuses()

	for ctx.Err() == nil {
		t := targets[rng.Intn(len(targets))]
		role := roles[rng.Intn(len(roles))]
		status := statuses[rng.Intn(len(statuses))]

		body, _ := json.Marshal(map[string]any{
			"target_status":   string(status),
			"caller_id":       uuid.NewString(),
			"caller_role":     string(role),
			"organization_id": t.OrganizationID.String(),
			"reason":          "simulation",
		})

		url := fmt.Sprintf("%s/appointments/%s/transition", baseURL, t.AppointmentID)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil {
				metrics.Record(time.Since(start), 0)
			}
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
		metrics.Record(time.Since(start), resp.StatusCode)
	}
}

func loadTargets(ctx context.Context, pool *pgxpool.Pool, limit int) ([]target, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, organization_id
		FROM appointments
		WHERE status NOT IN ('completed', 'cancelled_by_patient', 'cancelled_by_clinic', 'no_show')
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.AppointmentID, &t.OrganizationID); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func checkAuditConsistency(ctx context.Context, pool *pgxpool.Pool) error {
	var violations int
	err := pool.QueryRow(ctx, `
		SELECT count(*)
		FROM (
			SELECT appointment_id, previous_status
			FROM appointment_audit
			GROUP BY appointment_id, previous_status
			HAVING count(*) > 1
		) dup
	`).Scan(&violations)
	if err != nil {
		return err
	}
	if violations > 0 {
		return fmt.Errorf("%d appointment/previous_status pairs appear more than once", violations)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
