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
)

// Drives synthetic create/read/delete traffic against a running api-server.
// Needs a scheduling gateway (or a stub of one) behind the server, since
// every create books real gateway appointments.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	CreateRatio float64
	ReadRatio   float64
	DeleteRatio float64
	LocationMin int64
	LocationMax int64
}

type DataPool struct {
	mu       sync.RWMutex
	bookings []int64
}

func (dp *DataPool) Add(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, id)
}

func (dp *DataPool) Random(rng *rand.Rand) (int64, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.bookings) == 0 {
		return 0, false
	}
	return dp.bookings[rng.Intn(len(dp.bookings))], true
}

func (dp *DataPool) Remove(id int64) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for i, b := range dp.bookings {
		if b == id {
			dp.bookings = append(dp.bookings[:i], dp.bookings[i+1:]...)
			return
		}
	}
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	ClientErr int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.ClientErr, 1)
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

	p50 = latencies[len(latencies)*50/100]
	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]
	return avg, p50, p95
}

type Metrics struct {
	Create OperationMetrics
	Read   OperationMetrics
	Delete OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	log.Printf("config: duration=%s workers=%d create=%.2f read=%.2f delete=%.2f",
		cfg.Duration, cfg.Workers, cfg.CreateRatio, cfg.ReadRatio, cfg.DeleteRatio)

	sim := &Simulator{
		config: cfg,
		pool:   &DataPool{},
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		CreateRatio: getFloat("SIM_CREATE_RATIO", 0.4),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.5),
		DeleteRatio: getFloat("SIM_DELETE_RATIO", 0.1),
		LocationMin: 1,
		LocationMax: 500,
	}
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
			case r < s.config.CreateRatio:
				s.doCreate(ctx, rng)
			case r < s.config.CreateRatio+s.config.ReadRatio:
				s.doRead(ctx, rng)
			default:
				s.doDelete(ctx, rng)
			}
		}
	}
}

var simCourts = []string{
	"York Crown Court",
	"Leeds Crown Court",
	"Hull Crown Court",
}

func (s *Simulator) doCreate(ctx context.Context, rng *rand.Rand) {
	mainStart := time.Now().AddDate(0, 0, 1+rng.Intn(30)).Truncate(time.Hour)
	body, _ := json.Marshal(map[string]any{
		"bookingId":      100_000 + rng.Intn(900_000),
		"court":          simCourts[rng.Intn(len(simCourts))],
		"madeByTheCourt": rng.Intn(2) == 0,
		"main": map[string]any{
			"locationId": s.config.LocationMin + rng.Int63n(s.config.LocationMax-s.config.LocationMin),
			"startTime":  mainStart.Format(time.RFC3339),
			"endTime":    mainStart.Add(30 * time.Minute).Format(time.RFC3339),
		},
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/court/video-link-bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Create.Record(latency, 0)
		return
	}
	defer resp.Body.Close()
	s.metrics.Create.Record(latency, resp.StatusCode)

	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID int64 `json:"videoLinkBookingId"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &created) == nil && created.ID > 0 {
			s.pool.Add(created.ID)
		}
	}
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.Random(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/court/video-link-bookings/%d", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Read.Record(latency, 0)
		return
	}
	defer resp.Body.Close()
	s.metrics.Read.Record(latency, resp.StatusCode)
}

func (s *Simulator) doDelete(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.Random(rng)
	if !ok {
		return
	}

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, "DELETE",
		fmt.Sprintf("%s/court/video-link-bookings/%d", s.config.APIBaseURL, id), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Delete.Record(latency, 0)
		return
	}
	defer resp.Body.Close()
	s.metrics.Delete.Record(latency, resp.StatusCode)

	if resp.StatusCode == http.StatusNoContent {
		s.pool.Remove(id)
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n=== Simulation Report ===")
	printOp("create", &s.metrics.Create)
	printOp("read", &s.metrics.Read)
	printOp("delete", &s.metrics.Delete)
}

func printOp(name string, om *OperationMetrics) {
	avg, p50, p95 := om.Stats()
	fmt.Printf("%-8s total=%d success=%d client_err=%d error=%d avg=%s p50=%s p95=%s\n",
		name, om.Total, om.Success, om.ClientErr, om.Error, avg, p50, p95)
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
