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
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/consultation-queue/internal/logging"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Patients     int
	InviteRacers int
	LogLevel     string
}

// OperationMetrics counts outcomes and latencies for one kind of request.
type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
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
	p50 = latencies[min0(len(latencies)*50/100, len(latencies)-1)]
	p95 = latencies[min0(len(latencies)*95/100, len(latencies)-1)]
	return avg, min, max, p50, p95
}

func min0(a, b int) int {
	if a < b {
		return a
	}
	return b
}

type Metrics struct {
	Join    OperationMetrics
	Ready   OperationMetrics
	Invite  OperationMetrics
	Confirm OperationMetrics
	End     OperationMetrics
}

// Violations are observed breaches of the coordinator's guarantees.
type Violations struct {
	DoubleInvites     int64
	DuplicateNumbers  int
	NonContiguous     bool
	QueueEntriesSeen  int
	CompletedCalls    int64
	InviteRoundsTotal int64
}

type Simulator struct {
	config     SimConfig
	client     *http.Client
	logger     *zap.Logger
	providerID uuid.UUID
	scheduleID uuid.UUID
	patients   []uuid.UUID
	metrics    Metrics
	violations Violations
}

func main() {
	cfg := loadConfig()

	logger, err := logging.New("dev", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("simulator starting",
		zap.String("api", cfg.APIBaseURL),
		zap.Duration("duration", cfg.Duration),
		zap.Int("patients", cfg.Patients),
		zap.Int("invite_racers", cfg.InviteRacers),
	)

	sim := &Simulator{
		config:     cfg,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		providerID: uuid.New(),
	}

	ctx := context.Background()
	if err := sim.Setup(ctx); err != nil {
		logger.Fatal("setup failed", zap.Error(err))
	}

	sim.Run(ctx)

	if err := sim.Verify(ctx); err != nil {
		logger.Error("verification failed", zap.Error(err))
	}

	sim.PrintReport()
}

func loadConfig() SimConfig {
	cfg := SimConfig{
		APIBaseURL:   strings.TrimRight(getEnv("SIM_API_BASE_URL", "http://localhost:8080"), "/"),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Patients:     getInt("SIM_PATIENTS", 50),
		InviteRacers: getInt("SIM_INVITE_RACERS", 8),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
	}
	if cfg.Patients <= 0 || cfg.InviteRacers <= 0 || cfg.Duration <= 0 {
		log.Fatal("SIM_PATIENTS, SIM_INVITE_RACERS and SIM_DURATION must be > 0")
	}
	return cfg
}

// Setup opens a practice for today and has every patient join concurrently and go ready.
func (s *Simulator) Setup(ctx context.Context) error {
	var schedule struct {
		ID uuid.UUID `json:"id"`
	}
	status, err := s.call(ctx, nil, http.MethodPost, "/provider/schedules", s.providerID, "provider", map[string]string{
		"date":      time.Now().UTC().Format("2006-01-02"),
		"startTime": "00:00",
		"endTime":   "23:59",
	}, &schedule)
	if err != nil || status != http.StatusCreated {
		return fmt.Errorf("create schedule: status=%d err=%v", status, err)
	}
	s.scheduleID = schedule.ID

	status, err = s.call(ctx, nil, http.MethodPost, "/provider/schedules/"+s.scheduleID.String()+"/start", s.providerID, "provider", nil, nil)
	if err != nil || status != http.StatusOK {
		return fmt.Errorf("start practice: status=%d err=%v", status, err)
	}

	s.patients = make([]uuid.UUID, s.config.Patients)
	var wg sync.WaitGroup
	for i := range s.patients {
		s.patients[i] = uuid.New()
		wg.Add(1)
		go func(patientID uuid.UUID) {
			defer wg.Done()
			path := "/patient/schedules/" + s.scheduleID.String()
			if st, _ := s.call(ctx, &s.metrics.Join, http.MethodPost, path+"/queue", patientID, "patient", nil, nil); st != http.StatusCreated {
				return
			}
			s.call(ctx, &s.metrics.Ready, http.MethodPut, path+"/ready", patientID, "patient", map[string]bool{"isReady": true}, nil)
		}(s.patients[i])
	}
	wg.Wait()

	s.logger.Info("practice ready",
		zap.String("schedule_id", s.scheduleID.String()),
		zap.Int64("joined", atomic.LoadInt64(&s.metrics.Join.Success)),
	)
	return nil
}

// Run repeatedly races several invites for different patients. Exactly one may win
// each round; the winner confirms and the provider ends the call.
func (s *Simulator) Run(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	pending := append([]uuid.UUID(nil), s.patients...)

	for runCtx.Err() == nil && len(pending) > 0 {
		racers := pending[:min0(s.config.InviteRacers, len(pending))]
		atomic.AddInt64(&s.violations.InviteRoundsTotal, 1)

		var winners []uuid.UUID
		var calls []uuid.UUID
		var mu sync.Mutex
		var wg sync.WaitGroup
		for _, patientID := range racers {
			wg.Add(1)
			go func(patientID uuid.UUID) {
				defer wg.Done()
				var call struct {
					ID uuid.UUID `json:"id"`
				}
				status, _ := s.call(runCtx, &s.metrics.Invite, http.MethodPost,
					"/provider/schedules/"+s.scheduleID.String()+"/invitations", s.providerID, "provider",
					map[string]string{"patientId": patientID.String()}, &call)
				if status == http.StatusCreated {
					mu.Lock()
					winners = append(winners, patientID)
					calls = append(calls, call.ID)
					mu.Unlock()
				}
			}(patientID)
		}
		wg.Wait()

		if len(winners) > 1 {
			atomic.AddInt64(&s.violations.DoubleInvites, 1)
			s.logger.Error("more than one invitation won a round", zap.Int("winners", len(winners)))
		}
		if len(winners) == 0 {
			// racers that never joined or went ready cannot be invited
			pending = pending[len(racers):]
			continue
		}

		patientID, callID := winners[0], calls[0]
		confirmed, _ := s.call(runCtx, &s.metrics.Confirm, http.MethodPost,
			"/patient/call-sessions/"+callID.String()+"/confirm", patientID, "patient", nil, nil)

		// the odd call is ended by the patient instead
		ender, role := s.providerID, "provider"
		if rng.Intn(4) == 0 {
			ender, role = patientID, "patient"
		}
		ended, _ := s.call(runCtx, &s.metrics.End, http.MethodPost,
			"/"+role+"/call-sessions/"+callID.String()+"/end", ender, role, nil, nil)

		if confirmed == http.StatusOK && ended == http.StatusOK {
			atomic.AddInt64(&s.violations.CompletedCalls, 1)
		}
		pending = removePatient(pending, patientID)
	}

	s.logger.Info("simulation complete")
}

func removePatient(list []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for i, p := range list {
		if p == id {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Verify checks that queue numbers are unique and contiguous from 1.
func (s *Simulator) Verify(ctx context.Context) error {
	var queue struct {
		Entries []struct {
			QueueNumber int `json:"queueNumber"`
		} `json:"entries"`
	}
	status, err := s.call(ctx, nil, http.MethodGet, "/provider/schedules/"+s.scheduleID.String()+"/queue",
		s.providerID, "provider", nil, &queue)
	if err != nil || status != http.StatusOK {
		return fmt.Errorf("load queue: status=%d err=%v", status, err)
	}

	seen := make(map[int]bool, len(queue.Entries))
	for _, e := range queue.Entries {
		if seen[e.QueueNumber] {
			s.violations.DuplicateNumbers++
		}
		seen[e.QueueNumber] = true
	}
	for n := 1; n <= len(queue.Entries); n++ {
		if !seen[n] {
			s.violations.NonContiguous = true
			break
		}
	}
	s.violations.QueueEntriesSeen = len(queue.Entries)
	return nil
}

func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, actor uuid.UUID, role string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", actor.String())
	req.Header.Set("X-Actor-Role", role)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if om != nil {
			om.Record(latency, 0)
		}
		return 0, err
	}
	defer resp.Body.Close()

	if om != nil {
		om.Record(latency, resp.StatusCode)
	}

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	return resp.StatusCode, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Patients: %d\n", s.config.Patients)
	fmt.Println()

	printOperationReport("Join queue", &s.metrics.Join)
	printOperationReport("Set ready", &s.metrics.Ready)
	printOperationReport("Invite", &s.metrics.Invite)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("End call", &s.metrics.End)

	v := s.violations
	fmt.Println("Guarantees:")
	fmt.Printf("  Invite rounds: %d, completed calls: %d\n", v.InviteRoundsTotal, v.CompletedCalls)
	fmt.Printf("  Rounds with more than one invitation: %d\n", v.DoubleInvites)
	fmt.Printf("  Queue entries: %d, duplicate numbers: %d, gaps: %t\n", v.QueueEntriesSeen, v.DuplicateNumbers, v.NonContiguous)
	if v.DoubleInvites == 0 && v.DuplicateNumbers == 0 && !v.NonContiguous {
		fmt.Println("  OK")
	} else {
		fmt.Println("  VIOLATED")
	}
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
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
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
