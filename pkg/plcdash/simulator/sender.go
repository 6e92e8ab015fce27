package simulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tsarna/plcdash/pkg/plcdash/config"
	"github.com/tsarna/plcdash/pkg/plcdash/o11y"
	"go.uber.org/zap"
)

const (
	DefaultEquipmentID = "DEMO_001"

	logsPath     = "/api/logs"
	registerPath = "/api/register"
)

var (
	ErrSendFailed     = errors.New("server rejected the request")
	ErrAlreadyStarted = errors.New("sender is already started")
)

// Registration describes the simulated device to the server.
type Registration struct {
	EquipmentID  string `json:"equipment_id"`
	Manufacturer string `json:"manufacturer"`
	Series       string `json:"series"`
	IP           string `json:"ip"`
	MACAddress   string `json:"mac_address"`
	Hostname     string `json:"hostname"`
	Port         int    `json:"port"`
	Interval     int    `json:"interval"`
}

// SenderBuilder provides a fluent interface for building a Sender.
type SenderBuilder struct {
	serverURL   string
	equipmentID string
	schedule    string
	logger      *zap.Logger
	httpClient  *http.Client
	source      rand.Source
	now         func() time.Time
	maxSends    int64
	metrics     o11y.MetricsProvider
}

func NewSender() *SenderBuilder {
	return &SenderBuilder{
		serverURL:   config.DefaultSimulatorURL,
		equipmentID: DefaultEquipmentID,
		schedule:    config.DefaultSimulatorSchedule,
		logger:      zap.NewNop(),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
	}
}

// WithDefinition takes the equipment id, server URL and schedule from a
// simulator block.
func (b *SenderBuilder) WithDefinition(def *config.SimulatorDefinition) *SenderBuilder {
	if def == nil {
		return b
	}
	return b.WithEquipmentID(def.EquipmentID).WithServerURL(def.ServerURL).WithSchedule(def.Schedule)
}

func (b *SenderBuilder) WithServerURL(serverURL string) *SenderBuilder {
	if serverURL != "" {
		b.serverURL = serverURL
	}
	return b
}

func (b *SenderBuilder) WithEquipmentID(id string) *SenderBuilder {
	if id != "" {
		b.equipmentID = id
	}
	return b
}

// WithSchedule sets the cron spec readings are sent on, e.g. "@every 2s"
// or "*/5 * * * * *".
func (b *SenderBuilder) WithSchedule(schedule string) *SenderBuilder {
	if schedule != "" {
		b.schedule = schedule
	}
	return b
}

func (b *SenderBuilder) WithLogger(logger *zap.Logger) *SenderBuilder {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *SenderBuilder) WithHTTPClient(client *http.Client) *SenderBuilder {
	if client != nil {
		b.httpClient = client
	}
	return b
}

// WithRandSource makes the generated readings reproducible.
func (b *SenderBuilder) WithRandSource(source rand.Source) *SenderBuilder {
	b.source = source
	return b
}

func (b *SenderBuilder) WithClock(now func() time.Time) *SenderBuilder {
	b.now = now
	return b
}

// WithMaxSends stops the scheduled sender after n attempts, whether or not
// the server accepted them. Zero means no limit.
func (b *SenderBuilder) WithMaxSends(n int) *SenderBuilder {
	if n >= 0 {
		b.maxSends = int64(n)
	}
	return b
}

func (b *SenderBuilder) WithMetrics(provider o11y.MetricsProvider) *SenderBuilder {
	b.metrics = provider
	return b
}

func (b *SenderBuilder) Build() (*Sender, error) {
	u, err := url.Parse(b.serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", b.serverURL)
	}

	schedule, err := config.ScheduleParser.Parse(b.schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", b.schedule, err)
	}

	generator := NewGenerator(b.equipmentID, b.source)
	if b.now != nil {
		generator.now = b.now
	}

	s := &Sender{
		baseURL:    strings.TrimRight(b.serverURL, "/"),
		spec:       b.schedule,
		schedule:   schedule,
		generator:  generator,
		httpClient: b.httpClient,
		logger:     b.logger.With(zap.String("equipment_id", b.equipmentID)),
		maxSends:   b.maxSends,
		done:       make(chan struct{}),
	}

	if b.metrics != nil {
		s.sentCounter = b.metrics.Counter("simulator_readings_sent_total")
		s.failedCounter = b.metrics.Counter("simulator_send_failures_total")
		s.latency = b.metrics.Histogram("simulator_send_seconds")
	}

	return s, nil
}

// Sender posts generated readings to the dashboard server on a cron
// schedule.
type Sender struct {
	baseURL    string
	spec       string
	schedule   cron.Schedule
	generator  *Generator
	httpClient *http.Client
	logger     *zap.Logger
	maxSends   int64

	sentCounter   o11y.Counter
	failedCounter o11y.Counter
	latency       o11y.Histogram

	started  int32
	sent     int64
	attempts int64
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
}

func (s *Sender) EquipmentID() string {
	return s.generator.EquipmentID()
}

func (s *Sender) Generator() *Generator {
	return s.generator
}

// Sent returns the number of readings the server accepted.
func (s *Sender) Sent() int {
	return int(atomic.LoadInt64(&s.sent))
}

// Interval is the spacing of an "@every" schedule, or zero for other
// schedules.
func (s *Sender) Interval() time.Duration {
	if every, ok := s.schedule.(cron.ConstantDelaySchedule); ok {
		return every.Delay
	}
	return 0
}

// Registration returns the device description Register sends.
func (s *Sender) Registration() Registration {
	return Registration{
		EquipmentID:  s.EquipmentID(),
		Manufacturer: "Demo Corporation",
		Series:       "DEMO-PLC",
		IP:           "192.168.1.100",
		MACAddress:   "00:11:22:33:44:55",
		Hostname:     "demo-raspberry-pi",
		Port:         502,
		Interval:     int(s.Interval() / time.Second),
	}
}

// Register announces the simulated device to the server.
func (s *Sender) Register(ctx context.Context) error {
	if err := s.post(ctx, registerPath, s.Registration()); err != nil {
		s.logger.Error("Equipment registration failed", zap.Error(err))
		return err
	}

	s.logger.Info("Equipment registered")
	return nil
}

// SendOnce generates one reading and posts it.
func (s *Sender) SendOnce(ctx context.Context) (Reading, error) {
	reading := s.generator.Next()

	start := time.Now()
	err := s.post(ctx, logsPath, reading)
	o11y.ObserveSince(ctx, s.latency, start)

	if err != nil {
		o11y.Inc(ctx, s.failedCounter)
		s.logger.Warn("Failed to send reading", zap.String("timestamp", reading.Timestamp), zap.Error(err))
		return reading, err
	}

	atomic.AddInt64(&s.sent, 1)
	o11y.Inc(ctx, s.sentCounter)
	s.logger.Info("Reading sent",
		zap.String("timestamp", reading.Timestamp),
		zap.Int("production_count", reading.ProductionCount),
		zap.Float64("current", reading.Current),
		zap.Float64("temperature", reading.Temperature),
		zap.Int("error_code", reading.ErrorCode),
	)

	return reading, nil
}

func (s *Sender) post(ctx context.Context, path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("POST %s: %w: %d %s", path, ErrSendFailed, resp.StatusCode, strings.TrimSpace(string(text)))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Start begins sending on the schedule. Sends use ctx, and cancelling it
// has the same effect as Stop.
func (s *Sender) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithLogger(NewZapCronLogger(s.logger)))
	s.cron.Schedule(s.schedule, cron.FuncJob(s.tick))
	s.cron.Start()

	go func() {
		<-s.ctx.Done()
		s.finish()
	}()

	s.logger.Info("Sender started", zap.String("server_url", s.baseURL), zap.String("schedule", s.spec))
	return nil
}

func (s *Sender) tick() {
	if s.ctx.Err() != nil {
		return
	}

	attempt := atomic.AddInt64(&s.attempts, 1)
	if s.maxSends > 0 && attempt > s.maxSends {
		return
	}

	_, _ = s.SendOnce(s.ctx)

	if s.maxSends > 0 && attempt == s.maxSends {
		s.logger.Debug("Send limit reached", zap.Int64("max_sends", s.maxSends))
		s.cancel()
	}
}

func (s *Sender) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Done is closed once the sender stops, either through Stop, a cancelled
// context or the send limit.
func (s *Sender) Done() <-chan struct{} {
	return s.done
}

// Stop stops the schedule and waits for an in-flight send to finish. It is
// safe to call more than once, and before Start.
func (s *Sender) Stop() {
	if atomic.LoadInt32(&s.started) == 0 {
		s.finish()
		return
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Sender stopped", zap.Int("sent", s.Sent()))
}
