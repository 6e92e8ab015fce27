package simulator

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// TimestampFormat is UTC with microseconds and a Z suffix.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// ErrorCodes are the fault codes a simulated PLC can report.
var ErrorCodes = []int{101, 102, 103, 201, 202}

const (
	baseCurrent     = 12.5
	baseTemperature = 25.0
	basePressure    = 0.8
	baseCycleTime   = 15.0

	currentVariation     = 2.0
	temperatureVariation = 5.0
	pressureVariation    = 0.2
	cycleTimeVariation   = 3.0

	errorProbability      = 0.01
	productionProbability = 0.05
)

// Reading is one PLC data sample, in the shape the dashboard's
// /api/logs endpoint accepts.
type Reading struct {
	EquipmentID     string  `json:"equipment_id"`
	Timestamp       string  `json:"timestamp"`
	ProductionCount int     `json:"production_count"`
	Current         float64 `json:"current"`
	Temperature     float64 `json:"temperature"`
	Pressure        float64 `json:"pressure"`
	CycleTime       float64 `json:"cycle_time"`
	ErrorCode       int     `json:"error_code"`
}

// Generator produces readings for one piece of equipment. The production
// count only ever grows. It is safe for concurrent use.
type Generator struct {
	equipmentID string
	now         func() time.Time

	mu              sync.Mutex
	rng             *rand.Rand
	productionCount int
}

func NewGenerator(equipmentID string, source rand.Source) *Generator {
	if source == nil {
		source = rand.NewSource(time.Now().UnixNano())
	}

	return &Generator{
		equipmentID: equipmentID,
		now:         time.Now,
		rng:         rand.New(source),
	}
}

func (g *Generator) EquipmentID() string {
	return g.equipmentID
}

func (g *Generator) ProductionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.productionCount
}

// Next generates the next reading.
func (g *Generator) Next() Reading {
	g.mu.Lock()
	defer g.mu.Unlock()

	r := Reading{
		EquipmentID:     g.equipmentID,
		Timestamp:       g.now().UTC().Format(TimestampFormat),
		ProductionCount: g.productionCount,
		Current:         round(g.vary(baseCurrent, currentVariation), 2),
		Temperature:     round(g.vary(baseTemperature, temperatureVariation), 1),
		Pressure:        round(g.vary(basePressure, pressureVariation), 3),
		CycleTime:       round(g.vary(baseCycleTime, cycleTimeVariation), 1),
	}

	if g.rng.Float64() < errorProbability {
		r.ErrorCode = ErrorCodes[g.rng.Intn(len(ErrorCodes))]
	}

	if g.rng.Float64() < productionProbability {
		g.productionCount++
		r.ProductionCount = g.productionCount
	}

	return r
}

// vary returns base plus a uniform offset in [-variation, variation).
func (g *Generator) vary(base, variation float64) float64 {
	return base + (g.rng.Float64()*2-1)*variation
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
