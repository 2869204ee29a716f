package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	log "github.com/sirupsen/logrus"
)

const (
	maxHistory    = 1000
	recentRecords = 10
)

// Record is one handled error.
type Record struct {
	Classification
	Message    string         `json:"message"`
	Context    map[string]any `json:"context,omitempty"`
	Suggestion string         `json:"recovery_suggestion"`
	Time       time.Time      `json:"timestamp"`
}

// Stats summarises the handled errors.
type Stats struct {
	Total      int                     `json:"total_errors"`
	ByCategory map[Category]int        `json:"category_distribution"`
	ByLevel    map[Level]int           `json:"level_distribution"`
	Retryable  int                     `json:"retryable"`
	Recent     []Record                `json:"recent"`
	Breakers   map[string]BreakerState `json:"circuit_breakers,omitempty"`
}

// Handler classifies, logs and remembers errors.
type Handler struct {
	retries *RetryManager
	now     func() time.Time

	mu      sync.Mutex
	history []Record
}

// NewHandler creates a Handler. retries may be nil; when set its breaker
// states are included in Stats.
func NewHandler(retries *RetryManager) *Handler {
	return &Handler{retries: retries, now: time.Now}
}

// Handle classifies err, logs it and appends it to the history.
func (h *Handler) Handle(err error, ctx map[string]any) Record {
	class := Classify(err)
	suggestion := Suggestion(class.Category)
	if class.Retryable {
		suggestion = fmt.Sprintf("%s (可重试 %d 次)", suggestion, class.MaxRetries)
	}
	rec := Record{
		Classification: class,
		Message:        errMessage(err),
		Context:        ctx,
		Suggestion:     suggestion,
		Time:           h.now(),
	}

	h.mu.Lock()
	h.history = append(h.history, rec)
	if len(h.history) > maxHistory {
		h.history = h.history[len(h.history)-maxHistory:]
	}
	h.mu.Unlock()

	entry := logging.Component("resilience").WithFields(log.Fields{
		"category": class.Category,
		"level":    class.Level,
		"context":  ctx,
	})
	switch class.Level {
	case LevelLow:
		entry.Info(rec.Message)
	case LevelMedium:
		entry.Warn(rec.Message)
	default:
		entry.Error(rec.Message)
	}
	return rec
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Stats returns the counters over the retained history.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{
		Total:      len(h.history),
		ByCategory: map[Category]int{},
		ByLevel:    map[Level]int{},
	}
	for _, r := range h.history {
		s.ByCategory[r.Category]++
		s.ByLevel[r.Level]++
		if r.Retryable {
			s.Retryable++
		}
	}
	start := len(h.history) - recentRecords
	if start < 0 {
		start = 0
	}
	s.Recent = append([]Record(nil), h.history[start:]...)
	if h.retries != nil {
		s.Breakers = h.retries.Breakers()
	}
	return s
}

// Clear drops the history.
func (h *Handler) Clear() {
	h.mu.Lock()
	h.history = nil
	h.mu.Unlock()
}
