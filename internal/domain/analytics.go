package domain

import (
	"math"
	"time"
)

// PriceDirection summarizes how the current offer moved from the initial offer.
type PriceDirection string

// PriceDirection values.
const (
	PriceUp     PriceDirection = "up"
	PriceDown   PriceDirection = "down"
	PriceStable PriceDirection = "stable"
)

// PriceMovement is derived from the initial and current offers.
type PriceMovement struct {
	Direction  PriceDirection `json:"direction"`
	Magnitude  float64        `json:"magnitude"`
	Percentage float64        `json:"percentage"`
}

// Analytics is the derived negotiation summary.
type Analytics struct {
	TotalMessageCount          int           `json:"total_message_count"`
	AverageResponseTimeSeconds float64       `json:"average_response_time_seconds"`
	ResponseTimeSamples        []float64     `json:"response_time_samples,omitempty"`
	PriceMovement              PriceMovement `json:"price_movement"`
	StartTime                  time.Time     `json:"start_time"`
	EndTime                    *time.Time    `json:"end_time,omitempty"`
	DurationMinutes            *float64      `json:"duration_minutes,omitempty"`
}

// MeanResponseTime recomputes the arithmetic mean of all samples.
func (a Analytics) MeanResponseTime() float64 {
	if len(a.ResponseTimeSamples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range a.ResponseTimeSamples {
		sum += s
	}
	return sum / float64(len(a.ResponseTimeSamples))
}

// ComputePriceMovement derives direction, magnitude and percentage.
func ComputePriceMovement(initial float64, current *float64) PriceMovement {
	if current == nil {
		return PriceMovement{Direction: PriceStable}
	}
	delta := *current - initial
	out := PriceMovement{Magnitude: math.Abs(delta)}
	switch {
	case delta > 0:
		out.Direction = PriceUp
	case delta < 0:
		out.Direction = PriceDown
	default:
		out.Direction = PriceStable
	}
	if initial > 0 {
		out.Percentage = out.Magnitude / initial * 100
	}
	return out
}

// observeEvent folds a freshly appended event into the analytics. prev is the latest
// earlier non-system event, if any.
func (a *Analytics) observeEvent(ev Event, prev *Event) {
	if ev.Kind == EventKindSystem {
		return
	}
	a.TotalMessageCount++
	if prev == nil || prev.Sender.side() == ev.Sender.side() {
		return
	}
	sample := ev.CreatedAt.Sub(prev.CreatedAt).Seconds()
	if sample < 0 {
		sample = 0
	}
	a.ResponseTimeSamples = append(a.ResponseTimeSamples, sample)
	a.AverageResponseTimeSeconds = a.MeanResponseTime()
}

// finish closes the analytics window.
func (a *Analytics) finish(at time.Time) {
	end := at
	minutes := end.Sub(a.StartTime).Minutes()
	a.EndTime = &end
	a.DurationMinutes = &minutes
}

func (a Analytics) clone() Analytics {
	out := a
	if a.ResponseTimeSamples != nil {
		out.ResponseTimeSamples = append([]float64(nil), a.ResponseTimeSamples...)
	}
	out.EndTime = cloneTime(a.EndTime)
	if a.DurationMinutes != nil {
		v := *a.DurationMinutes
		out.DurationMinutes = &v
	}
	return out
}
