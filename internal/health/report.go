package health

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prasetya/stockguard/internal/breaker"
	"github.com/prasetya/stockguard/internal/redisx"
	"github.com/prasetya/stockguard/internal/stock"
)

type Alert struct {
	Type      string    `json:"type"`
	ProductID string    `json:"product_id,omitempty"`
	Size      string    `json:"size,omitempty"`
	OrderID   string    `json:"order_id,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

type StockHealth struct {
	Score      float64 `json:"score"` // 1.0 = every variant healthy
	Variants   int     `json:"variants"`
	LowStock   int     `json:"low_stock"`
	OutOfStock int     `json:"out_of_stock"`
}

// Report is the read-only surface the monitoring/admin side consumes.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Stock       StockHealth               `json:"stock"`
	Breakers    map[string]breaker.Status `json:"breakers"`
	Alerts      []Alert                   `json:"alerts"`
}

type Reporter struct {
	Stock        stock.Store
	Breakers     *breaker.Manager
	Redis        *redis.Client // alert state; optional
	LowThreshold int
}

func (r *Reporter) Report(ctx context.Context) (*Report, error) {
	sum, err := r.Stock.Summary(ctx, r.LowThreshold)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		GeneratedAt: time.Now().UTC(),
		Stock: StockHealth{
			Score:      score(sum),
			Variants:   sum.Variants,
			LowStock:   sum.LowStock,
			OutOfStock: sum.OutOfStock,
		},
		Breakers: r.Breakers.Statuses(),
		Alerts:   []Alert{},
	}

	if r.Redis != nil {
		raw, err := r.Redis.LRange(ctx, redisx.KeyAlerts, 0, redisx.MaxAlerts-1).Result()
		if err == nil {
			for _, s := range raw {
				var a Alert
				if json.Unmarshal([]byte(s), &a) == nil {
					rep.Alerts = append(rep.Alerts, a)
				}
			}
		}
	}
	return rep, nil
}

// Out-of-stock variants count fully against the score, low-stock ones half.
func score(s stock.Summary) float64 {
	if s.Variants == 0 {
		return 1.0
	}
	penalty := (float64(s.OutOfStock) + 0.5*float64(s.LowStock)) / float64(s.Variants)
	if penalty > 1 {
		penalty = 1
	}
	return 1 - penalty
}
