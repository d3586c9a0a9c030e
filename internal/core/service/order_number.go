package service

import (
	"sync/atomic"
	"time"

	"github.com/rl1809/shoe-store/internal/core/domain"
)

// orderNumberSequence hands out time-derived order numbers that never
// repeat within this process. Collisions across processes are caught by
// the unique index on orders.order_number.
type orderNumberSequence struct {
	last atomic.Int64
	now  func() time.Time
}

func newOrderNumberSequence(now func() time.Time) *orderNumberSequence {
	return &orderNumberSequence{now: now}
}

func (q *orderNumberSequence) Next() string {
	for {
		prev := q.last.Load()
		next := q.now().UnixMilli()
		if next <= prev {
			next = prev + 1
		}
		if q.last.CompareAndSwap(prev, next) {
			return domain.OrderNumber(time.UnixMilli(next))
		}
	}
}
