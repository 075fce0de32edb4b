package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewOrderNumber returns e.g. ORD-20261017153000-9F1C2A. Collisions are
// left to the unique index on orders.order_number.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "ORD-" + now.UTC().Format("20060102150405") + "-" + suffix
}
