package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewID returns an identifier made of a prefix, the current unix millisecond
// timestamp and a random suffix, e.g. "task_1718000000000_3f9a1c2b7".
func NewID(prefix string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}
