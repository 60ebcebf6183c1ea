package session

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator creates tenant-scoped session IDs.
type Generator struct {
	counter uint64
}

// NewGenerator creates a generator starting at 1.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns "<tenant>-sess-N".
func (g *Generator) Next(tenantId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-sess-%d", tenantId, n)
}

// Resolve picks the session ID for a new call: the client-supplied ID when
// present, a tenant-scoped ID when only the tenant is known, a random UUID
// otherwise.
func (g *Generator) Resolve(requested, tenantId string) string {
	switch {
	case requested != "":
		return requested
	case tenantId != "":
		return g.Next(tenantId)
	default:
		return uuid.NewString()
	}
}
