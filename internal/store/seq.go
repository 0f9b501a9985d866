package store

import "sync"

// seqGenerator hands out positive ids per entity kind.
type seqGenerator struct {
	mu      sync.Mutex
	perKind map[string]int64
}

func newSeqGenerator() *seqGenerator {
	return &seqGenerator{perKind: make(map[string]int64)}
}

func (g *seqGenerator) next(kind string) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.perKind[kind]++
	return g.perKind[kind]
}

// observe bumps kind's counter so later ids stay above id.
func (g *seqGenerator) observe(kind string, id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if id > g.perKind[kind] {
		g.perKind[kind] = id
	}
}
