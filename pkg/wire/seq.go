package wire

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/google/uuid"
)

// SeqGenerator produces monotonically increasing, per-connection seq_id
// values. Each connection seeds its counter from a random uuid so that
// seq_id space does not collide across daemon restarts within the same
// process lifetime (spec.md §6.1: "seq_id u32 LE").
type SeqGenerator struct {
	counter uint32
}

// NewSeqGenerator seeds a generator from a fresh random uuid, truncated
// to 32 bits, matching the workspace_id generation pattern already used
// elsewhere in this codebase.
func NewSeqGenerator() *SeqGenerator {
	id := uuid.New()
	seed := binary.LittleEndian.Uint32(id[0:4])
	return &SeqGenerator{counter: seed}
}

// Next returns the next seq_id in this generator's sequence.
func (g *SeqGenerator) Next() uint32 {
	return atomic.AddUint32(&g.counter, 1)
}
