package relay

import (
	"math/rand/v2"
	"sync"
)

// Glyph pools for the two reaction buttons. Each post draws one glyph from
// each pool independently.
var (
	FirstPool  = []string{"🤙🏻", "👍🏻", "🔥", "🤣", "🌭", "🏄🏻‍♂️", "🤪", "🤡", "🤩"}
	SecondPool = []string{"👎🏻", "💩", "🥴", "🤮", "💀", "🤦🏻‍♂️", "🤬", "😨", "🫣"}
)

// EmojiPicker chooses the glyph pair for a newly mirrored post.
type EmojiPicker interface {
	Pick() EmojiPair
}

// RandomPicker draws glyphs from FirstPool and SecondPool.
type RandomPicker struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomPicker creates a picker drawing from src. A nil src seeds a
// fresh PCG source.
func NewRandomPicker(src rand.Source) *RandomPicker {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomPicker{rnd: rand.New(src)}
}

// Pick returns one glyph from each pool.
func (p *RandomPicker) Pick() EmojiPair {
	p.mu.Lock()
	defer p.mu.Unlock()

	return EmojiPair{
		First:  FirstPool[p.rnd.IntN(len(FirstPool))],
		Second: SecondPool[p.rnd.IntN(len(SecondPool))],
	}
}

// FixedPicker always returns the same pair.
type FixedPicker EmojiPair

// Pick returns the fixed pair.
func (p FixedPicker) Pick() EmojiPair {
	return EmojiPair(p)
}
