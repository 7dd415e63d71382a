package messaging

import (
	"slices"
	"sort"
	"sync"
	"unicode/utf16"

	"github.com/tupa/pkg/models"
)

// BlockSet answers whether an author is hidden
type BlockSet interface {
	Contains(authorRef string) bool
}

// VisibleFeed drops messages from blocked authors and orders the rest by
// creation time. Ties keep their input order. The input is not modified.
func VisibleFeed(msgs []models.Message, blocked BlockSet) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if blocked != nil && blocked.Contains(m.AuthorRef) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// BlockList is the session's set of hidden authors. It only grows: there is no unblock.
// Only the Chat in this package adds to it.
type BlockList struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewBlockList creates an empty block list
func NewBlockList() *BlockList {
	return &BlockList{set: make(map[string]struct{})}
}

func (b *BlockList) Contains(authorRef string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.set[authorRef]
	return ok
}

// Refs lists the blocked authors, sorted
func (b *BlockList) Refs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.set))
	for ref := range b.set {
		out = append(out, ref)
	}
	slices.Sort(out)
	return out
}

func (b *BlockList) add(authorRef string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.set[authorRef] = struct{}{}
}

// AuthorHue derives a stable colour hue in [0, 360) from an author ref.
// ok is false for an empty ref, which gets the default colour.
func AuthorHue(ref string) (hue int, ok bool) {
	if ref == "" {
		return 0, false
	}
	var hash int64
	for _, unit := range utf16.Encode([]rune(ref)) {
		// shift on the 32-bit truncation, accumulate without it
		shifted := int64(toInt32(hash) << 5)
		hash = int64(unit) + (shifted - hash)
	}
	h := hash % 360
	if h < 0 {
		h = -h
	}
	return int(h), true
}

func toInt32(v int64) int32 {
	return int32(uint32(v))
}
