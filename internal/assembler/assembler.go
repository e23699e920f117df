// Package assembler renders ranked retrieval results into a single
// length-bounded text block ready for prompt injection.
package assembler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/nidhogg/memoro/internal/journal"
	"github.com/nidhogg/memoro/internal/retriever"
)

const (
	// DefaultMaxLength bounds the assembled context block.
	DefaultMaxLength = 4000

	// TruncationSuffix marks a cut-to-fit final entry. The returned
	// block never exceeds maxLength plus this suffix.
	TruncationSuffix = "..."

	// Sentinel returned instead of an empty string, so callers can
	// embed the result in a prompt unconditionally.
	NoContextSentinel = "No relevant journal entries found."

	// Truncation only happens when at least this much budget remains;
	// a tighter fit is not worth a mangled fragment.
	minTruncateBudget = 100

	entrySeparator = "\n\n"
)

// Toucher records that a memory was used.
type Toucher interface {
	TouchAccessed(ctx context.Context, id string, t time.Time) error
}

// Assembler formats retrieval results and records access recency for
// every memory actually included in the output.
type Assembler struct {
	memories Toucher
	logger   *zap.Logger
	touches  chan touch
	done     chan struct{}
	once     sync.Once
	now      func() time.Time
}

type touch struct {
	id string
	at time.Time
}

// New creates an Assembler and starts its background access toucher.
// Call Close to drain it on shutdown.
func New(memories Toucher, logger *zap.Logger) *Assembler {
	a := &Assembler{
		memories: memories,
		logger:   logger,
		touches:  make(chan touch, 256),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go a.runToucher()
	return a
}

// Close stops the toucher after draining queued updates.
func (a *Assembler) Close() {
	a.once.Do(func() {
		close(a.touches)
		<-a.done
	})
}

// Assemble renders results in rank order until the length budget runs
// out. The last entry is cut to fit when enough budget remains; with
// nothing renderable the sentinel string comes back instead of "".
func (a *Assembler) Assemble(res *retriever.Result, maxLength int) string {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}

	var b strings.Builder
	for _, item := range res.Items {
		sep := ""
		if b.Len() > 0 {
			sep = entrySeparator
		}
		rendered := renderItem(item)

		if b.Len()+len(sep)+len(rendered) > maxLength {
			remaining := maxLength - b.Len() - len(sep)
			if remaining > minTruncateBudget {
				// Back up to a rune boundary so the cut never leaves a
				// partial UTF-8 sequence before the suffix.
				for remaining > 0 && !utf8.RuneStart(rendered[remaining]) {
					remaining--
				}
				b.WriteString(sep)
				b.WriteString(rendered[:remaining])
				b.WriteString(TruncationSuffix)
				a.recordAccess(item.Memory.ID)
			}
			break
		}

		b.WriteString(sep)
		b.WriteString(rendered)
		a.recordAccess(item.Memory.ID)
	}

	if b.Len() == 0 {
		return NoContextSentinel
	}
	return b.String()
}

// renderItem produces the per-entry block: a header with source date,
// optional mood and final score, then the entry content (or the
// preview when the entry is unresolved).
func renderItem(s retriever.ScoredMemory) string {
	date := s.Memory.CreatedAt
	if s.Entry != nil {
		date = s.Entry.CreatedAt
	}

	var h strings.Builder
	fmt.Fprintf(&h, "[%s]", date.Format("2006-01-02"))
	if s.Entry != nil && s.Entry.Mood != journal.MoodUnset {
		fmt.Fprintf(&h, " (%s)", s.Entry.Mood)
	}
	fmt.Fprintf(&h, " (score: %.2f)\n", s.Final)
	h.WriteString(s.Content())
	return h.String()
}

// recordAccess queues a fire-and-forget lastAccessedAt update. A full
// queue drops the touch: access recency is best-effort and may be lost
// under process termination, never blocking assembly.
func (a *Assembler) recordAccess(id string) {
	select {
	case a.touches <- touch{id: id, at: a.now()}:
	default:
		a.logger.Debug("access touch dropped, queue full", zap.String("memory", id))
	}
}

func (a *Assembler) runToucher() {
	defer close(a.done)
	for t := range a.touches {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.memories.TouchAccessed(ctx, t.id, t.at); err != nil {
			a.logger.Warn("access touch failed", zap.String("memory", t.id), zap.Error(err))
		}
		cancel()
	}
}
