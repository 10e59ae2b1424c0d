// Package pipeline composes the per-fragment stages of one streamed answer:
// channel classification, block parsing, the partial-marker guard, and the
// citation lifecycle, then reconciles and resolves citations at end of
// stream. One driver per answer; drivers share nothing.
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/openclass-ai/citestream/internal/blocks"
	"github.com/openclass-ai/citestream/internal/channels"
	"github.com/openclass-ai/citestream/internal/guard"
	"github.com/openclass-ai/citestream/internal/lifecycle"
	"github.com/openclass-ai/citestream/internal/metrics"
	"github.com/openclass-ai/citestream/internal/references"
	"github.com/openclass-ai/citestream/internal/resolver"
	"github.com/openclass-ai/citestream/internal/sentences"
)

// quoteEndWords bounds how many words from each end of a block quote feed
// the span resolver.
const quoteEndWords = 8

// IndexProvider supplies the sentence index for a cited reference. A nil
// index with nil error means the document has no layout data; the citation
// then reconciles without sentence detail.
type IndexProvider interface {
	IndexFor(ctx context.Context, ref references.Reference) (*sentences.Index, error)
}

// Config assembles one driver. AnswerID and References come from the
// request; nil Guard, Resolver, and Logger fall back to defaults.
type Config struct {
	AnswerID   string
	Format     Format
	Mode       blocks.Mode
	References []references.Reference
	Indexes    IndexProvider
	Guard      *guard.Guard
	Resolver   *resolver.Resolver
	Logger     *zap.Logger
}

// Driver owns all mutable state of one in-flight answer. Not safe for
// concurrent use: fragments are processed strictly in arrival order.
type Driver struct {
	cfg       Config
	log       *zap.Logger
	extractor *channels.Extractor
	strat     Strategy
	tracker   *lifecycle.Tracker
	guard     *guard.Guard
	resolver  *resolver.Resolver

	buf      strings.Builder
	analysis int    // bytes of analysis channel already emitted
	emitted  string // final-channel display text already emitted
	held     string // display text withheld by the guard
	finished bool
}

// New returns a driver ready for its first fragment.
func New(cfg Config) *Driver {
	if cfg.Guard == nil {
		cfg.Guard = guard.MustNew(guard.DefaultConfig())
	}
	if cfg.Resolver == nil {
		cfg.Resolver = resolver.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	metrics.ActiveStreams.Inc()
	return &Driver{
		cfg:       cfg,
		log:       cfg.Logger.With(zap.String("answer_id", cfg.AnswerID)),
		extractor: channels.NewExtractor(),
		strat:     NewStrategy(cfg.Format, cfg.Mode),
		tracker:   lifecycle.NewTracker(),
		guard:     cfg.Guard,
		resolver:  cfg.Resolver,
	}
}

// Feed appends one fragment and returns the events it produced. Returns
// nothing after Finish or Cancel.
func (d *Driver) Feed(fragment string) []Event {
	if d.finished || fragment == "" {
		return nil
	}
	d.buf.WriteString(fragment)
	metrics.FragmentsProcessed.Inc()
	return d.advance(false)
}

// Finish marks end of stream: flushes withheld text, closes any open
// citation, reconciles references, resolves citation spans, and terminates
// with a done event. Idempotent.
func (d *Driver) Finish(ctx context.Context) []Event {
	if d.finished {
		return nil
	}
	events := d.advance(true)
	d.finished = true
	metrics.ActiveStreams.Dec()

	set := d.extractor.Classify(d.buf.String())
	if text, ok := d.strat.Correction(set.Final, d.emitted); ok {
		metrics.Corrections.Inc()
		d.emitted = text
		events = append(events, d.event(Event{Type: TypeCorrection, Channel: ChannelFinal, Text: text}))
	}

	events = append(events, d.lifecycleEvents(d.tracker.Finish())...)

	resolved := references.Reconcile(d.citedNumbers(set.Final), d.cfg.References)
	events = append(events, d.event(Event{Type: TypeReferences, References: resolved}))

	if enhanced := d.enhance(ctx, resolved, set.Final); len(enhanced) > 0 {
		events = append(events, d.event(Event{Type: TypeEnhanced, Enhanced: enhanced}))
	}

	return append(events, d.event(Event{Type: TypeDone}))
}

// Cancel ends a stream whose consumer went away. The lifecycle close is
// still synthesized so buffered listeners see a well-formed sequence;
// reconciliation and resolution are skipped. Idempotent.
func (d *Driver) Cancel() []Event {
	if d.finished {
		return nil
	}
	d.finished = true
	metrics.ActiveStreams.Dec()
	events := d.lifecycleEvents(d.tracker.Finish())
	return append(events, d.event(Event{Type: TypeDone}))
}

// Rendered returns the final-channel display text emitted so far.
func (d *Driver) Rendered() string { return d.emitted }

// advance re-classifies the buffer and drains both channels. final forces
// out text the guard would otherwise withhold.
func (d *Driver) advance(final bool) []Event {
	set := d.extractor.Classify(d.buf.String())
	var events []Event

	if len(set.Analysis) > d.analysis {
		// The guard applies per channel: a half-written marker in the
		// reasoning text flickers just like one in the answer.
		if !final && d.guard.IsLikelyPartialReference(set.Analysis) {
			metrics.DeltasWithheld.Inc()
		} else {
			delta := set.Analysis[d.analysis:]
			d.analysis = len(set.Analysis)
			metrics.TextDeltasEmitted.WithLabelValues(string(ChannelAnalysis)).Inc()
			events = append(events, d.event(Event{Type: TypeTextDelta, Channel: ChannelAnalysis, Text: delta}))
		}
	}

	pending := d.held
	d.held = ""
	for _, ev := range d.strat.TransformDelta(set.Final) {
		switch ev.Kind {
		case blocks.KindTextDelta:
			pending += ev.Text
		case blocks.KindBoundary:
			// A new block means the previous one's text is settled; flush
			// before the lifecycle transition.
			events = append(events, d.flushFinal(&pending, true)...)
			events = append(events, d.lifecycleEvents(d.tracker.Boundary(ev.Citation, ev.Open, ev.ClosePrev))...)
		case blocks.KindCorrection:
			// The parser re-rendered and diverged from what streamed out;
			// its text supersedes everything emitted and pending.
			pending = ""
			d.held = ""
			d.emitted = ev.Text
			metrics.Corrections.Inc()
			events = append(events, d.event(Event{Type: TypeCorrection, Channel: ChannelFinal, Text: ev.Text}))
		}
	}
	events = append(events, d.flushFinal(&pending, final)...)
	return events
}

// flushFinal emits pending final-channel text unless its tail looks like a
// citation marker still being written. force bypasses the guard.
func (d *Driver) flushFinal(pending *string, force bool) []Event {
	if *pending == "" {
		return nil
	}
	if !force && d.guard.IsLikelyPartialReference(d.emitted+*pending) {
		metrics.DeltasWithheld.Inc()
		d.held = *pending
		*pending = ""
		return nil
	}
	delta := *pending
	*pending = ""
	d.emitted += delta
	metrics.TextDeltasEmitted.WithLabelValues(string(ChannelFinal)).Inc()
	return []Event{d.event(Event{Type: TypeTextDelta, Channel: ChannelFinal, Text: delta})}
}

func (d *Driver) lifecycleEvents(evs []lifecycle.Event) []Event {
	var out []Event
	for _, ev := range evs {
		switch ev.Kind {
		case lifecycle.EventOpen:
			metrics.CitationsOpened.Inc()
			out = append(out, d.event(Event{Type: TypeCitationOpen, Ref: ev.Ref, Quote: ev.Quote}))
		case lifecycle.EventClose:
			metrics.CitationsClosed.Inc()
			out = append(out, d.event(Event{Type: TypeCitationClose, Ref: ev.Ref}))
		}
	}
	return out
}

// citedNumbers gathers every reference number the answer cited: block
// boundaries first, then format-level citations, then marker text scanned
// out of the display as a last resort.
func (d *Driver) citedNumbers(finalText string) []int {
	nums := d.tracker.Cited()
	formatNums, _ := d.strat.Citations(finalText)
	nums = append(nums, formatNums...)
	if len(nums) == 0 {
		nums = references.ExtractMarkers(d.emitted)
	}
	return nums
}

// enhance batch-resolves every reference's quotations against its source
// document and groups the sentence detail per reference.
func (d *Driver) enhance(ctx context.Context, resolved []references.Resolved, finalText string) []references.Enhanced {
	if d.cfg.Indexes == nil || len(resolved) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	}()

	_, formatQuots := d.strat.Citations(finalText)
	var all []resolver.ResolvedCitation
	for _, r := range resolved {
		quots := d.quotationsFor(r.Number, formatQuots)
		if len(quots) == 0 {
			continue
		}
		idx, err := d.cfg.Indexes.IndexFor(ctx, r.Reference)
		if err != nil {
			d.log.Warn("sentence index unavailable",
				zap.Int("reference", r.Number), zap.Error(err))
			metrics.RecordResolution("index_error")
			continue
		}
		if idx == nil {
			metrics.RecordResolution("no_index")
			continue
		}
		got := d.resolver.ResolveBatch(quots, idx)
		for range got {
			metrics.RecordResolution("resolved")
		}
		for i := 0; i < len(quots)-len(got); i++ {
			metrics.RecordResolution("unmatched")
		}
		all = append(all, got...)
	}
	return references.Enhance(resolved, all)
}

// quotationsFor builds the resolver queries for one reference: the format's
// own quotations when it has them, otherwise the opening and closing words
// of each quote the lifecycle recorded.
func (d *Driver) quotationsFor(ref int, formatQuots []resolver.Quotation) []resolver.Quotation {
	var out []resolver.Quotation
	for _, q := range formatQuots {
		if q.Reference == ref {
			out = append(out, q)
		}
	}
	if len(out) > 0 {
		return out
	}
	for _, quote := range d.tracker.Quotes(ref) {
		words := strings.Fields(quote)
		if len(words) == 0 {
			continue
		}
		n := min(quoteEndWords, len(words))
		out = append(out, resolver.Quotation{
			Reference: ref,
			Start:     strings.Join(words[:n], " "),
			End:       strings.Join(words[len(words)-n:], " "),
		})
	}
	return out
}

func (d *Driver) event(e Event) Event {
	e.AnswerID = d.cfg.AnswerID
	e.Timestamp = time.Now()
	return e
}
