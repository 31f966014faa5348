// Package dispatch implements the Dispatch Worker Pool (module C): N
// concurrent workers pulling from the Job Queue, each running the claim ->
// idempotency check -> consent check -> render -> adapter call -> record
// outcome -> retry-or-dead sequence from spec section 4.C.
//
// Grounded on services/consolidated-worker-go/notification_worker.go's
// Work method shape (fetch -> render -> send -> classify-and-retry) and
// its "[Job %s]" log-line convention, adapted from a single River worker
// into a hand-rolled goroutine pool over the queue.Queue interface.
package dispatch

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/solocheck/engine/internal/adapter"
	"github.com/solocheck/engine/internal/clock"
	"github.com/solocheck/engine/internal/consent"
	"github.com/solocheck/engine/internal/ledger"
	"github.com/solocheck/engine/internal/metrics"
	"github.com/solocheck/engine/internal/model"
	"github.com/solocheck/engine/internal/queue"
	"github.com/solocheck/engine/internal/render"
)

// Config holds the pool's tunables, defaults matching spec section 7.
type Config struct {
	Workers           int
	VisibilityTimeout time.Duration
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	AdapterTimeout    time.Duration
	SweepInterval     time.Duration
}

// DefaultConfig returns the spec's default tunables.
func DefaultConfig() Config {
	return Config{
		Workers:           8,
		VisibilityTimeout: 60 * time.Second,
		MaxAttempts:       5,
		BackoffBase:       30 * time.Second,
		BackoffCap:        30 * time.Minute,
		AdapterTimeout:    10 * time.Second,
		SweepInterval:     30 * time.Second,
	}
}

// Sweeper returns expired in-flight claims to queued, per spec section 4.D's
// "periodic sweeper that returns expired in-flight jobs to queued". Every
// Queue implementation satisfies this.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// ContactLookup resolves a contact's address and channel for rendering.
// Satisfied by internal/store.Store in production.
type ContactLookup interface {
	Contact(ctx context.Context, contactID string) (model.Contact, bool, error)
}

// RenderContext resolves the template context for a job's episode.
// Satisfied by internal/store.Store in production; the scanner and SOS
// coordinator populate the episode-level fields at enqueue time in the
// richer deployments, but the pool re-resolves at send time so a
// long-delayed retry reflects current (e.g. revoked) consent and content.
type RenderContext interface {
	RenderContextForEpisode(ctx context.Context, episodeID string, now time.Time) (render.Context, render.Kind, error)
}

// Closer closes an episode once every (contact, channel) pair for it has
// reached a terminal state. Satisfied by internal/store.Store in
// production; the list of jobs for the terminal check comes from the
// Queue itself (every Queue implementation tracks job state), not from
// Closer.
type Closer interface {
	CloseEpisode(ctx context.Context, episodeID string, resolution model.EpisodeResolution, closedAt time.Time) error
	RecordDelivery(ctx context.Context, entry model.DeliveryLogEntry) error
}

// Pool runs Config.Workers goroutines draining q until the context passed
// to Run is cancelled.
type Pool struct {
	cfg     Config
	q       queue.Queue
	ledger  ledger.Ledger
	gate    *consent.Gate
	emailer adapter.Adapter
	pusher  adapter.Adapter
	clock   clock.Clock
	contact ContactLookup
	rctx    RenderContext
	closer  Closer
	metrics *metrics.Metrics
}

// New constructs a dispatch Pool.
func New(cfg Config, q queue.Queue, lg ledger.Ledger, gate *consent.Gate, emailer, pusher adapter.Adapter,
	clk clock.Clock, contact ContactLookup, rctx RenderContext, closer Closer) *Pool {
	return &Pool{
		cfg: cfg, q: q, ledger: lg, gate: gate, emailer: emailer, pusher: pusher,
		clock: clk, contact: contact, rctx: rctx, closer: closer,
	}
}

// WithMetrics attaches a Metrics collector, returning p for chaining.
func (p *Pool) WithMetrics(m *metrics.Metrics) *Pool {
	p.metrics = m
	return p
}

// Run starts Config.Workers worker goroutines plus the queue sweeper and
// blocks until ctx is cancelled, then waits for in-flight claims to finish
// their current job.
func (p *Pool) Run(ctx context.Context) {
	done := make(chan struct{}, p.cfg.Workers+1)
	for i := 0; i < p.cfg.Workers; i++ {
		go func(id int) {
			p.workerLoop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	go func() {
		p.sweepLoop(ctx)
		done <- struct{}{}
	}()
	for i := 0; i < p.cfg.Workers+1; i++ {
		<-done
	}
}

// sweepLoop periodically returns in-flight jobs whose visibility timeout
// has lapsed back to queued, per spec section 4.D. A no-op if the
// configured Queue doesn't implement Sweeper.
func (p *Pool) sweepLoop(ctx context.Context) {
	sweeper, ok := p.q.(Sweeper)
	if !ok {
		return
	}
	ticker := p.clock.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			n, err := sweeper.Sweep(ctx, p.clock.Now())
			if err != nil {
				log.Printf("[dispatch sweep] error: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("[dispatch sweep] returned %d expired in-flight job(s) to queued", n)
				if p.metrics != nil {
					p.metrics.JobsSweptTotal.Add(float64(n))
				}
			}
		}
	}
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	ticker := p.clock.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			claim, err := p.q.Claim(ctx, p.clock.Now(), p.cfg.VisibilityTimeout)
			if err == queue.ErrNoJob {
				continue
			}
			if err != nil {
				log.Printf("[dispatch worker %d] claim error: %v", id, err)
				continue
			}
			if p.metrics != nil {
				p.metrics.JobsClaimedTotal.WithLabelValues(string(claim.Job.Channel)).Inc()
			}
			p.processJob(ctx, id, claim)
		}
	}
}

// processJob runs the exact step sequence from spec section 4.C.
func (p *Pool) processJob(ctx context.Context, workerID int, claim queue.Claimed) {
	job := claim.Job
	key := ledger.Key{EpisodeID: job.EpisodeID, ContactID: job.ContactID, Channel: string(job.Channel)}

	// Step 2: idempotency check.
	if entry, found, err := p.ledger.Check(ctx, key); err == nil && found {
		log.Printf("[dispatch worker %d] job %s already terminal (%s), skipping duplicate", workerID, job.ID, entry.Outcome)
		p.finishDelivered(ctx, claim, model.OutcomeSkippedDuplicate, "")
		p.maybeCloseEpisode(ctx, job.EpisodeID)
		return
	}

	// Step 3: consent check.
	contact, found, err := p.contact.Contact(ctx, job.ContactID)
	if err != nil {
		log.Printf("[dispatch worker %d] job %s contact lookup error: %v", workerID, job.ID, err)
		_ = p.q.Nack(ctx, claim)
		return
	}
	if !found || !contact.Eligible(p.clock.Now()) {
		p.finishDelivered(ctx, claim, model.OutcomeSkippedDuplicate, "")
		_ = p.ledger.Record(ctx, ledger.Entry{Key: key, Outcome: string(model.OutcomeSkippedDuplicate)})
		p.maybeCloseEpisode(ctx, job.EpisodeID)
		return
	}

	// Step 4: render and send.
	tctx, kind, err := p.rctx.RenderContextForEpisode(ctx, job.EpisodeID, p.clock.Now())
	if err != nil {
		log.Printf("[dispatch worker %d] job %s render-context error: %v", workerID, job.ID, err)
		_ = p.q.Nack(ctx, claim)
		return
	}
	if job.TemplateKind != "" {
		kind = render.Kind(job.TemplateKind)
	}
	rendered, err := render.Render(kind, tctx)
	if err != nil {
		log.Printf("[dispatch worker %d] job %s template error: %v", workerID, job.ID, err)
		p.finishDead(ctx, claim, model.OutcomeProviderReject, err.Error())
		return
	}

	msg := adapter.Message{
		Subject: rendered.Subject, BodyText: rendered.BodyText, BodyHTML: rendered.BodyHTML,
		PushType: render.PushType(kind), EpisodeID: job.EpisodeID, Title: rendered.Subject,
	}

	ad := p.adapterFor(job)
	outcome, sendErr := adapter.WithTimeout(ctx, p.cfg.AdapterTimeout, func(c context.Context) (adapter.Outcome, error) {
		return ad.Send(c, contact.Address, msg)
	})
	if sendErr != nil && outcome.Kind == "" {
		outcome = adapter.Outcome{Kind: adapter.OutcomeTransientFail, Reason: sendErr.Error()}
	}

	p.applyOutcome(ctx, workerID, claim, key, outcome)
}

// adapterFor picks email or push, honoring the SOS prefer-push flag from
// spec section 4.G.
func (p *Pool) adapterFor(job model.DispatchJob) adapter.Adapter {
	if job.Channel == model.ChannelPush || (job.PreferPush && p.pusher != nil) {
		return p.pusher
	}
	return p.emailer
}

func (p *Pool) applyOutcome(ctx context.Context, workerID int, claim queue.Claimed, key ledger.Key, outcome adapter.Outcome) {
	job := claim.Job
	switch outcome.Kind {
	case adapter.OutcomeSent:
		_ = p.ledger.Record(ctx, ledger.Entry{Key: key, Outcome: string(model.OutcomeSent), ProviderMsgID: outcome.ProviderMsgID})
		p.finishDelivered(ctx, claim, model.OutcomeSent, "")

	case adapter.OutcomeInvalidAddress:
		_ = p.ledger.Record(ctx, ledger.Entry{Key: key, Outcome: string(model.OutcomeInvalidAddress)})
		p.finishDead(ctx, claim, model.OutcomeInvalidAddress, outcome.Reason)

	case adapter.OutcomeProviderReject:
		_ = p.ledger.Record(ctx, ledger.Entry{Key: key, Outcome: string(model.OutcomeProviderReject)})
		p.finishDead(ctx, claim, model.OutcomeProviderReject, outcome.Reason)

	case adapter.OutcomeTransientFail:
		if job.Attempt < p.cfg.MaxAttempts {
			next := model.DispatchJob{
				EpisodeID: job.EpisodeID, ContactID: job.ContactID, Channel: job.Channel,
				Attempt: job.Attempt + 1, NotBefore: p.clock.Now().Add(p.backoff(job.Attempt)),
				PreferPush: job.PreferPush, TemplateKind: job.TemplateKind,
			}
			if err := p.q.Enqueue(ctx, next); err != nil {
				log.Printf("[dispatch worker %d] job %s retry enqueue failed: %v", workerID, job.ID, err)
			}
			_ = p.q.Ack(ctx, claim, model.JobFailed, outcome.Reason)
			_ = p.recordDelivery(ctx, job, model.OutcomeTransientFail, outcome.Reason)
		} else {
			_ = p.ledger.Record(ctx, ledger.Entry{Key: key, Outcome: string(model.OutcomeTransientFail)})
			p.finishDead(ctx, claim, model.OutcomeTransientFail, outcome.Reason)
		}

	default:
		log.Printf("[dispatch worker %d] job %s unrecognized adapter outcome %q", workerID, job.ID, outcome.Kind)
		_ = p.q.Nack(ctx, claim)
		return
	}
	p.maybeCloseEpisode(ctx, job.EpisodeID)
}

func (p *Pool) finishDelivered(ctx context.Context, claim queue.Claimed, outcome model.DeliveryOutcome, reason string) {
	_ = p.q.Ack(ctx, claim, model.JobDelivered, reason)
	_ = p.recordDelivery(ctx, claim.Job, outcome, reason)
}

func (p *Pool) finishDead(ctx context.Context, claim queue.Claimed, outcome model.DeliveryOutcome, reason string) {
	_ = p.q.Ack(ctx, claim, model.JobDead, reason)
	_ = p.recordDelivery(ctx, claim.Job, outcome, reason)
}

func (p *Pool) recordDelivery(ctx context.Context, job model.DispatchJob, outcome model.DeliveryOutcome, reason string) error {
	if p.metrics != nil {
		p.metrics.DispatchOutcomeTotal.WithLabelValues(string(job.Channel), string(outcome)).Inc()
	}
	if p.closer == nil {
		return nil
	}
	return p.closer.RecordDelivery(ctx, model.DeliveryLogEntry{
		EpisodeID: job.EpisodeID, ContactID: job.ContactID, Channel: job.Channel,
		Attempt: job.Attempt, Outcome: outcome, At: p.clock.Now(), SanitizedErr: reason,
	})
}

// maybeCloseEpisode implements spec section 4.C's episode-closure check:
// after any terminal transition, close the episode once every
// (contact, channel) pair has reached a terminal job state.
func (p *Pool) maybeCloseEpisode(ctx context.Context, episodeID string) {
	if p.closer == nil {
		return
	}
	jobs, err := p.q.JobsForEpisode(ctx, episodeID)
	if err != nil {
		log.Printf("[dispatch] episode %s closure check failed: %v", episodeID, err)
		return
	}
	for _, j := range jobs {
		if !terminal(j.State) {
			return
		}
	}
	if len(jobs) == 0 {
		return
	}
	if err := p.closer.CloseEpisode(ctx, episodeID, model.ResolutionAllDispatched, p.clock.Now()); err != nil {
		log.Printf("[dispatch] episode %s close failed: %v", episodeID, err)
		return
	}
	if p.metrics != nil {
		p.metrics.EpisodesClosedTotal.WithLabelValues(string(model.ResolutionAllDispatched)).Inc()
	}
}

// terminal reports whether a job needs no further work. A failed job counts
// as terminal because its retry was enqueued as a separate job, which keeps
// the (contact, channel) pair open until it ends.
func terminal(s model.JobState) bool {
	switch s {
	case model.JobDelivered, model.JobDead, model.JobFailed:
		return true
	default:
		return false
	}
}

// backoff computes the exponential-with-jitter retry delay from spec
// section 4.C: min(cap, base*2^(attempt-1)) * uniform(0.8, 1.2).
func (p *Pool) backoff(attempt int) time.Duration {
	raw := float64(p.cfg.BackoffBase) * pow2(attempt-1)
	capped := raw
	if capped > float64(p.cfg.BackoffCap) {
		capped = float64(p.cfg.BackoffCap)
	}
	jitter := 0.8 + rand.Float64()*0.4
	return time.Duration(capped * jitter)
}

func pow2(n int) float64 {
	if n <= 0 {
		return 1
	}
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}
