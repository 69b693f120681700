// Package scheduling is the availability and booking core. Every public method
// runs as one store transaction; transient storage conflicts are retried a bounded
// number of times before surfacing as *TransientError.
package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"turnoplus/backend/internal/lock"
	"turnoplus/backend/internal/store"
)

type Directory interface {
	DoctorExists(ctx context.Context, id uuid.UUID) (bool, error)
	PatientExists(ctx context.Context, id uuid.UUID) (bool, error)
}

type BlockDurationSource interface {
	BlockDuration(ctx context.Context) (time.Duration, error)
}

// StaticBlockDuration serves a fixed block duration.
type StaticBlockDuration time.Duration

func (d StaticBlockDuration) BlockDuration(ctx context.Context) (time.Duration, error) {
	return time.Duration(d), nil
}

type Clock func() time.Time

type SlotLocker interface {
	WithSlotLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

type Metrics interface {
	ObserveOperation(operation, outcome string, elapsed time.Duration)
	IncRetry(operation string)
}

const (
	DefaultMinLeadTime = time.Hour
	DefaultMaxRetries  = 3
	defaultBackoff     = 20 * time.Millisecond
)

type Service struct {
	store     store.Store
	directory Directory
	durations BlockDurationSource

	clock       Clock
	log         *slog.Logger
	tracer      trace.Tracer
	metrics     Metrics
	locker      SlotLocker
	minLeadTime time.Duration
	maxRetries  int
	backoff     time.Duration
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithSlotLocker(l SlotLocker) Option {
	return func(s *Service) { s.locker = l }
}

func WithMinLeadTime(d time.Duration) Option {
	return func(s *Service) { s.minLeadTime = d }
}

// WithMaxRetries sets how many times a unit of work is re-run after a transient
// failure. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(s *Service) { s.maxRetries = n }
}

func WithBackoff(d time.Duration) Option {
	return func(s *Service) { s.backoff = d }
}

func NewService(st store.Store, dir Directory, durations BlockDurationSource, opts ...Option) *Service {
	s := &Service{
		store:       st,
		directory:   dir,
		durations:   durations,
		clock:       time.Now,
		log:         slog.Default(),
		tracer:      otel.Tracer("turnoplus/backend/scheduling"),
		metrics:     nopMetrics{},
		locker:      lock.NopLocker{},
		minLeadTime: DefaultMinLeadTime,
		maxRetries:  DefaultMaxRetries,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxRetries < 0 {
		s.maxRetries = 0
	}
	return s
}

type txFunc func(ctx context.Context, tx store.SchedulingTx) error

// run executes fn in a fresh transaction, retrying on store.ErrTransient. When
// guard is non-empty the attempt also holds the slot lock of that name.
func (s *Service) run(ctx context.Context, op, guard string, fn txFunc) (err error) {
	ctx, span := s.tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(attribute.String("scheduling.operation", op)))
	started := time.Now()
	defer func() {
		s.metrics.ObserveOperation(op, outcome(err), time.Since(started))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	attempt := func(ctx context.Context) error {
		return s.store.RunInTx(ctx, fn)
	}

	for i := 0; ; i++ {
		if guard != "" {
			err = s.locker.WithSlotLock(ctx, guard, attempt)
		} else {
			err = attempt(ctx)
		}
		if err == nil || !errors.Is(err, store.ErrTransient) {
			return err
		}
		if i >= s.maxRetries {
			s.log.WarnContext(ctx, "transient failure, giving up", "op", op, "attempts", i+1, "err", err)
			return &TransientError{Op: op, Attempts: i + 1, Err: err}
		}

		s.metrics.IncRetry(op)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("attempt", i+1)))
		s.log.WarnContext(ctx, "transient failure, retrying", "op", op, "attempt", i+1, "err", err)

		if err := s.sleep(ctx, i); err != nil {
			return err
		}
	}
}

func (s *Service) sleep(ctx context.Context, attempt int) error {
	if s.backoff <= 0 {
		return ctx.Err()
	}
	d := s.backoff << attempt
	d += time.Duration(rand.Int64N(int64(s.backoff)))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcome(err error) string {
	var (
		vErr *ValidationError
		nErr *NotFoundError
		tErr *TransientError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &vErr):
		return "rejected"
	case errors.As(err, &nErr):
		return "not_found"
	case errors.As(err, &tErr):
		return "transient"
	}
	return "error"
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) blockDuration(ctx context.Context) (time.Duration, error) {
	d, err := s.durations.BlockDuration(ctx)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("block duration must be positive")
	}
	return d, nil
}

func (s *Service) requireDoctor(ctx context.Context, id uuid.UUID) error {
	ok, err := s.directory.DoctorExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("doctor", id)
	}
	return nil
}

func (s *Service) requirePatient(ctx context.Context, id uuid.UUID) error {
	ok, err := s.directory.PatientExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return notFound("patient", id)
	}
	return nil
}

type nopMetrics struct{}

func (nopMetrics) ObserveOperation(string, string, time.Duration) {}
func (nopMetrics) IncRetry(string)                                {}
