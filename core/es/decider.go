package es

import (
	"context"
	"fmt"
	"log/slog"
)

// DecisionContext is what a decision function sees: the folded state plus
// the version and size of the stream it was loaded from.
type DecisionContext[S any] struct {
	State            S
	Version          Version
	StreamEventBytes int64
}

func newDecisionContext[S any](token StreamToken, state S) DecisionContext[S] {
	return DecisionContext[S]{State: state, Version: token.Version, StreamEventBytes: token.StreamBytes}
}

// Decider runs decisions against a single stream with optimistic
// concurrency control.
type Decider[E, S any] struct {
	cat         Category[E, S]
	stream      StreamName
	log         *slog.Logger
	metrics     ESMetrics
	maxAttempts int
	encodeCtx   EncodeContext
}

// NewDecider binds a decider to the stream "{cat.Name()}-{streamID}".
func NewDecider[E, S any](cat Category[E, S], streamID string, opts ...DeciderOption) (*Decider[E, S], error) {
	stream, err := NewStreamName(cat.Name(), streamID)
	if err != nil {
		return nil, err
	}
	return NewDeciderFor(cat, stream, opts...), nil
}

// NewDeciderFor binds a decider to an already constructed stream name.
func NewDeciderFor[E, S any](cat Category[E, S], stream StreamName, opts ...DeciderOption) *Decider[E, S] {
	options := newDeciderOpts(opts...)
	return &Decider[E, S]{
		cat:         cat,
		stream:      stream,
		log:         options.log.With(stream.SlogAttr()),
		metrics:     options.metrics,
		maxAttempts: options.maxAttempts,
		encodeCtx:   options.encodeCtx,
	}
}

func (d *Decider[E, S]) Stream() StreamName { return d.stream }

// Transact loads the state, runs interpret and appends the resulting
// events. On conflict it reloads and runs interpret again.
func (d *Decider[E, S]) Transact(ctx context.Context, interpret func(S) []E, opts ...LoadOption) error {
	_, err := d.transact(ctx, func(_ context.Context, dc DecisionContext[S]) ([]E, error) {
		return interpret(dc.State), nil
	}, opts...)
	return err
}

// TransactAsync is Transact for decision functions that do I/O of their own
// or can fail.
func (d *Decider[E, S]) TransactAsync(ctx context.Context, interpret func(context.Context, S) ([]E, error), opts ...LoadOption) error {
	_, err := d.transact(ctx, func(ctx context.Context, dc DecisionContext[S]) ([]E, error) {
		return interpret(ctx, dc.State)
	}, opts...)
	return err
}

// TransactResult runs decide and returns the result of the attempt that was
// finally accepted.
func TransactResult[E, S, R any](ctx context.Context, d *Decider[E, S], decide func(S) (R, []E), opts ...LoadOption) (R, error) {
	var result R
	_, err := d.transact(ctx, func(_ context.Context, dc DecisionContext[S]) ([]E, error) {
		var events []E
		result, events = decide(dc.State)
		return events, nil
	}, opts...)
	return result, err
}

// TransactEx exposes the version and size of the stream to decide and maps
// the accepted result together with the post-write context.
func TransactEx[E, S, R, V any](
	ctx context.Context,
	d *Decider[E, S],
	decide func(context.Context, DecisionContext[S]) (R, []E, error),
	mapResult func(R, DecisionContext[S]) V,
	opts ...LoadOption,
) (out V, err error) {
	var result R
	final, err := d.transact(ctx, func(ctx context.Context, dc DecisionContext[S]) ([]E, error) {
		var (
			events    []E
			decideErr error
		)
		result, events, decideErr = decide(ctx, dc)
		return events, decideErr
	}, opts...)
	if err != nil {
		return out, err
	}
	return mapResult(result, final), nil
}

// Query renders a view of the state. It never writes and never retries.
func Query[E, S, V any](ctx context.Context, d *Decider[E, S], render func(S) V, opts ...LoadOption) (out V, err error) {
	_, state, err := d.load(ctx, newLoadOpts(opts...))
	if err != nil {
		return out, err
	}
	return render(state), nil
}

// QueryEx is Query with access to the version and size of the stream.
func QueryEx[E, S, V any](ctx context.Context, d *Decider[E, S], render func(DecisionContext[S]) V, opts ...LoadOption) (out V, err error) {
	token, state, err := d.load(ctx, newLoadOpts(opts...))
	if err != nil {
		return out, err
	}
	return render(newDecisionContext(token, state)), nil
}

func (d *Decider[E, S]) load(ctx context.Context, o loadOpts) (StreamToken, S, error) {
	if o.assumeEmpty {
		token, state := d.cat.Empty()
		return token, state, nil
	}
	token, state, err := d.cat.Load(ctx, d.stream, LoadPolicy{MaxStale: o.maxStale, RequireLeader: o.requireLeader})
	if err != nil {
		return token, state, fmt.Errorf("load %s: %w", d.stream, err)
	}
	return token, state, nil
}

func (d *Decider[E, S]) transact(
	ctx context.Context,
	decide func(context.Context, DecisionContext[S]) ([]E, error),
	opts ...LoadOption,
) (DecisionContext[S], error) {
	token, state, err := d.load(ctx, newLoadOpts(opts...))
	if err != nil {
		return DecisionContext[S]{}, err
	}

	category := d.stream.Category()

	for attempt := 1; ; attempt++ {
		dc := newDecisionContext(token, state)
		events, err := decide(ctx, dc)
		if err != nil {
			return dc, err
		}
		if len(events) == 0 {
			return dc, nil
		}

		res, err := d.cat.Sync(ctx, d.stream, d.encodeCtx, token, state, events)
		if err != nil {
			return dc, fmt.Errorf("sync %s: %w", d.stream, err)
		}

		switch res.Outcome {
		case SyncWritten:
			d.log.Debug(
				"written",
				slog.Int("attempt", attempt),
				slog.Int("num_events", len(events)),
				res.Token.SlogAttr(),
			)
			return newDecisionContext(res.Token, res.State), nil
		case SyncConflict:
		default:
			return dc, fmt.Errorf("sync %s: unexpected outcome %s", d.stream, res.Outcome)
		}

		d.metrics.ConcurrencyConflict(category)
		d.log.Debug("conflict", slog.Int("attempt", attempt), slog.Int("max_attempts", d.maxAttempts))

		if attempt >= d.maxAttempts {
			return dc, &MaxResyncsExhaustedError{Stream: d.stream, Attempts: attempt}
		}

		d.metrics.Resync(category)
		r := res.Resync
		token, state, err = d.cat.Reload(ctx, r.Stream, true, r.Token, r.State)
		if err != nil {
			return dc, fmt.Errorf("resync %s: %w", d.stream, err)
		}
	}
}
