package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abhishek622/moviereplica/movie/internal/gateway"
	"github.com/abhishek622/moviereplica/movie/internal/replica"
	"github.com/abhishek622/moviereplica/movie/pkg/model"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/segmentio/ksuid"
	"github.com/uber-go/tally/v4"
	"go.uber.org/zap"
)

// State is the connection state of a Listener.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectionError reports that the feed could not be opened or failed while
// receiving.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return "change feed connection: " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var errMalformed = errors.New("malformed change event")

type movieStore interface {
	UpsertOne(ctx context.Context, m *model.Movie) error
	FindByID(ctx context.Context, id model.ID) (*model.Movie, error)
	Remove(ctx context.Context, id model.ID) error
}

// Listener applies catalog change events to the replica in arrival order.
type Listener struct {
	source   gateway.FeedSource
	store    movieStore
	logger   *zap.Logger
	scope    tally.Scope
	baseline <-chan struct{}

	state atomic.Int32
}

// Option configures a Listener.
type Option func(*Listener)

// WithBaseline holds back events until done is closed. Events received
// earlier are buffered and applied in order once it closes.
func WithBaseline(done <-chan struct{}) Option {
	return func(l *Listener) { l.baseline = done }
}

// New creates a change feed listener.
func New(source gateway.FeedSource, store movieStore, logger *zap.Logger, scope tally.Scope, opts ...Option) *Listener {
	if logger == nil {
		logger = zap.NewNop()
	}
	if scope == nil {
		scope = tally.NoopScope
	}
	l := &Listener{source: source, store: store, logger: logger, scope: scope}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current connection state.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
}

// Run connects to the feed and applies events until the stream fails or
// ctx ends. It returns nil when ctx ends and a *ConnectionError when the
// connection could not be opened or broke. Run never reconnects by itself.
func (l *Listener) Run(ctx context.Context) error {
	logger := l.logger.With(zap.String("session", ksuid.New().String()))
	l.setState(Connecting)
	defer l.setState(Disconnected)

	st, err := l.source.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		l.scope.Counter("connect_failures").Inc(1)
		return &ConnectionError{Err: err}
	}
	defer st.Close()
	l.setState(Connected)
	logger.Info("Change feed connected")

	rctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	payloads := make(chan []byte)
	errc := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			p, err := st.Next(rctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case payloads <- p:
			case <-rctx.Done():
				return
			}
		}
	}()

	gate := l.baseline
	open := gate == nil
	var pending [][]byte
	for {
		select {
		case <-gate:
			open, gate = true, nil
			logger.Debug("Baseline ready", zap.Int("buffered", len(pending)))
			for _, p := range pending {
				if err := l.apply(ctx, logger, p); err != nil {
					return err
				}
			}
			pending = nil
		case p := <-payloads:
			l.scope.Counter("received").Inc(1)
			if !open {
				pending = append(pending, p)
				continue
			}
			if err := l.apply(ctx, logger, p); err != nil {
				return err
			}
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			if len(pending) > 0 {
				logger.Warn("Discarding events buffered before baseline", zap.Int("events", len(pending)))
			}
			logger.Warn("Change feed disconnected", zap.Error(err))
			return &ConnectionError{Err: err}
		case <-ctx.Done():
			logger.Info("Change feed stopped")
			return nil
		}
	}
}

// apply handles one payload. Bad events are logged and dropped; only a
// replica failure is returned.
func (l *Listener) apply(ctx context.Context, logger *zap.Logger, payload []byte) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Listener/apply")
	defer span.Finish()

	var ev model.ChangeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		l.drop(span, logger, payload, err)
		return nil
	}
	span.SetTag("action", string(ev.Action))
	scope := l.scope.Tagged(map[string]string{"action": string(ev.Action)})

	switch ev.Action {
	case model.ChangeActionCreate, model.ChangeActionUpdate:
		if ev.Movie == nil {
			l.drop(span, logger, payload, fmt.Errorf("%w: %s without movie", errMalformed, ev.Action))
			return nil
		}
		span.SetTag("movie_id", ev.Movie.ID.String())
		err := l.store.UpsertOne(ctx, ev.Movie)
		var verr *replica.ValidationError
		switch {
		case errors.As(err, &verr):
			l.scope.Counter("rejected").Inc(1)
			logger.Warn("Dropping invalid movie from feed", zap.String("action", string(ev.Action)), zap.Error(err))
			return nil
		case err != nil:
			ext.Error.Set(span, true)
			return fmt.Errorf("apply %s of %s: %w", ev.Action, ev.Movie.ID, err)
		}
	case model.ChangeActionDelete:
		id := ev.MovieID
		if id == "" && ev.Movie != nil {
			id = ev.Movie.ID
		}
		if id == "" {
			l.drop(span, logger, payload, fmt.Errorf("%w: delete without movie_id", errMalformed))
			return nil
		}
		span.SetTag("movie_id", id.String())
		if _, err := l.store.FindByID(ctx, id); errors.Is(err, replica.ErrNotFound) {
			l.scope.Counter("noops").Inc(1)
			logger.Debug("Delete for unknown movie ignored", zap.String("id", id.String()))
			return nil
		}
		if err := l.store.Remove(ctx, id); err != nil {
			ext.Error.Set(span, true)
			return fmt.Errorf("apply delete of %s: %w", id, err)
		}
	default:
		l.drop(span, logger, payload, fmt.Errorf("%w: unknown action %q", errMalformed, ev.Action))
		return nil
	}
	scope.Counter("applied").Inc(1)
	return nil
}

func (l *Listener) drop(span opentracing.Span, logger *zap.Logger, payload []byte, err error) {
	ext.Error.Set(span, true)
	l.scope.Counter("malformed").Inc(1)
	logger.Warn("Dropping malformed change event", zap.ByteString("payload", payload), zap.Error(err))
}
