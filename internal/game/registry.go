package game

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runtime pairs an engine with the hub that carries its events.
type Runtime struct {
	Engine *Engine
	Hub    *Hub
}

// Registry holds the engines served by one process.
type Registry struct {
	runtimes map[GameType]Runtime
	log      *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		runtimes: make(map[GameType]Runtime),
		log:      logger.Named("registry"),
	}
}

func (r *Registry) Register(engine *Engine, hub *Hub) {
	r.runtimes[engine.Type()] = Runtime{Engine: engine, Hub: hub}
}

func (r *Registry) Get(gameType GameType) (Runtime, bool) {
	rt, exists := r.runtimes[gameType]
	return rt, exists
}

func (r *Registry) Types() []GameType {
	out := make([]GameType, 0, len(r.runtimes))
	for t := range r.runtimes {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run starts every hub and engine and blocks until ctx ends or an engine
// fails. The first engine error cancels the rest and is returned.
func (r *Registry) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for gameType, rt := range r.runtimes {
		hub, engine := rt.Hub, rt.Engine
		g.Go(func() error {
			hub.Run(ctx)
			return nil
		})
		g.Go(func() error {
			return engine.Run(ctx)
		})
		r.log.Info("started engine", zap.String("game", string(gameType)))
	}
	return g.Wait()
}
