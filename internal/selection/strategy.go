package selection

import "fmt"

// Config selects and parameterizes a strategy.
//
// Params carries strategy-specific knobs; unknown keys are ignored so one
// config block can be shared across strategies:
//
//	fixed_k:     k
//	elbow:       drop_threshold
//	adaptive_k:  alpha
//	entropy:     entropy_threshold, low_k, high_k
//	clustering:  cluster_gap, top_per_cluster
type Config struct {
	Strategy string             `koanf:"strategy"`
	MinScore float64            `koanf:"min_score"`
	MaxK     int                `koanf:"max_k"`
	MinK     int                `koanf:"min_k"`
	Params   map[string]float64 `koanf:"params"`
}

// Validate checks the static configuration invariants.
func (c Config) Validate() error {
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("%w: min_score %v outside [0, 1]", ErrValidation, c.MinScore)
	}
	if c.MaxK <= 0 {
		return fmt.Errorf("%w: max_k must be positive, got %d", ErrValidation, c.MaxK)
	}
	if c.MinK < 0 {
		return fmt.Errorf("%w: min_k must be non-negative, got %d", ErrValidation, c.MinK)
	}
	if c.MinK > c.MaxK {
		return fmt.Errorf("%w: min_k %d > max_k %d", ErrValidation, c.MinK, c.MaxK)
	}
	switch c.Strategy {
	case MethodFixedK, MethodElbow, MethodAdaptiveK, MethodEntropy, MethodClustering:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}
}

// param reads a strategy knob with a default.
func (c Config) param(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		return v
	}
	return def
}

// New builds the strategy named by cfg.Strategy.
func New[T any](cfg Config) (Strategy[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Strategy {
	case MethodFixedK:
		return &FixedK[T]{
			K:        int(cfg.param("k", float64(cfg.MaxK))),
			MinScore: cfg.MinScore,
		}, nil
	case MethodElbow:
		return &Elbow[T]{
			DropThreshold: cfg.param("drop_threshold", 0.2),
			MinScore:      cfg.MinScore,
		}, nil
	case MethodAdaptiveK:
		return &AdaptiveK[T]{
			Alpha:    cfg.param("alpha", 1.0),
			MinScore: cfg.MinScore,
		}, nil
	case MethodEntropy:
		return &Entropy[T]{
			Threshold: cfg.param("entropy_threshold", 0.75),
			LowK:      int(cfg.param("low_k", 3)),
			HighK:     int(cfg.param("high_k", 8)),
			MinScore:  cfg.MinScore,
		}, nil
	case MethodClustering:
		return &Clustering[T]{
			Gap:           cfg.param("cluster_gap", 0.05),
			TopPerCluster: int(cfg.param("top_per_cluster", 2)),
			MinScore:      cfg.MinScore,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
	}
}
