package domain

// CircuitState mirrors the state of one protected dependency's circuit
// breaker. Transitions happen only through recorded call outcomes.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// DegradationLevel is the operating mode picked per request. Higher levels
// prune more pipeline stages.
type DegradationLevel int

const (
	LevelFull DegradationLevel = iota
	LevelSkipReranking
	LevelSkipExpansion
	LevelSkipSemantic
	LevelCacheOnly
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelSkipReranking:
		return "skip_reranking"
	case LevelSkipExpansion:
		return "skip_expansion"
	case LevelSkipSemantic:
		return "skip_semantic"
	case LevelCacheOnly:
		return "cache_only"
	default:
		return "unknown"
	}
}

// Degraded reports whether the level prunes any pipeline stage.
func (l DegradationLevel) Degraded() bool { return l > LevelFull }

// AllowsExpansion reports whether query expansion may run at this level.
func (l DegradationLevel) AllowsExpansion() bool { return l < LevelSkipExpansion }

// AllowsSemantic reports whether the vector strategy may run at this level.
func (l DegradationLevel) AllowsSemantic() bool { return l < LevelSkipSemantic }

// AllowsReranking reports whether the rerank pass may run at this level.
func (l DegradationLevel) AllowsReranking() bool { return l < LevelSkipReranking }

// Health is the dependency snapshot the degradation decision reads. It is
// assembled from breaker states immediately before pipeline dispatch.
type Health struct {
	Datastore CircuitState
	Embedding CircuitState
	Expansion CircuitState
	Reranking CircuitState

	// EmbeddingEnabled is false when no embedding backend is configured.
	EmbeddingEnabled bool
}

// Decide maps dependency health to an operating level. Pure function,
// evaluated once per request; highest-priority condition wins.
func Decide(h Health) DegradationLevel {
	switch {
	case h.Datastore != CircuitClosed:
		return LevelCacheOnly
	case !h.EmbeddingEnabled || h.Embedding != CircuitClosed:
		return LevelSkipSemantic
	case h.Expansion != CircuitClosed:
		return LevelSkipExpansion
	case h.Reranking != CircuitClosed:
		return LevelSkipReranking
	default:
		return LevelFull
	}
}
