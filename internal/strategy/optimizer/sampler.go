package optimizer

import (
	"fmt"
	"math/rand"
	"time"
)

// Sampler proposes the next parameter set from the completed history.
// Implementations are not safe for concurrent use; Study serialises calls.
type Sampler interface {
	Name() string
	Suggest(space Space, history []Trial, number int) (ParameterSet, error)
}

// Sampler names accepted by NewSampler.
const (
	SamplerRandom = "random"
	SamplerGrid   = "grid"
	SamplerTPE    = "tpe"
)

// SamplerConfig represents sampler configuration
type SamplerConfig struct {
	Name       string  `yaml:"name" json:"name" default:"tpe" validate:"oneof=random grid tpe"`
	Seed       int64   `yaml:"seed" json:"seed"`
	Startup    int     `yaml:"startup" json:"startup" default:"10" validate:"gte=0"`
	Candidates int     `yaml:"candidates" json:"candidates" default:"24" validate:"gte=1"`
	Gamma      float64 `yaml:"gamma" json:"gamma" default:"0.25" validate:"gt=0,lt=1"`
}

// NewSampler creates a sampler by name. A zero seed uses the clock.
func NewSampler(config SamplerConfig) (Sampler, error) {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	switch config.Name {
	case SamplerRandom:
		return NewRandomSampler(rng), nil
	case SamplerGrid:
		return NewGridSampler(), nil
	case SamplerTPE, "":
		return NewTPESampler(rng, config.Startup, config.Candidates, config.Gamma), nil
	default:
		return nil, fmt.Errorf("unknown sampler %q", config.Name)
	}
}

// RandomSampler draws every parameter uniformly from its grid.
type RandomSampler struct {
	rng *rand.Rand
}

// NewRandomSampler creates a new random sampler
func NewRandomSampler(rng *rand.Rand) *RandomSampler {
	return &RandomSampler{rng: rng}
}

// Name returns the sampler name
func (s *RandomSampler) Name() string { return SamplerRandom }

// Suggest ignores history.
func (s *RandomSampler) Suggest(space Space, _ []Trial, _ int) (ParameterSet, error) {
	params := make(ParameterSet, len(space))
	for _, p := range space {
		params[p.Name] = p.Random(s.rng)
	}
	return params, nil
}

// GridSampler enumerates the grid in mixed-radix order of the trial
// number, wrapping around once exhausted.
type GridSampler struct{}

// NewGridSampler creates a new grid sampler
func NewGridSampler() *GridSampler {
	return &GridSampler{}
}

// Name returns the sampler name
func (s *GridSampler) Name() string { return SamplerGrid }

// Suggest maps the trial number onto one grid point.
func (s *GridSampler) Suggest(space Space, _ []Trial, number int) (ParameterSet, error) {
	if number < 0 {
		return nil, fmt.Errorf("negative trial number %d", number)
	}

	idx := number % space.GridSize()
	params := make(ParameterSet, len(space))
	// 最后一个参数变化最快
	for i := len(space) - 1; i >= 0; i-- {
		n := space[i].Size()
		params[space[i].Name] = space[i].At(idx % n)
		idx /= n
	}
	return params, nil
}
