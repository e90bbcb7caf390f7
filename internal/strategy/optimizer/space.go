package optimizer

import (
	"fmt"
	"math"
	"math/rand"

	"trendlab/internal/strategy/trend"
)

// Kind is the value domain of a parameter.
type Kind string

const (
	KindInt   Kind = "int"
	KindFloat Kind = "float"
)

// ParamSpec declares a searchable parameter: an inclusive [Low, High]
// range walked in Step increments.
type ParamSpec struct {
	Name string  `yaml:"name" json:"name" validate:"required"`
	Kind Kind    `yaml:"kind" json:"kind" validate:"oneof=int float"`
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
	Step float64 `yaml:"step" json:"step" validate:"gt=0"`
}

// Validate checks the spec is internally consistent.
func (p ParamSpec) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("param spec without name")
	}
	if p.Step <= 0 {
		return fmt.Errorf("param %s: step must be positive", p.Name)
	}
	if p.High < p.Low {
		return fmt.Errorf("param %s: high %v below low %v", p.Name, p.High, p.Low)
	}
	if p.Kind == KindInt && (p.Step != math.Trunc(p.Step) || p.Low != math.Trunc(p.Low)) {
		return fmt.Errorf("param %s: int params need integral low and step", p.Name)
	}
	return nil
}

// Size returns the number of grid points.
func (p ParamSpec) Size() int {
	// 1e-9 absorbs representation error in (High-Low)/Step
	return int(math.Floor((p.High-p.Low)/p.Step+1e-9)) + 1
}

// At returns the k-th grid value, k clamped into range.
func (p ParamSpec) At(k int) float64 {
	if k < 0 {
		k = 0
	}
	if n := p.Size(); k >= n {
		k = n - 1
	}
	v := p.Low + float64(k)*p.Step
	if p.Kind == KindInt {
		return math.Round(v)
	}
	return roundTo(v, decimals(p.Step))
}

// Snap moves v to the nearest grid point inside the range.
func (p ParamSpec) Snap(v float64) float64 {
	if math.IsNaN(v) {
		return p.Low
	}
	return p.At(int(math.Round((v - p.Low) / p.Step)))
}

// Contains reports whether v is a grid point of the spec.
func (p ParamSpec) Contains(v float64) bool {
	if v < p.Low-1e-9 || v > p.High+1e-9 {
		return false
	}
	return math.Abs(p.Snap(v)-v) < 1e-9
}

// Random draws a uniform grid value.
func (p ParamSpec) Random(rng *rand.Rand) float64 {
	return p.At(rng.Intn(p.Size()))
}

// Space is an ordered list of parameter specs.
type Space []ParamSpec

// Validate checks each spec and rejects duplicates.
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("empty search space")
	}
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if err := p.Validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate param %s", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Contains reports whether every spec has an in-grid value in params.
func (s Space) Contains(params ParameterSet) bool {
	for _, p := range s {
		v, ok := params[p.Name]
		if !ok || !p.Contains(v) {
			return false
		}
	}
	return true
}

// GridSize is the number of distinct parameter sets, saturating at MaxInt.
func (s Space) GridSize() int {
	total := 1
	for _, p := range s {
		n := p.Size()
		if total > math.MaxInt/n {
			return math.MaxInt
		}
		total *= n
	}
	return total
}

// DefaultSpace is the search space the multi-trend strategy is tuned over.
func DefaultSpace() Space {
	return Space{
		{Name: trend.ParamSigmaPeriod, Kind: KindInt, Low: 30, High: 100, Step: 2},
		{Name: trend.ParamAnnualScale, Kind: KindInt, Low: 8, High: 32, Step: 2},
		{Name: trend.ParamFDM, Kind: KindFloat, Low: 1.0, High: 1.1, Step: 0.01},
		{Name: trend.ParamTargetRisk, Kind: KindFloat, Low: 0.1, High: 0.3, Step: 0.01},
		{Name: trend.ParamBuffer, Kind: KindFloat, Low: 0.05, High: 0.3, Step: 0.01},
		{Name: trend.ParamEWMAC1, Kind: KindInt, Low: 2, High: 16, Step: 1},
		{Name: trend.ParamEWMAC2, Kind: KindInt, Low: 4, High: 32, Step: 1},
		{Name: trend.ParamEWMAC1Scalar, Kind: KindFloat, Low: 3.10, High: 5.10, Step: 0.1},
		{Name: trend.ParamEWMAC2Scalar, Kind: KindFloat, Low: 1.79, High: 3.79, Step: 0.1},
		{Name: trend.ParamCapMax, Kind: KindInt, Low: 10, High: 30, Step: 1},
		{Name: trend.ParamCapMin, Kind: KindInt, Low: -13, High: -10, Step: 1},
	}
}

func decimals(step float64) int {
	d := 0
	for d < 10 && math.Abs(step-math.Round(step)) > 1e-9 {
		step *= 10
		d++
	}
	// 多保留两位, 兼容 1.79 + k*0.1 这类起点精度高于步长的情况
	return d + 2
}

func roundTo(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
