// Package trend wires the volatility estimator, the two EWMAC signals, the
// combiner, the sizer and the rebalance rule into one bar-driven strategy.
package trend

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

// Parameter names as they appear in search spaces and stored trials.
const (
	ParamSigmaPeriod   = "sigma_period"
	ParamAnnualScale   = "annual_scale"
	ParamFDM           = "fdm"
	ParamTargetRisk    = "target_risk"
	ParamBuffer        = "buffer_n"
	ParamEWMAC1        = "ewmac1"
	ParamEWMAC2        = "ewmac2"
	ParamEWMAC1Scalar  = "ewmac1_scalar"
	ParamEWMAC2Scalar  = "ewmac2_scalar"
	ParamCapMax        = "cap_max"
	ParamCapMin        = "cap_min"
	ParamSizingDivisor = "sizing_divisor"
	ParamAverageWindow = "average_window"
)

// Params is the immutable strategy configuration.
type Params struct {
	SigmaPeriod   int     `yaml:"sigma_period" json:"sigma_period" default:"82" validate:"min=2"`
	AnnualScale   float64 `yaml:"annual_scale" json:"annual_scale" default:"16" validate:"gt=0"`
	FDM           float64 `yaml:"fdm" json:"fdm" default:"1.09" validate:"gt=0"`
	TargetRisk    float64 `yaml:"target_risk" json:"target_risk" default:"0.3" validate:"gt=0"`
	Buffer        float64 `yaml:"buffer_n" json:"buffer_n" default:"0.3" validate:"gte=0"`
	EWMAC1        int     `yaml:"ewmac1" json:"ewmac1" default:"2" validate:"min=1"`
	EWMAC2        int     `yaml:"ewmac2" json:"ewmac2" default:"7" validate:"min=1"`
	EWMAC1Scalar  float64 `yaml:"ewmac1_scalar" json:"ewmac1_scalar" default:"3.9"`
	EWMAC2Scalar  float64 `yaml:"ewmac2_scalar" json:"ewmac2_scalar" default:"3.59"`
	CapMax        float64 `yaml:"cap_max" json:"cap_max" default:"15" validate:"gt=0"`
	CapMin        float64 `yaml:"cap_min" json:"cap_min" default:"-11" validate:"lt=0"`
	SizingDivisor float64 `yaml:"sizing_divisor" json:"sizing_divisor" default:"10" validate:"gt=0"`
	AverageWindow int     `yaml:"average_window" json:"average_window" default:"32" validate:"min=1"`
}

var validate = validator.New()

// DefaultParams returns the tuned defaults.
func DefaultParams() Params {
	var p Params
	if err := defaults.Set(&p); err != nil {
		// 默认值标签是静态的, 不会失败
		panic(err)
	}
	return p
}

// Validate validates the parameters
func (p Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid strategy params: %w", err)
	}
	return nil
}

// Values flattens the parameters into a name → value map.
func (p Params) Values() map[string]float64 {
	return map[string]float64{
		ParamSigmaPeriod:   float64(p.SigmaPeriod),
		ParamAnnualScale:   p.AnnualScale,
		ParamFDM:           p.FDM,
		ParamTargetRisk:    p.TargetRisk,
		ParamBuffer:        p.Buffer,
		ParamEWMAC1:        float64(p.EWMAC1),
		ParamEWMAC2:        float64(p.EWMAC2),
		ParamEWMAC1Scalar:  p.EWMAC1Scalar,
		ParamEWMAC2Scalar:  p.EWMAC2Scalar,
		ParamCapMax:        p.CapMax,
		ParamCapMin:        p.CapMin,
		ParamSizingDivisor: p.SizingDivisor,
		ParamAverageWindow: float64(p.AverageWindow),
	}
}

// WithValues returns a copy of p with the named values applied. Integer
// parameters are rounded. Unknown names are an error.
func (p Params) WithValues(values map[string]float64) (Params, error) {
	var unknown []string
	for name, v := range values {
		switch name {
		case ParamSigmaPeriod:
			p.SigmaPeriod = int(math.Round(v))
		case ParamAnnualScale:
			p.AnnualScale = v
		case ParamFDM:
			p.FDM = v
		case ParamTargetRisk:
			p.TargetRisk = v
		case ParamBuffer:
			p.Buffer = v
		case ParamEWMAC1:
			p.EWMAC1 = int(math.Round(v))
		case ParamEWMAC2:
			p.EWMAC2 = int(math.Round(v))
		case ParamEWMAC1Scalar:
			p.EWMAC1Scalar = v
		case ParamEWMAC2Scalar:
			p.EWMAC2Scalar = v
		case ParamCapMax:
			p.CapMax = v
		case ParamCapMin:
			p.CapMin = v
		case ParamSizingDivisor:
			p.SizingDivisor = v
		case ParamAverageWindow:
			p.AverageWindow = int(math.Round(v))
		default:
			unknown = append(unknown, name)
		}
	}

	if len(unknown) > 0 {
		sort.Strings(unknown)
		return p, fmt.Errorf("unknown strategy params: %s", strings.Join(unknown, ", "))
	}
	return p, nil
}
