package optimizer

import (
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// TPESampler is a tree-structured Parzen estimator. Completed trials are
// split into the best gamma fraction and the rest; each parameter is
// modelled independently by a Gaussian mixture per group, and the candidate
// maximising l(x)/g(x) is proposed.
type TPESampler struct {
	rng        *rand.Rand
	random     *RandomSampler
	startup    int
	candidates int
	gamma      float64
}

// NewTPESampler creates a new TPE sampler. Until startup trials have
// completed, suggestions are uniform random.
func NewTPESampler(rng *rand.Rand, startup, candidates int, gamma float64) *TPESampler {
	if candidates < 1 {
		candidates = 24
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.25
	}
	return &TPESampler{
		rng:        rng,
		random:     NewRandomSampler(rng),
		startup:    startup,
		candidates: candidates,
		gamma:      gamma,
	}
}

// Name returns the sampler name
func (s *TPESampler) Name() string { return SamplerTPE }

// Suggest proposes the next parameter set.
func (s *TPESampler) Suggest(space Space, history []Trial, number int) (ParameterSet, error) {
	completed := make([]Trial, 0, len(history))
	for _, t := range history {
		if t.State == TrialComplete && !math.IsNaN(t.Objective) {
			completed = append(completed, t)
		}
	}
	if len(completed) < s.startup || len(completed) < 2 {
		return s.random.Suggest(space, history, number)
	}

	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].Objective > completed[j].Objective
	})
	nBelow := int(math.Ceil(s.gamma * float64(len(completed))))
	if nBelow < 1 {
		nBelow = 1
	}
	if nBelow >= len(completed) {
		nBelow = len(completed) - 1
	}
	good, bad := completed[:nBelow], completed[nBelow:]

	params := make(ParameterSet, len(space))
	for _, p := range space {
		params[p.Name] = s.suggestOne(p, values(good, p), values(bad, p))
	}
	return params, nil
}

func (s *TPESampler) suggestOne(p ParamSpec, good, bad []float64) float64 {
	if p.Size() == 1 {
		return p.Low
	}

	l := newParzen(p, good)
	g := newParzen(p, bad)

	best, bestScore := p.Random(s.rng), math.Inf(-1)
	for i := 0; i < s.candidates; i++ {
		x := p.Snap(l.sample(s.rng))
		// 对数比值避免下溢
		score := math.Log(l.pdf(x)+1e-300) - math.Log(g.pdf(x)+1e-300)
		if score > bestScore {
			best, bestScore = x, score
		}
	}
	return best
}

func values(trials []Trial, p ParamSpec) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		if v, ok := t.Params[p.Name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// parzen is an equally weighted Gaussian mixture over the observations
// plus a wide prior component centred on the range. Each observation's
// bandwidth is the larger gap to its sorted neighbours, clipped to
// [span/min(100, n+1), span].
type parzen struct {
	low, high  float64
	components []distuv.Normal
}

func newParzen(p ParamSpec, obs []float64) *parzen {
	span := p.High - p.Low
	prior := (p.Low + p.High) / 2

	mus := make([]float64, 0, len(obs)+1)
	mus = append(mus, obs...)
	mus = append(mus, prior)
	sort.Float64s(mus)

	minBW := span / math.Min(100, float64(len(mus)))
	components := make([]distuv.Normal, 0, len(mus))
	priorAdded := false
	for i, mu := range mus {
		if mu == prior && !priorAdded {
			priorAdded = true
			components = append(components, distuv.Normal{Mu: prior, Sigma: span})
			continue
		}
		left, right := mu-p.Low, p.High-mu
		if i > 0 {
			left = mu - mus[i-1]
		}
		if i < len(mus)-1 {
			right = mus[i+1] - mu
		}
		bw := math.Max(left, right)
		bw = math.Max(minBW, math.Min(span, bw))
		components = append(components, distuv.Normal{Mu: mu, Sigma: bw})
	}
	return &parzen{low: p.Low, high: p.High, components: components}
}

func (z *parzen) pdf(x float64) float64 {
	var sum float64
	for _, c := range z.components {
		sum += c.Prob(x)
	}
	return sum / float64(len(z.components))
}

func (z *parzen) sample(rng *rand.Rand) float64 {
	c := z.components[rng.Intn(len(z.components))]
	x := c.Mu + rng.NormFloat64()*c.Sigma
	return math.Max(z.low, math.Min(z.high, x))
}
