package devsim

import (
	"math"

	"github.com/temoto/picocast/measure"
)

type Sensor interface {
	Read() measure.Measurement
}

// Synthetic produces smooth deterministic readings, one device second apart.
type Synthetic struct {
	n int64
}

func (s *Synthetic) Read() measure.Measurement {
	s.n++
	x := float64(s.n) / 10
	return measure.Measurement{
		Time:        s.n,
		Temperature: round2(21 + 4*math.Sin(x)),
		Humidity:    round2(45 + 10*math.Cos(x)),
		UV:          round2(math.Max(0, 3*math.Sin(x/3))),
	}
}

func round2(f float64) float64 { return math.Round(f*100) / 100 }
