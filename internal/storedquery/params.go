package storedquery

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-query/internal/feature"
)

// TimeRange is an inclusive time interval.
type TimeRange struct {
	Min time.Time
	Max time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Min) && !t.After(r.Max)
}

func (p Params) required(name string) (string, error) {
	v := strings.TrimSpace(p[name])
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingParameter, name)
	}
	return v, nil
}

func (p Params) instant(name string) (time.Time, error) {
	v, err := p.required(name)
	if err != nil {
		return time.Time{}, err
	}
	t, err := feature.ParseTime(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	return t, nil
}

func (p Params) timeRange(minName, maxName string) (TimeRange, error) {
	lo, err := p.instant(minName)
	if err != nil {
		return TimeRange{}, err
	}
	hi, err := p.instant(maxName)
	if err != nil {
		return TimeRange{}, err
	}
	if lo.After(hi) {
		return TimeRange{}, fmt.Errorf("%w: %s is after %s", ErrInvalidParameter, minName, maxName)
	}
	return TimeRange{Min: lo, Max: hi}, nil
}

func (p Params) float(name string) (float64, error) {
	v, err := p.required(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s %q is not finite", ErrInvalidParameter, name, v)
	}
	return f, nil
}

// bbox reads "minx,miny,maxx,maxy".
func (p Params) bbox(name string) (orb.Bound, error) {
	v, err := p.required(name)
	if err != nil {
		return orb.Bound{}, err
	}
	parts := strings.Split(v, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("%w: %s must be minx,miny,maxx,maxy", ErrInvalidParameter, name)
	}
	var c [4]float64
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("%w: %s: %v", ErrInvalidParameter, name, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return orb.Bound{}, fmt.Errorf("%w: %s %q is not finite", ErrInvalidParameter, name, v)
		}
		c[i] = f
	}
	if c[0] > c[2] || c[1] > c[3] {
		return orb.Bound{}, fmt.Errorf("%w: %s corners are inverted", ErrInvalidParameter, name)
	}
	return orb.Bound{Min: orb.Point{c[0], c[1]}, Max: orb.Point{c[2], c[3]}}, nil
}
