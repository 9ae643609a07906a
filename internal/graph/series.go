package graph

// Series is a fixed-capacity scrolling buffer of samples.
type Series struct {
	data []float64
	pos  int
	full bool
}

func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		capacity = 1
	}
	return &Series{data: make([]float64, capacity)}
}

func (s *Series) AddData(v float64, scroll bool) {
	if !scroll && s.Len() > 0 {
		last := s.pos - 1
		if last < 0 {
			last = len(s.data) - 1
		}
		s.data[last] = v
		return
	}
	s.data[s.pos] = v
	s.pos++
	if s.pos >= len(s.data) {
		s.pos = 0
		s.full = true
	}
}

func (s *Series) Len() int {
	if s.full {
		return len(s.data)
	}
	return s.pos
}

func (s *Series) Cap() int { return len(s.data) }

// Resize changes the capacity, keeping the newest values that fit.
func (s *Series) Resize(capacity int) {
	if capacity <= 0 {
		capacity = 1
	}
	if capacity == len(s.data) {
		return
	}
	vals := s.Values()
	if len(vals) > capacity {
		vals = vals[len(vals)-capacity:]
	}
	s.data = make([]float64, capacity)
	copy(s.data, vals)
	s.pos = len(vals) % capacity
	s.full = len(vals) == capacity
}

// Values returns the contents oldest first.
func (s *Series) Values() []float64 {
	n := s.Len()
	out := make([]float64, n)
	if s.full {
		copy(out, s.data[s.pos:])
		copy(out[len(s.data)-s.pos:], s.data[:s.pos])
	} else {
		copy(out, s.data[:n])
	}
	return out
}

// Last returns the newest value, or 0 when empty.
func (s *Series) Last() float64 {
	if s.Len() == 0 {
		return 0
	}
	i := s.pos - 1
	if i < 0 {
		i = len(s.data) - 1
	}
	return s.data[i]
}
