package graph

// Board holds the six scrolling graphs and the text readouts. It is not safe
// for concurrent use: only the UI loop may call it.
type Board struct {
	series [NumChannels]*Series

	rateText     string
	accuracyText string
	notice       string

	lastSeq uint64
	applied uint64
}

func NewBoard(history int) *Board {
	b := &Board{}
	for i := range b.series {
		b.series[i] = NewSeries(history)
	}
	return b
}

// SetHistory resizes every graph to hold n points.
func (b *Board) SetHistory(n int) {
	for _, ser := range b.series {
		ser.Resize(n)
	}
}

// History is the number of points each graph holds.
func (b *Board) History() int { return b.series[0].Cap() }

func (b *Board) SetRateText(s string)     { b.rateText = s }
func (b *Board) SetAccuracyText(s string) { b.accuracyText = s }

// Notice shows a one-shot message to the user.
func (b *Board) Notice(msg string) { b.notice = msg }

func (b *Board) AddData(ch Channel, v float64, scroll bool) {
	if ch < 0 || int(ch) >= NumChannels {
		return
	}
	b.series[ch].AddData(v, scroll)
}

func (b *Board) Apply(u Update) {
	b.SetRateText(u.RateText())
	b.SetAccuracyText(u.AccuracyText())
	for _, p := range u.Points {
		b.AddData(p.Channel, p.Value, p.Scroll)
	}
	b.lastSeq = u.Seq
	b.applied++
}

type BoardSnapshot struct {
	RateText     string                 `json:"rate"`
	AccuracyText string                 `json:"accuracy"`
	Notice       string                 `json:"notice,omitempty"`
	Applied      uint64                 `json:"applied"`
	LastSeq      uint64                 `json:"last_seq"`
	Series       [NumChannels][]float64 `json:"series"`
}

func (b *Board) Snapshot() BoardSnapshot {
	s := BoardSnapshot{
		RateText:     b.rateText,
		AccuracyText: b.accuracyText,
		Notice:       b.notice,
		Applied:      b.applied,
		LastSeq:      b.lastSeq,
	}
	for i, ser := range b.series {
		s.Series[i] = ser.Values()
	}
	return s
}
