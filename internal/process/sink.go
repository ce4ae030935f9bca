package process

// Sink receives job output. OnLine is called once per line in emission order,
// from the job's background goroutine. OnEnd is called exactly once, after the
// job reached a terminal state and after the last OnLine.
//
// Implementations must be safe to call from a goroutine other than the one
// that started the job, and must not call Job.Cancel synchronously.
type Sink interface {
	OnLine(line Line)
	OnEnd(result Result)
}

// SinkFuncs adapts plain functions to a Sink. Nil fields are skipped.
type SinkFuncs struct {
	Line func(Line)
	End  func(Result)
}

// OnLine implements Sink.
func (s SinkFuncs) OnLine(line Line) {
	if s.Line != nil {
		s.Line(line)
	}
}

// OnEnd implements Sink.
func (s SinkFuncs) OnEnd(result Result) {
	if s.End != nil {
		s.End(result)
	}
}

type teeSink []Sink

// Tee fans out to every non-nil sink in order.
func Tee(sinks ...Sink) Sink {
	out := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (t teeSink) OnLine(line Line) {
	for _, s := range t {
		s.OnLine(line)
	}
}

func (t teeSink) OnEnd(result Result) {
	for _, s := range t {
		s.OnEnd(result)
	}
}
