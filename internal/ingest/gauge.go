package ingest

// Gauge decides whether load crossed a threshold. global is GlobalLoadUnknown
// when no process-wide sensor is configured.
type Gauge interface {
	Exceeded(global, local int64, threshold int) bool
}

// GaugeFunc adapts a function to Gauge.
type GaugeFunc func(global, local int64, threshold int) bool

func (f GaugeFunc) Exceeded(global, local int64, threshold int) bool {
	return f(global, local, threshold)
}

// DefaultGauge compares local load only: local > 0 && local > threshold.
var DefaultGauge Gauge = GaugeFunc(func(_, local int64, threshold int) bool {
	return local > 0 && local > int64(threshold)
})

// GlobalGauge extends DefaultGauge with a process-wide ceiling. It reports
// exceeded when either local load passes threshold or known global load passes
// globalLimit.
func GlobalGauge(globalLimit int64) Gauge {
	return GaugeFunc(func(global, local int64, threshold int) bool {
		if DefaultGauge.Exceeded(global, local, threshold) {
			return true
		}
		return global != GlobalLoadUnknown && globalLimit > 0 && global > globalLimit
	})
}
