package cable

import (
	"io"
	"os"
	"time"

	gometrics "github.com/rcrowley/go-metrics"
)

type metrics struct {
	log io.Writer
	reg gometrics.Registry
}

var m = &metrics{
	log: os.Stderr,
	reg: gometrics.DefaultRegistry,
}

// StartMetrics reports the registry as JSON on the given interval.
func StartMetrics(tick time.Duration) {
	go gometrics.WriteJSON(m.reg, tick, m.log)
}

// FinalMetrics writes one last report, for use at shutdown.
func FinalMetrics() {
	gometrics.WriteJSONOnce(m.reg, m.log)
}

func incr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Inc(i)
}

func decr(name string, i int64) {
	gometrics.GetOrRegisterCounter(name, m.reg).Dec(i)
}

func mark(name string, i int64) {
	gometrics.GetOrRegisterMeter(name, m.reg).Mark(i)
}
