package knvram

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts partition operations by partition, operation and result
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knvram_operations_total",
		Help: "Total knvram partition operations by partition, operation and result",
	}, []string{"partition", "op", "result"})

	// commitBytesTotal counts bytes copied from transaction buffers into shadow
	commitBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "knvram_commit_bytes_total",
		Help: "Total bytes committed from transaction buffers into shadow",
	}, []string{"partition"})

	// openHandles tracks the number of open handles per partition
	openHandles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "knvram_open_handles",
		Help: "Number of open handles per partition",
	}, []string{"partition"})
)

// observe records the outcome of one operation.
func observe(partition, op string, err error) {
	operationsTotal.WithLabelValues(partition, op, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrWouldBlock):
		return "would_block"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrHardwareIO):
		return "hardware_io"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
