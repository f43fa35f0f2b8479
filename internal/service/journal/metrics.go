package journal

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tinoosan/erpledger/internal/errs"
)

var (
	vouchersPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "vouchers_posted_total",
			Help:      "Vouchers committed to the ledger",
		},
		[]string{"kind"},
	)
	voucherRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ledger",
			Name:      "voucher_rejections_total",
			Help:      "Post and reverse attempts that did not commit",
		},
		[]string{"reason"},
	)
	postDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ledger",
			Name:      "post_duration_seconds",
			Help:      "Time from post request to commit",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)
)

func observePosted(kind string, start time.Time) {
	vouchersPosted.WithLabelValues(kind).Inc()
	postDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

func observeRejection(err error) {
	voucherRejections.WithLabelValues(rejectionReason(err)).Inc()
}

func rejectionReason(err error) string {
	if rule := errs.RuleOf(err); rule != "" {
		return rule
	}
	switch {
	case errors.Is(err, errs.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, errs.ErrImmutable):
		return "immutable"
	case errors.Is(err, errs.ErrAlreadyPosted):
		return "already_posted"
	case errors.Is(err, errs.ErrConflict):
		return "conflict"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}
