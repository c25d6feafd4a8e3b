package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"printgrid/internal/errcode"
	"printgrid/internal/outcome"
)

var (
	pagesRenderedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "pages_total",
			Help:      "生成的页面总数。",
		},
	)

	renderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "jobs_total",
			Help:      "按结果统计的生成任务数。",
		},
		[]string{"mode", "result"},
	)

	degradedItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "render",
			Name:      "degraded_items_total",
			Help:      "被跳过或失败的照片、文字、表情与字体数量。",
		},
		[]string{"scope", "status"},
	)
)

// ObserveRender 记录一次生成任务。mode 为 single 或 bulk。
func ObserveRender(mode string, pages int, report outcome.Report, err error) {
	result := "ok"
	switch {
	case err != nil:
		result = errcode.KindOf(err).String()
	case len(report.Degraded()) > 0:
		result = "degraded"
	}
	renderJobsTotal.WithLabelValues(mode, result).Inc()
	if pages > 0 {
		pagesRenderedTotal.Add(float64(pages))
	}
	for _, it := range report.Items {
		if it.Status == outcome.OK {
			continue
		}
		degradedItemsTotal.WithLabelValues(string(it.Scope), it.Status.String()).Inc()
	}
}
