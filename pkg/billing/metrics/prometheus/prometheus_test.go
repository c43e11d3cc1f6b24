package prommetrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "threadifier")

	m.RecordWebhookEvent("stripe", "checkout.session.completed", "processed")
	m.RecordWebhookEvent("stripe", "checkout.session.completed", "processed")
	m.RecordWebhookError("stripe", "invalid_signature")
	m.RecordReconciliation("stripe", "updated")
	m.RecordPlanChange("stripe", "webhook", "free", "team")
	m.RecordCreditGrant("stripe", "team", 2000)
	m.RecordCreditGrant("stripe", "team", 0)
	m.RecordAPICall("stripe", "subscriptions.retrieve", "success")

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.webhookEventsTotal.WithLabelValues("stripe", "checkout.session.completed", "processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookErrorsTotal.WithLabelValues("stripe", "invalid_signature")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconciliationsTotal.WithLabelValues("stripe", "updated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.planChangesTotal.WithLabelValues("stripe", "webhook", "free", "team")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.creditsGrantedTotal.WithLabelValues("stripe", "team")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.apiCallsTotal.WithLabelValues("stripe", "subscriptions.retrieve", "success")))
}

func TestMetrics_Histograms(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, "threadifier")

	m.RecordWebhookProcessingDuration("stripe", "invoice.payment_failed", 20*time.Millisecond)
	m.RecordReconciliationDuration("stripe", 150*time.Millisecond)
	m.RecordAPICallDuration("stripe", "events.list", 300*time.Millisecond)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]uint64{}
	for _, mf := range families {
		if mf.GetType() != dto.MetricType_HISTOGRAM {
			continue
		}
		for _, metric := range mf.GetMetric() {
			counts[mf.GetName()] += metric.GetHistogram().GetSampleCount()
		}
	}

	assert.Equal(t, uint64(1), counts["threadifier_billing_webhook_processing_duration_seconds"])
	assert.Equal(t, uint64(1), counts["threadifier_billing_reconciliation_duration_seconds"])
	assert.Equal(t, uint64(1), counts["threadifier_billing_api_call_duration_seconds"])
}
