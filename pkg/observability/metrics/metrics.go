package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

var (
	stageTransitions      atomic.Int64
	stageRejections       atomic.Int64
	documentsRecorded     atomic.Int64
	acknowledgementsOpen  atomic.Int64
	acknowledgementsDone  atomic.Int64
	reportsGenerated      atomic.Int64
	reportFailures        atomic.Int64
	paymentWebhooks       atomic.Int64
	paymentWebhookRejects atomic.Int64
)

func StageTransitioned()      { stageTransitions.Add(1) }
func StageRejected()          { stageRejections.Add(1) }
func DocumentRecorded()       { documentsRecorded.Add(1) }
func AcknowledgementCreated() { acknowledgementsOpen.Add(1) }
func AcknowledgementClosed()  { acknowledgementsDone.Add(1) }
func ReportGenerated()        { reportsGenerated.Add(1) }
func ReportFailed()           { reportFailures.Add(1) }
func PaymentWebhookAccepted() { paymentWebhooks.Add(1) }
func PaymentWebhookRejected() { paymentWebhookRejects.Add(1) }

type counter struct {
	name  string
	help  string
	value *atomic.Int64
}

var counters = []counter{
	{"nourishpath_stage_transitions_total", "Stage status transitions committed.", &stageTransitions},
	{"nourishpath_stage_transitions_rejected_total", "Stage transitions rejected by the role gate or state machine.", &stageRejections},
	{"nourishpath_documents_recorded_total", "Documents recorded in the registry.", &documentsRecorded},
	{"nourishpath_acknowledgements_created_total", "Acknowledgements dispatched to staff.", &acknowledgementsOpen},
	{"nourishpath_acknowledgements_completed_total", "Acknowledgements moved to completed.", &acknowledgementsDone},
	{"nourishpath_reports_generated_total", "PDF reports composed.", &reportsGenerated},
	{"nourishpath_report_failures_total", "PDF reports that failed to render.", &reportFailures},
	{"nourishpath_payment_webhooks_total", "Payment webhooks accepted.", &paymentWebhooks},
	{"nourishpath_payment_webhooks_rejected_total", "Payment webhooks rejected for a bad signature or payload.", &paymentWebhookRejects},
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeCounters(w)
}

func writeCounters(w io.Writer) {
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value.Load())
	}
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}
