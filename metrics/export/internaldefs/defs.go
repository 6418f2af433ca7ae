package internaldefs

import (
	"github.com/EkilDavi/authchain"
)

// CounterDef binds a pipeline counter to its exported name and help text.
type CounterDef struct {
	ID   authchain.MetricID
	Name string
	Help string
}

// HistogramDef binds a pipeline histogram to its exported name and help
// text.
type HistogramDef struct {
	ID   authchain.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authchain.MetricAttemptStarted, Name: "authchain_attempt_started_total", Help: "Created authentication attempts."},
	{ID: authchain.MetricStepSuccess, Name: "authchain_step_success_total", Help: "Step invocations that verified."},
	{ID: authchain.MetricStepFailure, Name: "authchain_step_failure_total", Help: "Step invocations that rejected the input."},
	{ID: authchain.MetricValidationRejected, Name: "authchain_validation_rejected_total", Help: "Submissions rejected before the step ran."},
	{ID: authchain.MetricChainCompleted, Name: "authchain_chain_completed_total", Help: "Attempts whose chain was exhausted."},
	{ID: authchain.MetricElevationGranted, Name: "authchain_elevation_granted_total", Help: "Completed elevation attempts."},
	{ID: authchain.MetricEmailCodeIssued, Name: "authchain_email_code_issued_total", Help: "Issued email sign-in codes."},
	{ID: authchain.MetricMailDeliveryError, Name: "authchain_mail_delivery_error_total", Help: "Outbound mail failures."},
	{ID: authchain.MetricEnrollmentStarted, Name: "authchain_enrollment_started_total", Help: "Provisioned pending authenticator secrets."},
	{ID: authchain.MetricEnrollmentConfirmed, Name: "authchain_enrollment_confirmed_total", Help: "Pending secrets confirmed by first verification."},
	{ID: authchain.MetricSecretRaceLost, Name: "authchain_secret_race_lost_total", Help: "Enrollment confirmations that lost the check-and-set race."},
	{ID: authchain.MetricBackupCodeUsed, Name: "authchain_backup_code_used_total", Help: "Successful backup code authentications."},
	{ID: authchain.MetricBackupCodeFailed, Name: "authchain_backup_code_failed_total", Help: "Rejected backup code attempts."},
	{ID: authchain.MetricBackupCodeRegenerated, Name: "authchain_backup_code_regenerated_total", Help: "Backup code set regenerations."},
	{ID: authchain.MetricIPDenied, Name: "authchain_ip_denied_total", Help: "Requests rejected by the IP filter."},
	{ID: authchain.MetricGrantIssued, Name: "authchain_grant_issued_total", Help: "Signed completion grants issued."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authchain.MetricSubmitLatency, Name: "authchain_submit_latency_seconds", Help: "Submission latency histogram."},
}

// HistogramBounds are the bucket upper bounds in seconds, as rendered in
// the Prometheus exposition format.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix mirrors HistogramBounds with metric-name-safe
// suffixes for backends without labeled buckets.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts to the cumulative form both
// exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
