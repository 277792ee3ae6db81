package schemas_test

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/threatscope/api/schemas"
)

// TestStructJSONTags pins the wire names the browser client depends on.
func TestStructJSONTags(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name         string
		structRef    interface{}
		expectedTags map[string]string
	}{
		{
			name:      "ScanResult",
			structRef: schemas.ScanResult{},
			expectedTags: map[string]string{
				"Domain":            "domain",
				"RegistrableDomain": "registrable_domain,omitempty",
				"Timestamp":         "timestamp",
				"Reputation":        "reputation",
				"LastAnalysisStats": "last_analysis_stats",
				"Categories":        "categories",
				"Whois":             "whois",
				"AlienVaultOTX":     "alienvault_otx,omitempty",
				"ScanID":            "scan_id",
				"Saved":             "saved_to_db",
			},
		},
		{
			name:      "AnalysisStats",
			structRef: schemas.AnalysisStats{},
			expectedTags: map[string]string{
				"Harmless":   "harmless",
				"Malicious":  "malicious",
				"Suspicious": "suspicious",
				"Undetected": "undetected",
			},
		},
		{
			name:      "OTXResult",
			structRef: schemas.OTXResult{},
			expectedTags: map[string]string{
				"Domain":        "domain",
				"PulseCount":    "otx_pulse_count",
				"RelatedPulses": "related_pulses",
				"Reputation":    "reputation",
				"DataSource":    "data_source",
			},
		},
		{
			name:      "ErrorResponse",
			structRef: schemas.ErrorResponse{},
			expectedTags: map[string]string{
				"Detail":     "detail",
				"RetryAfter": "retry_after,omitempty",
			},
		},
		{
			name:      "ServiceStatus",
			structRef: schemas.ServiceStatus{},
			expectedTags: map[string]string{
				"Message":   "message",
				"Status":    "status",
				"Version":   "version",
				"Store":     "database",
				"Timestamp": "timestamp",
			},
		},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			structType := reflect.TypeOf(tt.structRef)
			actualTags := make(map[string]string)

			for i := 0; i < structType.NumField(); i++ {
				field := structType.Field(i)
				if jsonTag := field.Tag.Get("json"); jsonTag != "" {
					actualTags[field.Name] = jsonTag
				}
			}

			// Catches missing and unexpected tagged fields alike.
			assert.Equal(t, tt.expectedTags, actualTags, "JSON tags for struct %s do not match expectations", tt.name)
		})
	}
}

func TestScanResultHelpers(t *testing.T) {
	t.Parallel()
	r := &schemas.ScanResult{LastAnalysisStats: schemas.AnalysisStats{Harmless: 72, Malicious: 1, Suspicious: 2, Undetected: 5}}
	assert.Equal(t, 80, r.LastAnalysisStats.Total())
	assert.True(t, r.Flagged())

	r.LastAnalysisStats = schemas.AnalysisStats{Harmless: 3}
	assert.False(t, r.Flagged())
}
