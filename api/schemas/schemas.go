package schemas

import "time"

// Verdict values used in Categories.
const (
	VerdictClean      = "clean"
	VerdictSuspicious = "suspicious"
	VerdictMalicious  = "malicious"
)

// AnalysisStats counts engine verdicts for a scanned domain.
type AnalysisStats struct {
	Harmless   int `json:"harmless" yaml:"harmless"`
	Malicious  int `json:"malicious" yaml:"malicious"`
	Suspicious int `json:"suspicious" yaml:"suspicious"`
	Undetected int `json:"undetected" yaml:"undetected"`
}

// Total is the number of engines that reported.
func (s AnalysisStats) Total() int {
	return s.Harmless + s.Malicious + s.Suspicious + s.Undetected
}

// OTXResult is the threat-exchange section of a scan.
type OTXResult struct {
	Domain        string   `json:"domain" yaml:"domain"`
	PulseCount    int      `json:"otx_pulse_count" yaml:"otx_pulse_count"`
	RelatedPulses []string `json:"related_pulses" yaml:"related_pulses"`
	Reputation    string   `json:"reputation" yaml:"reputation"`
	DataSource    string   `json:"data_source" yaml:"data_source"`
}

// ScanResult is the payload returned by GET /scan.
type ScanResult struct {
	Domain            string            `json:"domain" yaml:"domain"`
	RegistrableDomain string            `json:"registrable_domain,omitempty" yaml:"registrable_domain,omitempty"`
	Timestamp         time.Time         `json:"timestamp" yaml:"timestamp"`
	Reputation        int               `json:"reputation" yaml:"reputation"`
	LastAnalysisStats AnalysisStats     `json:"last_analysis_stats" yaml:"last_analysis_stats"`
	Categories        map[string]string `json:"categories" yaml:"categories"`
	Whois             string            `json:"whois" yaml:"whois"`
	AlienVaultOTX     *OTXResult        `json:"alienvault_otx,omitempty" yaml:"alienvault_otx,omitempty"`
	ScanID            string            `json:"scan_id" yaml:"scan_id"`
	Saved             bool              `json:"saved_to_db" yaml:"saved_to_db"`
}

// Flagged reports whether any engine marked the domain malicious or suspicious.
func (r *ScanResult) Flagged() bool {
	return r.LastAnalysisStats.Malicious > 0 || r.LastAnalysisStats.Suspicious > 0
}
