// File: internal/report/report.go
package report

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/threatscope/internal/audit"
	"github.com/xkilldash9x/threatscope/internal/clock"
	"github.com/xkilldash9x/threatscope/internal/policy"
	"github.com/xkilldash9x/threatscope/internal/ratelimit"
	"github.com/xkilldash9x/threatscope/internal/sanitize"
	"github.com/xkilldash9x/threatscope/internal/validation"
)

const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 1000
	MaxSearchLength      = 100
)

// Validation messages.
const (
	MsgTitleRequired   = "Report title is required"
	MsgTitleTooLong    = "Title must be less than 200 characters"
	MsgInvalidSeverity = "Severity must be low, medium or high"
)

const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"

	StatusCompleted = "completed"
	StatusPending   = "pending"

	// FilterAll disables a severity or status filter.
	FilterAll = "all"
)

// Report is a generated security report.
type Report struct {
	ID              string    `json:"id" yaml:"id"`
	Title           string    `json:"title" yaml:"title"`
	Description     string    `json:"description" yaml:"description"`
	Severity        string    `json:"severity" yaml:"severity"`
	Status          string    `json:"status" yaml:"status"`
	CreatedAt       time.Time `json:"createdAt" yaml:"created_at"`
	GeneratedBy     string    `json:"generatedBy" yaml:"generated_by"`
	Findings        []string  `json:"findings" yaml:"findings"`
	Recommendations []string  `json:"recommendations" yaml:"recommendations"`
}

// Request describes a report to generate.
type Request struct {
	Title       string               `json:"title" yaml:"title"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Severity    string               `json:"severity,omitempty" yaml:"severity,omitempty"`
	DateRange   validation.DateRange `json:"dateRange,omitempty" yaml:"date_range,omitempty"`
}

// Filter narrows a list of reports. Empty fields and FilterAll match everything.
type Filter struct {
	Search    string
	Severity  string
	Status    string
	DateRange validation.DateRange
}

// Stats counts reports by severity and status.
type Stats struct {
	Total     int `json:"total" yaml:"total"`
	High      int `json:"highSeverity" yaml:"high_severity"`
	Medium    int `json:"mediumSeverity" yaml:"medium_severity"`
	Low       int `json:"lowSeverity" yaml:"low_severity"`
	Completed int `json:"completed" yaml:"completed"`
	Pending   int `json:"pending" yaml:"pending"`
}

// Service generates and lists reports behind the security policy.
type Service struct {
	policy *policy.SecurityPolicy
	clock  clock.Clock
	log    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// NewService returns a Service gated by p.
func NewService(p *policy.SecurityPolicy, opts ...Option) *Service {
	s := &Service{
		policy: p,
		clock:  clock.Real{},
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("report")
	return s
}

// Generate validates req and produces a report for actor. It is subject to
// the report rate limit; invalid requests are rejected without consuming it.
func (s *Service) Generate(ctx context.Context, actor string, req Request) (Report, error) {
	var r Report
	err := s.policy.Admit(ctx, ratelimit.ActionReport, actor, func() error {
		var res validation.Result
		r, res = s.build(actor, req)
		if !res.Valid {
			return s.policy.Reject(ctx, ratelimit.ActionReport, actor, res, req.Title)
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}

	if _, err := s.policy.Audit().Record(ctx, audit.Event{
		Action:   "report_generated",
		Actor:    actor,
		Details:  r.Title,
		Severity: audit.SeverityInfo,
	}); err != nil {
		s.log.Warn("Failed to audit report generation", zap.Error(err))
	}
	s.log.Info("Report generated", zap.String("id", r.ID), zap.String("severity", r.Severity))
	return r, nil
}

func (s *Service) build(actor string, req Request) (Report, validation.Result) {
	if utf8.RuneCountInString(strings.TrimSpace(req.Title)) > MaxTitleLength {
		return Report{}, validation.Invalid(MsgTitleTooLong)
	}
	title := s.policy.Sanitize(req.Title, sanitize.Options{MaxLength: MaxTitleLength})
	if title == "" {
		return Report{}, validation.Invalid(MsgTitleRequired)
	}

	severity := strings.ToLower(strings.TrimSpace(req.Severity))
	switch severity {
	case "":
		severity = SeverityMedium
	case SeverityLow, SeverityMedium, SeverityHigh:
	default:
		return Report{}, validation.Invalid(MsgInvalidSeverity)
	}

	now := s.clock.Now().UTC()
	if res := validation.ValidateDateRange(req.DateRange, now); !res.Valid {
		return Report{}, res
	}

	generatedBy := s.policy.Sanitize(actor, sanitize.Options{MaxLength: MaxTitleLength})
	if generatedBy == "" {
		generatedBy = "User"
	}

	return Report{
		ID:              "report_" + uuid.NewString(),
		Title:           title,
		Description:     s.policy.Sanitize(req.Description, sanitize.Options{MaxLength: MaxDescriptionLength}),
		Severity:        severity,
		Status:          StatusCompleted,
		CreatedAt:       now,
		GeneratedBy:     generatedBy,
		Findings:        []string{"Sample finding 1", "Sample finding 2"},
		Recommendations: []string{"Sample recommendation 1", "Sample recommendation 2"},
	}, validation.Valid()
}

// List returns the report catalogue with every text field sanitized.
func (s *Service) List(ctx context.Context) ([]Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	reports := catalogue(now)
	for i := range reports {
		reports[i] = s.clean(reports[i])
	}
	return reports, nil
}

// Filter applies f to reports. The search term is sanitized and matched
// case-insensitively against title, description and findings. A set date
// range must be valid; reports created outside it are dropped.
func (s *Service) Filter(reports []Report, f Filter) ([]Report, error) {
	query := strings.ToLower(s.policy.Sanitize(f.Search, sanitize.Options{MaxLength: MaxSearchLength}))

	var start, end time.Time
	useRange := !f.DateRange.IsZero()
	if useRange {
		if res := validation.ValidateDateRange(f.DateRange, s.clock.Now().UTC()); !res.Valid {
			return nil, &policy.RejectedInputError{Result: res}
		}
		start, end, _ = f.DateRange.Bounds()
		if isDateOnly(f.DateRange.End) {
			end = end.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}

	out := make([]Report, 0, len(reports))
	for _, r := range reports {
		if query != "" && !matches(r, query) {
			continue
		}
		if !selected(f.Severity, r.Severity) || !selected(f.Status, r.Status) {
			continue
		}
		if useRange && (r.CreatedAt.Before(start) || r.CreatedAt.After(end)) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Summarize counts reports by severity and status.
func Summarize(reports []Report) Stats {
	st := Stats{Total: len(reports)}
	for _, r := range reports {
		switch r.Severity {
		case SeverityHigh:
			st.High++
		case SeverityMedium:
			st.Medium++
		case SeverityLow:
			st.Low++
		}
		switch r.Status {
		case StatusCompleted:
			st.Completed++
		case StatusPending:
			st.Pending++
		}
	}
	return st
}

func (s *Service) clean(r Report) Report {
	c := func(v string) string { return s.policy.Sanitize(v, sanitize.Options{}) }
	r.ID = c(r.ID)
	r.Title = c(r.Title)
	r.Description = c(r.Description)
	r.Severity = c(r.Severity)
	r.Status = c(r.Status)
	r.GeneratedBy = c(r.GeneratedBy)
	for i := range r.Findings {
		r.Findings[i] = c(r.Findings[i])
	}
	for i := range r.Recommendations {
		r.Recommendations[i] = c(r.Recommendations[i])
	}
	return r
}

func matches(r Report, query string) bool {
	if strings.Contains(strings.ToLower(r.Title), query) ||
		strings.Contains(strings.ToLower(r.Description), query) {
		return true
	}
	for _, f := range r.Findings {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}

func selected(want, got string) bool {
	return want == "" || want == FilterAll || want == got
}

func isDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// catalogue is the built-in report set, dated relative to now.
func catalogue(now time.Time) []Report {
	return []Report{
		{
			ID:              "1",
			Title:           "Weekly Security Report",
			Description:     "Weekly summary of security threats and incidents",
			Severity:        SeverityMedium,
			Status:          StatusCompleted,
			CreatedAt:       now,
			GeneratedBy:     "System",
			Findings:        []string{"Phishing attempt detected", "Malware scan completed"},
			Recommendations: []string{"Update firewall rules", "Review access logs"},
		},
		{
			ID:              "2",
			Title:           "Incident Report #245",
			Description:     "Detailed report on security incident from Jan 15",
			Severity:        SeverityHigh,
			Status:          StatusCompleted,
			CreatedAt:       now.Add(-24 * time.Hour),
			GeneratedBy:     "Admin",
			Findings:        []string{"Unauthorized access attempt", "Failed login attempts"},
			Recommendations: []string{"Implement 2FA", "Review user permissions"},
		},
		{
			ID:              "3",
			Title:           "Threat Analysis - Q1",
			Description:     "Quarterly threat analysis report",
			Severity:        SeverityLow,
			Status:          StatusPending,
			CreatedAt:       now.Add(-48 * time.Hour),
			GeneratedBy:     "Analyst",
			Findings:        []string{"Increased scanning activity", "New malware variants"},
			Recommendations: []string{"Update antivirus signatures", "Conduct security training"},
		},
	}
}
