package signin

import (
	"regexp"
	"slices"
	"strings"
	"time"
)

// Category is the bucket a check-in reply falls into. The declaration order is
// the order buckets appear in the summary.
type Category int

const (
	LoginSuccess Category = iota
	SignSuccess
	AlreadySigned
	SimulatedSignSuccess
	Failed
	RetryHit
)

// Categories lists every category in summary order.
var Categories = []Category{LoginSuccess, SignSuccess, AlreadySigned, SimulatedSignSuccess, Failed, RetryHit}

func (c Category) String() string {
	switch c {
	case LoginSuccess:
		return "login_success"
	case SignSuccess:
		return "sign_success"
	case AlreadySigned:
		return "already_signed"
	case SimulatedSignSuccess:
		return "simulated_sign_success"
	case Failed:
		return "failed"
	case RetryHit:
		return "retry_hit"
	default:
		return "unknown"
	}
}

// Markers the adapters put in their replies. Order matters: the first
// contained marker decides the category.
var textRules = []struct {
	marker string
	cat    Category
}{
	{"登录成功", LoginSuccess},
	{"仿真签到成功", SimulatedSignSuccess},
	{"签到成功", SignSuccess},
	{"已签到", AlreadySigned},
}

// AttemptResult is the reply of one site attempt.
type AttemptResult struct {
	SiteID   int
	SiteName string
	Message  string
	Elapsed  time.Duration
}

// Line renders the result the way it appears in notifications and replies.
func (r AttemptResult) Line() string {
	return "【" + r.SiteName + "】" + r.Message
}

// Classifier maps a reply to its Category. The zero value has no retry pattern.
type Classifier struct {
	retry *regexp.Regexp
}

// NewClassifier compiles pattern. An empty pattern disables retry matching.
func NewClassifier(pattern string) (*Classifier, error) {
	if pattern == "" {
		return &Classifier{}, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, &ConfigError{Field: "retry_keyword", Value: pattern, Err: err}
	}
	return &Classifier{retry: re}, nil
}

// HasPattern reports whether a retry pattern is configured.
func (c *Classifier) HasPattern() bool { return c != nil && c.retry != nil }

// Classify returns the category of r. RetryHit needs a pattern and a known site id.
func (c *Classifier) Classify(r AttemptResult) Category {
	if c.HasPattern() && r.SiteID != 0 && c.retry.MatchString(r.Message) {
		return RetryHit
	}
	for _, rule := range textRules {
		if strings.Contains(r.Message, rule.marker) {
			return rule.cat
		}
	}
	return Failed
}

// SkipReason says why a run ended without attempting anything.
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipOutsideWindow SkipReason = "outside_window"
	SkipNothingDue    SkipReason = "nothing_due"
	SkipNoSites       SkipReason = "no_sites"
)

// RunOutcome is the classified result of one run.
type RunOutcome struct {
	Date    string
	Skipped SkipReason

	// Results keeps batch order; Categories is parallel to it.
	Results    []AttemptResult
	Categories []Category

	// RetrySiteIDs are the sites due again on the next run today.
	RetrySiteIDs []int
	// Total is the size of the allow-list, Attempted the size of the batch
	// and Pending the count shown as due next time.
	Total     int
	Attempted int
	Pending   int
}

// Summarize classifies results in order.
func Summarize(c *Classifier, results []AttemptResult) RunOutcome {
	out := RunOutcome{
		Results:    results,
		Categories: make([]Category, len(results)),
	}
	for i, r := range results {
		cat := c.Classify(r)
		out.Categories[i] = cat
		if cat == RetryHit && !slices.Contains(out.RetrySiteIDs, r.SiteID) {
			out.RetrySiteIDs = append(out.RetrySiteIDs, r.SiteID)
		}
	}
	return out
}

// Bucket returns the results of category cat in batch order.
func (o RunOutcome) Bucket(cat Category) []AttemptResult {
	var out []AttemptResult
	for i, c := range o.Categories {
		if c == cat {
			out = append(out, o.Results[i])
		}
	}
	return out
}

// Counts returns the number of results per category.
func (o RunOutcome) Counts() map[Category]int {
	m := make(map[Category]int, len(Categories))
	for _, c := range o.Categories {
		m[c]++
	}
	return m
}
