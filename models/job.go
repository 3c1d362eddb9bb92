package models

import (
	"time"

	"github.com/rotisserie/eris"
)

type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobCrawling  JobStatus = "CRAWLING"
	JobPaused    JobStatus = "PAUSED"
	JobRetrying  JobStatus = "RETRYING"
	JobDone      JobStatus = "DONE"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobPending:   {JobCrawling, JobFailed, JobCancelled},
	JobCrawling:  {JobPaused, JobRetrying, JobDone, JobFailed, JobCancelled},
	JobPaused:    {JobCrawling, JobCancelled, JobPending},
	JobRetrying:  {JobCrawling, JobDone, JobFailed, JobCancelled},
	JobDone:      {JobPending},
	JobFailed:    {JobPending},
	JobCancelled: {JobPending},
}

// ValidateJobTransition returns an error when from -> to is not allowed.
// Every terminal state can only go back to PENDING through a reset.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, ok := jobTransitions[from]
	if !ok {
		return eris.Errorf("unknown job status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return eris.Errorf("invalid job transition from %s to %s", from, to)
}

// Active reports whether units of the job may still be worked.
func (s JobStatus) Active() bool {
	return s == JobCrawling || s == JobRetrying
}

func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobCancelled
}

// Run parameter defaults for specs that leave them out.
const (
	DefaultDelaySeconds   = 2.0
	DefaultMaxRetries     = 3
	DefaultTimeoutSeconds = 30
)

// JobSpec is the user-supplied definition of a crawl job. DelayBetweenRequests
// and MaxRetries are pointers so that an explicit 0 is kept.
type JobSpec struct {
	Name                 string   `yaml:"name" json:"name" validate:"required,max=200"`
	Site                 string   `yaml:"site" json:"site"`
	StartURLs            []string `yaml:"start_urls" json:"start_urls" validate:"omitempty,dive,required,url"`
	DelayBetweenRequests *float64 `yaml:"delay_between_requests" json:"delay_between_requests,omitempty" validate:"omitempty,gte=0,lte=60"`
	MaxRetries           *int     `yaml:"max_retries" json:"max_retries,omitempty" validate:"omitempty,gte=0,lte=10"`
	TimeoutSeconds       int      `yaml:"timeout" json:"timeout" validate:"gt=0,lte=300"`
	Limit                int      `yaml:"limit" json:"limit" validate:"gte=0"`

	// PracticeAreas and States expand into one start URL per practice area
	// and city through the site's URL pattern. States maps a state slug to
	// its city slugs.
	PracticeAreas []string            `yaml:"practice_areas" json:"practice_areas,omitempty" validate:"omitempty,dive,required"`
	States        map[string][]string `yaml:"states" json:"states,omitempty" validate:"omitempty,dive,keys,required,endkeys,min=1,dive,required"`
}

// WithDefaults fills unset run parameters with the stock values.
func (s JobSpec) WithDefaults() JobSpec {
	if s.DelayBetweenRequests == nil {
		d := DefaultDelaySeconds
		s.DelayBetweenRequests = &d
	}
	if s.MaxRetries == nil {
		n := DefaultMaxRetries
		s.MaxRetries = &n
	}
	if s.TimeoutSeconds == 0 {
		s.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return s
}

func (s JobSpec) Delay() float64 {
	if s.DelayBetweenRequests == nil {
		return DefaultDelaySeconds
	}
	return *s.DelayBetweenRequests
}

func (s JobSpec) Retries() int {
	if s.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *s.MaxRetries
}

// HasMatrix reports whether the spec asks for generated start URLs.
func (s JobSpec) HasMatrix() bool {
	return len(s.PracticeAreas) > 0 && len(s.States) > 0
}

type Job struct {
	ID     int64     `json:"id" db:"id"`
	Spec   JobSpec   `json:"spec" db:"spec"`
	Status JobStatus `json:"status" db:"status"`

	TotalURLs    int `json:"total_urls" db:"total_urls"`
	CrawledURLs  int `json:"crawled_urls" db:"crawled_urls"`
	SuccessCount int `json:"success_count" db:"success_count"`
	ErrorCount   int `json:"error_count" db:"error_count"`

	ErrorMessage string     `json:"error_message" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	StartedAt    *time.Time `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// ProgressPercentage is always derived from the counters.
func (j *Job) ProgressPercentage() float64 {
	if j.TotalURLs == 0 {
		return 0
	}
	return float64(j.CrawledURLs) / float64(j.TotalURLs) * 100
}

// UnitCounts is a per-status tally of a job's discovery units.
type UnitCounts map[UnitStatus]int

func (c UnitCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Progress is the recomputed view of a job's counters.
type Progress struct {
	TotalURLs    int
	CrawledURLs  int
	SuccessCount int
	ErrorCount   int
	Finished     bool
}

func ComputeProgress(c UnitCounts) Progress {
	p := Progress{
		TotalURLs:    c.Total(),
		SuccessCount: c[UnitCompleted],
		ErrorCount:   c[UnitFailed],
	}
	p.CrawledURLs = p.SuccessCount + p.ErrorCount
	p.Finished = p.TotalURLs > 0 && p.CrawledURLs == p.TotalURLs
	return p
}

// ApplyProgress copies p onto the job and, once every unit is terminal,
// moves an active job to DONE. Partial failure still ends in DONE.
func (j *Job) ApplyProgress(p Progress, now time.Time) bool {
	j.TotalURLs = p.TotalURLs
	j.CrawledURLs = p.CrawledURLs
	j.SuccessCount = p.SuccessCount
	j.ErrorCount = p.ErrorCount
	if p.Finished && j.Status.Active() {
		j.Status = JobDone
		j.CompletedAt = &now
		return true
	}
	return false
}
