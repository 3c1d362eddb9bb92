package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValidateJobTransition(t *testing.T) {
	assert.NoError(t, ValidateJobTransition(JobPending, JobCrawling))
	assert.NoError(t, ValidateJobTransition(JobCrawling, JobDone))
	assert.NoError(t, ValidateJobTransition(JobCrawling, JobPaused))
	assert.NoError(t, ValidateJobTransition(JobPaused, JobCrawling))
	assert.NoError(t, ValidateJobTransition(JobCancelled, JobPending))

	assert.Error(t, ValidateJobTransition(JobDone, JobCrawling))
	assert.Error(t, ValidateJobTransition(JobCancelled, JobCrawling))
	assert.Error(t, ValidateJobTransition(JobStatus("BOGUS"), JobPending))
}

func TestComputeProgress_PartialFailureIsDone(t *testing.T) {
	counts := UnitCounts{UnitCompleted: 7, UnitFailed: 3}
	p := ComputeProgress(counts)
	assert.Equal(t, 10, p.TotalURLs)
	assert.Equal(t, 10, p.CrawledURLs)
	assert.Equal(t, 3, p.ErrorCount)
	assert.True(t, p.Finished)

	job := &Job{Status: JobCrawling}
	assert.True(t, job.ApplyProgress(p, time.Now()))
	assert.Equal(t, JobDone, job.Status)
	assert.Equal(t, 100.0, job.ProgressPercentage())
	assert.Equal(t, 3, job.ErrorCount)
	assert.NotNil(t, job.CompletedAt)
}

func TestComputeProgress_InFlight(t *testing.T) {
	p := ComputeProgress(UnitCounts{UnitCompleted: 2, UnitRunning: 1, UnitPending: 1})
	assert.Equal(t, 4, p.TotalURLs)
	assert.Equal(t, 2, p.CrawledURLs)
	assert.False(t, p.Finished)

	job := &Job{Status: JobCrawling}
	assert.False(t, job.ApplyProgress(p, time.Now()))
	assert.Equal(t, 50.0, job.ProgressPercentage())
}

func TestApplyProgress_LeavesCancelledAlone(t *testing.T) {
	job := &Job{Status: JobCancelled}
	job.ApplyProgress(ComputeProgress(UnitCounts{UnitCompleted: 1}), time.Now())
	assert.Equal(t, JobCancelled, job.Status)
	assert.Equal(t, 1, job.CrawledURLs)
}

func TestJobSpecDefaults(t *testing.T) {
	s := JobSpec{Name: "x"}.WithDefaults()
	assert.Equal(t, 2.0, s.Delay())
	assert.Equal(t, 3, s.Retries())
	assert.Equal(t, 30, s.TimeoutSeconds)
}

func TestJobSpecDefaults_KeepExplicitZero(t *testing.T) {
	var spec JobSpec
	require.NoError(t, yaml.Unmarshal([]byte("name: x\nmax_retries: 0\ndelay_between_requests: 0\n"), &spec))
	spec = spec.WithDefaults()
	assert.Equal(t, 0, spec.Retries())
	assert.Equal(t, 0.0, spec.Delay())

	raw, err := json.Marshal(spec)
	require.NoError(t, err)
	var back JobSpec
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, 0, back.Retries(), "a stored spec keeps its explicit zero")
}
