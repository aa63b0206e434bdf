package pbs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const torqueReport = `Job Id: 42.head.cluster
    Job_Name = job.sh
    Job_Owner = alice@head.cluster
    job_state = C
    exit_status = 0
    Variable_List = PBS_O_HOME=/home/alice,PBS_O_LANG=en_US.UTF-8,
	PBS_O_LOGNAME=alice
    comment = done

Job Id: 43.head.cluster
    Job_Name = job.sh
    job_state = Q
`

func TestParseStatusReport_SingleJob(t *testing.T) {
	jobs, err := ParseStatusReport("Job Id: 123.host\n\tjob_state = R\n")
	require.NoError(t, err)
	assert.Equal(t, []JobStatus{{"job_id": "123.host", "job_state": "R"}}, jobs)
}

func TestParseStatusReport_TabIndentedContinuation(t *testing.T) {
	jobs, err := ParseStatusReport("Job Id: 1.head\n\tjob_state = R\n\tvariable_list = A=1,\n\t\tB=2\n")
	require.NoError(t, err)
	assert.Equal(t, []JobStatus{{"job_id": "1.head", "job_state": "R", "variable_list": "A=1,B=2"}}, jobs)
}

func TestParseStatusReport_MultipleJobsInReportOrder(t *testing.T) {
	jobs, err := ParseStatusReport(torqueReport)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, JobStatus{
		"job_id":        "42.head.cluster",
		"job_name":      "job.sh",
		"job_owner":     "alice@head.cluster",
		"job_state":     "C",
		"exit_status":   "0",
		"variable_list": "PBS_O_HOME=/home/alice,PBS_O_LANG=en_US.UTF-8,PBS_O_LOGNAME=alice",
		"comment":       "done",
	}, jobs[0])
	assert.Equal(t, "43.head.cluster", jobs[1].JobId())
	state, ok := jobs[1].State()
	assert.True(t, ok)
	assert.Equal(t, "Q", state)
}

func TestParseStatusReport_IsDeterministic(t *testing.T) {
	first, err := ParseStatusReport(torqueReport)
	require.NoError(t, err)
	second, err := ParseStatusReport(torqueReport)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseStatusReport_EmptyReport(t *testing.T) {
	jobs, err := ParseStatusReport("\n  \n")
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestParseStatusReport_WindowsLineEndings(t *testing.T) {
	jobs, err := ParseStatusReport("Job Id: 7.host\r\n    job_state = E\r\n\r\n")
	require.NoError(t, err)
	assert.Equal(t, []JobStatus{{"job_id": "7.host", "job_state": "E"}}, jobs)
}

func TestParseStatusReport_EmptyValue(t *testing.T) {
	jobs, err := ParseStatusReport("Job Id: 7.host\n    job_state = R\n    comment =\n")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "", jobs[0]["comment"])
}

func TestParseStatusReport_Malformed(t *testing.T) {
	tests := map[string]string{
		"no attributes":        "Job Id: 1.host\n",
		"indented identity":    "    Job Id: 1.host\n    job_state = R\n",
		"attribute without =":  "Job Id: 1.host\n    job_state R\n",
		"identity without key": "1.host\n    job_state = R\n",
		"second block broken":  "Job Id: 1.host\n    job_state = R\n\nJob Id: 2.host\n",
	}
	for name, report := range tests {
		t.Run(name, func(t *testing.T) {
			jobs, err := ParseStatusReport(report)
			assert.Nil(t, jobs)
			var malformed *ErrMalformedStatusReport
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestJobStatus_ExitStatus(t *testing.T) {
	code, ok, err := JobStatus{"exit_status": " 3 "}.ExitStatus()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok, err = JobStatus{"job_state": "C"}.ExitStatus()
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = JobStatus{"exit_status": "lost"}.ExitStatus()
	var malformed *ErrMalformedStatusReport
	assert.ErrorAs(t, err, &malformed)
}

func TestNormaliseKey(t *testing.T) {
	assert.Equal(t, "job_id", NormaliseKey("Job Id"))
	assert.Equal(t, "resource_list.nodes", NormaliseKey(" Resource_List.nodes "))
}

func TestPollStateFromJobState(t *testing.T) {
	tests := map[string]PollState{
		"Q": Submitted,
		"H": Submitted,
		"W": Submitted,
		"T": Submitted,
		"R": Running,
		"E": Running,
		"S": Running,
		"X": Running,
		"C": Completed,
		"F": Completed,
	}
	for jobState, expected := range tests {
		assert.Equal(t, expected, PollStateFromJobState(jobState), jobState)
	}
	assert.True(t, Completed.Terminal())
	assert.False(t, Running.Terminal())
	assert.Equal(t, "TimedOut", TimedOut.String())
}
