package pbs

import (
	"strconv"
	"strings"
)

const (
	JobIdKey      = "job_id"
	JobStateKey   = "job_state"
	ExitStatusKey = "exit_status"
)

// JobStatus holds the attributes of one job as reported by qstat -f. Keys are normalised by NormaliseKey.
type JobStatus map[string]string

func (s JobStatus) JobId() string {
	return s[JobIdKey]
}

// State returns the raw job_state value and whether it was present.
func (s JobStatus) State() (string, bool) {
	state, ok := s[JobStateKey]
	return state, ok
}

// ExitStatus returns the exit_status attribute. ok is false when the attribute is absent.
func (s JobStatus) ExitStatus() (code int, ok bool, err error) {
	raw, ok := s[ExitStatusKey]
	if !ok {
		return 0, false, nil
	}
	code, err = strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, true, &ErrMalformedStatusReport{Reason: "exit_status is not an integer", Line: raw}
	}
	return code, true, nil
}

// NormaliseKey lower-cases key and replaces spaces with underscores, so "Job Id" becomes "job_id".
func NormaliseKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), " ", "_")
}

// ParseStatusReport parses the output of qstat -f into one JobStatus per job, in report order.
//
// Jobs are separated by blank lines. The first line of a job is "Job Id: <id>". Every following line is
// indented; the first indented line fixes the attribute indentation and each line indented the same way
// holds a "key = value" attribute. Lines indented differently continue the value of the previous
// attribute, which is how qstat wraps long values, and are appended with surrounding whitespace removed.
func ParseStatusReport(report string) ([]JobStatus, error) {
	var jobs []JobStatus
	var block []string
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		job, err := parseBlock(block)
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		block = nil
		return nil
	}

	for _, line := range strings.Split(report, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		block = append(block, line)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return jobs, nil
}

func parseBlock(lines []string) (JobStatus, error) {
	identity := lines[0]
	if indentOf(identity) != "" {
		return nil, &ErrMalformedStatusReport{Reason: "job block must start with an unindented identity line", Line: identity}
	}

	// Each attribute is kept as the fragments it was split over.
	var attributes [][]string
	attributeIndent := ""
	for _, line := range lines[1:] {
		indent := indentOf(line)
		switch {
		case len(attributes) == 0:
			attributeIndent = indent
			attributes = append(attributes, []string{strings.TrimSpace(line)})
		case indent == attributeIndent:
			attributes = append(attributes, []string{strings.TrimSpace(line)})
		default:
			last := len(attributes) - 1
			attributes[last] = append(attributes[last], strings.TrimSpace(line))
		}
	}
	if len(attributes) == 0 {
		return nil, &ErrMalformedStatusReport{Reason: "job has no attributes", Line: identity}
	}

	job := make(JobStatus, len(attributes)+1)
	key, value, err := splitAttribute(identity, ": ")
	if err != nil {
		return nil, err
	}
	job[key] = value
	for _, fragments := range attributes {
		key, value, err := splitAttribute(strings.Join(fragments, ""), " = ")
		if err != nil {
			return nil, err
		}
		job[key] = value
	}
	return job, nil
}

func splitAttribute(attribute string, separator string) (string, string, error) {
	attribute = strings.TrimSpace(attribute)
	idx := strings.Index(attribute, separator)
	if idx > 0 {
		return NormaliseKey(attribute[:idx]), attribute[idx+len(separator):], nil
	}
	// The value was empty and the trailing space went with the trim.
	if bare := strings.TrimRight(separator, " "); strings.HasSuffix(attribute, bare) && len(attribute) > len(bare) {
		return NormaliseKey(strings.TrimSuffix(attribute, bare)), "", nil
	}
	return "", "", &ErrMalformedStatusReport{
		Reason: "expected key" + separator + "value",
		Line:   attribute,
	}
}

func indentOf(line string) string {
	return line[:len(line)-len(strings.TrimLeft(line, " \t"))]
}
