package conf

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/alma"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/apikeys"
	"github.com/Swiss-Library-Service-Platform/almapiwrapper/pkg/request"
)

// JobType distinguishes how a job is triggered. Alma prefixes the job ID
// with it on the wire.
type JobType string

const (
	JobManual    JobType = "M"
	JobScheduled JobType = "S"
	JobOpen      JobType = "O"
)

// defaultJobParameters is posted when a job needs no parameters.
const defaultJobParameters = "<job/>"

// Job is a handle on one Alma job and its execution instances.
type Job struct {
	alma.Resource

	// JobID identifies the job, without the type prefix.
	JobID string
	// Type is the trigger kind, manual by default.
	Type JobType
	// InstanceID tracks the instance started by the last Run.
	InstanceID string
}

// InstanceState is the monitoring summary of one job instance.
type InstanceState struct {
	Status    string
	Progress  int
	StartTime time.Time
	EndTime   time.Time
}

// NewJob creates a handle on a manual job.
func NewJob(client *alma.Client, jobID, zone string, env apikeys.Environment) *Job {
	return &Job{
		Resource: client.NewResource(zone, env, areaConf, request.FormatXML),
		JobID:    jobID,
		Type:     JobManual,
	}
}

// NewJobWithType creates a handle on a job with an explicit trigger kind.
func NewJobWithType(client *alma.Client, jobID, zone string, env apikeys.Environment, jobType JobType) *Job {
	j := NewJob(client, jobID, zone, env)
	j.Type = jobType
	return j
}

func (j *Job) path() string {
	return fmt.Sprintf("/conf/jobs/%s%s", j.Type, j.JobID)
}

// XML returns the job description payload, or nil before a fetch.
func (j *Job) XML() *alma.XMLData {
	data, _ := j.Data().(*alma.XMLData)
	return data
}

// Fetch loads the job description.
func (j *Job) Fetch(ctx context.Context) error {
	resp, err := j.Get(ctx, j.path(), nil)
	if err != nil {
		j.MarkFailed("fetch", err)
		return err
	}
	data, err := alma.NewXMLData(resp.Body)
	if err != nil {
		j.MarkFailed("fetch", err)
		return err
	}
	j.SetData(data)
	return nil
}

// Run submits the job with the given parameters, or an empty parameter
// document when nil, and records the started instance ID.
func (j *Job) Run(ctx context.Context, parameters *alma.XMLData) *Job {
	if j.Failed() {
		return j
	}
	body := []byte(defaultJobParameters)
	if parameters != nil {
		raw, err := parameters.Bytes()
		if err != nil {
			j.MarkFailed("run", err)
			return j
		}
		body = raw
	}
	params := url.Values{}
	params.Set("op", "run")
	j.Mutate(ctx, alma.Mutation{
		Op:     alma.OpCreate,
		Type:   "job",
		ID:     string(j.Type) + j.JobID,
		Path:   j.path(),
		Params: params,
		Body:   body,
		Apply: func(resp *request.Response) error {
			result, err := alma.NewXMLData(resp.Body)
			if err != nil {
				return err
			}
			info := result.Find("//additional_info")
			if info == nil {
				return fmt.Errorf("conf: job response carries no additional_info element")
			}
			link := info.SelectAttrValue("link", "")
			if link == "" {
				return fmt.Errorf("conf: job response carries no instance link")
			}
			segments := strings.Split(link, "/")
			j.InstanceID = segments[len(segments)-1]
			return nil
		},
	})
	return j
}

// Instances lists the execution instances of the job.
func (j *Job) Instances(ctx context.Context) (*alma.JSONData, error) {
	resp, err := j.GetAs(ctx, j.path()+"/instances", nil, request.FormatJSON)
	if err != nil {
		return nil, err
	}
	return alma.NewJSONDataFromBytes(resp.Body)
}

// InstanceInfo returns the details of one instance. An empty instanceID
// falls back to the instance started by Run.
func (j *Job) InstanceInfo(ctx context.Context, instanceID string) (*alma.JSONData, error) {
	if instanceID == "" {
		instanceID = j.InstanceID
	}
	if instanceID == "" {
		return nil, fmt.Errorf("conf: no job instance ID available or provided")
	}
	resp, err := j.GetAs(ctx, j.path()+"/instances/"+instanceID, nil, request.FormatJSON)
	if err != nil {
		return nil, err
	}
	return alma.NewJSONDataFromBytes(resp.Body)
}

// CheckInstanceState reduces the instance details to its monitoring
// fields: status, progress and the run timestamps.
func (j *Job) CheckInstanceState(ctx context.Context, instanceID string) (*InstanceState, error) {
	data, err := j.InstanceInfo(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	state := &InstanceState{}
	if status, ok := data.Get("status.value"); ok {
		state.Status, _ = status.(string)
	}
	if progress, ok := data.Get("progress"); ok {
		// encoding/json decodes numbers as float64.
		if f, ok := progress.(float64); ok {
			state.Progress = int(f)
		}
	}
	if start, ok := data.Get("start_time"); ok {
		state.StartTime = parseInstanceTime(start)
	}
	if end, ok := data.Get("end_time"); ok {
		state.EndTime = parseInstanceTime(end)
	}
	return state, nil
}

// parseInstanceTime parses the loosely formatted timestamps Alma puts on
// job instances. Unparseable values stay zero.
func parseInstanceTime(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}
	}
	return t
}
