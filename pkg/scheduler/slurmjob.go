package scheduler

import (
	"encoding/json"
	"strings"
)

// Wire shapes shared by the slurmdb REST endpoints and `sacct --json` /
// `squeue --json` CLI output. The same decoder covers API versions from
// 0.0.38 up: integers may be plain or {set,infinite,number} objects and
// states may be strings or tag lists.

type slurmExitCode struct {
	ReturnCode OptionalInt `json:"return_code"`
	Status     FlexState   `json:"status"`
	Signal     struct {
		ID OptionalInt `json:"id"`
	} `json:"signal"`
}

type slurmState struct {
	Current FlexState `json:"current"`
	Reason  string    `json:"reason"`
}

type slurmTime struct {
	Elapsed    OptionalInt `json:"elapsed"`
	Submission OptionalInt `json:"submission"`
	Start      OptionalInt `json:"start"`
	End        OptionalInt `json:"end"`
	Suspended  OptionalInt `json:"suspended"`
	Limit      OptionalInt `json:"limit"`
}

func (t slurmTime) normalize() JobTime {
	return JobTime{
		Elapsed:    t.Elapsed.Value,
		Submission: t.Submission.Value,
		Start:      t.Start.Value,
		End:        t.End.Value,
		Suspended:  t.Suspended.Value,
		Limit:      t.Limit.Value,
	}
}

// flexID renders a step id that may be a string, a number or an object.
type flexID struct {
	Value string
}

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		f.Value = s
		return nil
	}
	f.Value = strings.Trim(string(data), `"`)
	return nil
}

type slurmStep struct {
	Step struct {
		ID   flexID `json:"id"`
		Name string `json:"name"`
	} `json:"step"`
	State    FlexState     `json:"state"`
	ExitCode slurmExitCode `json:"exit_code"`
	Time     slurmTime     `json:"time"`
}

type slurmJob struct {
	JobID            int64         `json:"job_id"`
	Name             string        `json:"name"`
	Account          string        `json:"account"`
	AllocationNodes  OptionalInt   `json:"allocation_nodes"`
	Cluster          string        `json:"cluster"`
	Group            string        `json:"group"`
	Nodes            string        `json:"nodes"`
	Partition        string        `json:"partition"`
	Priority         OptionalInt   `json:"priority"`
	User             string        `json:"user"`
	WorkingDirectory string        `json:"working_directory"`
	State            slurmState    `json:"state"`
	ExitCode         slurmExitCode `json:"exit_code"`
	Time             slurmTime     `json:"time"`
	Steps            []slurmStep   `json:"steps"`
}

func (j *slurmJob) normalize() Job {
	job := Job{
		JobID: int(j.JobID),
		Name:  j.Name,
		Status: JobStatus{
			State:           j.State.Current.Value,
			StateReason:     j.State.Reason,
			ExitCode:        j.ExitCode.ReturnCode.Value,
			InterruptSignal: j.ExitCode.Signal.ID.Value,
		},
		Time:             j.Time.normalize(),
		Account:          j.Account,
		Cluster:          j.Cluster,
		Group:            j.Group,
		Nodes:            j.Nodes,
		Partition:        j.Partition,
		Priority:         j.Priority.Value,
		User:             j.User,
		WorkingDirectory: j.WorkingDirectory,
	}
	if j.AllocationNodes.Value != nil {
		job.AllocationNodes = int(*j.AllocationNodes.Value)
	}
	for _, step := range j.Steps {
		job.Tasks = append(job.Tasks, JobTask{
			ID:   step.Step.ID.Value,
			Name: step.Step.Name,
			Status: JobStatus{
				State:           step.State.Value,
				ExitCode:        step.ExitCode.ReturnCode.Value,
				InterruptSignal: step.ExitCode.Signal.ID.Value,
			},
			Time: step.Time.normalize(),
		})
	}
	return job
}

// decodeSlurmJobs parses a {"jobs": [...]} document and filters by user
// unless allUsers is set; the slurmdb endpoints cannot always filter
// server-side.
func decodeSlurmJobs(data []byte, username string, allUsers bool) ([]Job, error) {
	var payload struct {
		Jobs []slurmJob `json:"jobs"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse jobs document: " + err.Error()}
	}
	jobs := make([]Job, 0, len(payload.Jobs))
	for i := range payload.Jobs {
		if !allUsers && payload.Jobs[i].User != username {
			continue
		}
		jobs = append(jobs, payload.Jobs[i].normalize())
	}
	return jobs, nil
}

type slurmNode struct {
	Name       string      `json:"name"`
	State      FlexState   `json:"state"`
	CPUs       OptionalInt `json:"cpus"`
	RealMemory OptionalInt `json:"real_memory"`
	Partitions []string    `json:"partitions"`
}

func decodeSlurmNodes(data []byte) ([]Node, error) {
	var payload struct {
		Nodes []slurmNode `json:"nodes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse nodes document: " + err.Error()}
	}
	nodes := make([]Node, 0, len(payload.Nodes))
	for _, n := range payload.Nodes {
		// real_memory is reported in MiB
		var memory *int64
		if n.RealMemory.Value != nil {
			m := *n.RealMemory.Value * 1024 * 1024
			memory = &m
		}
		nodes = append(nodes, Node{
			Name:       n.Name,
			State:      n.State.Value,
			CPUs:       n.CPUs.Value,
			Memory:     memory,
			Partitions: n.Partitions,
		})
	}
	return nodes, nil
}

type slurmPartition struct {
	Name      string `json:"name"`
	Partition struct {
		State FlexState `json:"state"`
	} `json:"partition"`
	CPUs struct {
		Total OptionalInt `json:"total"`
	} `json:"cpus"`
	Nodes struct {
		Total OptionalInt `json:"total"`
	} `json:"nodes"`
}

func decodeSlurmPartitions(data []byte) ([]Partition, error) {
	var payload struct {
		Partitions []slurmPartition `json:"partitions"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse partitions document: " + err.Error()}
	}
	partitions := make([]Partition, 0, len(payload.Partitions))
	for _, p := range payload.Partitions {
		partitions = append(partitions, Partition{
			Name:       p.Name,
			State:      p.Partition.State.Value,
			TotalCPUs:  p.CPUs.Total.Value,
			TotalNodes: p.Nodes.Total.Value,
		})
	}
	return partitions, nil
}

type slurmReservation struct {
	Name      string      `json:"name"`
	Users     string      `json:"users"`
	NodeList  string      `json:"node_list"`
	StartTime OptionalInt `json:"start_time"`
	EndTime   OptionalInt `json:"end_time"`
}

func decodeSlurmReservations(data []byte) ([]Reservation, error) {
	var payload struct {
		Reservations []slurmReservation `json:"reservations"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse reservations document: " + err.Error()}
	}
	reservations := make([]Reservation, 0, len(payload.Reservations))
	for _, r := range payload.Reservations {
		reservations = append(reservations, Reservation{
			Name:      r.Name,
			Users:     r.Users,
			Nodes:     r.NodeList,
			StartTime: r.StartTime.Value,
			EndTime:   r.EndTime.Value,
		})
	}
	return reservations, nil
}

func decodeSlurmPings(data []byte) ([]Ping, error) {
	var payload struct {
		Pings []struct {
			Hostname string `json:"hostname"`
			Pinged   string `json:"pinged"`
			Mode     string `json:"mode"`
		} `json:"pings"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &BackendError{Scheduler: "slurm", Message: "failed to parse ping document: " + err.Error()}
	}
	pings := make([]Ping, 0, len(payload.Pings))
	for _, p := range payload.Pings {
		pings = append(pings, Ping{Hostname: p.Hostname, Pinged: p.Pinged, Mode: p.Mode})
	}
	return pings, nil
}
