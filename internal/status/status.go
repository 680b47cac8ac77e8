// Package status defines the finite state space of a Sparv job: the set of
// lifecycle processes, the per-process status values and the predicates used
// by the job entity and the queue controller.
package status

// Status represents the status of a single job process.
type Status string

const (
	None    Status = "none"    // Process does not exist
	Waiting Status = "waiting" // Waiting to be processed
	Running Status = "running" // Process is running
	Done    Status = "done"    // Process has finished
	Error   Status = "error"   // An error occurred in the process
	Aborted Status = "aborted" // Process was aborted by the user
)

// Description returns the human-readable description for the status.
func (s Status) Description() string {
	switch s {
	case None:
		return "Process does not exist"
	case Waiting:
		return "Waiting to be processed"
	case Running:
		return "Process is running"
	case Done:
		return "Process has finished"
	case Error:
		return "An error occurred in the process"
	case Aborted:
		return "Process was aborted by the user"
	}
	return "Unknown status"
}

// Process names one stage of a job's lifecycle.
type Process string

const (
	Sync2Sparv   Process = "sync2sparv"
	Sync2Storage Process = "sync2storage"
	Sparv        Process = "sparv"
	Korp         Process = "korp"
	Strix        Process = "strix"
)

// Processes lists all known process names in a fixed order.
var Processes = []Process{Sync2Sparv, Sync2Storage, Sparv, Korp, Strix}

// Statuses maps every known process name to its current status.
//
// A Statuses value is always total: every process in Processes has an entry.
// Use New to construct one.
type Statuses map[Process]Status

// New builds a complete status mapping from a raw process-name to status-name
// mapping, which may be nil, incomplete or from an older schema. Missing or
// unrecognized statuses default to None; unknown process names are dropped.
func New(raw map[string]string) Statuses {
	s := make(Statuses, len(Processes))
	for _, p := range Processes {
		s[p] = None
		if raw == nil {
			continue
		}
		switch Status(raw[string(p)]) {
		case Waiting:
			s[p] = Waiting
		case Running:
			s[p] = Running
		case Done:
			s[p] = Done
		case Error:
			s[p] = Error
		case Aborted:
			s[p] = Aborted
		}
	}
	return s
}

// Serialize converts the status mapping into a plain string map.
func (s Statuses) Serialize() map[string]string {
	out := make(map[string]string, len(s))
	for p, st := range s {
		out[string(p)] = string(st)
	}
	return out
}

// Copy returns an independent copy of the status mapping.
func (s Statuses) Copy() Statuses {
	out := make(Statuses, len(s))
	for p, st := range s {
		out[p] = st
	}
	return out
}

// IsActive reports whether the given process is waiting or running.
// With an empty process name it reports whether any process is.
func (s Statuses) IsActive(p Process) bool {
	if p != "" {
		return s[p] == Waiting || s[p] == Running
	}
	for _, st := range s {
		if st == Waiting || st == Running {
			return true
		}
	}
	return false
}

// IsInactive reports whether every process is in a terminal-or-none state.
func (s Statuses) IsInactive() bool {
	for _, st := range s {
		switch st {
		case None, Done, Error, Aborted:
		default:
			return false
		}
	}
	return true
}

// IsSyncing reports whether either of the two transfer processes is running.
func (s Statuses) IsSyncing() bool {
	return s[Sync2Sparv] == Running || s[Sync2Storage] == Running
}

// IsNone reports whether the given process has never run.
// With an empty process name it reports whether all processes are None.
func (s Statuses) IsNone(p Process) bool {
	if p != "" {
		return s[p] == None
	}
	for _, st := range s {
		if st != None {
			return false
		}
	}
	return true
}

// IsWaiting reports whether the given process (or, with an empty name, any
// process) is waiting.
func (s Statuses) IsWaiting(p Process) bool {
	if p != "" {
		return s[p] == Waiting
	}
	for _, st := range s {
		if st == Waiting {
			return true
		}
	}
	return false
}

// IsRunning reports whether the given process (or, with an empty name, any
// process) is running.
func (s Statuses) IsRunning(p Process) bool {
	if p != "" {
		return s[p] == Running
	}
	for _, st := range s {
		if st == Running {
			return true
		}
	}
	return false
}

// IsDone reports whether the given process has finished. False for an empty
// process name.
func (s Statuses) IsDone(p Process) bool {
	return p != "" && s[p] == Done
}

// IsError reports whether the given process errored. False for an empty
// process name.
func (s Statuses) IsError(p Process) bool {
	return p != "" && s[p] == Error
}

// IsAborted reports whether the given process was aborted. False for an
// empty process name.
func (s Statuses) IsAborted(p Process) bool {
	return p != "" && s[p] == Aborted
}

// HasProcessOutput reports whether the given process is expected to have
// produced log output. The transfer processes never do; the others only once
// they have reached running, done or error.
func (s Statuses) HasProcessOutput(p Process) bool {
	if p == "" || p == Sync2Sparv || p == Sync2Storage {
		return false
	}
	switch s[p] {
	case Running, Done, Error:
		return true
	}
	return false
}
