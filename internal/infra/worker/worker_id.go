package worker

import (
	"os"

	"github.com/oklog/ulid/v2"
)

// NewWorkerID returns a process-unique id of the form <hostname>-<ulid>.
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + ulid.Make().String()
}
