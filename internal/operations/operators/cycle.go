package operators

import (
	"github.com/biotracer/agent/internal/kernel/communication"
	"github.com/biotracer/agent/internal/process"
)

// Cycle holds what the operators of one poll share. It belongs to the poll goroutine.
type Cycle struct {
	Snapshot *process.Snapshot
	execs    []communication.Exec
}

// QueueExec keeps an exec notification for the next cycle.
func (c *Cycle) QueueExec(exec communication.Exec) {
	c.execs = append(c.execs, exec)
}

func (c *Cycle) drainExecs() []communication.Exec {
	execs := c.execs
	c.execs = nil
	return execs
}
