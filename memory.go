package fixtures

import (
	"fmt"

	"github.com/tklauser/go-sysconf"
)

const defaultMemoryMB = 2048

// memoryMB returns physical memory in megabytes, or defaultMemoryMB when the host won't say.
func memoryMB() int64 {
	pages, err := sysconf.Sysconf(sysconf.SC_PHYS_PAGES)
	if err != nil {
		return defaultMemoryMB
	}
	size, err := sysconf.Sysconf(sysconf.SC_PAGE_SIZE)
	if err != nil {
		return defaultMemoryMB
	}
	return pages * size / 1e6
}

// postgresTuning gives a throwaway test server an eighth of host memory for buffers and sorting
// and turns durability off. https://www.postgresql.org/docs/current/non-durability.html
func postgresTuning() []string {
	mb := memoryMB() / 8
	return []string{
		"-c", "fsync=off",
		"-c", "synchronous_commit=off",
		"-c", "full_page_writes=off",
		"-c", "random_page_cost=1.1",
		"-c", fmt.Sprintf("shared_buffers=%vMB", mb),
		"-c", fmt.Sprintf("work_mem=%vMB", mb),
	}
}
