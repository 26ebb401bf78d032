package deplist

import (
	"fmt"
	"strings"
)

// tracef writes one trace line, indented by the current recursion depth.
// With no logger configured it is a no-op.
func (d *DepList) tracef(format string, args ...interface{}) {
	if d.tl == nil {
		return
	}
	prefix := strings.Repeat("| ", d.depth)
	d.tl.Printf("%s%s\n", prefix, fmt.Sprintf(format, args...))
}
