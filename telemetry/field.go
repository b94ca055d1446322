package telemetry

import "strings"

// ParseFieldName splits a name like "CarIdxLap[3]" into its base name and
// array index. Only a single digit after the bracket is read. When that
// character is not a digit the index is dropped and the caller gets the
// whole field back.
func ParseFieldName(name string) (base string, index int, hasIndex bool) {
	pos := strings.IndexByte(name, '[')
	if pos == -1 {
		return name, 0, false
	}
	base = name[:pos]
	if pos+1 >= len(name) {
		return base, 0, false
	}
	c := name[pos+1]
	if c < '0' || c > '9' {
		return base, 0, false
	}
	return base, int(c - '0'), true
}
