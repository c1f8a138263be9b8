package diaglog

import (
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// callerLocation describes the caller skip frames above its own caller as
// "file.go:42 pkg.Func".
func callerLocation(skip int) string {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	loc := filepath.Base(file) + ":" + strconv.Itoa(line)
	if fn := runtime.FuncForPC(pc); fn != nil {
		name := fn.Name()
		if i := strings.LastIndexByte(name, '/'); i >= 0 {
			name = name[i+1:]
		}
		loc += " " + name
	}
	return loc
}
