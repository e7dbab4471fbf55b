package compiler

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Resolver locates files named by #include directives. Quoted includes
// search the including file's directory, then the user list, then the
// system list; angle-bracket includes search the system list first.
type Resolver struct {
	User   []string
	System []string
}

// Resolve returns the path and content of the named include file.
func (r *Resolver) Resolve(name string, system bool, fromDir string) (string, []byte, error) {
	var dirs []string
	if system {
		dirs = append(dirs, r.System...)
		dirs = append(dirs, r.User...)
	} else {
		if fromDir != "" {
			dirs = append(dirs, fromDir)
		}
		dirs = append(dirs, r.User...)
		dirs = append(dirs, r.System...)
	}

	for _, dir := range dirs {
		full := filepath.Join(dir, name)
		content, err := os.ReadFile(full)
		if err == nil {
			return full, content, nil
		}
		if !os.IsNotExist(err) {
			return "", nil, errors.Wrapf(err, "reading include %q", full)
		}
	}
	return "", nil, errors.Errorf("include file %q not found", name)
}
