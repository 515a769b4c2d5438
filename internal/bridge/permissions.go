package bridge

import (
	"errors"
	"fmt"
	"os"
)

// ErrPermissionDenied marks an Init failure caused by missing device
// grants. The bridge refuses to come up in a silently degraded state.
var ErrPermissionDenied = errors.New("required permissions denied")

// Permissions verifies the grants the bridge needs before it starts
// listening.
type Permissions interface {
	Check() error
}

// StoragePermissions verifies the storage grant by probing the
// configured candidate directories: at least one must be readable.
// Phone-state access is exercised by the event feed connection itself.
type StoragePermissions struct {
	Dirs []string
}

func (p StoragePermissions) Check() error {
	if len(p.Dirs) == 0 {
		return fmt.Errorf("%w: no candidate directories configured", ErrPermissionDenied)
	}
	for _, dir := range p.Dirs {
		if _, err := os.ReadDir(dir); err == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: none of %d candidate directories are readable", ErrPermissionDenied, len(p.Dirs))
}

// PermissionsFunc adapts a function to the Permissions interface.
type PermissionsFunc func() error

func (f PermissionsFunc) Check() error { return f() }
