package network

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/nsrun/nsrun/internal/nerr"
)

// fileLock is an advisory flock(2)-backed mutex serializing the fabric
// mutation region across processes (spec §5's single-writer discipline),
// grounded on the lock-file pattern used for IPAM state in the retrieved
// annis-souames/atomicni plugin.
type fileLock struct {
	f *os.File
}

func acquireLock(path string) (*fileLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "create lock dir")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "open fabric lock file")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, nerr.Wrap(nerr.FabricFailure, err, "lock fabric mutation region")
	}
	return &fileLock{f: f}, nil
}

func (l *fileLock) release() {
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	_ = l.f.Close()
}
