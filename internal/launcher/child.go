package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/nsrun/nsrun/internal/cgroup"
	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/nerr"
	"github.com/vishvananda/netns"
)

// ChildMain runs inside the freshly-cloned PID/UTS/mount/net namespaces. It
// carries out the child setup sequence from spec §4.5 steps 1-8 and then
// execs the target program, replacing itself. It never returns on success;
// on failure it logs a diagnostic (with stack trace, via pkg/errors through
// internal/nerr) and exits 1.
func ChildMain() {
	if err := runChild(); err != nil {
		logging.Log.Errorf("container setup failed: %+v", err)
		os.Exit(1)
	}
	// unreachable: runChild only returns on error, success ends in exec.
}

func runChild() error {
	id := os.Getenv(envContainerID)
	rootDir := os.Getenv(envRootDir)
	netnsName := os.Getenv(envNetnsName)
	workingDir := os.Getenv(envWorkingDir)
	argv := strings.Split(os.Getenv(envArgv), argvSep)
	cpus, _ := strconv.ParseFloat(os.Getenv(envCPUs), 64)
	memory := os.Getenv(envMemory)

	// Namespace-switching syscalls must land on the same OS thread that
	// later calls exec; pin this goroutine to its thread for the duration.
	runtime.LockOSThread()

	if err := unix.Sethostname([]byte(id)); err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "set hostname")
	}

	if err := attachNetns(netnsName); err != nil {
		return err
	}

	cg, err := cgroup.New(id)
	if err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "create cgroup")
	}
	if cpus > 0 {
		if err := cg.SetCPULimit(cpus); err != nil {
			return nerr.Wrap(nerr.ExecFailure, err, "set cpu limit")
		}
	}
	if memory != "" {
		if err := cg.SetMemoryLimit(memory); err != nil {
			return nerr.Wrap(nerr.ExecFailure, err, "set memory limit")
		}
	}
	if err := cg.Add(os.Getpid()); err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "join cgroup")
	}

	if err := mountPseudoFilesystems(rootDir); err != nil {
		return err
	}

	if err := unix.Chroot(rootDir); err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "chroot into container root")
	}

	chdirTarget := workingDir
	if chdirTarget == "" {
		chdirTarget = "/"
	}
	if err := unix.Chdir(chdirTarget); err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "chdir to working directory")
	}

	if len(argv) == 0 || argv[0] == "" {
		return nerr.New(nerr.ExecFailure, "no command to execute")
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "resolve command in PATH")
	}

	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return nerr.Wrap(nerr.ExecFailure, err, "exec container command")
	}
	return nil
}

// attachNetns joins the namespace of the pre-allocated peer by name,
// grounded on the HQarroum microbox pattern of netns.Set(target) before
// exec. This is the step spec §4.5 flags as the subtle one: the
// clone-created blank netns is discarded in favor of the fabric-allocated
// one referenced here by name.
func attachNetns(name string) error {
	if name == "" {
		return nil
	}
	handle, err := netns.GetFromName(name)
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "open allocated netns")
	}
	defer handle.Close()
	if err := netns.Set(handle); err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "attach to allocated netns")
	}
	return nil
}

// mountPseudoFilesystems ensures rootDir/{proc,sys,dev} exist and mounts
// proc and sysfs, per spec §4.5 step 4.
func mountPseudoFilesystems(rootDir string) error {
	for _, d := range []string{"proc", "sys", "dev"} {
		if err := os.MkdirAll(fmt.Sprintf("%s/%s", rootDir, d), 0o755); err != nil {
			return nerr.Wrap(nerr.MountFailure, err, "create "+d+" mountpoint")
		}
	}
	if err := unix.Mount("proc", rootDir+"/proc", "proc", 0, ""); err != nil {
		return nerr.Wrap(nerr.MountFailure, err, "mount proc")
	}
	if err := unix.Mount("sysfs", rootDir+"/sys", "sysfs", 0, ""); err != nil {
		return nerr.Wrap(nerr.MountFailure, err, "mount sysfs")
	}
	return nil
}
