// Package launcher implements the Launcher: cloning a child into new
// PID/UTS/mount/net namespaces, running the child's post-clone setup, and
// waiting for it from the parent. See spec §4.5.
//
// Go has no portable equivalent of a raw clone(2)-with-callback; the
// idiomatic substitute (used throughout the retrieved corpus, e.g. the
// minimega container shim) is to re-exec the running binary with
// SysProcAttr.Cloneflags set and a hidden subcommand that performs the
// child setup before exec'ing the target program.
package launcher

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/nsrun/nsrun/internal/container"
	"github.com/nsrun/nsrun/internal/image"
	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/nerr"
	"github.com/nsrun/nsrun/internal/network"
)

// ChildEntrypoint is the hidden cmd/nsrun subcommand the parent re-execs
// itself as.
const ChildEntrypoint = "__child"

// argvSep separates argv tokens packed into a single environment variable;
// chosen to never appear in a shell argument.
const argvSep = "\x1f"

const (
	envContainerID = "NSRUN_CHILD_ID"
	envRootDir     = "NSRUN_CHILD_ROOTDIR"
	envNetnsName   = "NSRUN_CHILD_NETNS"
	envWorkingDir  = "NSRUN_CHILD_WORKDIR"
	envArgv        = "NSRUN_CHILD_ARGV"
	envCPUs        = "NSRUN_CHILD_CPUS"
	envMemory      = "NSRUN_CHILD_MEMORY"
)

// Request is everything the Launcher needs to start one container.
type Request struct {
	Image     image.Image
	Container *container.Container
	Peer      *network.Peer
	CPUs      float64
	Memory    string
	Override  []string // caller's argv override, possibly empty
}

// resolveArgv picks the command to exec: the caller's override if given,
// else the image's default cmd, per spec §4.5 step 7. Pulled out as a pure
// function so the precedence rule is unit-testable without a clone.
func resolveArgv(override, imageCmd []string) ([]string, error) {
	argv := override
	if len(argv) == 0 {
		argv = imageCmd
	}
	if len(argv) == 0 {
		return nil, nerr.New(nerr.ExecFailure, "no command to execute: override and image cmd are both empty")
	}
	return argv, nil
}

// Run clones the child, waits for it, and returns its exit status.
func Run(req Request) (int, error) {
	self, err := os.Executable()
	if err != nil {
		return 0, nerr.Wrap(nerr.FabricFailure, err, "locate self executable")
	}

	argv, err := resolveArgv(req.Override, req.Image.Cmd)
	if err != nil {
		return 0, err
	}

	cmd := exec.Command(self, ChildEntrypoint)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		envContainerID+"="+req.Container.ID,
		envRootDir+"="+req.Container.RootDir,
		envNetnsName+"="+req.Peer.NetnsName,
		envWorkingDir+"="+req.Image.WorkingDir,
		envArgv+"="+strings.Join(argv, argvSep),
		envCPUs+"="+fmt.Sprintf("%f", req.CPUs),
		envMemory+"="+req.Memory,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWPID | unix.CLONE_NEWUTS | unix.CLONE_NEWNS | unix.CLONE_NEWNET,
	}

	if err := cmd.Start(); err != nil {
		return 0, nerr.Wrap(nerr.FabricFailure, err, "start container process")
	}

	logging.Log.WithField("pid", cmd.Process.Pid).Info("container process started")

	err = cmd.Wait()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return 0, nerr.Wrap(nerr.FabricFailure, err, "wait for container process")
		}
	}

	logging.Log.WithField("pid", cmd.Process.Pid).WithField("status", exitCode).Info("container process exited")
	return exitCode, nil
}
