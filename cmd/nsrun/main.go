package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/nsrun/nsrun/internal/cleanup"
	"github.com/nsrun/nsrun/internal/config"
	"github.com/nsrun/nsrun/internal/container"
	"github.com/nsrun/nsrun/internal/image"
	"github.com/nsrun/nsrun/internal/launcher"
	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/network"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Commands: run, images, clean")
		os.Exit(1)
	}

	switch os.Args[1] {

	case launcher.ChildEntrypoint:
		launcher.ChildMain()
		return

	case "run":
		runCmd := flag.NewFlagSet("run", flag.ExitOnError)
		cpus := runCmd.Float64("cpus", 0, "fractional CPU limit, e.g. 0.5")
		memory := runCmd.String("memory", "", "memory limit, e.g. 512M")
		publish := runCmd.String("publish", "", "host:container port forward")
		runCmd.Parse(os.Args[2:])

		if len(runCmd.Args()) < 1 {
			fmt.Println("usage: nsrun run <registry>/<image>:<tag> [-- cmd...]")
			os.Exit(1)
		}
		ref := runCmd.Args()[0]
		// Flags may also follow the ref; a "--" ends them before the override argv.
		runCmd.Parse(runCmd.Args()[1:])
		override := runCmd.Args()

		if err := runContainer(ref, override, *cpus, *memory, *publish); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}

	case "images":
		if err := listImages(); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}

	case "clean":
		cfg := config.Load()
		if err := cleanup.Run(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}

	default:
		fmt.Println("unknown command:", os.Args[1])
		os.Exit(1)
	}
}

func runContainer(ref string, override []string, cpus float64, memory, publish string) error {
	cfg := config.Load()

	registry, rest := image.SplitRegistry(ref)
	name, tag := splitTag(rest)

	img, err := image.Find(cfg.ImageDir, registry, name, tag)
	if err != nil {
		return err
	}

	id := container.NewID(img.Name, tag)
	c, err := container.Init(cfg.ContainerDataDir, img, id)
	if err != nil {
		return err
	}

	fabric := network.New(cfg)
	_, created, err := fabric.EnsureBridgeFirstTime()
	if err != nil {
		return err
	}
	if created {
		if err := fabric.ResetNAT(); err != nil {
			return err
		}
	}
	peer, err := fabric.AllocatePeer()
	if err != nil {
		return err
	}

	if publish != "" {
		source, dest, err := splitPortPair(publish)
		if err != nil {
			return err
		}
		if err := fabric.AddPortForward(peer, source, dest); err != nil {
			return err
		}
	}

	req := launcher.Request{
		Image:     img,
		Container: c,
		Peer:      peer,
		CPUs:      cpus,
		Memory:    memory,
		Override:  override,
	}
	code, err := launcher.Run(req)
	if err != nil {
		return err
	}
	logging.Log.WithField("exit_code", code).Info("container finished")
	os.Exit(code)
	return nil
}

func listImages() error {
	cfg := config.Load()
	images, err := image.List(cfg.ImageDir)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tSIZE\tPATH")
	for _, img := range images {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", img.Name, img.Version, img.Size, img.Dir)
	}
	return w.Flush()
}

// splitTag splits "name:tag" into its parts, defaulting tag to "latest".
func splitTag(ref string) (name, tag string) {
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		return ref[:i], ref[i+1:]
	}
	return ref, "latest"
}

// splitPortPair parses a "host:container" port pair as used by --publish.
func splitPortPair(s string) (source, dest int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid port pair %q, want host:container", s)
	}
	source, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid host port %q: %w", parts[0], err)
	}
	dest, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid container port %q: %w", parts[1], err)
	}
	return source, dest, nil
}
