// Package network implements the Network Fabric: an idempotent host bridge,
// per-container netns+veth+IP+route allocation, optional port forwarding,
// masquerade, and the teardown sweep. See spec §4.2.
package network

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	cni "github.com/containernetworking/plugins/pkg/ns"
	"github.com/coreos/go-iptables/iptables"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/nsrun/nsrun/internal/config"
	"github.com/nsrun/nsrun/internal/logging"
	"github.com/nsrun/nsrun/internal/nerr"
)

const netnsDir = "/var/run/netns"

// Fabric is the host-side network fabric for one runtime instance.
type Fabric struct {
	cfg *config.Config
}

// New returns a Fabric bound to cfg.
func New(cfg *config.Config) *Fabric {
	return &Fabric{cfg: cfg}
}

// Peer is one container's network attachment.
type Peer struct {
	NetnsName     string
	NetnsPath     string
	HostVeth      string
	ContainerVeth string
	ContainerIP   string // CIDR, e.g. 192.168.0.2/24
	Index         int
}

// EnsureBridge creates the host bridge if it does not already exist and
// assigns its gateway address, or reuses it unchanged if it does — the
// fabric's idempotent bring-up (spec §4.2, testable property "init_bridge is
// idempotent").
func (f *Fabric) EnsureBridge() (*netlink.Bridge, error) {
	unlock, err := f.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	br, _, err := f.ensureBridgeLocked()
	return br, err
}

// EnsureBridgeFirstTime is EnsureBridge plus whether the bridge was newly
// created by this call, so the caller can decide whether this is the
// "first-time fabric bring-up" spec §4.2's masquerade rule reinstalls on.
func (f *Fabric) EnsureBridgeFirstTime() (br *netlink.Bridge, created bool, err error) {
	unlock, err := f.lock()
	if err != nil {
		return nil, false, err
	}
	defer unlock()
	return f.ensureBridgeLocked()
}

func (f *Fabric) ensureBridgeLocked() (*netlink.Bridge, bool, error) {
	name := f.cfg.BridgeName

	if link, err := netlink.LinkByName(name); err == nil {
		if br, ok := link.(*netlink.Bridge); ok {
			logging.Log.WithField("bridge", name).Debug("bridge already exists")
			return br, false, nil
		}
		return nil, false, nerr.New(nerr.FabricFailure, name+" exists but is not a bridge")
	}

	logging.Log.WithField("bridge", name).Info("creating bridge")
	br := &netlink.Bridge{LinkAttrs: netlink.LinkAttrs{Name: name}}
	if err := netlink.LinkAdd(br); err != nil {
		return nil, false, nerr.Wrap(nerr.FabricFailure, err, "create bridge")
	}

	addr := &netlink.Addr{IPNet: &net.IPNet{IP: f.cfg.BridgeGateway, Mask: f.cfg.BridgeNet.Mask}}
	if err := netlink.AddrAdd(br, addr); err != nil {
		return nil, false, nerr.Wrap(nerr.FabricFailure, err, "assign bridge gateway address")
	}

	if err := netlink.LinkSetUp(br); err != nil {
		return nil, false, nerr.Wrap(nerr.FabricFailure, err, "bring bridge up")
	}

	// Re-fetch link to read all attributes: LinkAdd does not populate the
	// kernel-assigned index back onto br, and callers (Clean, bridgePortCount)
	// key off br.Attrs().Index.
	link, err := netlink.LinkByName(name)
	if err != nil {
		return nil, false, nerr.Wrap(nerr.FabricFailure, err, "refetch bridge after creation")
	}
	br, ok := link.(*netlink.Bridge)
	if !ok {
		return nil, false, nerr.New(nerr.FabricFailure, name+" exists but is not a bridge")
	}

	return br, true, nil
}

// AllocatePeer carries out the per-container peer allocation sequence from
// spec §4.2 steps 1-6: fresh netns, veth pair born inside it, addressing,
// bridge attach, default route.
func (f *Fabric) AllocatePeer() (*Peer, error) {
	unlock, err := f.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	br, _, err := f.ensureBridgeLocked()
	if err != nil {
		return nil, err
	}

	netnsName, netnsPath, err := f.createNetns()
	if err != nil {
		return nil, err
	}

	portCount, err := bridgePortCount(br)
	if err != nil {
		return nil, err
	}
	n := nextVethIndex(portCount)
	hostName := hostVethName(n)
	containerName := containerVethName(n)

	targetNS, err := cni.GetNS(netnsPath)
	if err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "open allocated netns")
	}
	defer targetNS.Close()

	veth := &netlink.Veth{
		LinkAttrs:     netlink.LinkAttrs{Name: hostName},
		PeerName:      containerName,
		PeerNamespace: netlink.NsFd(int(targetNS.Fd())),
	}
	if err := netlink.LinkAdd(veth); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "create veth pair")
	}

	hostLink, err := netlink.LinkByName(hostName)
	if err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "lookup host veth after creation")
	}
	if err := netlink.LinkSetUp(hostLink); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "bring host veth up")
	}

	containerIP := fmt.Sprintf("%s.%d/24", subnetPrefix(f.cfg.BridgeNet), n)
	if err := targetNS.Do(func(cni.NetNS) error {
		link, err := netlink.LinkByName(containerName)
		if err != nil {
			return fmt.Errorf("lookup container veth: %w", err)
		}
		addr, err := netlink.ParseAddr(containerIP)
		if err != nil {
			return fmt.Errorf("parse container address: %w", err)
		}
		if err := netlink.AddrAdd(link, addr); err != nil {
			return fmt.Errorf("assign container address: %w", err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("bring container veth up: %w", err)
		}
		return nil
	}); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "configure container veth")
	}

	// Step 5: attach the host end to the bridge before step 6 installs the
	// container's default route, matching spec §4.2's observable ordering.
	if err := netlink.LinkSetMaster(hostLink, br); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "attach host veth to bridge")
	}

	if err := targetNS.Do(func(cni.NetNS) error {
		link, err := netlink.LinkByName(containerName)
		if err != nil {
			return fmt.Errorf("lookup container veth: %w", err)
		}
		route := &netlink.Route{
			LinkIndex: link.Attrs().Index,
			Gw:        f.cfg.BridgeGateway,
		}
		if err := netlink.RouteAdd(route); err != nil {
			return fmt.Errorf("add default route: %w", err)
		}
		return nil
	}); err != nil {
		return nil, nerr.Wrap(nerr.FabricFailure, err, "add container default route")
	}

	return &Peer{
		NetnsName:     netnsName,
		NetnsPath:     netnsPath,
		HostVeth:      hostName,
		ContainerVeth: containerName,
		ContainerIP:   containerIP,
		Index:         n,
	}, nil
}

// AddPortForward installs a PREROUTING DNAT rule forwarding the host's
// source port to peer's container IP on dest, per spec §4.2 "Port
// forwarding".
func (f *Fabric) AddPortForward(peer *Peer, source, dest int) error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	ip, _, err := net.ParseCIDR(peer.ContainerIP)
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "parse container ip for port forward")
	}

	ipt, err := iptables.New()
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "open iptables")
	}

	dest4 := fmt.Sprintf("%s:%d", ip.String(), dest)
	err = ipt.AppendUnique("nat", "PREROUTING",
		"-i", f.cfg.EgressIface,
		"-p", "tcp", "--dport", fmt.Sprint(source),
		"-j", "DNAT", "--to-destination", dest4)
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "install DNAT rule")
	}

	logging.Log.WithField("source", source).WithField("dest", dest4).Info("port forward installed")
	return nil
}

// ResetNAT flushes every chain in the nat table and reinstalls the
// masquerade rule for the bridge subnet, per spec §4.2 "Masquerade".
func (f *Fabric) ResetNAT() error {
	ipt, err := iptables.New()
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "open iptables")
	}

	chains, err := ipt.ListChains("nat")
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "list nat chains")
	}
	for _, chain := range chains {
		if err := ipt.ClearChain("nat", chain); err != nil {
			return nerr.Wrap(nerr.FabricFailure, err, "flush nat chain "+chain)
		}
	}

	err = ipt.AppendUnique("nat", "POSTROUTING",
		"-s", f.cfg.BridgeNet.String(),
		"-j", "MASQUERADE")
	if err != nil {
		return nerr.Wrap(nerr.FabricFailure, err, "install masquerade rule")
	}
	return nil
}

// Clean performs the teardown sweep from spec §4.2 "Clean sweep": remove
// every bridge port, delete every container-ns-* netns, remove the bridge,
// and reset NAT. Each step is best-effort so a partial prior run is fully
// reclaimed.
func (f *Fabric) Clean() error {
	unlock, err := f.lock()
	if err != nil {
		return err
	}
	defer unlock()

	br, _, err := f.ensureBridgeLocked()
	if err != nil {
		logging.Log.WithError(err).Warn("bridge missing during clean, skipping port removal")
	} else {
		links, lerr := netlink.LinkList()
		if lerr == nil {
			for _, l := range links {
				if l.Attrs().MasterIndex == br.Attrs().Index {
					logging.Log.WithField("iface", l.Attrs().Name).Info("removing bridge port")
					_ = netlink.LinkDel(l)
				}
			}
		}
	}

	names, err := f.listNetns()
	if err == nil {
		for _, n := range names {
			if !strings.HasPrefix(n, f.cfg.NetnsPrefix) {
				continue
			}
			logging.Log.WithField("netns", n).Info("removing netns")
			if err := netns.DeleteNamed(n); err != nil {
				logging.Log.WithError(err).WithField("netns", n).Warn("failed to remove netns")
			}
		}
	}

	if br != nil {
		if err := netlink.LinkDel(br); err != nil {
			logging.Log.WithError(err).Warn("failed to remove bridge")
		}
	}

	return f.ResetNAT()
}

func (f *Fabric) lock() (func(), error) {
	l, err := acquireLock(f.cfg.LockPath())
	if err != nil {
		return nil, err
	}
	return l.release, nil
}

// createNetns allocates a new fabric netns named container-ns-<k>.
func (f *Fabric) createNetns() (name, path string, err error) {
	existing, err := f.listNetns()
	if err != nil {
		return "", "", err
	}
	idx := nextNetnsIndex(existing, f.cfg.NetnsPrefix)
	name = fmt.Sprintf("%s%d", f.cfg.NetnsPrefix, idx)

	// netns.NewNamed switches the calling OS thread into the new namespace
	// as a side effect; restore the host namespace immediately after. Pin the
	// goroutine so capture, create and restore all act on the same thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	origin, err := netns.Get()
	if err != nil {
		return "", "", nerr.Wrap(nerr.FabricFailure, err, "capture host netns")
	}
	defer origin.Close()

	handle, err := netns.NewNamed(name)
	if err != nil {
		return "", "", nerr.Wrap(nerr.FabricFailure, err, "create netns "+name)
	}
	defer handle.Close()

	if err := netns.Set(origin); err != nil {
		return "", "", nerr.Wrap(nerr.FabricFailure, err, "restore host netns")
	}

	return name, filepath.Join(netnsDir, name), nil
}

// listNetns returns the names of all netns's currently registered under
// /var/run/netns; callers filter them by the fabric's prefix.
func (f *Fabric) listNetns() ([]string, error) {
	entries, err := os.ReadDir(netnsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, nerr.Wrap(nerr.FabricFailure, err, "list netns directory")
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func bridgePortCount(br *netlink.Bridge) (int, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return 0, nerr.Wrap(nerr.FabricFailure, err, "list links")
	}
	count := 0
	for _, l := range links {
		if l.Attrs().MasterIndex == br.Attrs().Index {
			count++
		}
	}
	return count, nil
}

// subnetPrefix returns "a.b.c" for a bridge net like 192.168.0.0/24.
func subnetPrefix(n *net.IPNet) string {
	ip4 := n.IP.To4()
	return fmt.Sprintf("%d.%d.%d", ip4[0], ip4[1], ip4[2])
}
