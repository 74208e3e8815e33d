// Package hostinfo samples the CPU/disk/interface snapshot served by the
// ListCpus/ListDisks/ListIfaces requests (§4.5). No dependency in the
// pack wraps /proc and statfs portably for this narrow a need, so this
// stays on the standard library (see DESIGN.md).
package hostinfo

import (
	"net"
	"runtime"

	"github.com/j45k4/puppynet/internal/wire"
)

// CPUs reports one entry per logical CPU. Per-core usage sampling needs a
// windowed /proc/stat read this snapshot does not attempt; UsedPct is
// left at 0 until a sampling window is wired in.
func CPUs() []wire.CPU {
	n := runtime.NumCPU()
	out := make([]wire.CPU, n)
	for i := range out {
		out[i] = wire.CPU{Name: "cpu", Cores: 1, UsedPct: 0, FrequencyM: 0}
	}
	return out
}

// Disks reports the filesystems named in mounts, skipping any that fail
// to stat (e.g. not present on this platform).
func Disks(mounts []string) []wire.Disk {
	var out []wire.Disk
	for _, m := range mounts {
		total, avail, fstype, err := statMount(m)
		if err != nil {
			continue
		}
		out = append(out, wire.Disk{Mount: m, Total: total, Available: avail, Fstype: fstype})
	}
	return out
}

// Interfaces reports every non-loopback network interface with at least
// one address.
func Interfaces() []wire.Interface {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var out []wire.Interface
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := ifc.Addrs()
		if err != nil || len(addrs) == 0 {
			continue
		}
		out = append(out, wire.Interface{
			Name: ifc.Name,
			Addr: addrs[0].String(),
			MAC:  ifc.HardwareAddr.String(),
		})
	}
	return out
}
