package rdmadev

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/Mellanox/rdmamap"

	"github.com/openrdma/gorpma/internal/rpma"
)

// sysfsClassInfiniband is where the kernel publishes one directory per RDMA
// device, each holding a ports/ subdirectory numbered from 1.
const sysfsClassInfiniband = "/sys/class/infiniband"

// Device describes a local RDMA device and the port numbers it exposes.
type Device struct {
	Name  string
	Ports []int
}

// List enumerates the RDMA devices visible to this host.
func List() ([]Device, error) {
	names := rdmamap.GetRdmaDeviceList()
	devices := make([]Device, 0, len(names))
	for _, name := range names {
		ports, err := ports(name)
		if err != nil {
			return nil, fmt.Errorf("rdmadev: list ports for %s: %w", name, err)
		}
		devices = append(devices, Device{Name: name, Ports: ports})
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// ports reads the port numbers a device exposes under sysfs.
func ports(name string) ([]int, error) {
	entries, err := os.ReadDir(filepath.Join(sysfsClassInfiniband, name, "ports"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	nums := make([]int, 0, len(entries))
	for _, e := range entries {
		n, convErr := strconv.Atoi(e.Name())
		if convErr != nil {
			continue
		}
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums, nil
}

// Resolve validates that name/port names a present device and port, returning
// the DeviceRef a rpma.Peer is allocated against. This is the daemon's
// config-to-hardware binding step: it runs once at startup so a typo in the
// device name fails fast instead of surfacing as an opaque Provider error
// from AllocPD.
func Resolve(name string, port int) (rpma.DeviceRef, error) {
	devices, err := List()
	if err != nil {
		return rpma.DeviceRef{}, err
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		for _, p := range d.Ports {
			if p == port {
				return rpma.DeviceRef{Name: name, Port: port}, nil
			}
		}
		return rpma.DeviceRef{}, fmt.Errorf("rdmadev: device %q has no port %d (available: %s)", name, port, joinPorts(d.Ports))
	}
	return rpma.DeviceRef{}, fmt.Errorf("rdmadev: device %q not found (available: %s)", name, joinNames(devices))
}

func joinPorts(ports []int) string {
	s := make([]string, len(ports))
	for i, p := range ports {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ", ")
}

func joinNames(devices []Device) string {
	s := make([]string, len(devices))
	for i, d := range devices {
		s[i] = d.Name
	}
	return strings.Join(s, ", ")
}
