// Package board describes the host a simulated node runs on. The result is
// logged at boot and returned by the inspection RPC.
package board

import (
	"math"
	"net"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info is the collected host description.
type Info struct {
	Hostname  string
	OSName    string
	Kernel    string
	Arch      string
	CPUModel  string
	CPUCores  int
	MemoryGB  float64
	Interface string
	IPAddress string
	HostBoot  time.Time
}

// Collect gathers host information. iface, when set, selects the network
// interface the air medium uses; otherwise the first usable one is reported.
// Missing pieces are left empty rather than failing.
func Collect(iface string) (*Info, error) {
	name, ip, err := primaryInterface(iface)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()
	osName, kernel := osInfo()

	info := &Info{
		Hostname:  hostname,
		OSName:    osName,
		Kernel:    kernel,
		Arch:      runtime.GOARCH,
		CPUCores:  runtime.NumCPU(),
		Interface: name,
		IPAddress: ip,
	}

	if cpuInfo, err := cpu.Info(); err == nil && len(cpuInfo) > 0 {
		info.CPUModel = cpuInfo[0].ModelName
	}

	if memInfo, err := mem.VirtualMemory(); err == nil {
		info.MemoryGB = math.Round(float64(memInfo.Total)/(1024*1024*1024)*100) / 100
	}

	if boot, err := host.BootTime(); err == nil {
		info.HostBoot = time.Unix(int64(boot), 0)
	}

	return info, nil
}

// primaryInterface returns the name and IPv4 address of the named interface,
// or of the first up, non-loopback, multicast-capable one.
func primaryInterface(want string) (string, string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", "", err
	}

	for _, iface := range ifaces {
		if want != "" && iface.Name != want {
			continue
		}
		if want == "" {
			if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if iface.Flags&net.FlagMulticast == 0 {
				continue
			}
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.To4() != nil {
				return iface.Name, ipNet.IP.String(), nil
			}
		}
	}

	return "", "", nil
}

// osInfo retrieves OS name and kernel version.
func osInfo() (string, string) {
	var osName, kernel string

	hostInfo, err := host.Info()
	if err == nil {
		osName = hostInfo.Platform
		if hostInfo.PlatformVersion != "" {
			osName += " " + hostInfo.PlatformVersion
		}
		kernel = hostInfo.KernelVersion
	} else {
		osName = runtime.GOOS
	}

	if runtime.GOOS == "linux" {
		if prettyName := readOSReleasePrettyName(); prettyName != "" {
			osName = prettyName
		}
	}

	return osName, kernel
}

// readOSReleasePrettyName parses /etc/os-release for the PRETTY_NAME field.
func readOSReleasePrettyName() string {
	data, err := os.ReadFile("/etc/os-release")
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "PRETTY_NAME=") {
			return strings.Trim(strings.TrimPrefix(line, "PRETTY_NAME="), "\"")
		}
	}
	return ""
}
