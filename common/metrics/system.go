package metrics

import (
	"bufio"
	"bytes"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// hostFiles are the files host detection reads; tests point them at fixtures
var hostFiles = struct {
	osRelease, cpuinfo, meminfo, cgroup, dockerEnv, k8sSecrets string
}{
	osRelease:  "/etc/os-release",
	cpuinfo:    "/proc/cpuinfo",
	meminfo:    "/proc/meminfo",
	cgroup:     "/proc/1/cgroup",
	dockerEnv:  "/.dockerenv",
	k8sSecrets: "/var/run/secrets/kubernetes.io",
}

// captureSystemInfo reads host details once at startup
func captureSystemInfo() *SystemInfo {
	info := &SystemInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		CPULogical: runtime.NumCPU(),
		CPUCores:   runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		Hostname:   "unknown",
		OSVersion:  "unknown",
	}
	if hostname, err := os.Hostname(); err == nil {
		info.Hostname = hostname
	}
	info.InContainer, info.ContainerRuntime = detectContainer()

	switch runtime.GOOS {
	case "linux":
		if data, err := os.ReadFile(hostFiles.osRelease); err == nil {
			info.OSVersion = parseOSRelease(data)
		}
		if data, err := os.ReadFile(hostFiles.cpuinfo); err == nil {
			if n := parseCoreCount(data); n > 0 {
				info.CPUCores = n
			}
		}
		if data, err := os.ReadFile(hostFiles.meminfo); err == nil {
			info.TotalMemoryMB = parseMemTotalKB(data) / 1024
		}
	case "darwin":
		if v := sysctl("kern.osproductversion"); v != "" {
			info.OSVersion = "macOS " + v
		}
		if n, err := strconv.Atoi(sysctl("hw.physicalcpu")); err == nil && n > 0 {
			info.CPUCores = n
		}
		if b, err := strconv.ParseUint(sysctl("hw.memsize"), 10, 64); err == nil {
			info.TotalMemoryMB = b / 1024 / 1024
		}
	}
	return info
}

// detectContainer checks marker files first, then the init cgroup
func detectContainer() (bool, string) {
	if _, err := os.Stat(hostFiles.dockerEnv); err == nil {
		return true, "docker"
	}
	if _, err := os.Stat(hostFiles.k8sSecrets); err == nil {
		return true, "kubernetes"
	}
	data, err := os.ReadFile(hostFiles.cgroup)
	if err != nil {
		return false, ""
	}
	return containerFromCgroup(data)
}

func containerFromCgroup(data []byte) (bool, string) {
	for _, marker := range []struct{ needle, runtime string }{
		{"kubepods", "kubernetes"},
		{"docker", "docker"},
		{"containerd", "containerd"},
	} {
		if bytes.Contains(data, []byte(marker.needle)) {
			return true, marker.runtime
		}
	}
	return false, ""
}

// parseOSRelease prefers PRETTY_NAME, then NAME plus VERSION
func parseOSRelease(data []byte) string {
	fields := map[string]string{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if ok {
			fields[key] = strings.Trim(value, `"`)
		}
	}
	if v := fields["PRETTY_NAME"]; v != "" {
		return v
	}
	return strings.TrimSpace(fields["NAME"] + " " + fields["VERSION"])
}

// parseCoreCount counts distinct (physical id, core id) pairs
func parseCoreCount(data []byte) int {
	cores := map[string]struct{}{}
	var physical string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "physical id":
			physical = strings.TrimSpace(value)
		case "core id":
			cores[physical+"/"+strings.TrimSpace(value)] = struct{}{}
		}
	}
	return len(cores)
}

// parseMemTotalKB returns the MemTotal line of /proc/meminfo in kB
func parseMemTotalKB(data []byte) uint64 {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err == nil {
				return kb
			}
		}
	}
	return 0
}

func sysctl(name string) string {
	out, err := exec.Command("sysctl", "-n", name).Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
