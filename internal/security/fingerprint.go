package security

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
)

// ErrNoMachineID is returned when no stable machine identifier could be read
var ErrNoMachineID = errors.New("no machine identifier available")

// IdentitySource supplies the raw host identifiers used for activation
type IdentitySource interface {
	MachineID() ([]byte, error)
	Hostname() (string, error)
	OSName() string
}

// Signatures holds the one-way digests of the host identifiers
type Signatures struct {
	MachineSignature  string
	HostnameSignature string
	OSName            string
}

// Digest returns the lowercase hex SHA-256 of data
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign reads the identifiers from src and digests them. Raw identifiers
// never leave this function.
func Sign(src IdentitySource) (Signatures, error) {
	machineID, err := src.MachineID()
	if err != nil {
		return Signatures{}, fmt.Errorf("failed to read machine id: %w", err)
	}
	hostname, err := src.Hostname()
	if err != nil {
		return Signatures{}, fmt.Errorf("failed to read hostname: %w", err)
	}
	return Signatures{
		MachineSignature:  Digest(machineID),
		HostnameSignature: Digest([]byte(hostname)),
		OSName:            src.OSName(),
	}, nil
}

// SystemIdentity reads identifiers from the running machine. Results are
// cached for the life of the process.
type SystemIdentity struct {
	logger *slog.Logger

	// machineIDPaths are checked in order on linux
	machineIDPaths []string
	osReleasePath  string

	once      sync.Once
	machineID []byte
	machErr   error
}

// NewSystemIdentity creates an identity source for this host
func NewSystemIdentity(logger *slog.Logger) *SystemIdentity {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemIdentity{
		logger:         logger.With("component", "identity"),
		machineIDPaths: []string{"/etc/machine-id", "/var/lib/dbus/machine-id"},
		osReleasePath:  "/etc/os-release",
	}
}

// MachineID returns the OS machine identifier, falling back to the primary
// MAC address
func (s *SystemIdentity) MachineID() ([]byte, error) {
	s.once.Do(func() {
		s.machineID, s.machErr = s.readMachineID()
	})
	return s.machineID, s.machErr
}

func (s *SystemIdentity) readMachineID() ([]byte, error) {
	var id string
	switch runtime.GOOS {
	case "linux", "freebsd", "openbsd", "netbsd":
		id = s.readFirstFile(s.machineIDPaths)
	case "darwin":
		id = darwinPlatformUUID()
	case "windows":
		id = windowsMachineGUID()
	}

	if id != "" {
		return []byte(id), nil
	}

	mac, err := primaryMACAddress()
	if err != nil {
		s.logger.Warn("no machine id source available",
			slog.String("os", runtime.GOOS),
			slog.String("error", err.Error()))
		return nil, ErrNoMachineID
	}
	s.logger.Warn("using MAC address as machine id fallback", slog.String("os", runtime.GOOS))
	return []byte(mac), nil
}

func (s *SystemIdentity) readFirstFile(paths []string) string {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}

func darwinPlatformUUID() string {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		if parts := strings.Split(line, "\""); len(parts) >= 4 {
			return parts[3]
		}
	}
	return ""
}

func windowsMachineGUID() string {
	out, err := exec.Command("reg", "query", `HKLM\SOFTWARE\Microsoft\Cryptography`, "/v", "MachineGuid").Output()
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 3 && fields[0] == "MachineGuid" {
			return fields[2]
		}
	}
	return ""
}

// primaryMACAddress returns the first non-loopback hardware address
func primaryMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}
	return "", errors.New("no valid MAC address found")
}

// Hostname returns the local host name
func (s *SystemIdentity) Hostname() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.TrimSpace(hostname)
	if hostname == "" {
		return "", errors.New("hostname is empty")
	}
	return hostname, nil
}

// OSName returns a human readable operating system name
func (s *SystemIdentity) OSName() string {
	switch runtime.GOOS {
	case "linux":
		if name := prettyNameFromOSRelease(s.osReleasePath); name != "" {
			return name
		}
	case "darwin":
		if out, err := exec.Command("sw_vers", "-productVersion").Output(); err == nil {
			return "macOS " + strings.TrimSpace(string(out))
		}
	case "windows":
		return "Windows"
	}
	return runtime.GOOS + " " + runtime.GOARCH
}

func prettyNameFromOSRelease(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if v, ok := strings.CutPrefix(line, "PRETTY_NAME="); ok {
			return strings.Trim(v, `"'`)
		}
	}
	return ""
}

// StaticIdentity is an IdentitySource with fixed values
type StaticIdentity struct {
	Machine string
	Host    string
	OS      string
}

func (s StaticIdentity) MachineID() ([]byte, error) {
	if s.Machine == "" {
		return nil, ErrNoMachineID
	}
	return []byte(s.Machine), nil
}

func (s StaticIdentity) Hostname() (string, error) {
	if s.Host == "" {
		return "", errors.New("hostname is empty")
	}
	return s.Host, nil
}

func (s StaticIdentity) OSName() string {
	if s.OS == "" {
		return runtime.GOOS
	}
	return s.OS
}
