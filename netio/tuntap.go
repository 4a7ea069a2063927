// Package netio implements the tun/tap source/sink pair and the
// filter and compressor elements that sit between the kernel network
// interface and the mandate queue: tun/tap (recv/send raw frames) →
// NetFilter (address derivation, subnet drop) → PacketCompressor
// (wire compression toggle) → mandate queue.
package netio

import (
	"fmt"
	"net"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"

	"dragonradio/pkt"
)

const cloneDevice = "/dev/net/tun"

// TunTap is a tap-mode network interface: every read/write carries a
// full Ethernet frame. Persistent interfaces are assumed to already
// exist and are left untouched by Close; non-persistent ones are
// configured (address, MAC, MTU) and torn down by this code.
type TunTap struct {
	fd         *os.File
	name       string
	mtu        int
	nodeID     uint8
	persistent bool
}

// Open allocates (or attaches to, if persistent) a tap interface named
// name for nodeID, with the given MTU. When !persistent, the
// interface is created, given the conventional address/MAC for
// nodeID, and brought up via external networking tools, mirroring the
// original's use of ifconfig/ip.
func Open(name string, nodeID uint8, mtu int, persistent bool) (*TunTap, error) {
	fd, err := tapAlloc(name)
	if err != nil {
		return nil, fmt.Errorf("netio: open %s: %w", name, err)
	}

	t := &TunTap{fd: fd, name: name, mtu: mtu, nodeID: nodeID, persistent: persistent}

	if !persistent {
		if err := t.configure(); err != nil {
			fd.Close()
			return nil, err
		}
	}

	return t, nil
}

// tapAlloc opens the tun clone device and attaches it to a tap
// interface via TUNSETIFF, following the original tap_alloc.
func tapAlloc(name string) (*os.File, error) {
	fd, err := unix.Open(cloneDevice, unix.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	var ifr unix.Ifreq
	ifr, err = unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	ifr.SetUint32(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, &ifr); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return os.NewFile(uintptr(fd), cloneDevice), nil
}

// AddrForNode returns the conventional internal-network IP address
// for a node id: 10.10.10.<id>.
func AddrForNode(id uint8) net.IP {
	return net.IPv4(10, 10, 10, id)
}

// MACForNode returns the conventional MAC address for a node id, with
// the node id packed into the address's last octet so that the
// filter element can recover it with a single byte read.
func MACForNode(id uint8) net.HardwareAddr {
	return net.HardwareAddr{0xc6, 0xff, 0xff, 0xff, 0x00, id}
}

// configure shells out to ip to bring up the interface with
// its conventional address, MAC, and MTU, matching the original's
// system() calls during non-persistent setup.
func (t *TunTap) configure() error {
	addr := AddrForNode(t.nodeID)
	mac := MACForNode(t.nodeID)

	cmds := [][]string{
		{"ip", "link", "set", "dev", t.name, "address", mac.String()},
		{"ip", "addr", "add", fmt.Sprintf("%s/24", addr), "dev", t.name},
		{"ip", "link", "set", "dev", t.name, "mtu", fmt.Sprintf("%d", t.mtu)},
		{"ip", "link", "set", "dev", t.name, "up"},
	}
	for _, args := range cmds {
		cmd := exec.Command(args[0], args[1:]...)
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("netio: %v: %w: %s", args, err, out)
		}
	}
	return nil
}

// AddARPEntry statically populates the ARP table with the
// conventional address/MAC for a peer node, so that the kernel
// doesn't need to ARP over an interface with no broadcast path to the
// rest of the mesh. Mirrors the original's add_arp_entries.
func (t *TunTap) AddARPEntry(peerID uint8) error {
	addr := AddrForNode(peerID)
	mac := MACForNode(peerID)
	cmd := exec.Command("ip", "neigh", "replace", addr.String(), "lladdr", mac.String(), "dev", t.name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("netio: arp entry for node %d: %w: %s", peerID, err, out)
	}
	return nil
}

// Recv reads one raw Ethernet frame from the interface and wraps it
// in a NetPacket whose ExtendedHeader has only DataLen filled in; src
// and dest, curhop and nexthop, are the filter element's job.
func (t *TunTap) Recv() (*pkt.NetPacket, bool) {
	buf := make([]byte, t.mtu+14)
	n, err := t.fd.Read(buf)
	if err != nil || n == 0 {
		return nil, false
	}

	payload := make([]byte, pkt.ExtendedHeaderSize+n)
	ehdr := pkt.ExtendedHeader{DataLen: uint16(n)}
	ehdr.Marshal(payload[:pkt.ExtendedHeaderSize])
	copy(payload[pkt.ExtendedHeaderSize:], buf[:n])

	return &pkt.NetPacket{Packet: pkt.Packet{Payload: payload}}, true
}

// Send writes a decoded RadioPacket's data region back out as a raw
// Ethernet frame.
func (t *TunTap) Send(rp *pkt.RadioPacket) error {
	data, err := rp.Data()
	if err != nil {
		return err
	}
	_, err = t.fd.Write(data)
	return err
}

// Close releases the file descriptor and, for non-persistent
// interfaces, deletes the tap device.
func (t *TunTap) Close() error {
	err := t.fd.Close()
	if !t.persistent {
		exec.Command("ip", "tuntap", "del", "dev", t.name, "mode", "tap").Run()
	}
	return err
}
