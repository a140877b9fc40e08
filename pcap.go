package lanchain

// pcap.go writes the frames seen by one interface into a capture file
// readable by the usual packet tools.  Frames are rebuilt from the simulated
// packet as Ethernet, IPv4 and UDP headers in front of a payload that starts
// with the sequence number and send timestamp.

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

const (
	ethHeaderLen  = 14
	ipv4HeaderLen = 20
	udpHeaderLen  = 8
	pcapSnapLen   = 65536
)

// pcapWriter is an open capture file
type pcapWriter struct {
	path string
	file *os.File
	bw   *bufio.Writer
	pw   *pcapgo.Writer
}

// createPcapWriter creates the capture file and writes its header
func createPcapWriter(path string) (*pcapWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	pcw := &pcapWriter{path: path, file: file, bw: bufio.NewWriter(file)}
	pcw.pw = pcapgo.NewWriter(pcw.bw)
	if err := pcw.pw.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		file.Close()
		return nil, err
	}
	return pcw, nil
}

// writeFrame records pkt crossing the segment from src to dst at simulation
// time now
func (pcw *pcapWriter) writeFrame(now float64, src, dst *simIntrfc, pkt *packet) error {
	data, err := serializeFrame(src.mac, dst.mac, pkt)
	if err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     simTimestamp(now),
		CaptureLength: len(data),
		Length:        len(data),
	}
	return pcw.pw.WritePacket(ci, data)
}

// close flushes and closes the capture file
func (pcw *pcapWriter) close() error {
	flushErr := pcw.bw.Flush()
	closeErr := pcw.file.Close()
	if flushErr != nil {
		return fmt.Errorf("%s: %w", pcw.path, flushErr)
	}
	return closeErr
}

// serializeFrame builds the wire image of pkt
func serializeFrame(srcMAC, dstMAC net.HardwareAddr, pkt *packet) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       srcMAC,
		DstMAC:       dstMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      uint8(pkt.ttl),
		Id:       uint16(pkt.uid),
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(pkt.src.AsSlice()),
		DstIP:    net.IP(pkt.dst.AsSlice()),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(pkt.srcPort),
		DstPort: layers.UDPPort(pkt.dstPort),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(pkt.payload()))
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// payload returns the datagram body: sequence number then send time in
// nanoseconds, zero padded to the packet size
func (pkt *packet) payload() []byte {
	body := make([]byte, pkt.size)
	if pkt.size < seqTsHeaderLen {
		return body
	}
	binary.BigEndian.PutUint32(body[0:4], pkt.seq)
	binary.BigEndian.PutUint64(body[4:12], uint64(math.Round(pkt.sentAt*1e9)))
	return body
}

// simTimestamp maps simulation seconds onto the capture clock, which starts
// at the epoch
func simTimestamp(now float64) time.Time {
	return time.Unix(0, 0).Add(time.Duration(math.Round(now * float64(time.Second)))).UTC()
}

// intrfcMAC derives a locally unique hardware address from an interface number
func intrfcMAC(number int) net.HardwareAddr {
	n := number + 1
	return net.HardwareAddr{0x00, 0x00, 0x00, byte(n >> 16), byte(n >> 8), byte(n)}
}
