// Command dpisieve-genpcap writes a capture file of synthetic traffic:
// a majority of random filler TCP packets, plus one scenario packet for
// each scenario flag that is set (a TLS ClientHello with a given SNI, an HTTP request
// with a given Host header, a DNS query for a given name) so the engine
// and its sniffers have something deterministic to exercise in tests.
package main

import (
	"encoding/binary"
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

func main() {
	outputFile := flag.String("o", "test.pcap", "output capture file path")
	packetCount := flag.Int("c", 1000, "number of random filler packets to generate")
	tlsSNI := flag.String("tls-sni", "", "also emit one TLS ClientHello packet advertising this SNI")
	httpHost := flag.String("http-host", "", "also emit one HTTP GET packet with this Host header")
	dnsName := flag.String("dns-name", "", "also emit one DNS query packet for this name")
	seed := flag.Int64("seed", 1, "PRNG seed, for reproducible fixtures")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("creating output file: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		log.Fatalf("writing capture header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))

	log.Printf("generating %d filler packets into %s", *packetCount, *outputFile)
	for i := 0; i < *packetCount; i++ {
		if err := writeRandomPacket(w, rng); err != nil {
			log.Fatalf("writing filler packet %d: %v", i, err)
		}
	}

	if *tlsSNI != "" {
		if err := writeTLSClientHello(w, rng, *tlsSNI); err != nil {
			log.Fatalf("writing TLS ClientHello packet: %v", err)
		}
		log.Printf("wrote one TLS ClientHello packet for SNI %q", *tlsSNI)
	}
	if *httpHost != "" {
		if err := writeHTTPRequest(w, rng, *httpHost); err != nil {
			log.Fatalf("writing HTTP request packet: %v", err)
		}
		log.Printf("wrote one HTTP GET packet for Host %q", *httpHost)
	}
	if *dnsName != "" {
		if err := writeDNSQuery(w, rng, *dnsName); err != nil {
			log.Fatalf("writing DNS query packet: %v", err)
		}
		log.Printf("wrote one DNS query packet for name %q", *dnsName)
	}

	log.Printf("done: %s", *outputFile)
}

func randomIP(rng *rand.Rand) net.IP {
	return net.IP{byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256)), byte(rng.Intn(256))}
}

func writeRandomPacket(w *pcapgo.Writer, rng *rand.Rand) error {
	srcPort := layers.TCPPort(rng.Intn(65535-1024) + 1024)
	dstPort := layers.TCPPort(rng.Intn(65535-1024) + 1024)
	payload := make([]byte, rng.Intn(1400)+50)
	rng.Read(payload)

	return writeTCPPacket(w, randomIP(rng), randomIP(rng), srcPort, dstPort, payload)
}

// writeTLSClientHello builds a minimal but structurally valid TLS
// ClientHello carrying a server_name extension, matching the byte
// layout internal/sniff.TLSClientHelloSNI parses.
func writeTLSClientHello(w *pcapgo.Writer, rng *rand.Rand, sni string) error {
	nameBytes := []byte(sni)

	serverNameEntry := append([]byte{0x00}, u16(uint16(len(nameBytes)))...)
	serverNameEntry = append(serverNameEntry, nameBytes...)
	serverNameList := append(u16(uint16(len(serverNameEntry))), serverNameEntry...)
	sniExtension := append([]byte{0x00, 0x00}, u16(uint16(len(serverNameList)))...)
	sniExtension = append(sniExtension, serverNameList...)

	extensions := sniExtension
	session := []byte{0x00}               // session ID length 0
	cipherSuites := append(u16(2), 0x13, 0x01) // one TLS 1.3 cipher
	compression := []byte{0x01, 0x00}     // one compression method, null

	body := []byte{0x03, 0x03} // client version TLS 1.2
	body = append(body, make([]byte, 32)...) // random
	body = append(body, session...)
	body = append(body, cipherSuites...)
	body = append(body, compression...)
	body = append(body, u16(uint16(len(extensions)))...)
	body = append(body, extensions...)

	handshake := append([]byte{0x01}, u24(uint32(len(body)))...)
	handshake = append(handshake, body...)

	record := []byte{0x16, 0x03, 0x01}
	record = append(record, u16(uint16(len(handshake)))...)
	record = append(record, handshake...)

	return writeTCPPacket(w, randomIP(rng), randomIP(rng), layers.TCPPort(rng.Intn(60000)+1024), 443, record)
}

func writeHTTPRequest(w *pcapgo.Writer, rng *rand.Rand, host string) error {
	req := "GET / HTTP/1.1\r\nHost: " + host + "\r\nUser-Agent: dpisieve-genpcap\r\nAccept: */*\r\n\r\n"
	return writeTCPPacket(w, randomIP(rng), randomIP(rng), layers.TCPPort(rng.Intn(60000)+1024), 80, []byte(req))
}

// writeDNSQuery builds a real DNS query message via gopacket/layers, so
// the label encoding internal/sniff.DNSQueryName parses is exactly what
// a resolver would produce, not a hand-approximated version of it.
func writeDNSQuery(w *pcapgo.Writer, rng *rand.Rand, name string) error {
	dns := layers.DNS{
		ID:     uint16(rng.Intn(65536)),
		QR:     false,
		OpCode: layers.DNSOpCodeQuery,
		RD:     true,
		Questions: []layers.DNSQuestion{{
			Name:  []byte(strings.TrimSuffix(name, ".")),
			Type:  layers.DNSTypeA,
			Class: layers.DNSClassIN,
		}},
	}
	dns.QDCount = uint16(len(dns.Questions))

	buf := gopacket.NewSerializeBuffer()
	if err := dns.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return err
	}

	return writeUDPPacket(w, randomIP(rng), randomIP(rng), layers.UDPPort(rng.Intn(60000)+1024), 53, buf.Bytes())
}

func writeTCPPacket(w *pcapgo.Writer, srcIP, dstIP net.IP, srcPort, dstPort layers.TCPPort, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP: srcIP, DstIP: dstIP, Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP,
	}
	tcp := &layers.TCP{SrcPort: srcPort, DstPort: dstPort, Ack: 1, Seq: 1, PSH: true, ACK: true, Window: 14600}
	tcp.SetNetworkLayerForChecksum(ip)

	return serializeAndWrite(w, eth, ip, tcp, gopacket.Payload(payload))
}

func writeUDPPacket(w *pcapgo.Writer, srcIP, dstIP net.IP, srcPort, dstPort layers.UDPPort, payload []byte) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		SrcIP: srcIP, DstIP: dstIP, Version: 4, TTL: 64, Protocol: layers.IPProtocolUDP,
	}
	udp := &layers.UDP{SrcPort: srcPort, DstPort: dstPort}
	udp.SetNetworkLayerForChecksum(ip)

	return serializeAndWrite(w, eth, ip, udp, gopacket.Payload(payload))
}

func serializeAndWrite(w *pcapgo.Writer, layerList ...gopacket.SerializableLayer) error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, layerList...); err != nil {
		return err
	}
	ci := gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(buf.Bytes()), Length: len(buf.Bytes())}
	return w.WritePacket(ci, buf.Bytes())
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u24(v uint32) []byte {
	return []byte{byte(v >> 16), byte(v >> 8), byte(v)}
}
