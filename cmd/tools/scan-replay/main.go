//go:build pcap
// +build pcap

// Command scan-replay converts a PCAP capture of LiDAR UDP traffic
// into a JSON-lines scan log consumable by the scanfront replay
// command.
//
// Packet payloads are decoded as packed little-endian point records
// (float32 x, y, z followed by one intensity byte). Packets are
// grouped into scans by capture-time gaps: a quiet interval longer
// than -frame-gap closes the current scan.
//
// Usage:
//
//	go run -tags pcap ./cmd/tools/scan-replay [flags]
//
// Flags:
//
//	-pcap       Path to the PCAP capture (required)
//	-out        Path to the scan log to write (required)
//	-port       UDP port carrying LiDAR payloads (default: 2368)
//	-frame      Sensor frame identifier stamped on each scan
//	-frame-gap  Quiet interval that closes a scan (default: 50ms)
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/ridgeline-robotics/scanfront/internal/scan"
)

const pointRecordSize = 13 // 3 x float32 + intensity byte

// decodePoints unpacks the payload's packed point records. Trailing
// partial records are ignored.
func decodePoints(payload []byte) []scan.Point {
	n := len(payload) / pointRecordSize
	points := make([]scan.Point, 0, n)
	for i := 0; i < n; i++ {
		rec := payload[i*pointRecordSize:]
		points = append(points, scan.Point{
			X:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			Y:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			Z:         float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			Intensity: rec[12],
		})
	}
	return points
}

func main() {
	pcapPath := flag.String("pcap", "", "Path to PCAP capture (required)")
	outPath := flag.String("out", "", "Path to scan log to write (required)")
	port := flag.Int("port", 2368, "UDP port carrying LiDAR payloads")
	frameID := flag.String("frame", "velodyne", "Sensor frame identifier")
	frameGap := flag.Duration("frame-gap", 50*time.Millisecond, "Quiet interval that closes a scan")
	flag.Parse()

	if *pcapPath == "" || *outPath == "" {
		log.Fatal("Error: -pcap and -out flags are required")
	}

	handle, err := pcap.OpenOffline(*pcapPath)
	if err != nil {
		log.Fatalf("Failed to open PCAP file: %v", err)
	}
	defer handle.Close()

	filter := fmt.Sprintf("udp port %d", *port)
	if err := handle.SetBPFFilter(filter); err != nil {
		log.Fatalf("Failed to set BPF filter %q: %v", filter, err)
	}

	out, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("Failed to create scan log: %v", err)
	}
	defer out.Close()
	writer := scan.NewWriter(out)

	var (
		current    *scan.Scan
		lastPacket time.Time
		seq        uint32
		packets    int
		emitted    int
	)
	flush := func() {
		if current == nil || current.Len() == 0 {
			current = nil
			return
		}
		if err := writer.Write(current); err != nil {
			log.Fatalf("Failed to write scan %d: %v", current.Seq, err)
		}
		emitted++
		current = nil
	}

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		udpLayer := packet.Layer(layers.LayerTypeUDP)
		if udpLayer == nil {
			continue
		}
		udp, ok := udpLayer.(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		packets++

		ts := packet.Metadata().Timestamp
		if current != nil && ts.Sub(lastPacket) > *frameGap {
			flush()
		}
		if current == nil {
			current = &scan.Scan{Seq: seq, Stamp: ts, Frame: *frameID}
			seq++
		}
		current.Points = append(current.Points, decodePoints(udp.Payload)...)
		lastPacket = ts
	}
	flush()

	if err := writer.Flush(); err != nil {
		log.Fatalf("Failed to flush scan log: %v", err)
	}
	log.Printf("Converted %d packets into %d scans at %s", packets, emitted, *outPath)
}
