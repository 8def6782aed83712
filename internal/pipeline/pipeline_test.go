// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"

	"go.uber.org/zap"

	"dpi/internal/capture"
	"dpi/internal/classify"
	"dpi/internal/dissect"
	"dpi/internal/export"
	"dpi/internal/rules"
)

// --- synthetic traffic builders -------------------------------------------

const (
	clientIP = 0x0a000001 // 10.0.0.1
	serverIP = 0x8efa502e // 142.250.80.46
)

func tcpFrame(srcIP, dstIP uint32, srcPort, dstPort uint16, flags uint8, payload []byte) []byte {
	frame := make([]byte, 14+20+20+len(payload))
	binary.BigEndian.PutUint16(frame[12:], 0x0800)

	ip := frame[14:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:], uint16(40+len(payload)))
	ip[8] = 64
	ip[9] = 6
	binary.BigEndian.PutUint32(ip[12:], srcIP)
	binary.BigEndian.PutUint32(ip[16:], dstIP)

	tcp := frame[34:]
	binary.BigEndian.PutUint16(tcp[0:], srcPort)
	binary.BigEndian.PutUint16(tcp[2:], dstPort)
	tcp[12] = 5 << 4
	tcp[13] = flags

	copy(frame[54:], payload)
	return frame
}

func arpFrame() []byte {
	frame := make([]byte, 42)
	binary.BigEndian.PutUint16(frame[12:], 0x0806)
	return frame
}

// clientHello builds a TLS record whose ClientHello carries the given SNI.
func clientHello(sni string) []byte {
	name := []byte(sni)
	entry := append([]byte{0x00, byte(len(name) >> 8), byte(len(name))}, name...)
	list := append([]byte{byte(len(entry) >> 8), byte(len(entry))}, entry...)
	ext := append([]byte{0x00, 0x00, byte(len(list) >> 8), byte(len(list))}, list...)

	body := []byte{0x03, 0x03}
	body = append(body, make([]byte, 32)...)
	body = append(body, 0x00)                   // session_id
	body = append(body, 0x00, 0x02, 0x13, 0x01) // cipher suites
	body = append(body, 0x01, 0x00)             // compression
	body = append(body, byte(len(ext)>>8), byte(len(ext)))
	body = append(body, ext...)

	hs := append([]byte{0x01, byte(len(body) >> 16), byte(len(body) >> 8), byte(len(body))}, body...)
	return append([]byte{0x16, 0x03, 0x01, byte(len(hs) >> 8), byte(len(hs))}, hs...)
}

// buildCapture serializes frames into an in-memory PCAP, one second apart.
func buildCapture(t *testing.T, frames [][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := capture.NewWriter(&buf, 65535)
	if err != nil {
		t.Fatal(err)
	}
	for i, frame := range frames {
		rec := capture.Record{TsSec: uint32(1000 + i), TsUsec: uint32(i), OrigLen: uint32(len(frame)), Data: frame}
		if err := w.WriteRecord(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// memSink captures exported flow summaries for assertions.
type memSink struct {
	mu    sync.Mutex
	flows []export.FlowSummary
}

func (s *memSink) OnFlows(f []export.FlowSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows = append(s.flows, f...)
}
func (s *memSink) Close() error { return nil }

func runEngine(t *testing.T, cfg Config, ruleSet *rules.Set, sink export.Sink, pcap []byte) (*Report, []capture.Record) {
	t.Helper()
	src, err := capture.NewReader(bytes.NewReader(pcap))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	var out bytes.Buffer
	dst, err := capture.NewWriter(&out, src.Snaplen())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	eng := New(cfg, ruleSet, classify.NewClassifier(), sink, zap.NewNop())
	report, err := eng.Run(context.Background(), src, dst)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	rd, err := capture.NewReader(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("re-reading output: %v", err)
	}
	var recs []capture.Record
	for {
		rec, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("output Next: %v", err)
		}
		recs = append(recs, rec)
	}
	return report, recs
}

// httpsFlow emits a handshake, a ClientHello carrying sni, then extra data
// packets in both directions.
func httpsFlow(sni string, extraData int) [][]byte {
	frames := [][]byte{
		tcpFrame(clientIP, serverIP, 40000, 443, dissect.TCPSyn, nil),
		tcpFrame(serverIP, clientIP, 443, 40000, dissect.TCPSyn|dissect.TCPAck, nil),
		tcpFrame(clientIP, serverIP, 40000, 443, dissect.TCPAck, nil),
		tcpFrame(clientIP, serverIP, 40000, 443, dissect.TCPPsh|dissect.TCPAck, clientHello(sni)),
	}
	for i := 0; i < extraData; i++ {
		if i%2 == 0 {
			frames = append(frames, tcpFrame(serverIP, clientIP, 443, 40000, dissect.TCPAck, []byte{0x17, 0x03, 0x03}))
		} else {
			frames = append(frames, tcpFrame(clientIP, serverIP, 40000, 443, dissect.TCPAck, []byte{0x17, 0x03, 0x03}))
		}
	}
	return frames
}

// --- end-to-end scenarios --------------------------------------------------

func TestSNIClassificationBlocksApp(t *testing.T) {
	pcap := buildCapture(t, httpsFlow("www.youtube.com", 4))
	ruleSet := rules.NewSet([]rules.Rule{{Kind: rules.BlockApp, App: classify.YouTube}})
	report, recs := runEngine(t, Config{Workers: 2}, ruleSet, nil, pcap)

	if report.TotalPackets != 8 {
		t.Fatalf("total = %d", report.TotalPackets)
	}
	// Handshake (3) and the ClientHello itself (1) pass; the 4 data
	// packets after classification drop.
	if report.Forwarded != 4 || report.Dropped != 4 {
		t.Fatalf("forwarded = %d dropped = %d", report.Forwarded, report.Dropped)
	}
	if len(recs) != 4 {
		t.Fatalf("output has %d records", len(recs))
	}
	if report.AppPackets[classify.YouTube] != 8 {
		t.Fatalf("youtube packets = %d", report.AppPackets[classify.YouTube])
	}
	if !report.AppBlocked[classify.YouTube] {
		t.Fatalf("YouTube not annotated blocked")
	}
	if report.SNIExtracted != 1 {
		t.Fatalf("sni extracted = %d", report.SNIExtracted)
	}
}

func TestDomainSuffixBlock(t *testing.T) {
	pcap := buildCapture(t, httpsFlow("cdn.facebook.com", 3))
	ruleSet := rules.NewSet([]rules.Rule{{Kind: rules.BlockDomainSuffix, Suffix: "facebook.com"}})
	report, _ := runEngine(t, Config{Workers: 1}, ruleSet, nil, pcap)

	if report.Dropped < 1 {
		t.Fatalf("dropped = %d, want >= 1", report.Dropped)
	}
	if report.AppPackets[classify.Facebook] == 0 {
		t.Fatalf("flow not classified Facebook")
	}
	if !report.AppBlocked[classify.Facebook] {
		t.Fatalf("Facebook not annotated blocked")
	}
}

func TestHTTPHostExtraction(t *testing.T) {
	req := []byte("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n")
	frames := [][]byte{
		tcpFrame(clientIP, serverIP, 40001, 80, dissect.TCPSyn, nil),
		tcpFrame(serverIP, clientIP, 80, 40001, dissect.TCPSyn|dissect.TCPAck, nil),
		tcpFrame(clientIP, serverIP, 40001, 80, dissect.TCPPsh|dissect.TCPAck, req),
		tcpFrame(serverIP, clientIP, 80, 40001, dissect.TCPPsh|dissect.TCPAck, []byte("HTTP/1.1 200 OK\r\n\r\n")),
	}
	report, recs := runEngine(t, Config{Workers: 1}, rules.NewSet(nil), nil, buildCapture(t, frames))

	if report.Dropped != 0 || report.Forwarded != 4 {
		t.Fatalf("forwarded = %d dropped = %d", report.Forwarded, report.Dropped)
	}
	if len(recs) != 4 {
		t.Fatalf("output records = %d", len(recs))
	}
	if report.AppPackets[classify.HTTP] != 4 {
		t.Fatalf("http packets = %d", report.AppPackets[classify.HTTP])
	}
	if report.HostExtracted != 1 {
		t.Fatalf("host extracted = %d", report.HostExtracted)
	}
}

func TestMalformedTLSTolerated(t *testing.T) {
	// The extensions total length (offset 50) overruns the record.
	bad := clientHello("x.example.com")
	binary.BigEndian.PutUint16(bad[50:], 0xffff)
	frames := [][]byte{
		tcpFrame(clientIP, serverIP, 40002, 443, dissect.TCPSyn, nil),
		tcpFrame(clientIP, serverIP, 40002, 443, dissect.TCPPsh|dissect.TCPAck, bad),
		tcpFrame(clientIP, serverIP, 40002, 443, dissect.TCPAck, []byte{0x17}),
	}
	report, recs := runEngine(t, Config{Workers: 1}, rules.NewSet(nil), nil, buildCapture(t, frames))

	if report.ParseErrors[dissect.KindMalformedTLS] != 1 {
		t.Fatalf("MalformedTls = %d, want 1", report.ParseErrors[dissect.KindMalformedTLS])
	}
	if report.Dropped != 0 || len(recs) != 3 {
		t.Fatalf("dropped = %d records = %d", report.Dropped, len(recs))
	}
	// Extraction failed, so the flow never classifies.
	if report.AppPackets[classify.HTTPS] != 0 || report.SNIExtracted != 0 {
		t.Fatalf("flow unexpectedly classified")
	}
}

func TestDirectionSymmetry(t *testing.T) {
	// Server speaks first; the same conversation must land on one flow
	// with the early packet on the B side.
	frames := [][]byte{
		tcpFrame(serverIP, clientIP, 443, 40003, dissect.TCPAck, nil),
		tcpFrame(clientIP, serverIP, 40003, 443, dissect.TCPAck, nil),
	}
	sink := &memSink{}
	report, _ := runEngine(t, Config{Workers: 4}, rules.NewSet(nil), sink, buildCapture(t, frames))

	if report.FlowsCreated != 1 {
		t.Fatalf("flows created = %d, want 1", report.FlowsCreated)
	}
	if len(sink.flows) != 1 {
		t.Fatalf("summaries = %d", len(sink.flows))
	}
	f := sink.flows[0]
	if f.PacketsAB != 1 || f.PacketsBA != 1 {
		t.Fatalf("packets ab/ba = %d/%d", f.PacketsAB, f.PacketsBA)
	}
	if f.ClientA != "10.0.0.1:40003" {
		t.Fatalf("canonical A side = %s", f.ClientA)
	}
}

func TestPassThroughPreserved(t *testing.T) {
	frames := [][]byte{
		arpFrame(),
		tcpFrame(clientIP, serverIP, 40004, 443, dissect.TCPSyn, nil),
	}
	report, recs := runEngine(t, Config{Workers: 1}, rules.NewSet(nil), nil, buildCapture(t, frames))

	if report.PassThrough != 1 {
		t.Fatalf("passthrough = %d", report.PassThrough)
	}
	if report.ParseErrors[dissect.KindUnsupportedEthertype] != 1 {
		t.Fatalf("ethertype errors = %d", report.ParseErrors[dissect.KindUnsupportedEthertype])
	}
	if len(recs) != 2 {
		t.Fatalf("output records = %d", len(recs))
	}
	if report.Forwarded+report.Dropped+report.PassThrough != report.TotalPackets {
		t.Fatalf("disposition sum mismatch: %+v", report)
	}
}

func TestOrderedEmptyRulesRoundTrip(t *testing.T) {
	var frames [][]byte
	// Interleave several flows so multiple workers are exercised.
	for i := 0; i < 40; i++ {
		port := uint16(41000 + i%5)
		frames = append(frames, tcpFrame(clientIP, serverIP+uint32(i%3), port, 443, dissect.TCPAck, []byte{byte(i)}))
	}
	frames = append(frames, arpFrame())
	pcap := buildCapture(t, frames)

	report, recs := runEngine(t, Config{Workers: 4, Balancers: 2, Ordered: true}, rules.NewSet(nil), nil, pcap)
	if report.Dropped != 0 {
		t.Fatalf("dropped = %d", report.Dropped)
	}
	if len(recs) != len(frames) {
		t.Fatalf("output records = %d, want %d", len(recs), len(frames))
	}
	for i, rec := range recs {
		if !bytes.Equal(rec.Data, frames[i]) {
			t.Fatalf("record %d out of order or altered", i)
		}
		if rec.TsSec != uint32(1000+i) || rec.TsUsec != uint32(i) {
			t.Fatalf("record %d timestamp not preserved", i)
		}
	}
}

func TestHoldBudgetDropsPreClassificationPackets(t *testing.T) {
	// With holding on, even the packets before the ClientHello drop once
	// the flow classifies as blocked.
	pcap := buildCapture(t, httpsFlow("www.youtube.com", 2))
	ruleSet := rules.NewSet([]rules.Rule{{Kind: rules.BlockApp, App: classify.YouTube}})
	report, recs := runEngine(t, Config{Workers: 1, HoldBudget: 8}, ruleSet, nil, pcap)

	if report.TotalPackets != 6 {
		t.Fatalf("total = %d", report.TotalPackets)
	}
	if report.Dropped != 5 {
		t.Fatalf("dropped = %d, want 5 (held handshake + post-hello data)", report.Dropped)
	}
	if len(recs) != 1 {
		t.Fatalf("output records = %d", len(recs))
	}
}

func TestRunTwiceIdenticalReports(t *testing.T) {
	pcap := buildCapture(t, httpsFlow("cdn.facebook.com", 3))
	ruleSet := rules.NewSet([]rules.Rule{{Kind: rules.BlockDomainSuffix, Suffix: "facebook.com"}})
	r1, _ := runEngine(t, Config{Workers: 3}, ruleSet, nil, pcap)
	r2, _ := runEngine(t, Config{Workers: 3}, ruleSet, nil, pcap)
	if *r1 != *r2 {
		t.Fatalf("reports differ:\n%+v\n%+v", r1, r2)
	}
}
