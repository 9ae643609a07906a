// Package udp mirrors display updates to a UDP listener as JSON datagrams.
package udp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync/atomic"

	"accelgraph/internal/graph"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Mirror sends one datagram per update. It is a graph.Sink and is only
// called on the UI loop.
type Mirror struct {
	dest string
	conn udpConn

	sent   atomic.Uint64
	failed atomic.Uint64
	warned bool
}

func NewMirror(dest string) (*Mirror, error) {
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	}
	return newMirror(dest, net.ResolveUDPAddr, dial)
}

func newMirror(dest string, resolve resolveFunc, dial dialFunc) (*Mirror, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve %s: %w", dest, err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial %s: %w", dest, err)
	}
	return &Mirror{dest: dest, conn: conn}, nil
}

func (m *Mirror) Dest() string { return m.dest }

func (m *Mirror) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := m.conn.Write(payload)
	return err
}

func (m *Mirror) Apply(u graph.Update) {
	if m == nil || m.conn == nil {
		return
	}
	b, err := json.Marshal(u)
	if err == nil {
		err = m.Send(b)
	}
	if err != nil {
		m.failed.Add(1)
		if !m.warned {
			log.Printf("udp: mirror to %s failing: %v", m.dest, err)
			m.warned = true
		}
		return
	}
	m.warned = false
	m.sent.Add(1)
}

type Stats struct {
	Dest   string `json:"dest"`
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{Dest: m.dest, Sent: m.sent.Load(), Failed: m.failed.Load()}
}

func (m *Mirror) Close() error {
	if m == nil || m.conn == nil {
		return nil
	}
	return m.conn.Close()
}
