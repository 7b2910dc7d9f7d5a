package direct

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"time"
)

// DefaultPort is the UDP port the echo responder listens on by default.
const DefaultPort = 51900

const (
	probePrefix = "igmap-probe:"
	ackPrefix   = "igmap-ack:"
)

// Responder answers UDP latency probes with acks.
type Responder struct {
	conn *net.UDPConn
}

// StartResponder starts a UDP responder on the given address (e.g. ":0").
func StartResponder(addr string) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}

	resp := &Responder{conn: conn}
	go resp.serve()
	return resp, nil
}

// LocalAddr returns the local address of the responder.
func (r *Responder) LocalAddr() string {
	if r == nil || r.conn == nil {
		return ""
	}
	return r.conn.LocalAddr().String()
}

// Close stops the responder.
func (r *Responder) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Responder) serve() {
	buf := make([]byte, 2048)
	for {
		n, addr, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		msg := string(buf[:n])
		if strings.HasPrefix(msg, probePrefix) {
			nonce := strings.TrimPrefix(msg, probePrefix)
			_, _ = r.conn.WriteToUDP([]byte(ackPrefix+nonce), addr)
		}
	}
}

// ProbePeer sends one probe to peerAddr and waits for the matching ack.
func ProbePeer(ctx context.Context, localAddr, peerAddr string, timeout time.Duration) (time.Duration, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return 0, err
	}
	peerUDP, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return 0, err
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	nonce, err := randomNonce(8)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteToUDP([]byte(probePrefix+nonce), peerUDP); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if timeout > 0 {
		_ = conn.SetReadDeadline(deadline)
	}

	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, err
		}
		if addr.String() != peerUDP.String() {
			continue
		}
		if string(buf[:n]) == ackPrefix+nonce {
			return time.Since(start), nil
		}
	}
}

func randomNonce(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
