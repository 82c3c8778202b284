// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Kernel proc connector ABI, from linux/connector.h and linux/cn_proc.h.
const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procCnMcastListen = 1
	procCnMcastIgnore = 2

	procEventFork = 0x00000001
	procEventExec = 0x00000002
	procEventComm = 0x00000200
	procEventExit = 0x80000000

	// cn_msg: id {idx, val}, seq, ack, len (u16), flags (u16).
	cnMsgSize = 20

	// proc_event header: what, cpu, timestamp_ns.
	procEventHeaderSize = 16

	commSize = 16
)

// connectorReadTimeout bounds each blocking receive so the reader
// notices cancellation.
const connectorReadTimeout = 200 * time.Millisecond

// ProcEventKind is the kind of a kernel process notification.
type ProcEventKind int

const (
	ProcFork ProcEventKind = iota + 1
	ProcExec
	ProcComm
	ProcExit
)

// ProcEvent is one kernel process notification.
type ProcEvent struct {
	Kind ProcEventKind
	PID  int32
	TGID int32

	// ParentTGID is set for ProcFork.
	ParentTGID int32

	// Comm is set for ProcComm. The kernel renames a process to the
	// basename of the new executable during exec, so the comm event
	// names the binary even when the process exits before it can be
	// read from /proc.
	Comm string
}

// ExecSource delivers process notifications as the kernel emits them.
type ExecSource interface {
	// Subscribe starts delivery. The channel is closed when ctx is
	// cancelled or the source fails.
	Subscribe(ctx context.Context) (<-chan ProcEvent, error)
}

// ProcConnector subscribes to the kernel proc connector over a
// NETLINK_CONNECTOR socket. Binding to the proc multicast group needs
// CAP_NET_ADMIN; without it Subscribe fails and the process collector
// falls back to sampling.
type ProcConnector struct {
	Logger *slog.Logger
}

// Subscribe implements [ExecSource].
func (p *ProcConnector) Subscribe(ctx context.Context) (<-chan ProcEvent, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("opening proc connector socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: cnIdxProc}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("joining proc connector group: %w", err)
	}
	timeout := unix.NsecToTimeval(connectorReadTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &timeout); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("setting proc connector timeout: %w", err)
	}
	kernel := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Sendto(fd, connectorControl(procCnMcastListen), 0, kernel); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("enabling proc events: %w", err)
	}

	events := make(chan ProcEvent, 256)
	go func() {
		defer close(events)
		defer unix.Close(fd)
		defer unix.Sendto(fd, connectorControl(procCnMcastIgnore), 0, kernel)

		buffer := make([]byte, os.Getpagesize())
		for ctx.Err() == nil {
			n, _, err := unix.Recvfrom(fd, buffer, 0)
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOBUFS):
				logger.Warn("proc connector overrun, process events lost")
				continue
			case err != nil:
				logger.Warn("proc connector read failed", "error", err)
				return
			}
			for _, event := range parseConnectorMessages(buffer[:n]) {
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}

// connectorControl builds the netlink message that turns proc event
// delivery on or off for this socket.
func connectorControl(op uint32) []byte {
	const total = unix.SizeofNlMsghdr + cnMsgSize + 4
	message := make([]byte, total)
	order := binary.NativeEndian

	order.PutUint32(message[0:], total)
	order.PutUint16(message[4:], unix.NLMSG_DONE)
	order.PutUint32(message[12:], uint32(os.Getpid()))

	cn := message[unix.SizeofNlMsghdr:]
	order.PutUint32(cn[0:], cnIdxProc)
	order.PutUint32(cn[4:], cnValProc)
	order.PutUint16(cn[16:], 4)
	order.PutUint32(cn[cnMsgSize:], op)
	return message
}

// parseConnectorMessages splits a datagram into netlink messages and
// decodes the proc events among them.
func parseConnectorMessages(datagram []byte) []ProcEvent {
	order := binary.NativeEndian
	var events []ProcEvent
	for len(datagram) >= unix.SizeofNlMsghdr {
		length := int(order.Uint32(datagram[0:]))
		if length < unix.SizeofNlMsghdr || length > len(datagram) {
			break
		}
		if event, ok := parseProcEvent(datagram[unix.SizeofNlMsghdr:length]); ok {
			events = append(events, event)
		}
		aligned := (length + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
		if aligned >= len(datagram) {
			break
		}
		datagram = datagram[aligned:]
	}
	return events
}

// parseProcEvent decodes a cn_msg carrying a proc_event. Events other
// than fork, exec, comm and exit report false.
func parseProcEvent(data []byte) (ProcEvent, bool) {
	order := binary.NativeEndian
	if len(data) < cnMsgSize+procEventHeaderSize {
		return ProcEvent{}, false
	}
	if order.Uint32(data[0:]) != cnIdxProc || order.Uint32(data[4:]) != cnValProc {
		return ProcEvent{}, false
	}
	body := data[cnMsgSize:]
	what := order.Uint32(body[0:])
	payload := body[procEventHeaderSize:]
	field := func(index int) int32 { return int32(order.Uint32(payload[index*4:])) }

	switch what {
	case procEventFork:
		if len(payload) < 16 {
			return ProcEvent{}, false
		}
		return ProcEvent{Kind: ProcFork, ParentTGID: field(1), PID: field(2), TGID: field(3)}, true
	case procEventExec:
		if len(payload) < 8 {
			return ProcEvent{}, false
		}
		return ProcEvent{Kind: ProcExec, PID: field(0), TGID: field(1)}, true
	case procEventComm:
		if len(payload) < 8+commSize {
			return ProcEvent{}, false
		}
		comm := payload[8 : 8+commSize]
		if end := bytes.IndexByte(comm, 0); end >= 0 {
			comm = comm[:end]
		}
		return ProcEvent{Kind: ProcComm, PID: field(0), TGID: field(1), Comm: string(comm)}, true
	case procEventExit:
		if len(payload) < 8 {
			return ProcEvent{}, false
		}
		return ProcEvent{Kind: ProcExit, PID: field(0), TGID: field(1)}, true
	default:
		return ProcEvent{}, false
	}
}
