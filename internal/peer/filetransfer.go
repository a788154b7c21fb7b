package peer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"emberlink/internal/domain"
)

// File-transfer control tokens, riding inside the encrypted message channel.
const (
	fileRequestPrefix = "__FILE_REQUEST__"
	fileAcceptToken   = "__FILE_ACCEPT__"
	fileDeclineToken  = "__FILE_DECLINE__"
	fileEndToken      = "__FILE_END__"
)

// fileRequest is the announce metadata. It comes from an untrusted peer, so
// it is parsed with a real deserializer and the name is sanitized before use.
type fileRequest struct {
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}

type outgoingTransfer struct {
	path     string
	name     string
	size     int64
	progress func(float64)
}

type incomingTransfer struct {
	name     string
	size     int64
	received int64
	path     string
	f        *os.File
	accepted bool
	progress func(float64)
}

// SendFile announces a file to the peer and waits for an explicit accept or
// decline; no data moves until the peer answers. Only one transfer may be
// pending in either direction.
func (m *Manager) SendFile(path string, progress func(float64)) error {
	s := m.current()
	if s == nil {
		return domain.ErrNotConnected
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file not found: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	out := &outgoingTransfer{
		path:     path,
		name:     filepath.Base(path),
		size:     info.Size(),
		progress: progress,
	}
	s.ftMu.Lock()
	if s.outgoing != nil || s.incoming != nil {
		s.ftMu.Unlock()
		return domain.ErrTransferPending
	}
	s.outgoing = out
	s.ftMu.Unlock()

	meta, err := json.Marshal(fileRequest{FileName: out.name, FileSize: out.size})
	if err != nil {
		s.clearOutgoing()
		return err
	}
	if err := m.sendEncrypted(s, fileRequestPrefix+string(meta), false); err != nil {
		s.clearOutgoing()
		return fmt.Errorf("announce file: %w", err)
	}
	m.emitInfo(fmt.Sprintf("Offered %s (%d bytes); waiting for the peer to accept", out.name, out.size))
	return nil
}

// AcceptFile accepts the pending inbound offer. The output file is created in
// the download directory; progress (if non-nil) receives fractions in [0,1].
// A zero-byte offer completes immediately with an empty file.
func (m *Manager) AcceptFile(progress func(float64)) error {
	s := m.current()
	if s == nil {
		return domain.ErrNotConnected
	}
	s.ftMu.Lock()
	in := s.incoming
	if in == nil || in.accepted {
		s.ftMu.Unlock()
		return fmt.Errorf("no file offer pending")
	}
	if err := os.MkdirAll(m.cfg.DownloadDir, 0o700); err != nil {
		s.ftMu.Unlock()
		return err
	}
	path := filepath.Join(m.cfg.DownloadDir, in.name)
	f, err := os.Create(path)
	if err != nil {
		s.ftMu.Unlock()
		return fmt.Errorf("open output file: %w", err)
	}
	in.f = f
	in.path = path
	in.accepted = true
	in.progress = progress
	empty := in.size == 0
	if empty {
		// Nothing will be streamed; complete right here.
		_ = f.Close()
		s.incoming = nil
	}
	s.ftMu.Unlock()

	if err := m.sendEncrypted(s, fileAcceptToken, false); err != nil {
		if !empty {
			s.ftMu.Lock()
			s.incoming = nil
			s.ftMu.Unlock()
		}
		_ = os.Remove(path)
		return fmt.Errorf("accept file: %w", err)
	}
	if empty {
		if progress != nil {
			progress(1)
		}
		m.emitFile("Received " + path + " (0 bytes)")
	}
	return nil
}

// DeclineFile declines the pending inbound offer. No output file is created.
func (m *Manager) DeclineFile() error {
	s := m.current()
	if s == nil {
		return domain.ErrNotConnected
	}
	s.ftMu.Lock()
	in := s.incoming
	if in == nil || in.accepted {
		s.ftMu.Unlock()
		return fmt.Errorf("no file offer pending")
	}
	s.incoming = nil
	s.ftMu.Unlock()

	if err := m.sendEncrypted(s, fileDeclineToken, false); err != nil {
		return fmt.Errorf("decline file: %w", err)
	}
	m.emitInfo("Declined file transfer of " + in.name)
	return nil
}

// handleFileControl routes file-transfer control tokens. It returns false
// when text is not file-transfer traffic.
func (m *Manager) handleFileControl(s *session, text string) bool {
	switch {
	case strings.HasPrefix(text, fileRequestPrefix):
		m.handleFileOffer(s, text[len(fileRequestPrefix):])
	case text == fileAcceptToken:
		m.handleFileAccepted(s)
	case text == fileDeclineToken:
		m.handleFileDeclined(s)
	case text == fileEndToken:
		m.handleFileEnd(s)
	default:
		return false
	}
	return true
}

func (m *Manager) handleFileOffer(s *session, meta string) {
	var req fileRequest
	if err := json.Unmarshal([]byte(meta), &req); err != nil {
		m.log.WithError(err).Warn("ignoring malformed file request")
		return
	}
	name := filepath.Base(req.FileName)
	if name == "." || name == string(filepath.Separator) || req.FileSize < 0 {
		m.log.WithFields(logrus.Fields{"name": req.FileName, "size": req.FileSize}).
			Warn("ignoring invalid file request")
		return
	}

	s.ftMu.Lock()
	busy := s.incoming != nil || s.outgoing != nil
	if !busy {
		s.incoming = &incomingTransfer{name: name, size: req.FileSize}
	}
	s.ftMu.Unlock()

	if busy {
		// One transfer at a time; the second offer is declined outright.
		m.emitInfo(fmt.Sprintf("Rejected file offer %s: a transfer is already pending", name))
		if err := m.sendEncrypted(s, fileDeclineToken, false); err != nil {
			m.log.WithError(err).Warn("decline reply failed")
		}
		return
	}
	m.emit(domain.Event{
		Kind:     domain.EventFileOffer,
		Text:     fmt.Sprintf("Peer wants to send you %s (%d bytes). Accept with /accept or refuse with /decline", name, req.FileSize),
		Time:     time.Now(),
		FileName: name,
		FileSize: req.FileSize,
	})
}

func (m *Manager) handleFileAccepted(s *session) {
	s.ftMu.Lock()
	out := s.outgoing
	s.ftMu.Unlock()
	if out == nil {
		m.log.Warn("peer accepted a transfer we never offered")
		return
	}
	m.emitInfo("Peer accepted the file transfer; sending " + out.name)
	go m.streamFile(s, out)
}

func (m *Manager) handleFileDeclined(s *session) {
	s.ftMu.Lock()
	had := s.outgoing != nil
	s.outgoing = nil
	s.ftMu.Unlock()
	if had {
		m.emitFile("Peer declined the file transfer")
	}
}

// handleFileEnd is the trailing consistency check: the byte count is the
// primary completion signal, so by the time the end marker arrives the
// transfer should already be complete.
func (m *Manager) handleFileEnd(s *session) {
	s.ftMu.Lock()
	in := s.incoming
	s.ftMu.Unlock()
	if in == nil || !in.accepted {
		m.log.Debug("file end marker received; transfer already complete")
		return
	}
	m.failIncoming(s, in, fmt.Errorf("%w: peer ended the stream at %d of %d bytes",
		domain.ErrSizeMismatch, in.received, in.size))
}

// streamFile runs on its own goroutine after the peer accepts: it reads the
// file in chunks, seals each one individually, and closes with the end marker.
func (m *Manager) streamFile(s *session, out *outgoingTransfer) {
	f, err := os.Open(out.path)
	if err != nil {
		m.emitFile(fmt.Sprintf("File transfer failed: %v", err))
		_ = m.sendEncrypted(s, fileEndToken, false)
		s.clearOutgoing()
		return
	}
	defer f.Close()

	buf := make([]byte, m.cfg.ChunkSize)
	var sent int64
	for {
		if s.stopping() {
			s.clearOutgoing()
			return
		}
		n, err := f.Read(buf)
		if n > 0 {
			ct, cerr := s.crypto.EncryptBytes(buf[:n])
			if cerr != nil {
				m.emitFile(fmt.Sprintf("File transfer failed: %v", cerr))
				s.clearOutgoing()
				return
			}
			if werr := s.writeFrame(ct); werr != nil {
				m.emitFile(fmt.Sprintf("File transfer failed: %v", werr))
				s.clearOutgoing()
				return
			}
			sent += int64(n)
			if out.progress != nil {
				out.progress(min(float64(sent)/float64(out.size), 1))
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			m.emitFile(fmt.Sprintf("File transfer failed: %v", err))
			break
		}
	}
	if out.size == 0 && out.progress != nil {
		out.progress(1)
	}
	if err := m.sendEncrypted(s, fileEndToken, false); err != nil {
		m.log.WithError(err).Warn("file end marker failed")
	}
	s.clearOutgoing()
	m.emitFile(fmt.Sprintf("Sent %s (%d bytes)", out.name, sent))
}

// consumeChunk feeds one frame to the active inbound transfer. It reports
// whether the frame was file data and whether the session must close (an
// unauthenticated chunk breaks channel trust; a local I/O error only kills
// the transfer).
func (m *Manager) consumeChunk(s *session, frame []byte) (handled, fatal bool) {
	s.ftMu.Lock()
	in := s.incoming
	s.ftMu.Unlock()
	if in == nil || !in.accepted {
		return false, false
	}

	chunk, err := s.crypto.DecryptBytes(frame)
	if err != nil {
		m.emitSecurity("File chunk failed authentication; closing session")
		m.failIncoming(s, in, err)
		return true, true
	}
	if _, err := in.f.Write(chunk); err != nil {
		m.failIncoming(s, in, fmt.Errorf("write chunk: %w", err))
		return true, false
	}
	in.received += int64(len(chunk))
	if in.received > in.size {
		m.failIncoming(s, in, fmt.Errorf("%w: got %d of %d announced bytes",
			domain.ErrSizeMismatch, in.received, in.size))
		return true, false
	}
	if in.progress != nil {
		in.progress(float64(in.received) / float64(in.size))
	}
	if in.received == in.size {
		if err := in.f.Close(); err != nil {
			m.failIncoming(s, in, err)
			return true, false
		}
		s.ftMu.Lock()
		s.incoming = nil
		s.ftMu.Unlock()
		m.emitFile(fmt.Sprintf("Received %s (%d bytes)", in.path, in.received))
	}
	return true, false
}

// failIncoming aborts the inbound transfer and deletes the partial file. A
// truncated download is worse than no download.
func (m *Manager) failIncoming(s *session, in *incomingTransfer, err error) {
	s.ftMu.Lock()
	if s.incoming == in {
		s.incoming = nil
	}
	s.ftMu.Unlock()
	if in.f != nil {
		_ = in.f.Close()
	}
	if in.path != "" {
		_ = os.Remove(in.path)
	}
	m.emitFile(fmt.Sprintf("File transfer of %s aborted: %v", in.name, err))
}

// abortTransfers runs during session cleanup: a disconnect mid-transfer
// discards the partial download.
func (m *Manager) abortTransfers(s *session) {
	s.ftMu.Lock()
	in := s.incoming
	s.incoming = nil
	s.outgoing = nil
	s.ftMu.Unlock()
	if in != nil && in.accepted {
		if in.f != nil {
			_ = in.f.Close()
		}
		if in.path != "" {
			_ = os.Remove(in.path)
		}
		m.emitFile("File transfer of " + in.name + " aborted: connection lost")
	}
}

func (s *session) clearOutgoing() {
	s.ftMu.Lock()
	s.outgoing = nil
	s.ftMu.Unlock()
}

func (m *Manager) emitFile(text string) {
	m.emit(domain.Event{Kind: domain.EventFile, Text: text, Time: time.Now()})
}
