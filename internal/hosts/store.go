package hosts

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"emberlink/internal/domain"
)

// FileName is the trust store file inside the home directory.
const FileName = "known_hosts.json"

type fileData struct {
	Hosts     map[string]string `json:"hosts"`
	Nicknames map[string]string `json:"nicknames"`
}

// Entry is one listed host.
type Entry struct {
	Address     string
	Fingerprint domain.Fingerprint
	Nickname    string
}

// Store is the file-backed trust store.
type Store struct {
	path string
	log  *logrus.Logger

	mu   sync.Mutex
	data fileData
}

// Open loads the trust store from dir, creating an empty known_hosts.json if
// the file is missing or unreadable. A freshly created store trusts nobody.
func Open(dir string, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		path: filepath.Join(dir, FileName),
		log:  log,
		data: fileData{Hosts: map[string]string{}, Nicknames: map[string]string{}},
	}

	b, err := os.ReadFile(s.path)
	switch {
	case err == nil:
		var loaded fileData
		if jsonErr := json.Unmarshal(b, &loaded); jsonErr != nil {
			log.WithField("path", s.path).Warn("trust store unreadable, starting empty")
		} else {
			if loaded.Hosts != nil {
				s.data.Hosts = loaded.Hosts
			}
			if loaded.Nicknames != nil {
				s.data.Nicknames = loaded.Nicknames
			}
			return s, nil
		}
	case os.IsNotExist(err):
		// fall through and create it
	default:
		return nil, fmt.Errorf("read trust store: %w", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	if err := writeJSON(s.path, s.data, 0o600); err != nil {
		return nil, fmt.Errorf("create trust store: %w", err)
	}
	log.WithField("path", s.path).Info("created empty trust store")
	return s, nil
}

// Add records a fingerprint for an address. The address must be ip:port, a
// .onion name, or .onion:port; the fingerprint must be 64 hex characters.
func (s *Store) Add(address string, fp domain.Fingerprint) error {
	if err := ValidateAddress(address); err != nil {
		return err
	}
	if !ValidFingerprint(fp) {
		return fmt.Errorf("invalid fingerprint %q: want %d hex characters", fp, domain.FingerprintHexLen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Hosts[address] = strings.ToLower(fp.String())
	return s.save()
}

// Remove deletes the entry for an address.
func (s *Store) Remove(address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Hosts[address]; !ok {
		return fmt.Errorf("no entry for %s", address)
	}
	delete(s.data.Hosts, address)
	return s.save()
}

// SetNickname attaches a display name to a fingerprint.
func (s *Store) SetNickname(fp domain.Fingerprint, nickname string) error {
	if !ValidFingerprint(fp) {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Nicknames[strings.ToLower(fp.String())] = nickname
	return s.save()
}

// List returns all entries sorted by address.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, 0, len(s.data.Hosts))
	for addr, fp := range s.data.Hosts {
		e := Entry{Address: addr, Fingerprint: domain.Fingerprint(fp)}
		e.Nickname = s.data.Nicknames[fp]
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// LookupFingerprint implements domain.TrustStore.
func (s *Store) LookupFingerprint(address string) (domain.Fingerprint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fp, ok := s.data.Hosts[address]
	return domain.Fingerprint(fp), ok
}

// AllFingerprints implements domain.TrustStore.
func (s *Store) AllFingerprints() []domain.Fingerprint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Fingerprint, 0, len(s.data.Hosts))
	for _, fp := range s.data.Hosts {
		out = append(out, domain.Fingerprint(fp))
	}
	return out
}

// Nickname implements domain.TrustStore.
func (s *Store) Nickname(fp domain.Fingerprint) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	nick, ok := s.data.Nicknames[strings.ToLower(fp.String())]
	return nick, ok && nick != ""
}

// RecordNewPeer implements domain.TrustStore. It surfaces the exact command
// needed to trust the peer; it never writes an entry itself.
func (s *Store) RecordNewPeer(address string, fp domain.Fingerprint) {
	s.log.WithFields(logrus.Fields{
		"address":     address,
		"fingerprint": fp,
	}).Warnf("unknown peer; trust it with: emberlink hosts add %s %s", address, fp)
}

// save writes under s.mu.
func (s *Store) save() error {
	return writeJSON(s.path, s.data, 0o600)
}

// ValidFingerprint reports whether fp is a full-length hex fingerprint.
func ValidFingerprint(fp domain.Fingerprint) bool {
	if len(fp) != domain.FingerprintHexLen {
		return false
	}
	for _, c := range fp {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ValidateAddress accepts ip:port, host.onion, or host.onion:port.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if strings.HasSuffix(address, ".onion") {
		return nil
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("invalid address %q: want ip:port or name.onion", address)
	}
	if !strings.HasSuffix(host, ".onion") && net.ParseIP(host) == nil {
		return fmt.Errorf("invalid address %q: host is neither an IP nor .onion", address)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n >= 65536 {
		return fmt.Errorf("invalid port in %q: must be between 1 and 65535", address)
	}
	return nil
}

// Compile-time assertion that Store implements domain.TrustStore.
var _ domain.TrustStore = (*Store)(nil)
