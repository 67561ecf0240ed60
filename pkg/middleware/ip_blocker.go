package middleware

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
)

// BlockList holds blocked addresses and networks.
type BlockList struct {
	mu      sync.RWMutex
	ips     map[string]bool
	subnets []*net.IPNet
}

// NewBlockList builds a list from entries, each an IP or a CIDR, plus the
// lines of file when it is set. A missing file is not an error.
func NewBlockList(entries []string, file string) (*BlockList, error) {
	b := &BlockList{ips: make(map[string]bool)}

	// 1. Entries from config
	for _, e := range entries {
		if err := b.Add(e); err != nil {
			return nil, err
		}
	}

	// 2. Entries from file, one per line, '#' comments
	if file == "" {
		return b, nil
	}
	f, err := os.Open(file)
	if errors.Is(err, os.ErrNotExist) {
		return b, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := b.Add(text); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", file, line, err)
		}
	}
	return b, scanner.Err()
}

// Add blocks an IP or CIDR network.
func (b *BlockList) Add(entry string) error {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.Contains(entry, "/") {
		_, subnet, err := net.ParseCIDR(entry)
		if err != nil {
			return fmt.Errorf("invalid blocklist entry %q: %w", entry, err)
		}
		b.subnets = append(b.subnets, subnet)
		return nil
	}

	ip := net.ParseIP(entry)
	if ip == nil {
		return fmt.Errorf("invalid blocklist entry %q", entry)
	}
	b.ips[ip.String()] = true
	return nil
}

// Remove unblocks a single IP.
func (b *BlockList) Remove(ip string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if parsed := net.ParseIP(strings.TrimSpace(ip)); parsed != nil {
		delete(b.ips, parsed.String())
	}
}

// Len returns the number of blocked IPs and networks.
func (b *BlockList) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.ips) + len(b.subnets)
}

// IsBlocked reports whether ip is listed or inside a listed network.
func (b *BlockList) IsBlocked(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.ips[parsed.String()] {
		return true
	}
	for _, subnet := range b.subnets {
		if subnet.Contains(parsed) {
			return true
		}
	}
	return false
}

// IPBlocker rejects requests whose remote address is on the list. It uses
// RemoteAddr; forwarded headers are not trusted.
func IPBlocker(list *BlockList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if list == nil || list.Len() == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr // Fallback if no port
			}

			if list.IsBlocked(ip) {
				slog.Warn("🚫 Request Blocked (Blacklisted IP)", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"success":false,"error":{"kind":"forbidden","message":"Access Denied (IP Blocked)"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
