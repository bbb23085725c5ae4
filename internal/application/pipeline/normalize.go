package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/recallbot/internal/application/notification"
	"github.com/recallbot/internal/domain"
	"github.com/recallbot/internal/pkg/validate"
)

// Normalize converts a fetched candidate into its canonical form. The
// natural key becomes a canonical absolute URL; text fields are entity
// decoded and whitespace collapsed.
func Normalize(c domain.Candidate) (domain.Candidate, error) {
	out := domain.Candidate{
		LinkText: notification.Clean(c.LinkText),
		Product:  notification.Clean(c.Product),
		Category: notification.Clean(c.Category),
		Reason:   notification.Clean(c.Reason),
		Company:  notification.Clean(c.Company),
	}
	key, err := CanonicalKey(c.NaturalKey)
	if err != nil {
		return domain.Candidate{}, err
	}
	out.NaturalKey = key
	if c.Date != nil && !c.Date.IsZero() {
		d := c.Date.UTC().Truncate(time.Second)
		out.Date = &d
	}
	if err := validate.Struct(out); err != nil {
		return domain.Candidate{}, err
	}
	return out, nil
}

// CanonicalKey lowercases scheme and host, drops default ports, fragments
// and a trailing slash so the same resource always maps to one key.
func CanonicalKey(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("natural key is empty: %w", domain.ErrBadRequest)
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("natural key %q is not an absolute url: %w", raw, domain.ErrBadRequest)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if port := u.Port(); port != "" && !(u.Scheme == "https" && port == "443") && !(u.Scheme == "http" && port == "80") {
		host += ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		u.RawPath = ""
	}
	return u.String(), nil
}

// NormalizeAll normalizes a batch, dropping invalid candidates and repeated
// natural keys (first occurrence wins). Rejected candidates are returned as
// errors for logging.
func NormalizeAll(cs []domain.Candidate) ([]domain.Candidate, []error) {
	out := make([]domain.Candidate, 0, len(cs))
	seen := make(map[string]bool, len(cs))
	var rejected []error
	for i, c := range cs {
		n, err := Normalize(c)
		if err != nil {
			rejected = append(rejected, fmt.Errorf("candidate %d: %w", i, err))
			continue
		}
		if seen[n.NaturalKey] {
			continue
		}
		seen[n.NaturalKey] = true
		out = append(out, n)
	}
	return out, rejected
}
