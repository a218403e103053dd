package evaluate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"horse.fit/curator/internal/globaltime"
)

// OrgProfile carries reviewer-maintained hints about one governing body,
// used to enrich the metadata evaluation prompt when a candidate URL
// matches the organization.
type OrgProfile struct {
	NGBID        string   `json:"ngbId"`
	Name         string   `json:"name"`
	Keywords     []string `json:"keywords"`
	URLPatterns  []string `json:"urlPatterns"`
	TopicDomains []string `json:"topicDomains"`
}

// ProfileCache reloads the profile file at most once per TTL. Invalidate
// forces a reload on the next read so profile edits land without a restart.
type ProfileCache struct {
	mu       sync.Mutex
	path     string
	ttl      time.Duration
	loadedAt time.Time
	profiles []OrgProfile
}

func NewProfileCache(path string, ttl time.Duration) *ProfileCache {
	return &ProfileCache{path: path, ttl: ttl}
}

// Profiles returns the cached profile set, reloading when the cache entry
// is older than the TTL. A missing path yields an empty set, not an error.
func (c *ProfileCache) Profiles() ([]OrgProfile, error) {
	if c == nil || c.path == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := globaltime.Now()
	if !c.loadedAt.IsZero() && now.Sub(c.loadedAt) < c.ttl {
		return c.profiles, nil
	}

	profiles, err := loadProfiles(c.path)
	if err != nil {
		return nil, err
	}
	c.profiles = profiles
	c.loadedAt = now
	return profiles, nil
}

func (c *ProfileCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func loadProfiles(path string) ([]OrgProfile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read org profiles: %w", err)
	}

	var profiles []OrgProfile
	if err := json.Unmarshal(raw, &profiles); err != nil {
		return nil, fmt.Errorf("parse org profiles: %w", err)
	}
	return profiles, nil
}

// MatchProfile returns the first profile whose URL patterns match the
// candidate URL's host, or nil when none match.
func MatchProfile(profiles []OrgProfile, rawURL string) *OrgProfile {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	host := strings.ToLower(strings.TrimPrefix(parsed.Hostname(), "www."))
	if host == "" {
		return nil
	}

	for i := range profiles {
		for _, pattern := range profiles[i].URLPatterns {
			needle := strings.ToLower(strings.TrimSpace(pattern))
			if needle == "" {
				continue
			}
			if host == needle || strings.HasSuffix(host, "."+needle) || strings.Contains(host, needle) {
				return &profiles[i]
			}
		}
	}
	return nil
}

// hintBlock renders a profile as extra prompt context for the metadata
// evaluation.
func hintBlock(profile *OrgProfile) string {
	if profile == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString("Known organization context:\n")
	fmt.Fprintf(&b, "- Organization: %s (id %s)\n", profile.Name, profile.NGBID)
	if len(profile.Keywords) > 0 {
		fmt.Fprintf(&b, "- Keywords: %s\n", strings.Join(profile.Keywords, ", "))
	}
	if len(profile.TopicDomains) > 0 {
		fmt.Fprintf(&b, "- Likely topic domains: %s\n", strings.Join(profile.TopicDomains, ", "))
	}
	return b.String()
}
