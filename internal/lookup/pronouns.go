// Package lookup holds the external collaborators consulted while building
// chat message render context: pronoun display strings and emote indexes.
// Both degrade to empty results on any failure; chat must keep flowing when
// a lookup service is down.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	logx "overlayd/pkg/logx"
)

const defaultPronounsBase = "https://pronouns.alejo.io/api"

type PronounsConfig struct {
	Enabled  bool
	BaseURL  string
	CacheTTL time.Duration // default 5m
	CacheMax int           // default 512
}

// PronounService resolves a user's pronoun display string ("she/her", ...).
// Lookups are cached per user; a miss or failure yields "".
type PronounService struct {
	cfg  PronounsConfig
	log  logx.Logger
	http *http.Client

	cache *expirable.LRU[string, string]

	setsOnce sync.Once
	setsMu   sync.RWMutex
	sets     map[string]string // pronoun id -> display
}

func NewPronouns(cfg PronounsConfig, log logx.Logger) *PronounService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultPronounsBase
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CacheMax <= 0 {
		cfg.CacheMax = 512
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &PronounService{
		cfg:   cfg,
		log:   log,
		http:  &http.Client{Timeout: 5 * time.Second},
		cache: expirable.NewLRU[string, string](cfg.CacheMax, nil, cfg.CacheTTL),
	}
}

// Lookup returns the pronoun display for username, or "" when disabled,
// unknown, or the service failed. It never returns an error; pronoun display
// is cosmetic.
func (p *PronounService) Lookup(ctx context.Context, username string) string {
	if p == nil || !p.cfg.Enabled {
		return ""
	}
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return ""
	}
	if v, ok := p.cache.Get(username); ok {
		return v
	}

	p.setsOnce.Do(func() { p.loadSets(ctx) })

	display := p.fetchUser(ctx, username)
	// Cache misses too; a user without pronouns should not be re-fetched on
	// every message.
	p.cache.Add(username, display)
	return display
}

type pronounSet struct {
	Name    string `json:"name"`
	Display string `json:"display"`
}

func (p *PronounService) loadSets(ctx context.Context) {
	var sets []pronounSet
	if err := p.getJSON(ctx, p.cfg.BaseURL+"/pronouns", &sets); err != nil {
		p.log.Debug("pronoun sets unavailable", logx.Err(err))
		return
	}
	m := make(map[string]string, len(sets))
	for _, s := range sets {
		m[s.Name] = s.Display
	}
	p.setsMu.Lock()
	p.sets = m
	p.setsMu.Unlock()
}

type pronounUser struct {
	Login     string `json:"login"`
	PronounID string `json:"pronoun_id"`
}

func (p *PronounService) fetchUser(ctx context.Context, username string) string {
	var users []pronounUser
	if err := p.getJSON(ctx, p.cfg.BaseURL+"/users/"+username, &users); err != nil {
		p.log.Debug("pronoun lookup failed", logx.String("user", username), logx.Err(err))
		return ""
	}
	if len(users) == 0 {
		return ""
	}
	id := users[0].PronounID
	p.setsMu.RLock()
	display := p.sets[id]
	p.setsMu.RUnlock()
	if display == "" {
		// Sets list missing or stale; fall back to the raw id.
		return id
	}
	return display
}

func (p *PronounService) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
