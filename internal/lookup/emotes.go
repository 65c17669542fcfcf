package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "overlayd/pkg/logx"
)

type EmotesConfig struct {
	IndexURL  string
	Shortcuts map[string]string // local shortcut -> emote key
}

// EmoteService matches message tokens against a local shortcut table plus an
// optional external emote index fetched once. Failure to fetch the index
// degrades to shortcuts only.
type EmoteService struct {
	cfg  EmotesConfig
	log  logx.Logger
	http *http.Client

	once  sync.Once
	mu    sync.RWMutex
	index map[string]string // emote name -> asset key/url
}

func NewEmotes(cfg EmotesConfig, log logx.Logger) *EmoteService {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &EmoteService{
		cfg:   cfg,
		log:   log,
		http:  &http.Client{Timeout: 5 * time.Second},
		index: map[string]string{},
	}
}

// EmoteRef is one matched emote occurrence.
type EmoteRef struct {
	Name  string `json:"name"`
	Asset string `json:"asset"`
}

// Match scans text tokens and returns the emotes found, in order of first
// appearance. No markup is produced; rendering is the consumer's concern.
func (s *EmoteService) Match(ctx context.Context, text string) []EmoteRef {
	if s == nil || strings.TrimSpace(text) == "" {
		return nil
	}
	s.once.Do(func() { s.loadIndex(ctx) })

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []EmoteRef
	seen := map[string]bool{}
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, ":")
		if tok == "" || seen[tok] {
			continue
		}
		if asset, ok := s.cfg.Shortcuts[tok]; ok {
			out = append(out, EmoteRef{Name: tok, Asset: asset})
			seen[tok] = true
			continue
		}
		if asset, ok := s.index[tok]; ok {
			out = append(out, EmoteRef{Name: tok, Asset: asset})
			seen[tok] = true
		}
	}
	return out
}

func (s *EmoteService) loadIndex(ctx context.Context) {
	url := strings.TrimSpace(s.cfg.IndexURL)
	if url == "" {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return
	}
	resp, err := s.http.Do(req)
	if err != nil {
		s.log.Debug("emote index unavailable", logx.Err(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.log.Debug("emote index unavailable", logx.Int("status", resp.StatusCode))
		return
	}
	var idx map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&idx); err != nil {
		s.log.Debug("emote index decode failed", logx.Err(err))
		return
	}
	s.mu.Lock()
	s.index = idx
	s.mu.Unlock()
	s.log.Info("emote index loaded", logx.Int("emotes", len(idx)))
}
