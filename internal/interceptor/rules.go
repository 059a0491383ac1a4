package interceptor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

// AuthRuleID is the fixed id of the header rule carrying the credential.
const AuthRuleID = 1

type Condition struct {
	URLPrefix string `json:"url_prefix"`
}

type HeaderOp struct {
	Header string `json:"header"`
	Value  string `json:"value"`
}

type Action struct {
	RequestHeaders []HeaderOp `json:"request_headers"`
}

type Rule struct {
	ID        int       `json:"id"`
	Priority  int       `json:"priority"`
	Condition Condition `json:"condition"`
	Action    Action    `json:"action"`
}

// RuleSet is a registry of declarative header rules keyed by id.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[int]Rule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[int]Rule)}
}

// UpdateDynamicRules removes removeIDs and then adds add, atomically.
// Adding an id that is present and not being removed is an error, so
// updates replace rules instead of duplicating them.
func (rs *RuleSet) UpdateDynamicRules(removeIDs []int, add []Rule) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	removing := make(map[int]bool, len(removeIDs))
	for _, id := range removeIDs {
		removing[id] = true
	}
	seen := make(map[int]bool, len(add))
	for _, r := range add {
		if r.ID <= 0 {
			return fmt.Errorf("rule id must be positive, got %d", r.ID)
		}
		if seen[r.ID] {
			return fmt.Errorf("rule id %d added twice", r.ID)
		}
		seen[r.ID] = true
		if _, exists := rs.rules[r.ID]; exists && !removing[r.ID] {
			return fmt.Errorf("rule id %d already exists", r.ID)
		}
	}

	for id := range removing {
		delete(rs.rules, id)
	}
	for _, r := range add {
		rs.rules[r.ID] = r
	}
	return nil
}

// Rules returns the installed rules ordered by id.
func (rs *RuleSet) Rules() []Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Match returns the highest-priority rule whose condition matches u. Ties
// go to the lower id.
func (rs *RuleSet) Match(u *url.URL) (Rule, bool) {
	var best Rule
	found := false
	for _, r := range rs.Rules() {
		if !matches(r.Condition.URLPrefix, u) {
			continue
		}
		if !found || r.Priority > best.Priority {
			best, found = r, true
		}
	}
	return best, found
}

// Apply sets the headers of the matching rule on req and reports whether a
// rule applied.
func (rs *RuleSet) Apply(req *http.Request) bool {
	r, ok := rs.Match(req.URL)
	if !ok {
		return false
	}
	for _, op := range r.Action.RequestHeaders {
		req.Header.Set(op.Header, op.Value)
	}
	return true
}

// RuleTransport authorizes requests under Prefix through the rule set.
// Requests under Prefix that no rule covers are canceled.
type RuleTransport struct {
	Rules  *RuleSet
	Prefix string
	Base   http.RoundTripper
}

func (t *RuleTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if !matches(t.Prefix, req.URL) {
		return base(t.Base).RoundTrip(req)
	}
	out := req.Clone(req.Context())
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	if !t.Rules.Apply(out) {
		closeBody(req)
		return nil, fmt.Errorf("%w: no header rule installed", ErrRequestCanceled)
	}
	return base(t.Base).RoundTrip(out)
}

// Syncer keeps AuthRuleID in step with the stored credential.
type Syncer struct {
	Rules       *RuleSet
	Credentials CredentialSource
	Storage     storage.Store
	Prefix      string

	// mu orders resyncs so an older read never overwrites a newer rule.
	mu sync.Mutex
}

// Resync rebuilds the auth rule from the current credential. Without a
// usable credential the rule is removed.
func (s *Syncer) Resync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	apiKey, found, err := s.Credentials.LoadCredential(ctx)
	if err != nil || !found || apiKey == "" {
		if rmErr := s.Rules.UpdateDynamicRules([]int{AuthRuleID}, nil); rmErr != nil {
			return rmErr
		}
		if err != nil {
			return fmt.Errorf("resync header rule: %w", err)
		}
		logrus.Debug("no API key stored, header rule removed")
		return nil
	}

	rule := Rule{
		ID:        AuthRuleID,
		Priority:  1,
		Condition: Condition{URLPrefix: s.Prefix},
		Action: Action{RequestHeaders: []HeaderOp{
			{Header: HeaderAuthorization, Value: "Bearer " + apiKey},
			{Header: HeaderNoSniff, Value: noSniff},
		}},
	}
	if err := s.Rules.UpdateDynamicRules([]int{AuthRuleID}, []Rule{rule}); err != nil {
		return err
	}
	logrus.Debug("header rule updated")
	return nil
}

// Run resyncs once and then after every change of the stored credential or
// its encryption key, until ctx is done. Changes arriving during a resync
// coalesce into one more resync; none are lost.
func (s *Syncer) Run(ctx context.Context) error {
	dirty, cancel := s.Storage.Watch(affectsCredential)
	defer cancel()

	if err := s.Resync(ctx); err != nil {
		logrus.WithError(err).Warn("initial header rule sync failed")
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-dirty:
			if !ok {
				return nil
			}
			if err := s.Resync(ctx); err != nil {
				logrus.WithError(err).Warn("header rule sync failed")
			}
		}
	}
}

func affectsCredential(c storage.Change) bool {
	return c.Affects(storage.Local, storage.KeyCredential) || c.Affects(storage.Local, storage.KeyEncryptionKey)
}
