// Package authz decides who may grant or request builds of pull requests.
package authz

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/prbuilder/internal/logfields"
)

const loggerName = "authz"

// Config contains the user lists and comment phrases of a Policy.
// Phrases are regular expressions. A comment body matches a phrase when
// the whole, whitespace trimmed, body matches it case-insensitively, '.'
// also matches newlines.
type Config struct {
	Admins          []string
	Whitelist       []string
	WhitelistPhrase string
	OkToTestPhrase  string
	RetestPhrase    string
}

// Policy answers authorization questions about github logins and comment
// bodies.
// The only mutable state is the whitelist, it is safe for concurrent use.
type Policy struct {
	admins map[string]struct{}

	whitelist     map[string]struct{}
	whitelistLock sync.RWMutex
	onWhitelisted func(login string)

	whitelistPhrase *regexp.Regexp
	okToTestPhrase  *regexp.Regexp
	retestPhrase    *regexp.Regexp

	logger *zap.Logger
}

type Option func(*Policy)

// WithWhitelistListener registers fn to be called when a login was added
// to the whitelist via AddToWhitelist. It is not called for logins that
// were whitelisted already.
func WithWhitelistListener(fn func(login string)) Option {
	return func(p *Policy) {
		p.onWhitelisted = fn
	}
}

func compilePhrase(phrase string) (*regexp.Regexp, error) {
	if phrase == "" {
		return nil, nil
	}

	return regexp.Compile(`(?is)^(?:` + phrase + `)$`)
}

func New(cfg *Config, opts ...Option) (*Policy, error) {
	var err error

	p := Policy{
		admins:    toSet(cfg.Admins),
		whitelist: toSet(cfg.Whitelist),
		logger:    zap.L().Named(loggerName),
	}

	if p.whitelistPhrase, err = compilePhrase(cfg.WhitelistPhrase); err != nil {
		return nil, fmt.Errorf("whitelist phrase: %w", err)
	}

	if p.okToTestPhrase, err = compilePhrase(cfg.OkToTestPhrase); err != nil {
		return nil, fmt.Errorf("ok-to-test phrase: %w", err)
	}

	if p.retestPhrase, err = compilePhrase(cfg.RetestPhrase); err != nil {
		return nil, fmt.Errorf("retest phrase: %w", err)
	}

	for _, opt := range opts {
		opt(&p)
	}

	return &p, nil
}

func toSet(sl []string) map[string]struct{} {
	result := make(map[string]struct{}, len(sl))

	for _, elem := range sl {
		if elem = strings.TrimSpace(elem); elem != "" {
			result[elem] = struct{}{}
		}
	}

	return result
}

// IsAdmin returns true if login is in the admin list.
func (p *Policy) IsAdmin(login string) bool {
	_, exists := p.admins[login]
	return exists
}

// IsWhitelisted returns true if login is whitelisted or an admin.
func (p *Policy) IsWhitelisted(login string) bool {
	if p.IsAdmin(login) {
		return true
	}

	p.whitelistLock.RLock()
	defer p.whitelistLock.RUnlock()

	_, exists := p.whitelist[login]
	return exists
}

// AddToWhitelist adds login to the whitelist.
// If it is already whitelisted nothing happens.
func (p *Policy) AddToWhitelist(login string) {
	if login == "" {
		return
	}

	p.whitelistLock.Lock()
	if _, exists := p.whitelist[login]; exists {
		p.whitelistLock.Unlock()
		return
	}

	p.whitelist[login] = struct{}{}
	p.whitelistLock.Unlock()

	p.logger.Info(
		"login added to whitelist",
		logfields.Event("whitelist_login_added"),
		logfields.Author(login),
	)

	if p.onWhitelisted != nil {
		p.onWhitelisted(login)
	}
}

// Whitelist returns the sorted whitelisted logins, admins are not included.
func (p *Policy) Whitelist() []string {
	p.whitelistLock.RLock()
	defer p.whitelistLock.RUnlock()

	result := make([]string, 0, len(p.whitelist))
	for login := range p.whitelist {
		result = append(result, login)
	}

	sort.Strings(result)

	return result
}

func matches(re *regexp.Regexp, body string) bool {
	if re == nil {
		return false
	}

	return re.MatchString(strings.TrimSpace(body))
}

func (p *Policy) MatchesWhitelistPhrase(body string) bool {
	return matches(p.whitelistPhrase, body)
}

func (p *Policy) MatchesOkToTestPhrase(body string) bool {
	return matches(p.okToTestPhrase, body)
}

func (p *Policy) MatchesRetestPhrase(body string) bool {
	return matches(p.retestPhrase, body)
}
