package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cedar-policy/cedar-go"
	"github.com/fsnotify/fsnotify"
)

// Decision represents the result of an admission evaluation
type Decision string

const (
	ALLOW Decision = "ALLOW"
	DENY  Decision = "DENY"
)

// Facts carries the request attributes the admission policies see.
type Facts struct {
	Identity   string
	Tier       string
	SessionID  string
	CharCount  int
	TokenCount int
}

// Engine wraps the Cedar policy engine with hot-reloading support. Policies
// gate requests before the security pipeline runs.
type Engine struct {
	policySet     atomic.Pointer[cedar.PolicySet]
	policyVersion atomic.Pointer[string]
	PolicyPath    string

	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	logger     *log.Logger
	reloadLock sync.Mutex
}

// PolicyVersion returns the current policy version (thread-safe)
func (e *Engine) PolicyVersion() string {
	v := e.policyVersion.Load()
	if v == nil {
		return ""
	}
	return *v
}

// NewEngine creates a new Engine and loads policies from a file
func NewEngine(policyPath string) (*Engine, error) {
	return NewEngineWithLogger(policyPath, log.Default())
}

// NewEngineWithLogger creates a new Engine with a custom logger
func NewEngineWithLogger(policyPath string, logger *log.Logger) (*Engine, error) {
	e := &Engine{
		PolicyPath: policyPath,
		stopWatch:  make(chan struct{}),
		logger:     logger,
	}

	if err := e.reload(); err != nil {
		return nil, err
	}

	return e, nil
}

// StartHotReload enables fsnotify file watching for policy hot-reloading
func (e *Engine) StartHotReload() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	e.watcher = watcher

	if err := watcher.Add(e.PolicyPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy file: %w", err)
	}

	go e.watchLoop()

	e.logger.Printf("[Cedar] Hot-reload enabled for: %s", e.PolicyPath)
	return nil
}

// StopHotReload stops the file watcher
func (e *Engine) StopHotReload() {
	if e.watcher != nil {
		close(e.stopWatch)
		e.watcher.Close()
	}
}

func (e *Engine) watchLoop() {
	// Debounce timer to handle rapid file saves
	var debounceTimer *time.Timer
	debounce := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					e.reloadLock.Lock()
					defer e.reloadLock.Unlock()

					oldVersion := e.PolicyVersion()
					if err := e.reload(); err != nil {
						e.logger.Printf("[Cedar] Hot-reload FAILED: %v", err)
					} else {
						e.logger.Printf("[Cedar] Hot-reload SUCCESS: %s -> %s", oldVersion, e.PolicyVersion())
					}
				})
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			e.logger.Printf("[Cedar] Watcher error: %v", err)
		case <-e.stopWatch:
			return
		}
	}
}

// reload loads/reloads policies from the file
func (e *Engine) reload() error {
	data, err := os.ReadFile(e.PolicyPath)
	if err != nil {
		return fmt.Errorf("failed to read policy file: %w", err)
	}

	// Compute policy version hash
	hash := sha256.Sum256(data)
	version := hex.EncodeToString(hash[:])[:12]

	ps := cedar.NewPolicySet()

	// Split policies by semicolon as a rudimentary parser
	chunks := strings.Split(string(data), ";")
	for i, chunk := range chunks {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		fullPolicy := chunk + ";"

		var policy cedar.Policy
		if err := policy.UnmarshalCedar([]byte(fullPolicy)); err != nil {
			return fmt.Errorf("failed to unmarshal cedar policy part %d: %w", i, err)
		}

		ps.Add(cedar.PolicyID(fmt.Sprintf("policy%d", i)), &policy)
	}

	// Atomic swap
	e.policySet.Store(ps)
	e.policyVersion.Store(&version)

	return nil
}

// Evaluate checks the request facts against the admission policies.
func (e *Engine) Evaluate(facts Facts) (Decision, string, error) {
	ps := e.policySet.Load()
	if ps == nil {
		return DENY, "Policy engine not initialized", nil
	}

	identity := facts.Identity
	if identity == "" {
		identity = "anonymous"
	}

	entities := cedar.EntityMap{
		cedar.NewEntityUID("Gateway", "default"): cedar.Entity{
			UID: cedar.NewEntityUID("Gateway", "default"),
			Attributes: cedar.NewRecord(cedar.RecordMap{
				"tier": cedar.String(facts.Tier),
			}),
		},
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", cedar.String(identity)),
		Action:    cedar.NewEntityUID("Action", "chat"),
		Resource:  cedar.NewEntityUID("Gateway", "default"),
		Context: cedar.NewRecord(cedar.RecordMap{
			"tier":        cedar.String(facts.Tier),
			"session_id":  cedar.String(facts.SessionID),
			"char_count":  cedar.Long(int64(facts.CharCount)),
			"token_count": cedar.Long(int64(facts.TokenCount)),
		}),
	}

	ok, diagnostics := cedar.Authorize(ps, entities, req)

	var policyID string
	if len(diagnostics.Reasons) > 0 {
		policyID = string(diagnostics.Reasons[0].PolicyID)
	}

	if ok {
		return ALLOW, fmt.Sprintf("allowed by %s", orDefault(policyID, "policy")), nil
	}
	return DENY, fmt.Sprintf("denied by %s", orDefault(policyID, "policy")), nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
