// Package session owns the authoritative view of "is there a signed-in
// principal" and keeps the resolved effective identity in step with it.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"studiodesk.app/internal/identity"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/remote"
)

const defaultBootTimeout = 10 * time.Second

// State is the reactive snapshot exposed to views. Loading is false only
// once identity resolution for the current session has completed; consumers
// never observe an unresolved OwnerID with Loading false.
type State struct {
	User     *remote.User
	Session  *remote.Session
	Profile  *identity.Profile
	Identity identity.Identity
	Loading  bool
}

// Manager bootstraps and tracks the session, reacting to the remote auth
// event stream. All state writes are tagged with a generation; a write whose
// run is no longer current is dropped, which keeps in-flight resolutions from
// resurrecting state cleared by a sign-out.
type Manager struct {
	svc          remote.Service
	resolver     *identity.Resolver
	cache        *Cache
	notify       notify.Func
	afterSignOut func()
	bootTimeout  time.Duration

	mu          sync.Mutex
	gen         uint64
	st          State
	initialized bool
	subs        map[int]chan State
	next        int
}

// Option configures Manager behavior.
type Option func(*Manager)

// WithCache persists sessions across restarts.
func WithCache(c *Cache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithNotifier routes transient user-facing notifications.
func WithNotifier(fn notify.Func) Option {
	return func(m *Manager) {
		if fn != nil {
			m.notify = fn
		}
	}
}

// WithAfterSignOut installs the post-sign-out hook (hard navigation to the
// sign-in surface in the UI shell).
func WithAfterSignOut(fn func()) Option {
	return func(m *Manager) { m.afterSignOut = fn }
}

// WithBootTimeout bounds how long bootstrap may hold the loading state.
func WithBootTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.bootTimeout = d
		}
	}
}

// NewManager creates a manager over the remote service. The initial state is
// loading until Initialize completes.
func NewManager(svc remote.Service, resolver *identity.Resolver, opts ...Option) *Manager {
	m := &Manager{
		svc:         svc,
		resolver:    resolver,
		notify:      notify.Discard,
		bootTimeout: defaultBootTimeout,
		st:          State{Loading: true},
		subs:        make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns the current state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Loading reports whether bootstrap or a sign-in resolution is in progress.
func (m *Manager) Loading() bool {
	return m.Snapshot().Loading
}

// CurrentScope returns the signed-in user id and effective owner id. ok is
// false whenever either is missing; data stores must no-op in that case.
func (m *Manager) CurrentScope() (userID, ownerID string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st.User == nil || m.st.Identity.OwnerID == "" {
		return "", "", false
	}
	return m.st.User.ID, m.st.Identity.OwnerID, true
}

// Subscribe delivers a state snapshot after every change until ctx ends.
// Slow consumers lose intermediate snapshots rather than block the manager.
func (m *Manager) Subscribe(ctx context.Context) <-chan State {
	ch := make(chan State, 16)

	m.mu.Lock()
	id := m.next
	m.next++
	m.subs[id] = ch
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, id)
		close(ch)
		m.mu.Unlock()
	}()

	return ch
}

// Initialize restores an existing session, resolves identity for it, and only
// then clears the loading state. A safety timer forces loading off even if
// the remote call hangs; it does not cancel the underlying call.
func (m *Manager) Initialize(ctx context.Context) {
	gen := m.nextGen()
	timer := time.AfterFunc(m.bootTimeout, func() {
		if m.commit(gen, func(st *State) { st.Loading = false }) {
			obs.LogEvent("session.boot_timeout", map[string]any{"timeout": m.bootTimeout.String()})
		}
	})
	defer timer.Stop()
	defer func() {
		m.commit(gen, func(st *State) { st.Loading = false })
		m.mu.Lock()
		m.initialized = true
		m.mu.Unlock()
	}()

	if m.cache != nil {
		if cached, err := m.cache.Load(); err == nil && cached != nil && usable(cached) {
			m.svc.RestoreSession(cached)
		}
	}

	sess, err := m.svc.GetSession(ctx)
	if err != nil {
		// Fail safe to signed-out.
		obs.LogError("session.bootstrap", err, nil)
		m.commit(gen, clearState)
		return
	}
	if sess == nil {
		m.commit(gen, clearState)
		return
	}

	user := sess.User
	if !m.commit(gen, func(st *State) {
		st.Session = sess
		st.User = &user
	}) {
		return
	}
	if m.cache != nil {
		if err := m.cache.Store(sess); err != nil {
			obs.LogError("session.cache_store", err, nil)
		}
	}
	m.resolve(ctx, gen, user)
}

// Run consumes the auth event stream until ctx ends. Call it once, after
// starting Initialize.
func (m *Manager) Run(ctx context.Context) {
	for ev := range m.svc.AuthEvents(ctx) {
		m.handleEvent(ctx, ev)
	}
}

func (m *Manager) handleEvent(ctx context.Context, ev remote.AuthEvent) {
	switch ev.Kind {
	case remote.EventInitial:
		// Already handled by Initialize.
	case remote.EventSignedOut:
		gen := m.nextGen()
		m.commit(gen, clearState)
		if m.cache != nil {
			_ = m.cache.Clear()
		}
	case remote.EventSignedIn:
		m.mu.Lock()
		ready := m.initialized
		m.mu.Unlock()
		if !ready || ev.Session == nil {
			// Bootstrap owns resolution until it completes.
			return
		}
		gen := m.nextGen()
		sess := ev.Session
		user := sess.User
		m.commit(gen, func(st *State) {
			st.Session = sess
			st.User = &user
		})
		if m.cache != nil {
			_ = m.cache.Store(sess)
		}
		m.resolve(ctx, gen, user)
		m.commit(gen, func(st *State) { st.Loading = false })
	case remote.EventTokenRefreshed:
		if ev.Session == nil {
			return
		}
		// Identity does not change on refresh; update raw fields only.
		sess := ev.Session
		user := sess.User
		m.mu.Lock()
		m.st.Session = sess
		m.st.User = &user
		m.publishLocked()
		m.mu.Unlock()
		if m.cache != nil {
			_ = m.cache.Store(sess)
		}
	}
}

// SignOut clears local state before the remote call so the UI never shows
// stale authenticated content, and always completes from the user's
// perspective even when the remote call fails.
func (m *Manager) SignOut(ctx context.Context) {
	gen := m.nextGen()
	m.commit(gen, clearState)
	if m.cache != nil {
		if err := m.cache.Clear(); err != nil {
			obs.LogError("session.cache_clear", err, nil)
		}
	}
	if err := m.svc.SignOut(ctx, "local"); err != nil {
		obs.LogError("session.sign_out", err, nil)
	}
	if m.afterSignOut != nil {
		m.afterSignOut()
	}
}

// RefreshProfile re-runs identity resolution for the current principal
// without a full reload.
func (m *Manager) RefreshProfile(ctx context.Context) {
	m.mu.Lock()
	user := m.st.User
	m.mu.Unlock()
	if user == nil {
		return
	}
	gen := m.currentGen()
	m.resolve(ctx, gen, *user)
}

// resolve runs identity resolution and commits its outcome if the run is
// still current. The owner display name is fetched off the critical path.
func (m *Manager) resolve(ctx context.Context, gen uint64, user remote.User) {
	res := m.resolver.Resolve(ctx, user)
	if !m.commit(gen, func(st *State) {
		st.Profile = res.Profile
		st.Identity = res.Identity
	}) {
		return
	}
	if res.Identity.IsOwner {
		return
	}
	ownerID := res.Identity.OwnerID
	bg := context.WithoutCancel(ctx)
	go func() {
		name, err := m.resolver.LookupOwnerName(bg, ownerID)
		if err != nil {
			obs.LogError("session.owner_name", err, map[string]any{"owner_id": ownerID})
			return
		}
		m.commit(gen, func(st *State) { st.Identity.OwnerName = name })
	}()
}

// nextGen starts a new run, invalidating all in-flight writes.
func (m *Manager) nextGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.gen
}

func (m *Manager) currentGen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// commit applies fn to the state if gen is still current and publishes the
// new snapshot. It reports whether the write was applied.
func (m *Manager) commit(gen uint64, fn func(st *State)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	fn(&m.st)
	m.publishLocked()
	return true
}

func (m *Manager) publishLocked() {
	for _, ch := range m.subs {
		select {
		case ch <- m.st:
		default:
		}
	}
}

func clearState(st *State) {
	*st = State{Loading: false}
}

// usable reports whether a cached session is worth restoring: either the
// access token is still valid or a refresh token can replace it.
func usable(sess *remote.Session) bool {
	if sess.RefreshToken != "" {
		return true
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.AccessToken, &claims); err != nil {
		return false
	}
	return claims.ExpiresAt != nil && claims.ExpiresAt.After(time.Now())
}
