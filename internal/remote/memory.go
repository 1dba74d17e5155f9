package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// memorySecret signs in-memory access tokens so session-side claim parsing
// behaves like it does against the real service.
var memorySecret = []byte("studiodesk-inmemory")

type memUser struct {
	id       string
	password string
}

// InMemory implements Service with in-process state. It backs tests and demo
// mode; replace with Client against a real deployment.
type InMemory struct {
	mu       sync.Mutex
	tables   map[string][]Row
	users    map[string]memUser // email -> account
	session  *Session
	uploads  map[string][]byte
	fns      map[string]func(payload json.RawMessage) (any, error)
	failures map[string]error // "op:table" or "op" -> error, consumed once
	stream   *eventStream
}

var _ Service = (*InMemory)(nil)

// NewInMemory creates an empty service.
func NewInMemory() *InMemory {
	return &InMemory{
		tables:   make(map[string][]Row),
		users:    make(map[string]memUser),
		uploads:  make(map[string][]byte),
		fns:      make(map[string]func(json.RawMessage) (any, error)),
		failures: make(map[string]error),
		stream:   newEventStream(),
	}
}

// SeedUser registers an account and returns its identity.
func (s *InMemory) SeedUser(email, password string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		return User{ID: u.id, Email: email}
	}
	u := memUser{id: uuid.NewString(), password: password}
	s.users[email] = u
	return User{ID: u.id, Email: email}
}

// Seed appends rows to a table, assigning ids where missing.
func (s *InMemory) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.tables[table] = append(s.tables[table], s.normalize(row))
	}
}

// FailNext arranges for the next matching operation to fail with err. The key
// is either "op" or "op:table", e.g. "insert:board_columns".
func (s *InMemory) FailNext(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key] = err
}

// RegisterFunction installs a fake edge function.
func (s *InMemory) RegisterFunction(name string, fn func(payload json.RawMessage) (any, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns[name] = fn
}

// Rows returns a deep copy of a table, for test assertions.
func (s *InMemory) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		out = append(out, copyRow(row))
	}
	return out
}

func (s *InMemory) popFailure(op, table string) error {
	if err, ok := s.failures[op+":"+table]; ok {
		delete(s.failures, op+":"+table)
		return err
	}
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *InMemory) normalize(row Row) Row {
	cp := copyRow(row)
	if _, ok := cp["id"]; !ok {
		cp["id"] = uuid.NewString()
	}
	if _, ok := cp["created_at"]; !ok {
		cp["created_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	return cp
}

// --- Auth ---

func (s *InMemory) GetSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure("get_session", ""); err != nil {
		return nil, err
	}
	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

func (s *InMemory) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s.mu.Lock()
	if err := s.popFailure("sign_in", ""); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	acc, ok := s.users[email]
	if !ok || acc.password != password {
		s.mu.Unlock()
		return nil, ErrUnauthorized
	}
	sess := mintSession(User{ID: acc.id, Email: email})
	s.session = sess
	s.mu.Unlock()

	s.stream.publish(AuthEvent{Kind: EventSignedIn, Session: sess})
	cp := *sess
	return &cp, nil
}

func (s *InMemory) RestoreSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess == nil {
		s.session = nil
		return
	}
	cp := *sess
	s.session = &cp
}

// RefreshSession rotates the access token of the live session and emits a
// token-refreshed event, mimicking the service's out-of-band refresh.
func (s *InMemory) RefreshSession() *Session {
	s.mu.Lock()
	if s.session == nil {
		s.mu.Unlock()
		return nil
	}
	sess := mintSession(s.session.User)
	s.session = sess
	s.mu.Unlock()

	s.stream.publish(AuthEvent{Kind: EventTokenRefreshed, Session: sess})
	cp := *sess
	return &cp
}

func (s *InMemory) SignOut(ctx context.Context, scope string) error {
	s.mu.Lock()
	err := s.popFailure("sign_out", "")
	s.session = nil
	s.mu.Unlock()

	s.stream.publish(AuthEvent{Kind: EventSignedOut})
	return err
}

func (s *InMemory) AuthEvents(ctx context.Context) <-chan AuthEvent {
	return s.stream.subscribe(ctx)
}

func mintSession(u User) *Session {
	exp := time.Now().UTC().Add(time.Hour)
	claims := jwt.RegisteredClaims{
		Subject:   u.ID,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		ID:        uuid.NewString(),
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(memorySecret)
	return &Session{
		AccessToken:  signed,
		RefreshToken: uuid.NewString(),
		ExpiresAt:    exp,
		User:         u,
	}
}

// --- Data ---

func (s *InMemory) Select(ctx context.Context, q Query, dest any) error {
	s.mu.Lock()
	if err := s.popFailure("select", q.Table); err != nil {
		s.mu.Unlock()
		return err
	}
	var matched []Row
	for _, row := range s.tables[q.Table] {
		if matchFilter(row, q.Filter) {
			matched = append(matched, copyRow(row))
		}
	}
	s.mu.Unlock()

	sortRows(matched, q.Order)
	return decodeRows(matched, dest)
}

func (s *InMemory) Insert(ctx context.Context, table string, row Row, dest any) error {
	s.mu.Lock()
	if err := s.popFailure("insert", table); err != nil {
		s.mu.Unlock()
		return err
	}
	stored := s.normalize(row)
	s.tables[table] = append(s.tables[table], stored)
	s.mu.Unlock()

	if dest == nil {
		return nil
	}
	return decodeRows(stored, dest)
}

func (s *InMemory) Update(ctx context.Context, table string, patch Row, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure("update", table); err != nil {
		return err
	}
	for _, row := range s.tables[table] {
		if matchFilter(row, filter) {
			for k, v := range patch {
				row[k] = v
			}
		}
	}
	return nil
}

func (s *InMemory) Delete(ctx context.Context, table string, filter Filter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure("delete", table); err != nil {
		return err
	}
	kept := s.tables[table][:0]
	for _, row := range s.tables[table] {
		if !matchFilter(row, filter) {
			kept = append(kept, row)
		}
	}
	s.tables[table] = kept
	return nil
}

// --- Files / Functions ---

func (s *InMemory) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.popFailure("upload", bucket); err != nil {
		return "", err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.uploads[bucket+"/"+path] = cp
	return "memory://" + bucket + "/" + path, nil
}

func (s *InMemory) Invoke(ctx context.Context, name string, payload any, dest any) error {
	s.mu.Lock()
	if err := s.popFailure("invoke", name); err != nil {
		s.mu.Unlock()
		return err
	}
	fn, ok := s.fns[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: function %s", ErrNotFound, name)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	out, err := fn(raw)
	if err != nil {
		return err
	}
	if dest == nil {
		return nil
	}
	return decodeRows(out, dest)
}

// --- helpers ---

func copyRow(row Row) Row {
	cp := make(Row, len(row))
	for k, v := range row {
		cp[k] = v
	}
	return cp
}

// matchFilter compares on printed form, which is how the generic row payloads
// behave after a JSON round trip.
func matchFilter(row Row, filter Filter) bool {
	for k, want := range filter {
		got, ok := row[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func sortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Column], rows[j][o.Column]
			cmp := compareValues(a, b)
			if cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// decodeRows moves src into dest through a JSON round trip, mirroring what
// the HTTP client does with response bodies.
func decodeRows(src any, dest any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}
