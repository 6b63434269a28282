package goLink

import (
	"context"
	"sync"
	"testing"
	"time"
)

// simClock is a manually advanced clock shared by an engine under test.
type simClock struct {
	mu  sync.Mutex
	now time.Time
}

func newSimClock() *simClock {
	return &simClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeClient is a scripted Client. Behavior fields default to success; tests
// override the ones they exercise.
type fakeClient struct {
	mu           sync.Mutex
	session      string
	connected    bool
	connectCalls int
	signInCalls  int

	connectErr     error
	connectErrs    []error
	disconnectFn   func()
	sendCodeErr    error
	signInFn       func(code string) error
	passwordCheck  string
	passwordErr    error
	identityFn     func() (*RemoteIdentity, error)
	exportToken    []byte
	exportErr      error
	saveSessionErr error
	invokeFn       func(request any) (any, error)
}

func (c *fakeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connectCalls++
	if len(c.connectErrs) > 0 {
		err := c.connectErrs[0]
		c.connectErrs = c.connectErrs[1:]
		if err != nil {
			return err
		}
		c.connected = true
		return nil
	}
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Disconnect() error {
	c.mu.Lock()
	c.connected = false
	fn := c.disconnectFn
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
	return nil
}

func (c *fakeClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Invoke(ctx context.Context, request any) (any, error) {
	c.mu.Lock()
	fn := c.invokeFn
	c.mu.Unlock()
	if fn != nil {
		return fn(request)
	}
	return "ok", nil
}

func (c *fakeClient) SaveSession() (string, error) {
	if c.saveSessionErr != nil {
		return "", c.saveSessionErr
	}
	if c.session == "" {
		return "session-blob", nil
	}
	return c.session, nil
}

func (c *fakeClient) SendCode(ctx context.Context, phone string) (string, error) {
	if c.sendCodeErr != nil {
		return "", c.sendCodeErr
	}
	return "challenge-" + phone, nil
}

func (c *fakeClient) SignIn(ctx context.Context, phone, challengeID, code string) error {
	c.mu.Lock()
	c.signInCalls++
	fn := c.signInFn
	c.mu.Unlock()
	if fn != nil {
		return fn(code)
	}
	return nil
}

func (c *fakeClient) SignInWithPassword(ctx context.Context, password PasswordFunc) error {
	if c.passwordErr != nil {
		return c.passwordErr
	}
	pw, err := password(0, nil)
	if err != nil {
		return err
	}
	if c.passwordCheck != "" && pw != c.passwordCheck {
		return ErrPasswordInvalid
	}
	return nil
}

func (c *fakeClient) ExportLoginToken(ctx context.Context) ([]byte, time.Time, error) {
	if c.exportErr != nil {
		return nil, time.Time{}, c.exportErr
	}
	token := c.exportToken
	if token == nil {
		token = []byte("login-token")
	}
	return token, time.Time{}, nil
}

func (c *fakeClient) Identity(ctx context.Context) (*RemoteIdentity, error) {
	c.mu.Lock()
	fn := c.identityFn
	c.mu.Unlock()
	if fn != nil {
		return fn()
	}
	return &RemoteIdentity{Phone: "+15550100001", DisplayName: "Test User"}, nil
}

// fakeFactory hands out scripted clients in order, falling back to plain
// successful clients when the script runs out.
type fakeFactory struct {
	mu       sync.Mutex
	scripted []*fakeClient
	made     []*fakeClient
}

func (f *fakeFactory) NewClient(session string) (Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var client *fakeClient
	if len(f.scripted) > 0 {
		client = f.scripted[0]
		f.scripted = f.scripted[1:]
	} else {
		client = &fakeClient{}
	}
	if client.session == "" {
		client.session = session
	}
	f.made = append(f.made, client)
	return client, nil
}

func (f *fakeFactory) script(clients ...*fakeClient) {
	f.mu.Lock()
	f.scripted = append(f.scripted, clients...)
	f.mu.Unlock()
}

func (f *fakeFactory) last(t *testing.T) *fakeClient {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.made) == 0 {
		t.Fatal("factory produced no clients")
	}
	return f.made[len(f.made)-1]
}

// memStore is an in-memory CredentialStore.
type memStore struct {
	mu         sync.Mutex
	seq        int64
	accounts   map[AccountID]AccountRow
	challenges map[OwnerID]PendingChallengeRow

	failUpsert error
}

func newMemStore() *memStore {
	return &memStore{
		accounts:   make(map[AccountID]AccountRow),
		challenges: make(map[OwnerID]PendingChallengeRow),
	}
}

func (s *memStore) LoadAccounts(ctx context.Context) ([]AccountRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]AccountRow, 0, len(s.accounts))
	for _, row := range s.accounts {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *memStore) UpsertAccount(ctx context.Context, row AccountRow) (AccountID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpsert != nil {
		return 0, s.failUpsert
	}
	if row.AccountID == 0 {
		s.seq++
		row.AccountID = AccountID(s.seq)
	}
	s.accounts[row.AccountID] = row
	return row.AccountID, nil
}

func (s *memStore) SetAccountOwner(ctx context.Context, id AccountID, owner OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	row.OwnerID = owner
	s.accounts[id] = row
	return nil
}

func (s *memStore) SetAccountActive(ctx context.Context, id AccountID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	row.IsActive = active
	s.accounts[id] = row
	return nil
}

func (s *memStore) ClearSession(ctx context.Context, id AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	row.SessionToken = ""
	row.IsActive = false
	s.accounts[id] = row
	return nil
}

func (s *memStore) DeleteAccount(ctx context.Context, id AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, id)
	return nil
}

func (s *memStore) SavePendingChallenge(ctx context.Context, row PendingChallengeRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.challenges[row.OwnerID] = row
	return nil
}

func (s *memStore) LoadPendingChallenge(ctx context.Context, owner OwnerID) (*PendingChallengeRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.challenges[owner]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (s *memStore) DeletePendingChallenge(ctx context.Context, owner OwnerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.challenges, owner)
	return nil
}

func (s *memStore) row(t *testing.T, id AccountID) AccountRow {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.accounts[id]
	if !ok {
		t.Fatalf("account %d not in store", id)
	}
	return row
}

// newTestEngine builds an engine on the in-memory store with a simulated
// clock and a no-op sleeper.
func newTestEngine(t *testing.T, mutate func(*Config)) (*Engine, *memStore, *fakeFactory, *simClock) {
	t.Helper()

	cfg := defaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	store := newMemStore()
	factory := &fakeFactory{}
	engine, err := New().
		WithConfig(cfg).
		WithStore(store).
		WithClientFactory(factory).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	clock := newSimClock()
	engine.now = clock.Now
	engine.sleep = func(ctx context.Context, d time.Duration) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		clock.Advance(d)
		return nil
	}

	t.Cleanup(engine.Close)
	return engine, store, factory, clock
}

// linkAccount walks the code flow to a linked account and returns its id.
func linkAccount(t *testing.T, engine *Engine, factory *fakeFactory, owner OwnerID, phone string) AccountID {
	t.Helper()

	factory.script(&fakeClient{identityFn: func() (*RemoteIdentity, error) {
		return &RemoteIdentity{Phone: phone}, nil
	}})
	if _, err := engine.InitiateLink(context.Background(), owner, phone); err != nil {
		t.Fatalf("InitiateLink(%s) failed: %v", phone, err)
	}
	result, err := engine.SubmitCode(context.Background(), owner, "12345")
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if result.AccountID == 0 {
		t.Fatal("expected a non-zero account id")
	}
	return result.AccountID
}

// waitFor polls cond until it holds or the deadline lapses.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
