package dashboard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokensync/internal/domain"
	"github.com/vadiminshakov/tokensync/internal/events"
)

type fakeSession struct {
	mu        sync.Mutex
	view      domain.View
	err       error
	actions   []string
	direction domain.Direction
	amount    decimal.Decimal
}

func (f *fakeSession) View() domain.View {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.view
}

func (f *fakeSession) record(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, name)
	return f.err
}

func (f *fakeSession) Connect(context.Context) error { return f.record("connect") }
func (f *fakeSession) Refresh(context.Context) error { return f.record("refresh") }
func (f *fakeSession) Reset(context.Context) error   { return f.record("reset") }

func (f *fakeSession) Trade(_ context.Context, direction domain.Direction, amount decimal.Decimal) error {
	f.mu.Lock()
	f.direction, f.amount = direction, amount
	f.mu.Unlock()
	return f.record("trade")
}

type fakeStore struct {
	records []domain.SnapshotRecord
}

func (f *fakeStore) SnapshotsAfter(index uint64) ([]domain.SnapshotRecord, error) {
	var out []domain.SnapshotRecord
	for _, r := range f.records {
		if r.Index > index {
			out = append(out, r)
		}
	}
	return out, nil
}

func readyView() domain.View {
	account := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	snapshot := domain.NewSnapshot(time.Time{}, account, decimal.NewFromInt(10), decimal.NewFromInt(5), decimal.RequireFromString("0.001"))
	return domain.View{
		Session:  domain.Session{State: domain.StateReady, Account: &account, NetworkOK: true},
		Snapshot: &snapshot,
		Notices:  []domain.Notice{},
	}
}

func TestServer_Session(t *testing.T) {
	s := NewServer(":0", &fakeSession{view: readyView()}, nil, nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/session", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	session := body["session"].(map[string]any)
	assert.Equal(t, "ready", session["state"])
	snapshot := body["snapshot"].(map[string]any)
	assert.Equal(t, "5", snapshot["token_balance"])
}

func TestServer_Actions(t *testing.T) {
	fs := &fakeSession{view: readyView()}
	h := NewServer(":0", fs, nil, nil, nil).Handler()

	for _, path := range []string{"/connect", "/refresh", "/reset"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	assert.Equal(t, []string{"connect", "refresh", "reset"}, fs.actions)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/connect", nil))
	assert.NotEqual(t, http.StatusOK, rec.Code, "actions are POST only")
}

func TestServer_Trade(t *testing.T) {
	for _, tc := range []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "buy", body: `{"direction":"buy","amount":"5"}`, status: http.StatusOK},
		{name: "pending", body: `{"direction":"sell","amount":"1"}`, err: domain.ErrAlreadyPending, status: http.StatusConflict},
		{name: "busy", body: `{"direction":"sell","amount":"1"}`, err: domain.ErrBusy, status: http.StatusConflict},
		{name: "not ready", body: `{"direction":"sell","amount":"1"}`, err: errors.Wrap(domain.ErrNotReady, "state is disconnected"), status: http.StatusPreconditionFailed},
		{name: "rejected", body: `{"direction":"buy","amount":"1"}`, err: errors.Wrap(domain.ErrUserRejected, "declined"), status: http.StatusForbidden},
		{name: "reverted", body: `{"direction":"buy","amount":"1"}`, err: errors.Wrap(domain.ErrTxFailed, "reverted"), status: http.StatusBadGateway},
		{name: "bad amount", body: `{"direction":"buy","amount":"-1"}`, status: http.StatusBadRequest},
		{name: "empty amount", body: `{"direction":"buy","amount":""}`, status: http.StatusBadRequest},
		{name: "bad direction", body: `{"direction":"hold","amount":"1"}`, status: http.StatusBadRequest},
		{name: "malformed", body: `{`, status: http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fs := &fakeSession{view: readyView(), err: tc.err}
			rec := httptest.NewRecorder()
			NewServer(":0", fs, nil, nil, nil).Handler().
				ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trade", strings.NewReader(tc.body)))

			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.status != http.StatusOK && tc.err != nil {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Remediation)
			}
		})
	}

	fs := &fakeSession{view: readyView()}
	rec := httptest.NewRecorder()
	NewServer(":0", fs, nil, nil, nil).Handler().
		ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trade", strings.NewReader(`{"direction":"SELL","amount":"2.5"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DirectionSell, fs.direction)
	assert.True(t, fs.amount.Equal(decimal.RequireFromString("2.5")))
}

func streamFor(t *testing.T, h http.Handler, target string, during func()) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, target, nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.ServeHTTP(rec, req)
	}()
	if during != nil {
		during()
	}
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done
	return rec.Body.String()
}

func TestServer_SnapshotStream(t *testing.T) {
	store := &fakeStore{records: []domain.SnapshotRecord{
		{Index: 1, Snapshot: *readyView().Snapshot},
		{Index: 2, Snapshot: *readyView().Snapshot},
	}}
	h := NewServer(":0", &fakeSession{}, nil, store, nil).Handler()

	body := streamFor(t, h, "/snapshots/stream", nil)
	assert.Contains(t, body, "id: 1\nevent: snapshot\n")
	assert.Contains(t, body, "id: 2\nevent: snapshot\n")
	assert.NotContains(t, body, "no_data")

	// a resumed client is already up to date
	body = streamFor(t, h, "/snapshots/stream?last_event_id=2", nil)
	assert.NotContains(t, body, "event: snapshot")
	assert.NotContains(t, body, "event: no_data")

	empty := NewServer(":0", &fakeSession{}, nil, &fakeStore{}, nil).Handler()
	body = streamFor(t, empty, "/snapshots/stream", nil)
	assert.NotContains(t, body, "event: snapshot")
	assert.Contains(t, body, "event: no_data")
}

func TestServer_SessionStream(t *testing.T) {
	views := events.NewViewBroadcaster(8)
	h := NewServer(":0", &fakeSession{view: readyView()}, views, nil, nil).Handler()

	body := streamFor(t, h, "/session/stream", func() {
		require.Eventually(t, func() bool { return views.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
		views.Publish(domain.View{Session: domain.Session{State: domain.StateLoading}})
	})

	assert.Equal(t, 2, strings.Count(body, "event: session\n"))
	assert.Contains(t, body, `"state":"ready"`)
	assert.Contains(t, body, `"state":"loading"`)
	assert.Equal(t, 0, views.Subscribers())
}

func TestServer_StreamsUnavailable(t *testing.T) {
	h := NewServer(":0", &fakeSession{}, nil, nil, nil).Handler()
	for _, path := range []string{"/session/stream", "/snapshots/stream"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestThinRecords(t *testing.T) {
	records := make([]domain.SnapshotRecord, 250)
	for i := range records {
		records[i].Index = uint64(i + 1)
	}
	thinned := thinRecords(records)
	assert.Less(t, len(thinned), len(records))
	assert.Greater(t, len(thinned), 100)
	assert.Equal(t, records[len(records)-100:], thinned[len(thinned)-100:])

	assert.Len(t, thinRecords(records[:50]), 50)
}

type fakeWallet struct {
	mu          sync.Mutex
	accounts    []common.Address
	selected    int
	connected   bool
	disconnects int
}

func (f *fakeWallet) Accounts() []common.Address { return f.accounts }

func (f *fakeWallet) Selected() (common.Address, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return common.Address{}, false
	}
	return f.accounts[f.selected], true
}

func (f *fakeWallet) Select(i int) error {
	if i < 0 || i >= len(f.accounts) {
		return errors.Errorf("account index %d out of range", i)
	}
	f.mu.Lock()
	f.selected = i
	f.mu.Unlock()
	return nil
}

func (f *fakeWallet) Disconnect() {
	f.mu.Lock()
	f.connected = false
	f.disconnects++
	f.mu.Unlock()
}

func TestServer_Accounts(t *testing.T) {
	first := common.HexToAddress("0x1111111111111111111111111111111111111111")
	second := common.HexToAddress("0x2222222222222222222222222222222222222222")
	fw := &fakeWallet{accounts: []common.Address{first, second}, connected: true}
	fs := &fakeSession{view: readyView()}
	srv := NewServer(":0", fs, nil, nil, nil)
	srv.Wallet = fw
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listed accountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Equal(t, []common.Address{first, second}, listed.Accounts)
	require.NotNil(t, listed.Selected)
	assert.Equal(t, first, *listed.Selected)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/account", strings.NewReader(`{"index":1}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	var switched accountsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &switched))
	require.NotNil(t, switched.Selected)
	assert.Equal(t, second, *switched.Selected)

	for _, body := range []string{`{"index":7}`, `{"index":-1}`, `{}`, `nope`} {
		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/account", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/disconnect", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fw.disconnects)
	assert.Equal(t, []string{"reset"}, fs.actions)
}

func TestServer_AccountsUnavailable(t *testing.T) {
	h := NewServer(":0", &fakeSession{}, nil, nil, nil).Handler()
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/accounts"},
		{http.MethodPost, "/account"},
		{http.MethodPost, "/disconnect"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{"index":0}`)))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
	}
}
