package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	tokenshttp "tokenserver/internal/api/http"
	"tokenserver/internal/api/http/handlers"
	"tokenserver/internal/comments"
	"tokenserver/internal/domain"
	"tokenserver/internal/eventbus"
	"tokenserver/internal/kv"
	"tokenserver/internal/reactions"
	"tokenserver/internal/tokenrepo"
	"tokenserver/internal/watchlist"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{Level: "error", Format: "json"})
}

// fakeUsers implements both watchlist.UserResolver and comments.UserResolver
// against a single in-memory wallet->id map, grounded on comments_test.go's
// and watchlist_test.go's own fakeUsers fixtures.
type fakeUsers struct {
	nextID int64
	byAddr map[string]int64
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byAddr: make(map[string]int64)}
}

func (f *fakeUsers) GetOrCreateUserByWallet(ctx context.Context, wallet string) (int64, error) {
	wallet = domain.LowerAddress(wallet)
	if id, ok := f.byAddr[wallet]; ok {
		return id, nil
	}
	f.nextID++
	f.byAddr[wallet] = f.nextID
	return f.nextID, nil
}

func (f *fakeUsers) FindUserByWallet(ctx context.Context, wallet string) (int64, bool, error) {
	id, ok := f.byAddr[domain.LowerAddress(wallet)]
	return id, ok, nil
}

type fakeCommentStore struct {
	rows []domain.Comment
}

func (f *fakeCommentStore) InsertComment(ctx context.Context, c domain.Comment) error {
	f.rows = append(f.rows, c)
	return nil
}

func (f *fakeCommentStore) LatestComments(ctx context.Context, tokenAddress string, limit int) ([]domain.Comment, error) {
	return nil, nil
}

func (f *fakeCommentStore) PruneComments(ctx context.Context, tokenAddress string, keep int) error {
	return nil
}

type fakeWatchlistStore struct {
	byUser map[int64]map[string]struct{}
}

func newFakeWatchlistStore() *fakeWatchlistStore {
	return &fakeWatchlistStore{byUser: make(map[int64]map[string]struct{})}
}

func (f *fakeWatchlistStore) ExistingWatchlistTokens(ctx context.Context, userID int64, tokens []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	for _, tok := range tokens {
		if _, ok := f.byUser[userID][tok]; ok {
			out[tok] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeWatchlistStore) InsertWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error) {
	if f.byUser[userID] == nil {
		f.byUser[userID] = make(map[string]struct{})
	}
	inserted := 0
	for _, tok := range tokens {
		if _, ok := f.byUser[userID][tok]; ok {
			continue
		}
		f.byUser[userID][tok] = struct{}{}
		inserted++
	}
	return inserted, nil
}

func (f *fakeWatchlistStore) DeleteWatchlistEntries(ctx context.Context, userID int64, tokens []string) (int, error) {
	removed := 0
	for _, tok := range tokens {
		if _, ok := f.byUser[userID][tok]; ok {
			delete(f.byUser[userID], tok)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeWatchlistStore) ListWatchlist(ctx context.Context, userID int64, limit, offset int) ([]domain.WatchlistEntry, int, error) {
	var out []domain.WatchlistEntry
	for tok := range f.byUser[userID] {
		out = append(out, domain.WatchlistEntry{UserID: userID, TokenAddress: tok})
	}
	return out, len(out), nil
}

func (f *fakeWatchlistStore) CountWatchlist(ctx context.Context, userID int64) (int64, error) {
	return int64(len(f.byUser[userID])), nil
}

func (f *fakeWatchlistStore) ContainsWatchlist(ctx context.Context, userID int64, token string) (bool, error) {
	_, ok := f.byUser[userID][token]
	return ok, nil
}

type testAPI struct {
	server   *httptest.Server
	watchStore *fakeWatchlistStore
}

func newTestServer(t *testing.T) *testAPI {
	t.Helper()

	mr := miniredis.RunT(t)
	cmd := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	sub := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = cmd.Close()
		_ = sub.Close()
	})
	gateway := kv.New(cmd, sub)

	log := newTestLogger()
	bus := eventbus.New(log)

	users := newFakeUsers()

	commentStore := &fakeCommentStore{}
	commentsEngine := comments.New(log, users, commentStore, gateway, bus)
	bus.On(domain.TopicCommentCreated, commentsEngine.HandleCommentCreated)

	watchStore := newFakeWatchlistStore()
	watchlistEngine := watchlist.New(log, users, watchStore, gateway, bus)

	reactionsEngine := reactions.New(log, gateway, bus)
	bus.On(domain.TopicEmojiReacted, reactionsEngine.HandleEmojiReacted)

	tokens := tokenrepo.New(log, gateway, bus)

	api := handlers.NewAPI(log, watchlistEngine, commentsEngine, reactionsEngine, tokens, nil, nil, nil, nil, 0)
	router := tokenshttp.BuildRouter(api, nil, nil, nil, nil)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testAPI{server: server, watchStore: watchStore}
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reqBody *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reqBody = strings.NewReader(string(b))
	} else {
		reqBody = strings.NewReader("")
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response body: %v", err)
	}
	return resp, out
}

func TestWatchlist_AddListCheckCount(t *testing.T) {
	ts := newTestServer(t)
	wallet := "0x1234567890123456789012345678901234567890"

	resp, out := doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/watchlist/add", map[string]any{
		"walletAddress":  wallet,
		"tokenAddresses": []string{"0xAAA", "0xBBB"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, out)
	}
	if out["success"] != true {
		t.Fatalf("expected success envelope, got %v", out)
	}
	data := out["data"].(map[string]any)
	if data["addedCount"] != float64(2) {
		t.Fatalf("expected addedCount=2, got %v", data)
	}

	// Idempotent re-add.
	_, out = doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/watchlist/add", map[string]any{
		"walletAddress":  wallet,
		"tokenAddresses": []string{"0xAAA", "0xBBB", "0xCCC"},
	})
	data = out["data"].(map[string]any)
	if data["addedCount"] != float64(1) {
		t.Fatalf("expected addedCount=1 on the second call, got %v", data)
	}

	resp, out = doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/watchlist/check/"+wallet+"/0xaaa", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data = out["data"].(map[string]any)
	if data["isInWatchlist"] != true {
		t.Fatalf("expected isInWatchlist=true, got %v", data)
	}

	resp, out = doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/watchlist/count/"+wallet, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data = out["data"].(map[string]any)
	if data["count"] != float64(3) {
		t.Fatalf("expected count=3, got %v", data)
	}
}

func TestWatchlist_GetRejectsMissingWallet(t *testing.T) {
	ts := newTestServer(t)

	resp, out := doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/watchlist/get", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a missing walletAddress, got %d (%v)", resp.StatusCode, out)
	}
	if out["success"] != false {
		t.Fatalf("expected an error envelope, got %v", out)
	}
}

func TestComments_CreateAndFanOutToList(t *testing.T) {
	ts := newTestServer(t)
	wallet := "0x1234567890123456789012345678901234567890"

	resp, out := doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/comments", map[string]any{
		"tokenAddress":  "0xTOKEN",
		"walletAddress": wallet,
		"content":       "gm",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, out)
	}
	data := out["data"].(map[string]any)
	if data["status"] != string(domain.CommentProcessing) {
		t.Fatalf("expected a Processing stub, got %v", data)
	}

	resp, out = doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/comments/0xtoken", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	list, ok := out["data"].([]any)
	if !ok || len(list) != 1 {
		t.Fatalf("expected the async handler to have persisted and cached the comment, got %v", out["data"])
	}
}

func TestComments_CreateRejectsOverlongContent(t *testing.T) {
	ts := newTestServer(t)
	wallet := "0x1234567890123456789012345678901234567890"
	tooLong := strings.Repeat("a", 501)

	resp, out := doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/comments", map[string]any{
		"tokenAddress":  "0xtoken",
		"walletAddress": wallet,
		"content":       tooLong,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", resp.StatusCode, out)
	}
}

func TestEmoji_ReactAndReadCounters(t *testing.T) {
	ts := newTestServer(t)

	resp, out := doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/emoji/react", map[string]any{
		"tokenAddress": "0xTOKEN",
		"emoji":        "like",
		"increment":    2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%v)", resp.StatusCode, out)
	}

	resp, out = doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/emoji/0xtoken", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	data := out["data"].(map[string]any)
	if data["like"] != float64(2) {
		t.Fatalf("expected like=2, got %v", data)
	}
	if data["sad"] != float64(0) {
		t.Fatalf("expected absent kinds to default to 0, got %v", data)
	}
}

func TestEmoji_ReactRejectsInvalidIncrement(t *testing.T) {
	ts := newTestServer(t)

	resp, out := doJSON(t, http.MethodPost, ts.server.URL+"/api/v1/emoji/react", map[string]any{
		"tokenAddress": "0xtoken",
		"emoji":        "like",
		"increment":    5,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (%v)", resp.StatusCode, out)
	}
}

func TestTokens_EmptyRepositoryReturns404(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.server.URL+"/api/v1/tokens", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for an empty repository, got %d", resp.StatusCode)
	}
}

func TestHealth_OK(t *testing.T) {
	ts := newTestServer(t)

	resp, out := doJSON(t, http.MethodGet, ts.server.URL+"/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d (%v)", resp.StatusCode, out)
	}
	data := out["data"].(map[string]any)
	if data["status"] != "ok" {
		t.Fatalf("expected status=ok, got %v", data)
	}
}
