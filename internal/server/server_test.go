package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"worksafe/internal/catalog"
	"worksafe/internal/config"
	"worksafe/internal/db"
	"worksafe/internal/docstore"
	"worksafe/internal/domain"
	"worksafe/internal/engine"
	"worksafe/internal/migrate"
	"worksafe/internal/share"
)

const testJWTSecret = "test-jwt-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	Feed   *docstore.ChangeFeed
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	feed := docstore.NewChangeFeed(64)
	store := docstore.NewSQLStore(conn, docstore.Options{Hub: docstore.NewHub(), Taps: []docstore.Broadcaster{feed}})
	e := engine.New(store, cfg)
	products := catalog.FromEntries([]domain.CatalogEntry{
		{No: "BOLT-M8", Name: "Hex bolt M8", Price: 1.2},
		{No: "NUT-M8", Name: "Hex nut M8", Price: 0.4},
	}, time.Minute)
	e.Catalog = products
	issuer, err := share.NewIssuer("test-share-secret")
	if err != nil {
		t.Fatalf("share issuer: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:              testJWTSecret,
			AllowLegacyActorHeader: true,
			Shares:                 &issuer,
		},
		Catalog: products,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Feed:   feed,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func actor(id string) map[string]string { return map[string]string{headerActorID: id} }

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", string(data), err)
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope %s: %v", string(data), err)
	}
	return env.Error.Code
}

func createWorkOrder(t *testing.T, srv *testServer, owner, no, name string) domain.WorkOrder {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders", map[string]any{
		"no":   no,
		"name": name,
	}, actor(owner))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create work order status %d: %s", res.StatusCode, string(data))
	}
	return decode[CreateWorkOrderResponse](t, data).WorkOrder
}

func TestWorkOrderLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	wo := createWorkOrder(t, srv, "alice", "ab-12 cd34", "Blast furnace relining")
	if wo.No != "AB12CD34" || wo.Status != domain.StatusReceived {
		t.Fatalf("unexpected work order %+v", wo)
	}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+wo.ID+"/items", map[string]any{
		"no":  "bolt-m8",
		"qty": 40,
	}, actor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add item status %d: %s", res.StatusCode, string(data))
	}
	item := decode[domain.Item](t, data)
	if item.No != "BOLT-M8" || item.Qty != 40 || item.Name != "Hex bolt M8" || item.Price != 1.2 {
		t.Fatalf("unexpected item %+v", item)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/work-orders/"+wo.ID+"/items/"+item.ID, map[string]any{
		"no":    "BOLT-M8",
		"name":  "Bolt",
		"qty":   42,
		"price": 1.5,
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update item status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/"+wo.ID+"/items", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list items status %d: %s", res.StatusCode, string(data))
	}
	items := decode[[]domain.Item](t, data)
	if len(items) != 1 || items[0].Qty != 42 || items[0].Price != 1.5 {
		t.Fatalf("unexpected items %+v", items)
	}

	other := createWorkOrder(t, srv, "alice", "OTHER001", "Other order")
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/work-orders/"+other.ID+"/items/"+item.ID, nil, actor("alice"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected item of another work order to be not found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/work-orders/"+wo.ID, map[string]any{
		"status": "MO",
		"subNo":  "a1",
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[domain.WorkOrder](t, data); got.SubNo != "A1" || got.DisplayNo() != "AB12CD34-A1" {
		t.Fatalf("unexpected work order after update %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders?status=MO", nil, actor("alice"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.WorkOrder](t, data)) != 1 {
		t.Fatalf("list by status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders", nil, actor("bob"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.WorkOrder](t, data)) != 0 {
		t.Fatalf("expected bob to see nothing, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/work-orders/"+wo.ID, nil, actor("alice"))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/"+wo.ID+"/items", nil, actor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected items gone with work order, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCreateWithAgreementAndFieldEdit(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders", map[string]any{
		"no":   "WO000001",
		"name": "Conveyor guard",
		"agreement": map[string]any{
			"contractor":     "協茂",
			"durationOption": "2",
			"durationDays":   "5",
			"safetyChecks":   []int{3, 0},
		},
	}, actor("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	created := decode[CreateWorkOrderResponse](t, data)
	if created.Agreement == nil || created.Agreement.Contractor != "協茂" {
		t.Fatalf("expected agreement in response, got %+v", created)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/work-orders/"+created.WorkOrder.ID+"/agreement/fields", map[string]any{
		"field": "contractor",
		"value": "正紳",
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set field status %d: %s", res.StatusCode, string(data))
	}
	if edit := decode[EditResponse](t, data); !edit.Persisted || edit.Agreement.Contractor != "正紳" {
		t.Fatalf("unexpected edit %+v", edit)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/"+created.WorkOrder.ID+"/agreement", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get agreement status %d: %s", res.StatusCode, string(data))
	}
	got := decode[AgreementResponse](t, data)
	if !got.Stored || got.Agreement.Contractor != "正紳" || len(got.Agreement.SafetyChecks) != 2 {
		t.Fatalf("unexpected agreement %+v", got)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders", map[string]any{"no": "X1", "name": "short"}, actor("alice"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "validation_failed" {
		t.Fatalf("expected validation_failed, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders/missing", nil, actor("alice"))
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected not_found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected unauthorized, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndProfile(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"actorId":     "carol",
		"displayName": "Carol Wu",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	token := decode[DevLoginResponse](t, data).Token
	bearer := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	me := decode[MeResponse](t, data)
	if me.ActorID != "carol" || me.Source != "jwt" || me.Profile == nil || me.Profile.DisplayName != "Carol Wu" {
		t.Fatalf("unexpected me %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/me", map[string]any{"role": "not a role"}, bearer)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown role rejected, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/me", map[string]any{
		"role":         "承包商 帶班者",
		"signatureUrl": "data:image/png;base64,Y2Fyb2w=",
	}, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update me status %d: %s", res.StatusCode, string(data))
	}
	if p := decode[domain.UserProfile](t, data); p.Role != "承包商 帶班者" {
		t.Fatalf("unexpected profile %+v", p)
	}
}

func TestSigningEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	wo := createWorkOrder(t, srv, "alice", "SIGN0001", "Crane inspection")
	sigURL := srv.URL + "/v0/work-orders/" + wo.ID + "/signatures/"

	res, data := doJSON(t, client, http.MethodPost, sigURL+"contractor_leader/stamp", nil, actor("alice"))
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "no_personal_signature" {
		t.Fatalf("expected no_personal_signature, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/me", map[string]any{
		"role":         "承包商 帶班者",
		"signatureUrl": "data:image/png;base64,YWxpY2U=",
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update me status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, sigURL+"csc_manager/sign", map[string]any{"image": "data:image/png;base64,eA=="}, actor("alice"))
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "role_mismatch" {
		t.Fatalf("expected role_mismatch, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, sigURL+"contractor_leader/stamp", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stamp status %d: %s", res.StatusCode, string(data))
	}
	stamped := decode[SignResponse](t, data)
	slot, ok := stamped.Agreement.Signatures.Slot("contractor_leader")
	if !stamped.Changed || !ok || slot.Image != "data:image/png;base64,YWxpY2U=" {
		t.Fatalf("unexpected stamp result %+v", stamped)
	}

	res, data = doJSON(t, client, http.MethodPut, sigURL+"contractor_leader/date", map[string]any{"date": "2024-02-28"}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("redate status %d: %s", res.StatusCode, string(data))
	}
	if slot, _ := decode[SignResponse](t, data).Agreement.Signatures.Slot("contractor_leader"); slot.Date != "2024-02-28" {
		t.Fatalf("expected redated slot, got %+v", slot)
	}

	res, data = doJSON(t, client, http.MethodDelete, sigURL+"contractor_leader", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("clear status %d: %s", res.StatusCode, string(data))
	}
	if _, ok := decode[SignResponse](t, data).Agreement.Signatures.Slot("contractor_leader"); ok {
		t.Fatalf("expected slot cleared")
	}

	res, data = doJSON(t, client, http.MethodPost, sigURL+"nobody/sign", map[string]any{"image": "x"}, actor("alice"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unknown role rejected, got %d: %s", res.StatusCode, string(data))
	}
}

func TestShareTokenGivesGuestScope(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	wo := createWorkOrder(t, srv, "alice", "SHARE001", "Shared job")
	other := createWorkOrder(t, srv, "alice", "SHARE002", "Private job")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+wo.ID+"/share", map[string]any{
		"ttlHours": 2,
		"baseUrl":  "https://sign.example.com/agreement",
	}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("share status %d: %s", res.StatusCode, string(data))
	}
	shared := decode[ShareResponse](t, data)
	if shared.Token == "" || !strings.Contains(shared.Link, "token=") {
		t.Fatalf("unexpected share response %+v", shared)
	}
	guest := map[string]string{share.Header: shared.Token}
	base := srv.URL + "/v0/work-orders/"

	res, data = doJSON(t, client, http.MethodGet, base+wo.ID+"/agreement", nil, guest)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guest read status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[AgreementResponse](t, data); got.Stored || got.Agreement.WoNo != "SHARE001" {
		t.Fatalf("unexpected guest agreement %+v", got)
	}

	res, data = doJSON(t, client, http.MethodGet, base+other.ID+"/agreement", nil, guest)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected other work order forbidden, got %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders", nil, guest)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected guest listing forbidden, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, base+wo.ID+"/agreement/fields", map[string]any{"field": "contractor", "value": "勝濱"}, guest)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guest field edit status %d: %s", res.StatusCode, string(data))
	}
	if edit := decode[EditResponse](t, data); edit.Persisted || edit.Agreement.Contractor != "勝濱" {
		t.Fatalf("expected local-only edit, got %+v", edit)
	}

	res, data = doJSON(t, client, http.MethodPost, base+wo.ID+"/agreement/safety-checks/4/toggle", nil, guest)
	if res.StatusCode != http.StatusOK || decode[SignResponse](t, data).Changed {
		t.Fatalf("expected toggle refused outside signing session, got %d: %s", res.StatusCode, string(data))
	}
	session := map[string]string{share.Header: shared.Token, headerSigningSession: "true"}
	res, data = doJSON(t, client, http.MethodPost, base+wo.ID+"/agreement/safety-checks/4/toggle", nil, session)
	if res.StatusCode != http.StatusOK || !decode[SignResponse](t, data).Changed {
		t.Fatalf("expected toggle during signing session, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, base+wo.ID+"/signatures/csc_staff/sign", map[string]any{"image": "data:image/png;base64,Z3Vlc3Q="}, guest)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("guest sign status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, base+wo.ID+"/signatures/csc_staff", nil, guest)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "guest_forbidden" {
		t.Fatalf("expected guest clear forbidden, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, base+wo.ID+"/agreement", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("owner read status %d: %s", res.StatusCode, string(data))
	}
	owner := decode[AgreementResponse](t, data)
	if _, ok := owner.Agreement.Signatures.Slot("csc_staff"); !ok {
		t.Fatalf("expected guest signature stored, got %+v", owner.Agreement)
	}
	if owner.Agreement.Contractor != "" || owner.Agreement.HasSafetyCheck(4) {
		t.Fatalf("guest edits must not be written back, got %+v", owner.Agreement)
	}

	res, data = doJSON(t, client, http.MethodGet, base+wo.ID+"/agreement", nil, map[string]string{share.Header: shared.Token + "x"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_share_token" {
		t.Fatalf("expected tampered token rejected, got %d: %s", res.StatusCode, string(data))
	}
}

func TestMergeAndTransferEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	client := srv.Client()
	dest := createWorkOrder(t, srv, "alice", "DEST0001", "Destination")
	src := createWorkOrder(t, srv, "alice", "SRC00001", "Source")
	for _, add := range []struct {
		wo  string
		no  string
		qty float64
	}{{dest.ID, "BOLT-M8", 10}, {src.ID, "BOLT-M8", 5}, {src.ID, "NUT-M8", 3}} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+add.wo+"/items", map[string]any{"no": add.no, "qty": add.qty}, actor("alice"))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("add item status %d: %s", res.StatusCode, string(data))
		}
	}

	mergeURL := srv.URL + "/v0/work-orders/" + dest.ID + "/merge"
	res, data := doJSON(t, client, http.MethodPost, mergeURL, map[string]any{"sources": []string{src.ID}}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("merge status %d: %s", res.StatusCode, string(data))
	}
	merged := decode[MergeResponse](t, data)
	if merged.Updated != 1 || merged.Created != 1 || len(merged.Items) != 2 {
		t.Fatalf("unexpected merge result %+v", merged)
	}

	res, data = doJSON(t, client, http.MethodPost, mergeURL, map[string]any{"sources": []string{src.ID}}, actor("alice"))
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "already_merged" {
		t.Fatalf("expected already_merged, got %d: %s", res.StatusCode, string(data))
	}

	// bob needs a profile before he can receive work orders
	doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, actor("bob"))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+src.ID+"/transfer", map[string]any{"target": "bob"}, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transfer status %d: %s", res.StatusCode, string(data))
	}
	moved := decode[TransferResponse](t, data)
	if moved.AgreementCopied || moved.WorkOrder.No != "SRC00001" || !strings.HasPrefix(moved.WorkOrder.Remark, "轉交自: ") {
		t.Fatalf("unexpected transfer %+v", moved)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/work-orders", nil, actor("bob"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.WorkOrder](t, data)) != 1 {
		t.Fatalf("expected bob to receive one work order, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/work-orders/"+src.ID+"/transfer", map[string]any{"target": "nobody"}, actor("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected unknown target not found, got %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=workorder.merged", nil, actor("alice"))
	if res.StatusCode != http.StatusOK || len(decode[[]domain.Event](t, data)) != 1 {
		t.Fatalf("expected one merge event, got %d: %s", res.StatusCode, string(data))
	}
}

func TestCatalogSearch(t *testing.T) {
	srv := newTestServer(t, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/catalog?q=nut", nil, actor("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("catalog status %d: %s", res.StatusCode, string(data))
	}
	entries := decode[[]domain.CatalogEntry](t, data)
	if len(entries) != 1 || entries[0].No != "NUT-M8" {
		t.Fatalf("unexpected catalog entries %+v", entries)
	}
}

func TestAgreementStream(t *testing.T) {
	srv := newTestServer(t, nil)
	wo := createWorkOrder(t, srv, "alice", "STREAM01", "Streamed")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v0/work-orders/"+wo.ID+"/agreement/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(headerActorID, "alice")
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer res.Body.Close()
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", res.Header.Get("Content-Type"))
	}

	frames := make(chan AgreementResponse, 8)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(res.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var frame AgreementResponse
			if json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &frame) == nil {
				frames <- frame
			}
		}
	}()

	first, ok := <-frames
	if !ok || first.Stored || first.Agreement.WoNo != "STREAM01" {
		t.Fatalf("unexpected first frame %+v", first)
	}
	select {
	case dup := <-frames:
		t.Fatalf("initial agreement sent twice: %+v", dup)
	case <-time.After(200 * time.Millisecond):
	}

	patch, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/v0/work-orders/"+wo.ID+"/agreement/fields", map[string]any{
		"field": "contractor",
		"value": "中宏",
	}, actor("alice"))
	if patch.StatusCode != http.StatusOK {
		t.Fatalf("set field status %d: %s", patch.StatusCode, string(data))
	}
	for frame := range frames {
		if frame.Stored && frame.Agreement.Contractor == "中宏" {
			return
		}
	}
	t.Fatalf("stream closed before the stored change arrived")
}

func TestWebhookDeliversLocalEvents(t *testing.T) {
	got := make(chan *http.Request, 4)
	bodies := make(chan webhookEvent, 4)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	sink := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		got <- r
		bodies <- evt
		w.WriteHeader(http.StatusNoContent)
	})}
	go sink.Serve(ln)
	defer sink.Shutdown(context.Background())

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{
		ID:     "erp",
		URL:    "http://" + ln.Addr().String() + "/hook",
		Events: []string{"workorder.created"},
		Secret: "s3cret",
	}}
	srv := newTestServer(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if !StartWebhookDispatcher(ctx, srv.Engine, srv.Feed, nil) {
		t.Fatalf("expected dispatcher to start")
	}

	wo := createWorkOrder(t, srv, "alice", "HOOK0001", "Hooked")
	doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/work-orders/"+wo.ID+"/items", map[string]any{"no": "BOLT-M8", "qty": 1}, actor("alice"))

	select {
	case r := <-got:
		evt := <-bodies
		if r.Header.Get("X-Worksafe-Event") != "workorder.created" || r.Header.Get("X-Worksafe-Secret") != "s3cret" {
			t.Fatalf("unexpected headers %v", r.Header)
		}
		if evt.EntityID != wo.ID || evt.Namespace != "alice" || evt.ActorID != "alice" {
			t.Fatalf("unexpected webhook body %+v", evt)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("webhook was not delivered")
	}

	select {
	case r := <-got:
		t.Fatalf("filtered event delivered: %s", r.Header.Get("X-Worksafe-Event"))
	case <-time.After(300 * time.Millisecond):
	}
}

func TestDispatcherNeedsWebhooks(t *testing.T) {
	srv := newTestServer(t, nil)
	if StartWebhookDispatcher(context.Background(), srv.Engine, srv.Feed, nil) {
		t.Fatalf("dispatcher should not start without webhooks")
	}
}
