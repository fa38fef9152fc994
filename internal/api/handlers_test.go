package api

import (
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "strings"
    "testing"
    "time"

    "github.com/gorilla/websocket"

    "venuetour/internal/config"
    "venuetour/internal/model"
)

func newTestServer(t *testing.T) *Server {
    t.Helper()
    cfg := config.Default()
    cfg.Server.RateRPS = 0
    s, err := NewServer(cfg)
    if err != nil { t.Fatalf("NewServer: %v", err) }
    return s
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
    t.Helper()
    var req *http.Request
    if body != "" {
        req = httptest.NewRequest(method, path, strings.NewReader(body))
        req.Header.Set("Content-Type", "application/json")
    } else {
        req = httptest.NewRequest(method, path, nil)
    }
    for k, v := range hdr { req.Header.Set(k, v) }
    rr := httptest.NewRecorder()
    h.ServeHTTP(rr, req)
    return rr
}

func decodeRun(t *testing.T, rr *httptest.ResponseRecorder) model.Run {
    t.Helper()
    var run model.Run
    if err := json.Unmarshal(rr.Body.Bytes(), &run); err != nil { t.Fatalf("decode run: %v (%s)", err, rr.Body.String()) }
    return run
}

const smallRun = `{"populationSize":10,"generations":5,"seed":42}`

func TestHealthReady(t *testing.T) {
    s := newTestServer(t)
    rr := httptest.NewRecorder()
    s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
    if rr.Code != 200 { t.Fatalf("health: got %d", rr.Code) }
    rr = httptest.NewRecorder()
    s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
    if rr.Code != 200 { t.Fatalf("ready: got %d", rr.Code) }
}

func TestOptimizeSync(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    rr := do(t, h, http.MethodPost, "/v1/optimize", smallRun, nil)
    if rr.Code != 200 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String()) }
    run := decodeRun(t, rr)
    if run.Status != model.RunSucceeded { t.Fatalf("status=%s", run.Status) }
    // Solaria is the only default venue below the 4.0 rating floor
    if len(run.Route) != 11 { t.Fatalf("route len=%d", len(run.Route)) }
    for _, v := range run.Route {
        if v.Name == "Solaria" { t.Fatalf("filtered venue in route") }
    }
    if run.Fitness == nil || run.TourLength <= 0 { t.Fatalf("fitness=%v tourLength=%v", run.Fitness, run.TourLength) }
    if run.Generations != 5 || run.Evaluations != 10+5*9 { t.Fatalf("gens=%d evals=%d", run.Generations, run.Evaluations) }
    if run.Params.Seed != 42 { t.Fatalf("seed=%d", run.Params.Seed) }

    // same seed, same route
    again := decodeRun(t, do(t, h, http.MethodPost, "/v1/optimize", smallRun, nil))
    if *again.Fitness != *run.Fitness { t.Fatalf("fitness differs: %v vs %v", *again.Fitness, *run.Fitness) }
    for i := range run.Route {
        if run.Route[i].Name != again.Route[i].Name { t.Fatalf("route differs at %d", i) }
    }

    rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID, "", nil)
    if rr.Code != 200 { t.Fatalf("get run: %d", rr.Code) }
    rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/snapshots", "", nil)
    if rr.Code != 200 { t.Fatalf("snapshots: %d", rr.Code) }
    var snaps struct{ Items []model.GenerationSnapshot `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &snaps)
    if len(snaps.Items) != 1 || snaps.Items[0].Generation != 5 { t.Fatalf("snapshots=%+v", snaps.Items) }

    rr = do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/metrics", "", nil)
    if rr.Code != 200 { t.Fatalf("metrics: %d", rr.Code) }
    var m map[string]any
    _ = json.Unmarshal(rr.Body.Bytes(), &m)
    if m["evaluations"].(float64) != 55 { t.Fatalf("metrics=%v", m) }

    rr = do(t, h, http.MethodGet, "/v1/runs?status=succeeded", "", nil)
    var list struct{ Items []model.Run `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &list)
    if rr.Code != 200 || len(list.Items) != 2 { t.Fatalf("list: %d items=%d", rr.Code, len(list.Items)) }
}

func TestOptimizeAsync(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    rr := do(t, h, http.MethodPost, "/v1/optimize", `{"populationSize":10,"generations":20,"seed":7,"async":true}`, nil)
    if rr.Code != http.StatusAccepted { t.Fatalf("async: %d %s", rr.Code, rr.Body.String()) }
    run := decodeRun(t, rr)
    if rr.Header().Get("Location") != "/v1/runs/"+run.ID { t.Fatalf("location=%q", rr.Header().Get("Location")) }
    deadline := time.Now().Add(5 * time.Second)
    for {
        got := decodeRun(t, do(t, h, http.MethodGet, "/v1/runs/"+run.ID, "", nil))
        if got.Status == model.RunSucceeded {
            if got.Generations != 20 { t.Fatalf("gens=%d", got.Generations) }
            break
        }
        if got.Status == model.RunFailed { t.Fatalf("run failed: %s", got.Error) }
        if time.Now().After(deadline) { t.Fatal("timeout waiting for async run") }
        time.Sleep(10 * time.Millisecond)
    }
}

func TestOptimizeErrors(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    cases := []struct {
        name string
        body string
        hdr  map[string]string
        want int
    }{
        {"bad json", `{`, nil, 400},
        {"unknown field", `{"algorithm":"greedy"}`, nil, 400},
        {"negative generations", `{"generations":-1}`, nil, 400},
        {"population too large", `{"populationSize":1125899906842624,"generations":0}`, nil, 400},
        {"population too large async", `{"populationSize":1125899906842624,"generations":0,"async":true}`, nil, 400},
        {"generations too large", `{"generations":1000000000}`, nil, 400},
        {"nothing passes filter", `{"criteria":{"minRating":5,"maxPrice":500000}}`, nil, 422},
        {"tournament too small", `{"populationSize":2,"tournamentSize":3}`, nil, 422},
        {"invalid inline venue", `{"venues":[{"name":"","location":{"x":0,"y":0},"rating":4,"price":1}]}`, nil, 400},
        {"viewer", smallRun, map[string]string{"X-Role": "viewer"}, 403},
        {"tenant mismatch", `{"tenantId":"other"}`, map[string]string{"X-Role": "planner", "X-Tenant-Id": "t1"}, 403},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            rr := do(t, h, http.MethodPost, "/v1/optimize", tc.body, tc.hdr)
            if rr.Code != tc.want { t.Fatalf("got %d want %d: %s", rr.Code, tc.want, rr.Body.String()) }
            if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" { t.Fatalf("content-type=%q", ct) }
        })
    }
    rr := do(t, h, http.MethodGet, "/v1/optimize", "", nil)
    if rr.Code != 405 { t.Fatalf("GET optimize: %d", rr.Code) }
}

func TestTenantOverrideHeldToLimits(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"populationSize":1125899906842624}}`, nil); rr.Code != 400 { t.Fatalf("put: %d %s", rr.Code, rr.Body.String()) }
    // a stored document that bypassed the handler is still rejected at run time
    if err := s.Store.SaveOptimizerConfig(context.Background(), "t_demo", map[string]any{"populationSize": 1 << 50}); err != nil { t.Fatal(err) }
    rr := do(t, h, http.MethodPost, "/v1/optimize", `{"generations":0,"async":true}`, nil)
    if rr.Code != 400 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String()) }
}

func TestExecuteDeliversTerminalEventToIdleSubscriber(t *testing.T) {
    s := newTestServer(t)
    gens := 500
    req := model.OptimizeRequest{PopulationSize: 10, Generations: &gens, Seed: 3}
    pr, err := s.planRun(context.Background(), "t_demo", &req)
    if err != nil { t.Fatalf("planRun: %v", err) }
    ch := s.Broker.Subscribe(pr.run.ID)
    defer s.Broker.Unsubscribe(pr.run.ID, ch)

    run := s.execute(context.Background(), pr)
    if run.Status != model.RunSucceeded { t.Fatalf("status=%s", run.Status) }
    n := len(ch)
    var last SSEEvent
    for len(ch) > 0 { last = <-ch }
    if n != cap(ch) { t.Fatalf("expected overflowing buffer, got %d events", n) }
    if last.Type != EventRunCompleted || last.Data["runId"] != run.ID { t.Fatalf("last event=%+v", last) }
}

func TestOptimizeRateLimited(t *testing.T) {
    cfg := config.Default()
    cfg.Server.RateRPS = 0.001
    cfg.Server.RateBurst = 1
    s, err := NewServer(cfg)
    if err != nil { t.Fatal(err) }
    h := s.Routes()
    if rr := do(t, h, http.MethodPost, "/v1/optimize", `{`, nil); rr.Code != 400 { t.Fatalf("first: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/optimize", `{`, nil); rr.Code != 429 { t.Fatalf("second: %d", rr.Code) }
    // buckets are per tenant
    if rr := do(t, h, http.MethodPost, "/v1/optimize", `{`, map[string]string{"X-Tenant-Id": "t2"}); rr.Code != 400 { t.Fatalf("other tenant: %d", rr.Code) }
}

func TestVenuesTenantCatalog(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    hdr := map[string]string{"X-Tenant-Id": "t_venues"}
    rr := do(t, h, http.MethodGet, "/v1/venues", "", hdr)
    var got struct {
        Items    []model.Venue `json:"items"`
        Source   string        `json:"source"`
        MaxPrice float64       `json:"maxPrice"`
    }
    _ = json.Unmarshal(rr.Body.Bytes(), &got)
    if rr.Code != 200 || len(got.Items) != 12 || got.MaxPrice != 200000 { t.Fatalf("default catalog: %d %+v", rr.Code, got) }

    body := `{"venues":[
        {"name":"A","location":{"x":0,"y":0},"rating":4.5,"price":10},
        {"name":"B","location":{"x":3,"y":0},"rating":4.5,"price":20},
        {"name":"C","location":{"x":3,"y":4},"rating":4.5,"price":30}]}`
    if rr := do(t, h, http.MethodPut, "/v1/venues", body, map[string]string{"X-Tenant-Id": "t_venues", "X-Role": "viewer"}); rr.Code != 403 { t.Fatalf("viewer put: %d", rr.Code) }
    rr = do(t, h, http.MethodPut, "/v1/venues", body, hdr)
    if rr.Code != 200 { t.Fatalf("put: %d %s", rr.Code, rr.Body.String()) }

    rr = do(t, h, http.MethodPost, "/v1/optimize", smallRun, hdr)
    if rr.Code != 200 { t.Fatalf("optimize: %d %s", rr.Code, rr.Body.String()) }
    run := decodeRun(t, rr)
    if len(run.Route) != 3 || run.TourLength != 12 { t.Fatalf("route=%+v len=%v", run.Route, run.TourLength) }
}

func TestAdminOptimizerConfig(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"tournamentSize":1}}`, nil); rr.Code != 422 { t.Fatalf("invalid: %d", rr.Code) }
    if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"elitism":true}}`, nil); rr.Code != 400 { t.Fatalf("unknown key: %d", rr.Code) }
    if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"generations":3}}`, map[string]string{"X-Role": "planner"}); rr.Code != 403 { t.Fatalf("planner: %d", rr.Code) }
    if rr := do(t, h, http.MethodPut, "/v1/admin/optimizer/config", `{"config":{"generations":3,"populationSize":8}}`, nil); rr.Code != 200 { t.Fatalf("valid: %d", rr.Code) }

    rr := do(t, h, http.MethodGet, "/v1/optimizer/config", "", map[string]string{"X-Role": "viewer"})
    var eff struct{ Defaults map[string]any `json:"defaults"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &eff)
    if rr.Code != 200 || eff.Defaults["generations"].(float64) != 3 { t.Fatalf("effective: %d %v", rr.Code, eff.Defaults) }

    // tenant override applies to runs without explicit values
    run := decodeRun(t, do(t, h, http.MethodPost, "/v1/optimize", `{"seed":1}`, nil))
    if run.Generations != 3 || run.Params.PopulationSize != 8 { t.Fatalf("run params=%+v gens=%d", run.Params, run.Generations) }
}

func TestSubscriptionsAndDeliveries(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"ftp://x"}`, nil); rr.Code != 400 { t.Fatalf("bad url: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://x","events":["route.updated"]}`, nil); rr.Code != 400 { t.Fatalf("bad event: %d", rr.Code) }
    rr := do(t, h, http.MethodPost, "/v1/subscriptions", `{"url":"http://example.invalid/hook","secret":"s"}`, nil)
    if rr.Code != 201 { t.Fatalf("create: %d %s", rr.Code, rr.Body.String()) }
    var sub model.Subscription
    _ = json.Unmarshal(rr.Body.Bytes(), &sub)
    if len(sub.Events) != 2 { t.Fatalf("events=%v", sub.Events) }

    if rr := do(t, h, http.MethodPost, "/v1/optimize", smallRun, nil); rr.Code != 200 { t.Fatalf("optimize: %d", rr.Code) }
    rr = do(t, h, http.MethodGet, "/v1/admin/webhook-deliveries", "", nil)
    var dl struct{ Items []map[string]any `json:"items"` }
    _ = json.Unmarshal(rr.Body.Bytes(), &dl)
    if rr.Code != 200 || len(dl.Items) != 1 || dl.Items[0]["eventType"] != "run.completed" { t.Fatalf("deliveries: %d %v", rr.Code, dl.Items) }

    id := dl.Items[0]["id"].(string)
    if rr := do(t, h, http.MethodPost, "/v1/admin/webhook-deliveries/"+id+"/retry", "", nil); rr.Code != 202 { t.Fatalf("retry: %d", rr.Code) }
    if rr := do(t, h, http.MethodPost, "/v1/admin/webhook-deliveries/nope/retry", "", nil); rr.Code != 404 { t.Fatalf("retry missing: %d", rr.Code) }

    if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", nil); rr.Code != 204 { t.Fatalf("delete: %d", rr.Code) }
    if rr := do(t, h, http.MethodDelete, "/v1/subscriptions/"+sub.ID, "", nil); rr.Code != 404 { t.Fatalf("delete again: %d", rr.Code) }
}

func TestRunTenantIsolation(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    run := decodeRun(t, do(t, h, http.MethodPost, "/v1/optimize", smallRun, map[string]string{"X-Tenant-Id": "a"}))
    if rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID, "", map[string]string{"X-Tenant-Id": "b"}); rr.Code != 404 { t.Fatalf("cross tenant: %d", rr.Code) }
    if rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/metrics", "", map[string]string{"X-Tenant-Id": "b"}); rr.Code != 404 { t.Fatalf("cross tenant metrics: %d", rr.Code) }
}

func TestRunEventStreamFinished(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    run := decodeRun(t, do(t, h, http.MethodPost, "/v1/optimize", smallRun, nil))
    rr := do(t, h, http.MethodGet, "/v1/runs/"+run.ID+"/events/stream", "", nil)
    if rr.Code != 200 { t.Fatalf("stream: %d", rr.Code) }
    if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" { t.Fatalf("content-type=%q", ct) }
    body := rr.Body.String()
    if !strings.Contains(body, "event: run.completed\n") || !strings.Contains(body, run.ID) { t.Fatalf("body=%q", body) }
}

func TestRunEventStreamLive(t *testing.T) {
    s := newTestServer(t)
    ts := httptest.NewServer(s.Routes())
    defer ts.Close()

    // a running record with no solver behind it; events are published by hand
    run := model.Run{ID: "r_live", TenantID: "t_demo", Status: model.RunRunning, CreatedAt: time.Now().UTC().Format(time.RFC3339)}
    if err := s.Store.SaveRun(context.Background(), run); err != nil { t.Fatal(err) }

    resp, err := http.Get(ts.URL + "/v1/runs/r_live/events/stream")
    if err != nil { t.Fatal(err) }
    defer resp.Body.Close()
    buf := make([]byte, 4096)
    n, _ := resp.Body.Read(buf)
    if !strings.Contains(string(buf[:n]), "event: heartbeat") { t.Fatalf("first event=%q", buf[:n]) }

    s.Broker.Publish("r_live", SSEEvent{Type: EventRunProgress, Data: map[string]any{"generation": 1}})
    s.Broker.Publish("r_live", SSEEvent{Type: EventRunCompleted, Data: map[string]any{"runId": "r_live"}})
    var rest bytes.Buffer
    _, _ = rest.ReadFrom(resp.Body)
    out := rest.String()
    if !strings.Contains(out, "event: run.progress") || !strings.Contains(out, "event: run.completed") { t.Fatalf("stream=%q", out) }
}

func TestRunsWebSocket(t *testing.T) {
    s := newTestServer(t)
    ts := httptest.NewServer(s.Routes())
    defer ts.Close()
    run := decodeRun(t, do(t, s.Routes(), http.MethodPost, "/v1/optimize", smallRun, nil))

    url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/ws"
    c, _, err := websocket.DefaultDialer.Dial(url, nil)
    if err != nil { t.Fatalf("dial: %v", err) }
    defer c.Close()
    _ = c.SetReadDeadline(time.Now().Add(5 * time.Second))

    read := func() wsMessage {
        t.Helper()
        var m wsMessage
        if err := c.ReadJSON(&m); err != nil { t.Fatalf("read: %v", err) }
        return m
    }
    if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil { t.Fatal(err) }
    if m := read(); m.Type != "connection_ack" { t.Fatalf("got %s", m.Type) }

    _ = c.WriteJSON(wsMessage{Type: "ping"})
    if m := read(); m.Type != "pong" { t.Fatalf("got %s", m.Type) }

    payload, _ := json.Marshal(wsSubscribe{RunID: run.ID})
    _ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: payload})
    m := read()
    if m.Type != "next" || m.ID != "1" { t.Fatalf("got %+v", m) }
    var evt SSEEvent
    _ = json.Unmarshal(m.Payload, &evt)
    if evt.Type != EventRunCompleted || evt.Data["runId"] != run.ID { t.Fatalf("event=%+v", evt) }
    if m := read(); m.Type != "complete" || m.ID != "1" { t.Fatalf("got %+v", m) }

    payload, _ = json.Marshal(wsSubscribe{RunID: "missing"})
    _ = c.WriteJSON(wsMessage{Type: "subscribe", ID: "2", Payload: payload})
    if m := read(); m.Type != "error" || m.ID != "2" { t.Fatalf("got %+v", m) }
}

func TestOpenAPIAndDebug(t *testing.T) {
    s := newTestServer(t)
    h := s.Routes()
    rr := do(t, h, http.MethodGet, "/openapi.json", "", nil)
    if rr.Code != 200 { t.Fatalf("openapi.json: %d %s", rr.Code, rr.Body.String()) }
    var doc map[string]any
    if err := json.Unmarshal(rr.Body.Bytes(), &doc); err != nil { t.Fatal(err) }
    paths := doc["paths"].(map[string]any)
    if _, ok := paths["/v1/optimize"]; !ok { t.Fatalf("optimize path missing") }
    if rr := do(t, h, http.MethodGet, "/openapi.yaml", "", nil); rr.Code != 200 { t.Fatalf("openapi.yaml: %d", rr.Code) }
    rr = do(t, h, http.MethodGet, "/debug/info", "", nil)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), `"catalogSource"`) { t.Fatalf("debug: %d %s", rr.Code, rr.Body.String()) }
    rr = do(t, h, http.MethodGet, "/metrics", "", nil)
    if rr.Code != 200 || !strings.Contains(rr.Body.String(), "http_requests_total") { t.Fatalf("metrics: %d", rr.Code) }
}

func TestRouteLabel(t *testing.T) {
    cases := map[string]string{
        "/v1/runs/abc":                          "/v1/runs/{id}",
        "/v1/runs/abc/events/stream":            "/v1/runs/{id}/events/stream",
        "/v1/runs/ws":                           "/v1/runs/ws",
        "/v1/admin/webhook-deliveries/x/retry":  "/v1/admin/webhook-deliveries/{id}/retry",
        "/healthz":                              "/healthz",
    }
    for in, want := range cases {
        if got := routeLabel(in); got != want { t.Fatalf("routeLabel(%q)=%q want %q", in, got, want) }
    }
}
