package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ezachrisen/arbiter"
	"github.com/ezachrisen/arbiter/api"
	"github.com/ezachrisen/arbiter/builtins"
	"github.com/ezachrisen/arbiter/catalog"
	"github.com/ezachrisen/arbiter/store"
	"github.com/matryer/is"
	"github.com/prometheus/client_golang/prometheus"
)

const fixture = `
contexts:
  - name: underwriting
    allow: [rule_engine/dates, rule_engine/messages]
rules:
  - short_name: age
    context: underwriting
    result_type: int
    params:
      - {name: birth, type: date}
    algorithm: return years_between(param_birth(), today())
    status: validated
    debug: true
    test_cases:
      - description: thirty years
        values:
          - {name: param_birth, value: "date(1990, 1, 1)"}
          - {name: today, value: "date(2020, 1, 1)"}
        expected: 30
  - short_name: sketch
    context: underwriting
    algorithm: return 1
`

type harness struct {
	url   string
	store *store.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := arbiter.NewRegistry()
	if err := builtins.Register(reg); err != nil {
		t.Fatal(err)
	}
	promReg := prometheus.NewRegistry()
	metrics, err := arbiter.NewMetrics(promReg)
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Open(filepath.Join(t.TempDir(), "arbiter.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	cat, err := catalog.Parse([]byte(fixture))
	if err != nil {
		t.Fatal(err)
	}
	base := arbiter.NewEngine(reg, arbiter.WithMetrics(metrics), arbiter.WithExecutionLogs(st))
	e, _, err := catalog.Build(context.Background(), base, cat)
	if err != nil {
		t.Fatal(err)
	}

	service := api.NewService(arbiter.NewVault(e), st, nil)
	srv := httptest.NewServer(api.NewHandler(service, api.ServerOptions{Gatherer: promReg}))
	t.Cleanup(srv.Close)
	return &harness{url: srv.URL, store: st}
}

// call posts body to a method of the rule service and decodes the
// response into out.
func (h *harness) call(t *testing.T, method string, body any, out any) int {
	t.Helper()
	var buf []byte
	switch b := body.(type) {
	case string:
		buf = []byte(b)
	default:
		var err error
		if buf, err = json.Marshal(b); err != nil {
			t.Fatal(err)
		}
	}
	resp, err := http.Post(h.url+"/oto/RuleService."+method, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestEvaluate(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.EvaluateResponse
	status := h.call(t, "Evaluate", api.EvaluateRequest{
		Rule:   "age",
		Params: map[string]any{"birth": "1990-06-01"},
		Today:  "2020-06-01",
		Debug:  true,
	}, &res)
	is.Equal(status, http.StatusOK)
	is.Equal(res.Value, float64(30))
	is.Equal(res.Display, "30")
	is.Equal(len(res.Errors), 0)
	is.True(res.EvalID != "")
	is.True(len(res.Calls) > 0)
	is.Equal(res.Calls[0].Rule, "age")
}

func TestEvaluateErrors(t *testing.T) {

	cases := map[string]struct {
		body   any
		status int
	}{
		"unknown rule": {
			body:   api.EvaluateRequest{Rule: "nope"},
			status: http.StatusNotFound,
		},
		"not json": {
			body:   "{",
			status: http.StatusBadRequest,
		},
		"bad parameter": {
			body:   api.EvaluateRequest{Rule: "age", Params: map[string]any{"birth": "yesterday"}},
			status: http.StatusUnprocessableEntity,
		},
		"unknown parameter": {
			body:   api.EvaluateRequest{Rule: "age", Params: map[string]any{"height": 180}},
			status: http.StatusUnprocessableEntity,
		},
		"bad date": {
			body:   api.EvaluateRequest{Rule: "age", Today: "tomorrow"},
			status: http.StatusUnprocessableEntity,
		},
		"draft rule": {
			body:   api.EvaluateRequest{Rule: "sketch"},
			status: http.StatusUnprocessableEntity,
		},
	}

	h := newHarness(t)
	for k, c := range cases {
		t.Run(k, func(t *testing.T) {
			is := is.New(t)
			var e api.Error
			is.Equal(h.call(t, "Evaluate", c.body, &e), c.status)
			is.True(e.Error != "")
		})
	}
}

func TestValidate(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.ValidateResponse
	is.Equal(h.call(t, "Validate", api.ValidateRequest{Rule: "sketch"}, &res), http.StatusOK)
	is.True(res.Validated)
	is.Equal(res.Status, "validated")

	stored, err := h.store.Rule("sketch")
	is.NoErr(err)
	is.Equal(stored.Status, "validated")

	var eval api.EvaluateResponse
	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{Rule: "sketch"}, &eval), http.StatusOK)
	is.Equal(eval.Value, float64(1))
}

func TestRunTests(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.RunTestsResponse
	is.Equal(h.call(t, "RunTests", api.RunTestsRequest{Rule: "age"}, &res), http.StatusOK)
	is.True(res.Passed)
	is.Equal(len(res.Outcomes), 1)
	is.Equal(res.Outcomes[0].Description, "thirty years")
	is.Equal(res.Outcomes[0].Actual, "30")
}

func TestPutRule(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.PutRuleResponse
	rule := catalog.Rule{
		ShortName: "senior",
		Context:   "underwriting",
		Algorithm: "return 65",
		TestCases: []catalog.TestCase{{Description: "constant", Expected: "65"}},
	}
	is.Equal(h.call(t, "PutRule", api.PutRuleRequest{Rule: rule}, &res), http.StatusOK)
	is.True(res.Published)

	var eval api.EvaluateResponse
	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{Rule: "senior"}, &eval), http.StatusOK)
	is.Equal(eval.Value, float64(65))

	stored, err := h.store.Rule("senior")
	is.NoErr(err)
	is.Equal(stored.Context, "underwriting")
	is.Equal(stored.Algorithm, "return 65")

	// a failing test case keeps the published rule
	rule.Algorithm = "return 66"
	res = api.PutRuleResponse{}
	is.Equal(h.call(t, "PutRule", api.PutRuleRequest{Rule: rule}, &res), http.StatusOK)
	is.True(!res.Published)
	var failed bool
	for _, d := range res.Diagnostics {
		failed = failed || d.Kind == arbiter.ErrTestCaseFailed.Error()
	}
	is.True(failed)

	eval = api.EvaluateResponse{}
	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{Rule: "senior"}, &eval), http.StatusOK)
	is.Equal(eval.Value, float64(65))
}

func TestPutRuleUnknownContext(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var e api.Error
	rule := catalog.Rule{ShortName: "lost", Context: "nowhere", Algorithm: "return 1"}
	is.Equal(h.call(t, "PutRule", api.PutRuleRequest{Rule: rule}, &e), http.StatusNotFound)
	_, err := h.store.Rule("lost")
	is.True(errors.Is(err, store.ErrNotFound))
}

func TestDeleteRule(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	is.Equal(h.call(t, "Validate", api.ValidateRequest{Rule: "sketch"}, nil), http.StatusOK)
	is.Equal(h.call(t, "DeleteRule", api.DeleteRuleRequest{Rule: "sketch"}, nil), http.StatusOK)
	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{Rule: "sketch"}, nil), http.StatusNotFound)
	is.Equal(h.call(t, "DeleteRule", api.DeleteRuleRequest{Rule: "sketch"}, nil), http.StatusNotFound)

	_, err := h.store.Rule("sketch")
	is.True(errors.Is(err, store.ErrNotFound))
}

func TestListRules(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.ListRulesResponse
	is.Equal(h.call(t, "ListRules", api.ListRulesRequest{Context: "underwriting"}, &res), http.StatusOK)
	is.Equal(len(res.Rules), 2)
	byName := map[string]api.RuleSummary{}
	for _, r := range res.Rules {
		byName[r.ShortName] = r
	}
	is.Equal(byName["age"].Status, "validated")
	is.Equal(byName["sketch"].Status, "draft")
	is.Equal(byName["age"].Context, "underwriting")

	is.Equal(h.call(t, "ListRules", api.ListRulesRequest{Context: "nowhere"}, nil), http.StatusNotFound)
}

func TestTree(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var res api.TreeResponse
	is.Equal(h.call(t, "Tree", "{}", &res), http.StatusOK)
	is.True(strings.Contains(res.Tree, "today"))
}

func TestMetrics(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{Rule: "age", Params: map[string]any{"birth": "1990-06-01"}}, nil), http.StatusOK)

	resp, err := http.Get(h.url + "/metrics")
	is.NoErr(err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	is.NoErr(err)
	is.True(strings.Contains(string(body), `arbiter_evaluations_total{outcome="ok",rule="age"} 1`))
}

func TestMethodNotAllowed(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	resp, err := http.Get(h.url + "/oto/RuleService.Tree")
	is.NoErr(err)
	resp.Body.Close()
	is.True(resp.StatusCode != http.StatusOK)
}

func TestRequestBodyLimit(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	body := `{"rule":"age","today":"` + strings.Repeat("9", api.DefaultMaxBodyBytes) + `"}`
	var apiErr api.Error
	status := h.call(t, "Evaluate", body, &apiErr)
	is.Equal(status, http.StatusRequestEntityTooLarge)
	is.True(strings.Contains(apiErr.Error, "too large"))
}

func TestLogsAndCreateTestCase(t *testing.T) {
	is := is.New(t)
	h := newHarness(t)

	var eval api.EvaluateResponse
	is.Equal(h.call(t, "Evaluate", api.EvaluateRequest{
		Rule:   "age",
		Params: map[string]any{"birth": "1990-06-01"},
		Today:  "2020-06-01",
	}, &eval), http.StatusOK)
	is.Equal(eval.Value, float64(30))

	var logs api.LogsResponse
	is.Equal(h.call(t, "Logs", api.LogsRequest{Rule: "age"}, &logs), http.StatusOK)
	is.Equal(len(logs.Logs), 1)
	is.Equal(logs.Logs[0].EvalID, eval.EvalID)
	is.Equal(logs.Logs[0].Result, "30")

	var created api.CreateTestCaseResponse
	is.Equal(h.call(t, "CreateTestCase", api.CreateTestCaseRequest{
		Rule:        "age",
		EvalID:      eval.EvalID,
		Description: "logged in june",
	}, &created), http.StatusOK)
	is.True(created.Published)
	is.Equal(created.TestCase.Description, "logged in june")
	is.Equal(string(created.TestCase.Expected), "30")

	stored, err := h.store.Rule("age")
	is.NoErr(err)
	is.Equal(len(stored.TestCases), 2)
	is.Equal(stored.TestCases[1].Description, "logged in june")

	var tests api.RunTestsResponse
	is.Equal(h.call(t, "RunTests", api.RunTestsRequest{Rule: "age"}, &tests), http.StatusOK)
	is.True(tests.Passed)
	is.Equal(len(tests.Outcomes), 2)

	var apiErr api.Error
	is.Equal(h.call(t, "CreateTestCase", api.CreateTestCaseRequest{Rule: "age", EvalID: "unknown"}, &apiErr), http.StatusNotFound)
	is.Equal(h.call(t, "Logs", api.LogsRequest{Rule: "sketch"}, &logs), http.StatusOK)
	is.Equal(len(logs.Logs), 0)
}
