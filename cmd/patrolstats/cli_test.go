package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// portalServer serves a tiny portal: two patrol records, one evaluation
// record and one activity with two participants.
func portalServer(t *testing.T) *httptest.Server {
	t.Helper()

	rows := func(w http.ResponseWriter, rows string) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","total":0,"rows":` + rows + `}`))
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/portal/ums/patrol/home/list_new", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("pageNum") != "1" {
			rows(w, `[]`)
			return
		}
		switch q.Get("useType") {
		case "1":
			rows(w, `[
				{"id":1,"nickName":"张三","createTime":"2024-01-03 08:00:00","msg":"clean","riverName":"东河"},
				{"id":2,"nickName":"bob","createTime":"2024-01-02 08:00:00","msg":"ok","riverName":"西河"},
				{"id":3,"nickName":"bob","createTime":"2023-12-02 08:00:00","msg":"old","riverName":"西河"}
			]`)
		default:
			rows(w, `[{"id":4,"nickName":"张三","createTime":"2024-01-04 08:00:00","msg":"good","riverName":"东河"}]`)
		}
	})
	mux.HandleFunc("/portal/ums/active/home/list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pageNum") != "1" {
			rows(w, `[]`)
			return
		}
		rows(w, `[{"id":"77","actName":"净滩行动","createTime":"2024-01-05 08:00:00"}]`)
	})
	mux.HandleFunc("/portal/ums/active/info/77", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code":200,"msg":"ok","data":{"id":77,"actName":"净滩行动","actType":1,
			"startTime":"2024-01-06 09:00:00",
			"activeMemberBoTableDataInfo":{"total":2,"rows":[
				{"nickName":"张三","isSignupStatus":1},
				{"nickName":"carol","isSignupStatus":0}
			]}}}`))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setPortalEnv(t *testing.T, baseURL, token string) {
	t.Helper()
	t.Setenv("PATROLSTATS_CONFIG", "")
	t.Setenv("API_BASE_URL", baseURL)
	t.Setenv("AUTH_TOKEN", token)
	t.Setenv("REQUEST_DELAY", "0s")
	t.Setenv("DETAIL_DELAY", "0s")
	t.Setenv("MAX_CONSECUTIVE_EMPTY", "1")
	t.Setenv("TIME_ZONE", "Asia/Shanghai")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SIGNED_IN_ONLY", "")
}

func runCLI(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestResolveVersion(t *testing.T) {
	tests := []struct {
		name    string
		ldflags string
		info    *debug.BuildInfo
		want    string
	}{
		{"ldflags wins", "v1.2.3", &debug.BuildInfo{Main: debug.Module{Version: "v0.0.1"}}, "v1.2.3"},
		{"go install version", "dev", &debug.BuildInfo{Main: debug.Module{Version: "v1.2.3"}}, "v1.2.3"},
		{"devel ignored", "dev", &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}, "dev"},
		{"no build info", "dev", nil, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resolveVersion(tt.ldflags, tt.info))
		})
	}
}

func TestVersionFlag(t *testing.T) {
	out, _, err := runCLI(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "patrolstats version "))
}

func TestCollect_Table(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01")
	require.NoError(t, err)

	assert.Contains(t, out, "succeeded since 2024-01-01")
	assert.Contains(t, out, "[PATROL] 2 records")
	assert.Contains(t, out, "[EVALUATION] 1 records")
	assert.Contains(t, out, "1 activity")
	assert.Contains(t, out, "3 people")

	first := strings.Index(out, "张三")
	second := strings.Index(out, "bob")
	require.True(t, first >= 0 && second >= 0)
	assert.Less(t, first, second, "张三 has the most records")
}

func TestCollect_CSVSignedInOnly(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01", "--format", "csv", "--signed-in-only", "--top", "0")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"rank", "identity", "patrol", "evaluation", "activity", "total"},
		{"1", "张三", "1", "1", "1", "3"},
		{"2", "bob", "1", "0", "0", "1"},
	}, records)
}

func TestCollect_User(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01", "--user", "张三", "--format", "json")
	require.NoError(t, err)

	var posts map[string]struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &posts))
	assert.Equal(t, 1, posts["patrol"].Count)
	assert.Equal(t, 1, posts["evaluation"].Count)
	assert.Equal(t, 1, posts["activity"].Count)

	_, _, err = runCLI(t, "collect", "--since", "2024-01-01", "--user", "nobody")
	assert.Error(t, err)
}

func TestCollect_JSONRespectsTop(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01", "--format", "json", "--top", "1")
	require.NoError(t, err)

	var report struct {
		Stats   []struct{ Identity string } `json:"stats"`
		Summary struct{ People int }        `json:"summary"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Stats, 1)
	assert.Equal(t, "张三", report.Stats[0].Identity)
	assert.Equal(t, 3, report.Summary.People, "summary still covers everyone")
}

func TestCollect_UserCSV(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01", "--user", "张三", "--format", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"source", "identity", "time", "river", "message"},
		{"patrol", "张三", "2024-01-03 08:00:00", "东河", "clean"},
		{"evaluation", "张三", "2024-01-04 08:00:00", "东河", "good"},
		{"activity", "张三", "2024-01-06 09:00:00", "净滩", "净滩行动"},
	}, records)
}

func TestCollect_MissingTokenFails(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "")

	out, _, err := runCLI(t, "collect", "--since", "2024-01-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
	assert.Contains(t, out, "failed")
}

func TestCollect_FlagValidation(t *testing.T) {
	srv := portalServer(t)
	setPortalEnv(t, srv.URL, "secret")

	_, _, err := runCLI(t, "collect")
	assert.Error(t, err, "--since is required")

	_, _, err = runCLI(t, "collect", "--since", "yesterday")
	assert.Error(t, err)

	_, _, err = runCLI(t, "collect", "--since", "2024-01-01", "--format", "xml")
	assert.Error(t, err)

	_, _, err = runCLI(t, "collect", "--since", "2024-01-01", "--persist")
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestConfig_RedactsSecrets(t *testing.T) {
	setPortalEnv(t, "https://portal.example", "secret")

	out, _, err := runCLI(t, "config")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url: https://portal.example")
	assert.Contains(t, out, "auth_token: <redacted>")
	assert.NotContains(t, out, "secret")
}
