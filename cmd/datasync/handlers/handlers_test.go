package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/datasync/cmd/datasync/catalog"
	"github.com/lyzr/datasync/cmd/datasync/container"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/cmd/datasync/progress"
	"github.com/lyzr/datasync/cmd/datasync/remote"
	"github.com/lyzr/datasync/cmd/datasync/routes"
	"github.com/lyzr/datasync/common/bootstrap"
	"github.com/lyzr/datasync/common/config"
	"github.com/lyzr/datasync/common/logger"
)

func newServer(t *testing.T, tweaks ...func(*config.Config)) *httptest.Server {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "datasync"},
		Storage: config.StorageConfig{
			RawDir:  filepath.Join(root, "unzipped"),
			ZipDir:  filepath.Join(root, "zipped"),
			MetaDir: filepath.Join(root, "metadata"),
			RawExt:  "csv",
			ZipExt:  "zip",
		},
		Fetch:   config.FetchConfig{BatchThreshold: 100000, BatchSize: 50000},
		Session: config.SessionConfig{HeartbeatInterval: time.Hour, WriteWait: time.Second},
		Worker:  config.WorkerConfig{PoolSize: 2},
	}
	for _, tweak := range tweaks {
		tweak(cfg)
	}
	components := &bootstrap.Components{Config: cfg, Logger: logger.Discard()}

	cat := catalog.New("")
	cat.Add("Alpha", "alpha-id")

	src := remote.NewMemorySource()
	src.SetTable("alpha-id", remote.Table{
		Columns: []remote.Column{{Name: "id", Type: "bigint", RowKey: true}, {Name: "v", Type: "text"}},
		Rows:    [][]string{{"1", "a"}, {"2", "b"}, {"3", "c"}},
	})

	c, err := container.NewContainer(components, container.WithCatalog(cat), container.WithSource(src))
	require.NoError(t, err)

	e := echo.New()
	routes.RegisterHealthRoutes(e, c)
	routes.RegisterDatasetRoutes(e, c)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server
}

// fetchAlpha runs a websocket session for Alpha and returns its checksum
func fetchAlpha(t *testing.T, server *httptest.Server) string {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/dataset/get"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.SessionRequest{Names: []string{"Alpha"}, FromDT: "2020-01-01"}))
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev progress.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == progress.EventFinal {
			require.True(t, ev.Success, ev.Message)
			require.Len(t, ev.Datasets, 1)
			return ev.Datasets[0].Checksum
		}
	}
}

func do(t *testing.T, method, url, body string, header ...string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeEntry(t *testing.T, data []byte) models.Entry {
	t.Helper()
	var entry models.Entry
	require.NoError(t, json.Unmarshal(data, &entry))
	return entry
}

func TestRootAndHealth(t *testing.T) {
	server := newServer(t)

	resp, body := do(t, http.MethodGet, server.URL+"/", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"online":true`)

	resp, body = do(t, http.MethodGet, server.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Contains(t, string(body), `"go_version"`)
}

func TestVersionsAndList(t *testing.T) {
	server := newServer(t)
	checksum := fetchAlpha(t, server)

	resp, body := do(t, http.MethodGet, server.URL+"/dataset/versions/alpha-id", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entry := decodeEntry(t, body)
	assert.Equal(t, "Alpha", entry.Name)
	require.Len(t, entry.Versions, 1)
	assert.Equal(t, checksum, entry.Versions[0].Checksum)
	assert.True(t, entry.Versions[0].HasRaw)
	assert.True(t, entry.Versions[0].HasCompressed)

	resp, body = do(t, http.MethodGet, server.URL+"/dataset/versions/ghost-id", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "NOT_FOUND")

	resp, body = do(t, http.MethodGet, server.URL+"/dataset/list", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list struct {
		Datasets []models.Entry `json:"datasets"`
		Count    int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "alpha-id", list.Datasets[0].ExternalID)
}

func TestInfo(t *testing.T) {
	server := newServer(t)
	fetchAlpha(t, server)

	resp, body := do(t, http.MethodPost, server.URL+"/dataset/info", `{"names":["Alpha","Ghost"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info struct {
		Datasets []struct {
			Name     string           `json:"name"`
			RID      string           `json:"rid"`
			Versions []models.Version `json:"versions"`
		} `json:"datasets"`
		Missing []string `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(body, &info))
	require.Len(t, info.Datasets, 1)
	assert.Equal(t, "alpha-id", info.Datasets[0].RID)
	assert.Len(t, info.Datasets[0].Versions, 1)
	assert.Equal(t, []string{"Ghost"}, info.Missing)

	resp, _ = do(t, http.MethodPost, server.URL+"/dataset/info", `{"names":[]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBlobDownloadHonorsRange(t *testing.T) {
	server := newServer(t)
	checksum := fetchAlpha(t, server)

	resp, body := do(t, http.MethodGet, server.URL+"/dataset/blob/"+checksum+"/raw", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "id,v\n1,a\n2,b\n3,c\n", string(body))

	resp, body = do(t, http.MethodGet, server.URL+"/dataset/blob/"+checksum+"/raw", "", "Range", "bytes=0-3")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "id,v", string(body))

	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/blob/"+checksum+"/zip", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get(echo.HeaderContentType))

	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/blob/"+checksum+"/tarball", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/blob/"+strings.Repeat("0", 64)+"/raw", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteAndTranscode(t *testing.T) {
	server := newServer(t)
	checksum := fetchAlpha(t, server)
	body := `{"rid":"alpha-id","sha256":"` + checksum + `"}`

	resp, data := do(t, http.MethodPost, server.URL+"/dataset/delete/raw", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v := decodeEntry(t, data).Versions[0]
	assert.False(t, v.HasRaw)
	assert.True(t, v.HasCompressed)

	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/blob/"+checksum+"/raw", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = do(t, http.MethodPost, server.URL+"/dataset/unzip", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeEntry(t, data).Versions[0].HasRaw)

	resp, data = do(t, http.MethodPost, server.URL+"/dataset/delete/zip", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decodeEntry(t, data).Versions[0].HasCompressed)

	resp, data = do(t, http.MethodPost, server.URL+"/dataset/zip", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decodeEntry(t, data).Versions[0].HasCompressed)

	resp, data = do(t, http.MethodPost, server.URL+"/dataset/delete", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	v = decodeEntry(t, data).Versions[0]
	assert.False(t, v.HasRaw)
	assert.False(t, v.HasCompressed)

	// Nothing left to remove; the version stays in the ledger
	resp, _ = do(t, http.MethodPost, server.URL+"/dataset/delete", body)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/versions/alpha-id", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVersionRequestValidation(t *testing.T) {
	server := newServer(t)
	checksum := fetchAlpha(t, server)

	cases := map[string]struct {
		body   string
		status int
	}{
		"missing rid":      {`{"sha256":"` + checksum + `"}`, http.StatusBadRequest},
		"missing checksum": {`{"rid":"alpha-id"}`, http.StatusBadRequest},
		"unknown version":  {`{"rid":"alpha-id","sha256":"` + strings.Repeat("a", 64) + `"}`, http.StatusNotFound},
		"unknown dataset":  {`{"rid":"ghost-id","sha256":"` + checksum + `"}`, http.StatusNotFound},
		"malformed body":   {`{"rid":`, http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp, _ := do(t, http.MethodPost, server.URL+"/dataset/zip", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
}

func TestSessionRateLimit(t *testing.T) {
	server := newServer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Sessions: 1, Window: time.Minute}
	})

	fetchAlpha(t, server)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/dataset/get"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// REST routes are not limited
	resp, _ = do(t, http.MethodGet, server.URL+"/dataset/list", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
