package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/splat.report/internal/db"
	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/splat/pipeline"
	"github.com/banshee-data/splat.report/internal/splat/scene/scenetest"
	"github.com/banshee-data/splat.report/internal/splat/storage/sqlite"
	"github.com/banshee-data/splat.report/internal/testutil"
	"github.com/banshee-data/splat.report/internal/timeutil"
)

type testEnv struct {
	server  *Server
	scenes  string
	uploads string
	store   *sqlite.Store
	db      *db.DB
	client  *httputil.MockHTTPClient
}

type envOption func(*Config, *testEnv)

func withStore(t *testing.T) envOption {
	return func(cfg *Config, env *testEnv) {
		d, err := db.NewDB(filepath.Join(t.TempDir(), "splat_report.db"))
		require.NoError(t, err)
		t.Cleanup(func() { d.Close() })
		env.db = d
		env.store = sqlite.NewStore(d.DB)
		cfg.Store = env.store
		cfg.DB = d
	}
}

func withGenerator(url string) envOption {
	return func(cfg *Config, _ *testEnv) { cfg.GeneratorURL = url }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })

	root := t.TempDir()
	env := &testEnv{
		scenes:  filepath.Join(root, "scenes"),
		uploads: filepath.Join(root, "uploads"),
		client:  httputil.NewMockHTTPClient(),
	}
	require.NoError(t, os.MkdirAll(env.scenes, 0o755))

	cfg := Config{
		ScenesDir:  env.scenes,
		UploadsDir: env.uploads,
		Service:    pipeline.NewService(fsutil.OSFileSystem{}, pipeline.DefaultParams()),
		HTTPClient: env.client,
		Clock:      timeutil.NewMockClock(time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)),
	}
	for _, o := range opts {
		o(&cfg, env)
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	env.server = s
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// writeCube stores a lattice cube scene of the given side and returns its path.
func writeCube(t *testing.T, dir, name string, side float64) string {
	t.Helper()
	rows := scenetest.RowsFromPoints(scenetest.CubeLattice(side, 8), 1.5)
	return testutil.WriteFile(t, dir, name, scenetest.Build(rows))
}

func TestNewServer_RequiresService(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestHandleHealth(t *testing.T) {
	t.Run("no generator configured", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))
		testutil.AssertStatusCode(t, rec, http.StatusOK)

		var got healthResponse
		testutil.DecodeJSON(t, rec, &got)
		assert.Equal(t, "ok", got.Status)
		assert.False(t, got.Generator)
		assert.Equal(t, 0, env.client.RequestCount())
	})

	t.Run("generator reachable", func(t *testing.T) {
		env := newTestEnv(t, withGenerator("http://generator.local/"))
		env.client.AddResponse(http.StatusOK, "{}")
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var got healthResponse
		testutil.DecodeJSON(t, rec, &got)
		assert.True(t, got.Generator)
		assert.Equal(t, 1, env.client.RequestCount())
	})

	t.Run("generator failing", func(t *testing.T) {
		env := newTestEnv(t, withGenerator("http://generator.local/"))
		env.client.AddResponse(http.StatusBadGateway, "")
		rec := env.do(httptest.NewRequest(http.MethodGet, "/api/health", nil))

		var got healthResponse
		testutil.DecodeJSON(t, rec, &got)
		assert.False(t, got.Generator)
	})

	t.Run("method not allowed", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodPost, "/api/health", nil))
		testutil.AssertStatusCode(t, rec, http.StatusMethodNotAllowed)
	})
}

func TestHandleListFiles(t *testing.T) {
	env := newTestEnv(t)
	older := writeCube(t, env.scenes, "older.ply", 1)
	newer := writeCube(t, env.scenes, "nested/newer.PLY", 1)
	testutil.WriteFile(t, env.scenes, "notes.txt", []byte("skip"))
	uploaded := writeCube(t, env.uploads, "20260101_000000_up.ply", 1)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(older, base, base))
	require.NoError(t, os.Chtimes(uploaded, base.Add(time.Hour), base.Add(time.Hour)))
	require.NoError(t, os.Chtimes(newer, base.Add(2*time.Hour), base.Add(2*time.Hour)))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	var got struct {
		Files []FileInfo `json:"files"`
		Count int        `json:"count"`
	}
	testutil.DecodeJSON(t, rec, &got)
	require.Equal(t, 3, got.Count)
	assert.Equal(t, "nested/newer.PLY", got.Files[0].Path)
	assert.Equal(t, "scenes", got.Files[0].Source)
	assert.Equal(t, "20260101_000000_up.ply", got.Files[1].Path)
	assert.Equal(t, "uploads", got.Files[1].Source)
	assert.Equal(t, "older.ply", got.Files[2].Name)
	assert.Equal(t, "2026-01-01T00:00:00Z", got.Files[2].Modified)
	assert.Positive(t, got.Files[2].Size)
}

func TestHandleListFiles_Empty(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(httptest.NewRequest(http.MethodGet, "/api/files", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	assert.JSONEq(t, `{"files":[],"count":0}`, rec.Body.String())
}

func TestHandleServeFile(t *testing.T) {
	env := newTestEnv(t)
	p := writeCube(t, env.scenes, "plant.ply", 1)
	want, err := os.ReadFile(p)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/files/plant.ply", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	assert.Equal(t, want, rec.Body.Bytes())

	tests := []struct {
		name string
		path string
		want int
	}{
		{"missing", "/files/absent.ply", http.StatusNotFound},
		{"empty name", "/files/", http.StatusBadRequest},
		{"traversal", "/files/../../etc/passwd", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Call the handler directly so the mux does not clean the path.
			req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
			req.URL.Path = tt.path
			rec := httptest.NewRecorder()
			env.server.handleServeFile(rec, req)
			testutil.AssertStatusCode(t, rec, tt.want)
		})
	}
}

func multipartUpload(t *testing.T, field, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUpload(t *testing.T) {
	env := newTestEnv(t)
	data := scenetest.Build(scenetest.RowsFromPoints(scenetest.CubeLattice(1, 3), 1))
	_, err := os.Stat(env.uploads)
	require.True(t, os.IsNotExist(err), "uploads directory is created on first upload")

	rec := env.do(multipartUpload(t, "file", "../My Scan #1.ply", data))
	testutil.AssertStatusCode(t, rec, http.StatusCreated)

	var got map[string]interface{}
	testutil.DecodeJSON(t, rec, &got)
	assert.Equal(t, "20260314_092653_My_Scan_1.ply", got["filename"])
	assert.EqualValues(t, len(data), got["size"])

	stored, err := os.ReadFile(filepath.Join(env.uploads, "20260314_092653_My_Scan_1.ply"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	// The stored upload is addressable by the analysis endpoints.
	rec = env.do(httptest.NewRequest(http.MethodGet, "/files/20260314_092653_My_Scan_1.ply", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
}

func TestResolveScene_UploadsWhenScenesMissing(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, os.RemoveAll(env.scenes))
	p := writeCube(t, env.uploads, "u.ply", 1)
	want, err := os.ReadFile(p)
	require.NoError(t, err)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/files/u.ply", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	assert.Equal(t, want, rec.Body.Bytes())

	rec = env.do(testutil.NewJSONRequest(t, http.MethodPost, "/api/volume", map[string]string{"file": "u.ply"}))
	testutil.AssertStatusCode(t, rec, http.StatusOK)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/files/absent.ply", nil))
	testutil.AssertStatusCode(t, rec, http.StatusNotFound)

	req := httptest.NewRequest(http.MethodGet, "/files/x", nil)
	req.URL.Path = "/files/../u.ply"
	rec = httptest.NewRecorder()
	env.server.handleServeFile(rec, req)
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
}

func TestHandleUpload_Rejects(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(multipartUpload(t, "file", "scan.obj", []byte("x")))
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

	rec = env.do(multipartUpload(t, "other", "scan.ply", []byte("x")))
	testutil.AssertStatusCode(t, rec, http.StatusBadRequest)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/api/upload", nil))
	testutil.AssertStatusCode(t, rec, http.StatusMethodNotAllowed)
}

func TestStaticAndAdminRoutes(t *testing.T) {
	static := t.TempDir()
	testutil.WriteFile(t, static, "index.html", []byte("<h1>splat</h1>"))
	env := newTestEnv(t, withStore(t), func(cfg *Config, _ *testEnv) { cfg.StaticDir = static })

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "<h1>splat</h1>")

	req := httptest.NewRequest(http.MethodGet, "/debug/", nil)
	req.RemoteAddr = "127.0.0.1:4242"
	rec = env.do(req)
	testutil.AssertStatusCode(t, rec, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "tailsql")
}
