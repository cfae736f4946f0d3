package api

import (
	"errors"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banshee-data/splat.report/internal/fsutil"
	"github.com/banshee-data/splat.report/internal/httputil"
	"github.com/banshee-data/splat.report/internal/monitoring"
	"github.com/banshee-data/splat.report/internal/security"
)

// SceneExt is the extension of listable and uploadable scene files.
const SceneExt = ".ply"

const maxListedFiles = 500

// FileInfo describes one scene file in a listing. Path is the name to pass
// back to the analysis endpoints.
type FileInfo struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	Source   string `json:"source"`
	Size     int64  `json:"size"`
	Modified string `json:"modified"`

	modTime time.Time
}

// listScenes walks dir for .ply files, recording them relative to dir.
func listScenes(fsys fsutil.FileSystem, dir, source string, limit int) []FileInfo {
	var files []FileInfo
	var walk func(rel string)
	walk = func(rel string) {
		entries, err := fsys.ReadDir(filepath.Join(dir, rel))
		if err != nil {
			return
		}
		for _, e := range entries {
			if len(files) >= limit {
				return
			}
			name := path.Join(rel, e.Name())
			if e.IsDir() {
				walk(name)
				continue
			}
			if !strings.EqualFold(filepath.Ext(name), SceneExt) {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, FileInfo{
				Name:     e.Name(),
				Path:     name,
				Source:   source,
				Size:     info.Size(),
				Modified: info.ModTime().UTC().Format(time.RFC3339),
				modTime:  info.ModTime(),
			})
		}
	}
	walk("")
	return files
}

// handleListFiles returns the scene files of the scenes and uploads
// directories, newest first.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var files []FileInfo
	if s.cfg.ScenesDir != "" {
		files = append(files, listScenes(s.fs, s.cfg.ScenesDir, "scenes", maxListedFiles)...)
	}
	if s.cfg.UploadsDir != "" && len(files) < maxListedFiles {
		files = append(files, listScenes(s.fs, s.cfg.UploadsDir, "uploads", maxListedFiles-len(files))...)
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })
	if files == nil {
		files = []FileInfo{}
	}

	httputil.WriteJSONOK(w, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

// handleServeFile streams /files/{name} after path validation.
func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		httputil.MethodNotAllowed(w)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/files/")
	p, err := s.resolveScene(name)
	if err != nil {
		writeError(w, err)
		return
	}
	f, err := s.fs.Open(p)
	if err != nil {
		writeError(w, err)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if rs, ok := f.(io.ReadSeeker); ok {
		http.ServeContent(w, r, info.Name(), info.ModTime(), rs)
		return
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		if _, err := io.Copy(w, f); err != nil {
			monitoring.Logf("[api] serve %s: %v", name, err)
		}
	}
}

// handleUpload stores the multipart "file" field under the uploads
// directory with a timestamped, sanitised name.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.cfg.UploadsDir == "" {
		httputil.ServiceUnavailable(w, "upload directory not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	src, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		httputil.BadRequest(w, "missing multipart field 'file'")
		return
	}
	defer src.Close()
	if !strings.EqualFold(filepath.Ext(header.Filename), SceneExt) {
		httputil.BadRequest(w, "only .ply files are accepted")
		return
	}

	name := security.UploadName(s.clock.Now(), header.Filename)
	if err := s.fs.MkdirAll(s.cfg.UploadsDir, 0o755); err != nil {
		writeError(w, err)
		return
	}
	dst, err := security.ResolveInDirectory(s.cfg.UploadsDir, name)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := s.fs.Create(dst)
	if err != nil {
		writeError(w, err)
		return
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = s.fs.Remove(dst)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, err)
		return
	}
	monitoring.Logf("[api] stored upload %s (%d bytes)", name, n)

	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"filename": name,
		"path":     name,
		"size":     n,
	})
}
