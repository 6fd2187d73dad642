package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/civictriage/backend/internal/config"
	"github.com/civictriage/backend/internal/handlers"
	"github.com/civictriage/backend/internal/models"
	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeOllama answers /api/embeddings and /api/chat like an Ollama server.
type fakeOllama struct {
	mu          sync.Mutex
	chatPrompts []string
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/embeddings":
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		vec := []float64{0, 0, 1}
		lower := strings.ToLower(req.Prompt)
		switch {
		case strings.Contains(lower, "streetlight") || strings.Contains(lower, "lamp"):
			vec = []float64{1, 0.05, 0}
		case strings.Contains(lower, "pothole"):
			vec = []float64{0, 1, 0}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embedding": vec})
	case "/api/chat":
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) > 0 {
			f.mu.Lock()
			f.chatPrompts = append(f.chatPrompts, req.Messages[0].Content)
			f.mu.Unlock()
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      "llama3",
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"message": map[string]string{
				"role":    "assistant",
				"content": `{"category":"Streetlight","severity":"High","explanation":"A dark street is a safety risk."}`,
			},
			"done": true,
		})
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOllama) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.chatPrompts) == 0 {
		return ""
	}
	return f.chatPrompts[len(f.chatPrompts)-1]
}

func newTestContainer(t *testing.T, mode string) (*Container, *fakeOllama) {
	t.Helper()
	ollama := &fakeOllama{}
	srv := httptest.NewServer(ollama)
	t.Cleanup(srv.Close)

	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.LLM.BaseURL = srv.URL
	cfg.LLM.MaxRetries = 0
	cfg.LLM.TimeoutSeconds = 5
	cfg.Embedding.Mode = mode
	cfg.Storage.ImageDir = t.TempDir()

	c, err := Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(c.Close)
	return c, ollama
}

func newRouter(c *Container) *gin.Engine {
	h := handlers.NewIssueHandler(c.Issues, c.Classifier, c.Assist, c.Feedback, c.Images, 1<<20)
	r := gin.New()
	r.POST("/api/issues", h.Submit)
	r.GET("/api/issues/:id", h.Get)
	r.POST("/api/issues/:id/analyze", h.Analyze)
	return r
}

func submit(t *testing.T, r *gin.Engine, title, description string) models.Issue {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("title", title)
	mw.WriteField("description", description)
	mw.WriteField("latitude", "51.5072")
	mw.WriteField("longitude", "-0.1276")
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="report.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, _ := mw.CreatePart(h)
	part.Write([]byte("jpeg bytes"))
	mw.Close()

	req := httptest.NewRequest("POST", "/api/issues", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("submit %q: status = %d: %s", title, w.Code, w.Body.String())
	}

	var env struct {
		Data models.Issue `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &env)
	return env.Data
}

func TestSubmitThenClassify(t *testing.T) {
	c, ollama := newTestContainer(t, "sync")
	r := newRouter(c)

	past := submit(t, r, "Streetlight out on Elm St", "The streetlight near the school has been dark for days.")
	submit(t, r, "Pothole on Main St", "Deep pothole near the bus stop damaging tyres.")
	current := submit(t, r, "Broken streetlight", "The lamp at Oak Ave and 3rd flickers and goes dark.")

	req := httptest.NewRequest("POST", "/api/issues/"+current.ID+"/analyze", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("analyze status = %d: %s", w.Code, w.Body.String())
	}

	var env struct {
		Data struct {
			Category     string `json:"category"`
			Severity     string `json:"severity"`
			Persisted    bool   `json:"persisted"`
			SimilarItems []struct {
				ID string `json:"id"`
			} `json:"similar_issues"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.Data.Category != "Streetlight" || env.Data.Severity != "High" || !env.Data.Persisted {
		t.Errorf("result = %+v, expected a persisted Streetlight/High", env.Data)
	}
	if len(env.Data.SimilarItems) != 1 || env.Data.SimilarItems[0].ID != past.ID {
		t.Errorf("similar = %+v, expected only the earlier streetlight report", env.Data.SimilarItems)
	}

	prompt := ollama.lastPrompt()
	if !strings.Contains(prompt, "Streetlight out on Elm St") || strings.Contains(prompt, "Pothole on Main St") {
		t.Errorf("prompt should carry only the similar issue as context:\n%s", prompt)
	}

	var stored models.Issue
	c.DB.First(&stored, "id = ?", current.ID)
	if stored.Category == nil || *stored.Category != models.CategoryStreetlight || stored.Status != models.StatusNew {
		t.Errorf("stored = %+v, expected Streetlight with status new", stored)
	}

	c.Usage.Flush()
	var calls int64
	c.DB.Model(&models.AIUsageLog{}).Count(&calls)
	if calls < 4 {
		t.Errorf("usage rows = %d, expected three embeddings and one generation", calls)
	}
}

func TestAsyncSubmissionIsEmbeddedByQueue(t *testing.T) {
	c, _ := newTestContainer(t, "async")
	r := newRouter(c)

	issue := submit(t, r, "Streetlight out", "The streetlight on Pine Rd is dark every night.")

	deadline := time.Now().Add(5 * time.Second)
	for {
		var stored models.Issue
		c.DB.First(&stored, "id = ?", issue.ID)
		if stored.HasEmbedding() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("embedding was not computed by the queue")
		}
		time.Sleep(20 * time.Millisecond)
	}

	var job models.EmbeddingJob
	c.DB.First(&job, "issue_id = ?", issue.ID)
	if job.Status != models.JobCompleted {
		t.Errorf("job status = %s, expected completed", job.Status)
	}
}

func TestBuild_UnknownProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.DSN = ":memory:"
	cfg.LLM.Provider = "watson"
	cfg.Embedding.Provider = "ollama"
	cfg.Storage.ImageDir = t.TempDir()

	if _, err := Build(context.Background(), cfg); err == nil {
		t.Error("Build should fail for an unknown provider")
	}
}
