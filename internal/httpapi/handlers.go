package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"memoria/internal/domain"
	"memoria/internal/logging"
	"memoria/internal/notify"
	"memoria/internal/retrieve"
	"memoria/internal/tasks"
)

// maxDropBody caps an agent-drop request body per spec.md §6.
const maxDropBody = 50 * 1024

// dropRateBurst and dropRateEvery configure a per-source-IP token bucket:
// up to 10 requests back to back, then one more every 6 seconds. It does
// not count a sliding window, so more than 10 requests from one IP can pass
// within a single 60-second span.
const (
	dropRateBurst = 10
	dropRateEvery = 6 * time.Second // 10 tokens per 60s
)

type submitMemoryRequest struct {
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleSubmitMemory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")

	var req submitMemoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondError(w, http.StatusBadRequest, errors.New("content is required"))
		return
	}

	now := time.Now()
	referenceAt := now
	if contains(req.Tags, "memorybench") && !req.CreatedAt.IsZero() {
		referenceAt = req.CreatedAt
	}

	mem, err := s.Store.CreateMemory(ctx, domain.Memory{
		UserID:      userID,
		Title:       req.Title,
		Content:     req.Content,
		Tags:        req.Tags,
		Source:      "user",
		Status:      domain.MemoryStatusApproved,
		ShowInInbox: false,
		ReferenceAt: referenceAt,
		CreatedAt:   referenceAt,
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	s.enqueueIngestion(ctx, mem)
	respondJSON(w, http.StatusCreated, map[string]any{"id": mem.ID})
}

type agentDropRequest struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	JobID    string         `json:"jobId"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleAgentDrop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := r.PathValue("token")

	if !s.allowDrop(clientIP(r)) {
		respondError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		return
	}

	user, err := s.Store.GetUserByDropToken(ctx, token)
	if err != nil {
		respondError(w, http.StatusNotFound, errors.New("unknown drop token"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxDropBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if len(body) > maxDropBody {
		respondError(w, http.StatusRequestEntityTooLarge, errors.New("body exceeds 50 KiB"))
		return
	}

	var req agentDropRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	text := strings.TrimSpace(stripHTML(req.Content))
	if text == "" {
		respondError(w, http.StatusBadRequest, errors.New("content is empty after stripping"))
		return
	}

	mem, err := s.Store.CreateMemory(ctx, domain.Memory{
		UserID:      user.ID,
		Title:       req.Title,
		Content:     text,
		Source:      "agent_drop",
		SourceLLM:   "agent_drop",
		Trusted:     false,
		Status:      domain.MemoryStatusPending,
		ShowInInbox: true,
		ReferenceAt: time.Now(),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": mem.ID})
}

type inboxActionRequest struct {
	Action  string         `json:"action"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleInboxAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	var req inboxActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	mem, err := s.Store.GetMemory(ctx, id)
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	switch req.Action {
	case "approve":
		mem.Status = domain.MemoryStatusApproved
		if err := s.Store.UpdateMemory(ctx, mem); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		s.enqueueIngestion(ctx, mem)
	case "edit":
		if content, ok := req.Payload["content"].(string); ok && content != "" {
			mem.Content = content
		}
		mem.Status = domain.MemoryStatusApproved
		if err := s.Store.UpdateMemory(ctx, mem); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		s.enqueueIngestion(ctx, mem)
	case "discard":
		mem.Status = domain.MemoryStatusDiscarded
		if err := s.Store.UpdateMemory(ctx, mem); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
		if mem.EmbeddingID != "" {
			if err := s.VectorStore.Delete(ctx, mem.EmbeddingID); err != nil {
				logging.Log.WithError(err).WithField("memory_id", mem.ID).Warn("vector deletion failed on discard")
			}
		}
	case "dismiss":
		mem.ShowInInbox = false
		if err := s.Store.UpdateMemory(ctx, mem); err != nil {
			respondError(w, http.StatusInternalServerError, err)
			return
		}
	default:
		respondError(w, http.StatusBadRequest, errors.New("unknown action"))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"status": string(mem.Status)})
}

type searchRequest struct {
	Query string        `json:"query"`
	TopK  int           `json:"topK"`
	View  retrieve.View `json:"view"`
}

type searchResult struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := r.Header.Get("X-User-Id")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}
	if req.View == "" {
		req.View = retrieve.ViewAuto
	}

	results, err := s.Planner.Search(ctx, userID, req.Query, req.TopK, req.View)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			Text:  res.Text,
			Score: res.Score,
			Metadata: map[string]any{
				"sourceId":  res.SourceID,
				"memoryId":  res.MemoryID,
				"validFrom": res.ValidFrom,
			},
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"results": out})
}

// sseSink adapts an http.ResponseWriter into a notify.Sink that writes
// Server-Sent Events frames.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseSink) Send(ev notify.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := sseSink{w: w, flusher: flusher}
	s.Notifier.Subscribe(userID, sink)
	defer s.Notifier.Unsubscribe(userID, sink)

	<-r.Context().Done()
}

func (s *Server) enqueueIngestion(ctx context.Context, mem domain.Memory) {
	payload, err := json.Marshal(map[string]string{"memoryId": mem.ID})
	if err != nil {
		logging.Log.WithError(err).Warn("encoding ingestion task payload")
		return
	}
	if _, err := s.Queue.Enqueue(ctx, tasks.KindIngest, payload, 5); err != nil {
		logging.Log.WithError(err).WithField("memory_id", mem.ID).Warn("enqueueing ingestion task")
	}
}

// maxTrackedIPs bounds the per-IP limiter map; once exceeded the map is
// reset rather than growing without limit, trading a brief reset in
// limiting accuracy for a hard memory ceiling.
const maxTrackedIPs = 10_000

func (s *Server) allowDrop(ip string) bool {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	if len(s.limiters) >= maxTrackedIPs {
		s.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := s.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Every(dropRateEvery), dropRateBurst)
		s.limiters[ip] = lim
	}
	return lim.Allow()
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func contains(list []string, target string) bool {
	for _, v := range list {
		if v == target {
			return true
		}
	}
	return false
}

// stripHTML tokenizes raw and emits only its text nodes, per spec.md §6's
// agent-drop HTML-to-text requirement.
func stripHTML(raw string) string {
	var sb bytes.Buffer
	tok := html.NewTokenizer(strings.NewReader(raw))
	for {
		switch tok.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			sb.Write(tok.Text())
			sb.WriteByte(' ')
		}
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
