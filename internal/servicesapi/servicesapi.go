// Package servicesapi exposes the embedded KV/object/queue contracts
// (internal/services) over the local HTTP loopback spec.md §6 describes:
// "accessible to components via the outgoing-HTTP interface or via the
// local HTTP loopback." Components reach these endpoints the same way any
// other egress HTTP call would, under the same host allow-list the core
// checks before a guest is allowed to dial out (SharedState.IsHTTPHostAllowed).
//
// The core treats the backends as opaque (spec.md §6): this package only
// adapts internal/services' interfaces onto chi routes, the same
// thin-HTTP-adapter role pkg/gateway/http_gateway.go plays over the
// teacher's own function registry.
package servicesapi

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/dufeut/mik/internal/httpapi"
	"github.com/dufeut/mik/internal/services"
)

// Handlers adapts KV, object, and queue backends onto chi routes.
type Handlers struct {
	kv      services.KVStore
	objects services.ObjectStore
	queue   services.Queue
	logger  *zap.Logger
}

// New constructs the loopback services router. Any backend may be nil, in
// which case its routes respond 501 (a deployment may wire only the
// services its modules actually use).
func New(kv services.KVStore, objects services.ObjectStore, queue services.Queue, logger *zap.Logger) http.Handler {
	h := &Handlers{kv: kv, objects: objects, queue: queue, logger: logger}

	r := chi.NewRouter()
	r.Route("/kv", func(r chi.Router) {
		r.Get("/{key}", h.kvGet)
		r.Put("/{key}", h.kvSet)
		r.Delete("/{key}", h.kvDelete)
		r.Get("/", h.kvList)
	})
	r.Route("/objects", func(r chi.Router) {
		r.Get("/*", h.objectGet)
		r.Put("/*", h.objectPut)
		r.Delete("/*", h.objectDelete)
		r.Head("/*", h.objectHead)
		r.Get("/", h.objectList)
	})
	r.Route("/queue/{name}", func(r chi.Router) {
		r.Post("/push", h.queuePush)
		r.Post("/pop", h.queuePop)
		r.Get("/peek", h.queuePeek)
		r.Get("/len", h.queueLen)
		r.Post("/clear", h.queueClear)
		r.Delete("/", h.queueDelete)
	})
	r.Get("/queues", h.queueListAll)
	r.Post("/topics/{topic}/publish", h.topicPublish)

	return r
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, op string, err error) {
	h.logger.Warn("services api request failed", zap.String("op", op), zap.Int("status", status), zap.Error(err))
	httpapi.WriteJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handlers) kvGet(w http.ResponseWriter, r *http.Request) {
	if h.kv == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "kv store not configured"})
		return
	}
	key := chi.URLParam(r, "key")
	value, ok, err := h.kv.Get(r.Context(), key)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "kv.get", err)
		return
	}
	if !ok {
		httpapi.WriteJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(value)
}

func (h *Handlers) kvSet(w http.ResponseWriter, r *http.Request) {
	if h.kv == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "kv store not configured"})
		return
	}
	key := chi.URLParam(r, "key")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	var ttl time.Duration
	if raw := r.URL.Query().Get("ttl_seconds"); raw != "" {
		if secs, perr := time.ParseDuration(raw + "s"); perr == nil {
			ttl = secs
		}
	}
	if err := h.kv.Set(r.Context(), key, body, ttl); err != nil {
		h.writeError(w, http.StatusInternalServerError, "kv.set", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) kvDelete(w http.ResponseWriter, r *http.Request) {
	if h.kv == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "kv store not configured"})
		return
	}
	if err := h.kv.Delete(r.Context(), chi.URLParam(r, "key")); err != nil {
		h.writeError(w, http.StatusInternalServerError, "kv.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) kvList(w http.ResponseWriter, r *http.Request) {
	if h.kv == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "kv store not configured"})
		return
	}
	keys, err := h.kv.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "kv.list", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"keys": keys})
}

func (h *Handlers) objectGet(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "object store not configured"})
		return
	}
	path := chi.URLParam(r, "*")
	data, meta, err := h.objects.Get(r.Context(), path)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handlers) objectPut(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "object store not configured"})
		return
	}
	path := chi.URLParam(r, "*")
	data, err := io.ReadAll(r.Body)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := h.objects.Put(r.Context(), path, data, contentType); err != nil {
		h.writeError(w, http.StatusInternalServerError, "object.put", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) objectDelete(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "object store not configured"})
		return
	}
	if err := h.objects.Delete(r.Context(), chi.URLParam(r, "*")); err != nil {
		h.writeError(w, http.StatusInternalServerError, "object.delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) objectHead(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		w.WriteHeader(http.StatusNotImplemented)
		return
	}
	meta, err := h.objects.Head(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if meta.ContentType != "" {
		w.Header().Set("Content-Type", meta.ContentType)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) objectList(w http.ResponseWriter, r *http.Request) {
	if h.objects == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "object store not configured"})
		return
	}
	metas, err := h.objects.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "object.list", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"objects": metas})
}

func (h *Handlers) queuePush(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	name := chi.URLParam(r, "name")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	id, err := h.queue.Push(r.Context(), name, body)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.push", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handlers) queuePop(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	msg, err := h.queue.Pop(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.pop", err)
		return
	}
	if msg == nil {
		httpapi.WriteJSON(w, http.StatusNoContent, nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handlers) queuePeek(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	msg, err := h.queue.Peek(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.peek", err)
		return
	}
	if msg == nil {
		httpapi.WriteJSON(w, http.StatusNoContent, nil)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, msg)
}

func (h *Handlers) queueLen(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	n, err := h.queue.Len(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.len", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"len": n})
}

func (h *Handlers) queueClear(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	n, err := h.queue.Clear(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.clear", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (h *Handlers) queueDelete(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	existed, err := h.queue.DeleteQueue(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.delete", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]bool{"existed": existed})
}

func (h *Handlers) queueListAll(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	names, err := h.queue.ListQueues(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.list_queues", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]any{"queues": names})
}

func (h *Handlers) topicPublish(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpapi.WriteJSON(w, http.StatusNotImplemented, map[string]string{"error": "queue not configured"})
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpapi.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	delivered, err := h.queue.Publish(r.Context(), chi.URLParam(r, "topic"), body)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "queue.publish", err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}
