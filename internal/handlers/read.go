package handlers

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/maneesh/filedrop/internal/models"
	"github.com/maneesh/filedrop/internal/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Opener fetches a live object by id
type Opener interface {
	Open(ctx context.Context, id string) (*models.StoredObject, error)
}

// ReadHandler handles file download requests
type ReadHandler struct {
	opener Opener
}

// NewReadHandler creates a new read handler
func NewReadHandler(opener Opener) *ReadHandler {
	return &ReadHandler{opener: opener}
}

// ServeHTTP handles GET /{id}
func (rh *ReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "read_file",
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	id := mux.Vars(r)["id"]
	span.SetAttributes(attribute.String("object_key", id))

	obj, err := rh.opener.Open(ctx, id)
	switch {
	case errors.Is(err, retrieval.ErrExpired):
		span.SetAttributes(attribute.Bool("expired", true))
		http.Error(w, "Expired", http.StatusGone)
		return
	case err != nil:
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	for _, h := range retrieval.Headers(obj) {
		w.Header().Set(h.Name, h.Value)
	}
	w.WriteHeader(http.StatusOK)
	if obj.Body == nil {
		return
	}
	defer obj.Body.Close()

	n, err := io.Copy(w, obj.Body)
	span.SetAttributes(attribute.Int64("bytes_sent", n))
	if err != nil {
		span.RecordError(err)
		log.Printf("rid=%s msg=%q id=%s bytes=%d err=%v", RequestIDFromContext(ctx), "download_interrupted", id, n, err)
	}
}
