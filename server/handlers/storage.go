package handlers

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/access"
	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/internal/vpath"
	"github.com/substratehq/substrate/metrics"
	"github.com/substratehq/substrate/storage"
	"github.com/substratehq/substrate/storage/codec"
)

// requestPath parses the wildcard path of a /v1/storage request. A
// trailing slash addresses an index.
func requestPath(r *http.Request) (vpath.Path, error) {
	return vpath.Parse("/" + chi.URLParam(r, "*"))
}

func requestSubject(r *http.Request) access.Subject {
	user, _ := call.IdentityFrom(r.Context())
	if user == nil {
		return nil
	}
	return user
}

// V1GetStorage handles GET /v1/storage/* requests. An object path
// returns the stored value, a dictionary as JSON and binary content as
// a stream. An index path runs a filtered query over the subtree.
func V1GetStorage(store *storage.Store, authorizer *access.Authorizer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.StorageOpDuration.WithLabelValues("load").Observe(time.Since(start).Seconds())
		}()
		metrics.StorageOpsTotal.WithLabelValues("load").Inc()

		p, err := requestPath(r)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: bad path", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		subject := requestSubject(r)

		if p.IsIndex() {
			serveQuery(w, r, store, authorizer, subject, p, logger)
			return
		}

		if err := authorizer.Require(r.Context(), subject, p, access.PermRead); err != nil {
			SendErrorResponse(w, logger, err, http.StatusForbidden)
			return
		}

		obj, err := store.Load(r.Context(), p)
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		defer obj.Close()

		if obj.Kind == storage.KindBinary {
			w.Header().Set("Content-Type", obj.MIME)
			if obj.Size >= 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
			}
			if _, err := io.Copy(w, obj.Reader); err != nil {
				logger.Warn("Failed streaming binary object", zap.String("path", p.String()), zap.Error(err))
			}
			return
		}

		computed := r.URL.Query().Get("computed") == "true"
		dict, err := obj.AsDict(computed)
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		SendJSONResponse(w, dict)
	}
}

// serveQuery enumerates an index subtree. Enumeration needs the search
// permission on the base; items the caller cannot read are omitted.
func serveQuery(w http.ResponseWriter, r *http.Request, store *storage.Store, authorizer *access.Authorizer, subject access.Subject, base vpath.Path, logger *zap.Logger) {
	metrics.StorageOpsTotal.WithLabelValues("query").Inc()

	if err := authorizer.Require(r.Context(), subject, base, access.PermSearch); err != nil {
		SendErrorResponse(w, logger, err, http.StatusForbidden)
		return
	}

	params := r.URL.Query()
	q := store.Query(base).Access(authorizer.Filter(subject, access.PermRead))
	if v := params.Get("depth"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: bad depth", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		q = q.Depth(d)
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: bad limit", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		q = q.Limit(n)
	}
	if v := params.Get("fileType"); v != "" {
		q = q.FileType(v)
	}
	if v := params.Get("mimeType"); v != "" {
		q = q.MIMEType(v)
	}
	if v := params.Get("category"); v != "" {
		q = q.Category(storage.Category(v))
	}

	items, err := q.Run(r.Context())
	if err != nil {
		SendErrorResponse(w, logger, err, http.StatusInternalServerError)
		return
	}

	withMeta := params.Get("metadata") == "true"
	out := make([]interface{}, 0, len(items))
	for _, md := range items {
		if withMeta {
			out = append(out, md.Dict())
		} else {
			out = append(out, md.Path.String())
		}
	}
	SendJSONResponse(w, map[string]interface{}{"items": out})
}

// V1PutStorage handles PUT /v1/storage/* requests. A body with a
// structured media type is decoded into a dictionary; anything else is
// stored as binary content under its declared type.
func V1PutStorage(store *storage.Store, authorizer *access.Authorizer, maxBody int64, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		defer func() {
			metrics.StorageOpDuration.WithLabelValues("put").Observe(time.Since(start).Seconds())
		}()
		metrics.StorageOpsTotal.WithLabelValues("put").Inc()

		p, err := requestPath(r)
		if err != nil || p.IsIndex() {
			SendErrorResponse(w, logger, fmt.Errorf("%w: storage writes need an object path", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		subject := requestSubject(r)
		if err := authorizer.Require(r.Context(), subject, p, access.PermWrite); err != nil {
			SendErrorResponse(w, logger, err, http.StatusForbidden)
			return
		}

		body := http.MaxBytesReader(w, r.Body, maxBody)
		data, err := io.ReadAll(body)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: body too large or unreadable", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}

		mediaType := ""
		if ct := r.Header.Get("Content-Type"); ct != "" {
			mediaType, _, _ = mime.ParseMediaType(ct)
		}

		var obj *storage.Object
		if c, ok := codec.ByMIME(mediaType); ok {
			dict, err := c.Unmarshal(data)
			if err != nil {
				SendErrorResponse(w, logger, fmt.Errorf("%w: undecodable %s body", storage.ErrInvalidArgument, mediaType), http.StatusBadRequest)
				return
			}
			obj = storage.NewDict(dict)
		} else {
			obj = storage.NewBinaryBytes(data, mediaType)
		}

		opts := storage.PutOptions{
			Update: r.URL.Query().Get("update") == "true",
			Format: r.URL.Query().Get("format"),
		}
		if err := store.Put(r.Context(), p, obj, opts); err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// V1DeleteStorage handles DELETE /v1/storage/* requests
func V1DeleteStorage(store *storage.Store, authorizer *access.Authorizer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.StorageOpsTotal.WithLabelValues("remove").Inc()

		p, err := requestPath(r)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: bad path", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		subject := requestSubject(r)
		if err := authorizer.Require(r.Context(), subject, p, access.PermWrite); err != nil {
			SendErrorResponse(w, logger, err, http.StatusForbidden)
			return
		}

		removed, err := store.Remove(r.Context(), p)
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		SendJSONResponse(w, map[string]interface{}{"removed": removed})
	}
}

// V1HeadStorage handles HEAD and metadata lookups via
// GET /v1/storage-meta/*.
func V1HeadStorage(store *storage.Store, authorizer *access.Authorizer, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.StorageOpsTotal.WithLabelValues("lookup").Inc()

		p, err := requestPath(r)
		if err != nil {
			SendErrorResponse(w, logger, fmt.Errorf("%w: bad path", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}
		subject := requestSubject(r)
		if err := authorizer.Require(r.Context(), subject, p, access.PermRead); err != nil {
			SendErrorResponse(w, logger, err, http.StatusForbidden)
			return
		}

		md, err := store.Lookup(r.Context(), p)
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		SendJSONResponse(w, md.Dict())
	}
}
