// Package server exposes the translator over HTTP: the v1 REST surface in
// both its JSON and binary-protobuf flavors, plus a liveness check.
package server

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	pb "google.golang.org/genproto/googleapis/datastore/v1"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/cloudshims/dsbridge/translator"
)

const rpcPathPrefix = "/v1/projects/"

// Handler routes v1 datastore requests to the translator.
type Handler struct {
	tr  *translator.Translator
	log *logrus.Logger
	// host, when non-empty, must match the incoming Host header.
	host string
}

// Option configures a Handler.
type Option func(*Handler)

// WithHostCheck requires the incoming Host header to equal host.
func WithHostCheck(host string) Option {
	return func(h *Handler) {
		h.host = host
	}
}

// NewHandler wires the HTTP surface onto a translator. logger may be nil.
func NewHandler(tr *translator.Translator, logger *logrus.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Handler{tr: tr, log: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet && r.URL.Path == "/" {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Ok")
		return
	}

	c, err := h.selectCodec(r)
	if err != nil {
		// No usable codec was negotiated; answer in JSON.
		h.fail(w, r, jsonCodec{}, err, time.Now())
		return
	}

	started := time.Now()
	method, err := h.parsePath(r)
	if err != nil {
		h.fail(w, r, c, err, started)
		return
	}
	if h.host != "" && r.Host != h.host {
		h.fail(w, r, c, status.Errorf(codes.InvalidArgument, "mismatched host %q", r.Host), started)
		return
	}

	resp, err := h.dispatch(method, r, c)
	if err != nil {
		h.fail(w, r, c, err, started)
		return
	}
	if err := c.write(w, resp); err != nil {
		h.log.WithError(err).Error("writing response failed")
		return
	}
	h.log.WithFields(logrus.Fields{
		"method":   method,
		"duration": time.Since(started),
	}).Debug("rpc ok")
}

// parsePath extracts the method from "/v1/projects/{projectId}:{method}",
// checking the project identifier against the served one.
func (h *Handler) parsePath(r *http.Request) (string, error) {
	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, rpcPathPrefix) {
		return "", status.Errorf(codes.NotFound, "no handler for %s %s", r.Method, r.URL.Path)
	}
	rest := r.URL.Path[len(rpcPathPrefix):]
	project, method, ok := strings.Cut(rest, ":")
	if !ok || method == "" || strings.Contains(method, "/") {
		return "", status.Errorf(codes.NotFound, "no handler for %s %s", r.Method, r.URL.Path)
	}
	if project != h.tr.ProjectID() {
		return "", status.Errorf(codes.InvalidArgument, "mismatched project id %q, expected %q", project, h.tr.ProjectID())
	}
	return method, nil
}

func (h *Handler) selectCodec(r *http.Request) (codec, error) {
	if r.Method == http.MethodGet {
		return jsonCodec{}, nil
	}
	ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "missing or unparsable content type")
	}
	switch ct {
	case contentTypeJSON:
		return jsonCodec{}, nil
	case contentTypeProto:
		return protoCodec{}, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unsupported content type %q", ct)
	}
}

func (h *Handler) dispatch(method string, r *http.Request, c codec) (proto.Message, error) {
	switch method {
	case "lookup":
		req := &pb.LookupRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.Lookup(req)
	case "runQuery":
		req := &pb.RunQueryRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.RunQuery(req)
	case "beginTransaction":
		req := &pb.BeginTransactionRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.BeginTransaction(req)
	case "commit":
		req := &pb.CommitRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.Commit(req)
	case "rollback":
		req := &pb.RollbackRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.Rollback(req)
	case "allocateIds":
		req := &pb.AllocateIdsRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.AllocateIds(req)
	case "reserveIds":
		req := &pb.ReserveIdsRequest{}
		if err := h.decode(r, c, req); err != nil {
			return nil, err
		}
		return h.tr.ReserveIds(req)
	default:
		return nil, status.Errorf(codes.NotFound, "RPC %s not found.", method)
	}
}

func (h *Handler) decode(r *http.Request, c codec, msg proto.Message) error {
	if err := c.decode(r, msg); err != nil {
		return status.Errorf(codes.InvalidArgument, "malformed request body: %v", err)
	}
	return nil
}

// fail serializes one error, exactly once, in the request's content type.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, c codec, err error, started time.Time) {
	st := status.Convert(err)
	entry := h.log.WithFields(logrus.Fields{
		"path":     r.URL.Path,
		"code":     st.Code().String(),
		"duration": time.Since(started),
	})
	if clientFault(st.Code()) {
		entry.Debug(st.Message())
	} else {
		entry.Error(st.Message())
	}
	c.writeError(w, st)
}
