package server

import (
	"encoding/json"
	"io"
	"net/http"

	spb "google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const (
	contentTypeJSON  = "application/json"
	contentTypeProto = "application/x-protobuf"
)

// codec pairs the two body encodings of one request/response cycle. The
// response always uses the codec the request selected.
type codec interface {
	decode(r *http.Request, msg proto.Message) error
	write(w http.ResponseWriter, msg proto.Message) error
	writeError(w http.ResponseWriter, st *status.Status)
}

type jsonCodec struct{}

func (jsonCodec) decode(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	return opts.Unmarshal(body, msg)
}

func (jsonCodec) write(w http.ResponseWriter, msg proto.Message) error {
	raw, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	raw, err = fixNullValues(raw)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", contentTypeJSON+"; charset=utf-8")
	_, err = w.Write(raw)
	return err
}

// errorBody is the JSON error envelope: code carries the HTTP status,
// status the unified code name.
type errorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

func (jsonCodec) writeError(w http.ResponseWriter, st *status.Status) {
	httpCode := httpStatusOf(st.Code())
	var body errorBody
	body.Error.Code = httpCode
	body.Error.Status = statusName(st.Code())
	body.Error.Message = st.Message()
	raw, err := json.Marshal(body)
	if err != nil {
		http.Error(w, st.Message(), httpCode)
		return
	}
	w.Header().Set("Content-Type", contentTypeJSON+"; charset=utf-8")
	w.WriteHeader(httpCode)
	w.Write(raw)
}

type protoCodec struct{}

func (protoCodec) decode(r *http.Request, msg proto.Message) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

func (protoCodec) write(w http.ResponseWriter, msg proto.Message) error {
	raw, err := proto.Marshal(msg)
	if err != nil {
		return err
	}
	// No charset parameter; some clients reject one on protobuf bodies.
	w.Header().Set("Content-Type", contentTypeProto)
	_, err = w.Write(raw)
	return err
}

func (protoCodec) writeError(w http.ResponseWriter, st *status.Status) {
	raw, err := proto.Marshal(&spb.Status{
		Code:    int32(st.Code()),
		Message: st.Message(),
	})
	httpCode := httpStatusOf(st.Code())
	if err != nil {
		http.Error(w, st.Message(), httpCode)
		return
	}
	w.Header().Set("Content-Type", contentTypeProto)
	w.WriteHeader(httpCode)
	w.Write(raw)
}

// fixNullValues rewrites "nullValue" members serialized as the enum name
// "NULL_VALUE" to the literal null the public JSON flavor uses. Only that
// exact string form is touched: an entity property that happens to be
// named "nullValue" carries a value object here and passes through.
func fixNullValues(raw []byte) ([]byte, error) {
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	if !scrubNullValues(tree) {
		return raw, nil
	}
	return json.Marshal(tree)
}

func scrubNullValues(v interface{}) (changed bool) {
	switch node := v.(type) {
	case map[string]interface{}:
		for k, val := range node {
			if k == "nullValue" && val == "NULL_VALUE" {
				node[k] = nil
				changed = true
				continue
			}
			if scrubNullValues(val) {
				changed = true
			}
		}
	case []interface{}:
		for _, val := range node {
			if scrubNullValues(val) {
				changed = true
			}
		}
	}
	return changed
}
