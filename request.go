// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package bulkwriter

import (
	"bytes"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.elastic.co/fastjson"
)

// Destination identifies where a document is written: the collection
// (index or data stream) and an optional document kind.
//
// Kind is written as the legacy "_type" metadata field when set. Stores that
// no longer support mapping types reject it, so leave it empty for them.
type Destination struct {
	Index string
	Kind  string
}

func (d Destination) String() string {
	if d.Kind == "" {
		return d.Index
	}
	return d.Index + "/" + d.Kind
}

// Document is an opaque payload bound for a Destination.
type Document struct {
	Destination

	// ID holds the optional caller-assigned identifier. When empty the
	// store assigns one, and it is reported in the item outcome.
	ID string

	// Body holds the JSON encoded document. It is copied when the request
	// is added, and is not accessed after Add returns.
	Body io.WriterTo
}

// RawDocument is a document body that is already JSON encoded.
type RawDocument []byte

// WriteTo writes the encoded document to w.
func (d RawDocument) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d)
	return int64(n), err
}

// EncodeJSON encodes v as the body of a new Document.
func EncodeJSON(dest Destination, id string, v any) (Document, error) {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode document: %w", err)
	}
	return Document{Destination: dest, ID: id, Body: RawDocument(b)}, nil
}

// Action is the bulk operation applied to a document.
type Action string

const (
	ActionIndex  Action = "index"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// WriteRequest is a single operation in a bulk request. It carries no retry
// state; retries are handled per batch.
type WriteRequest struct {
	Action      Action
	Destination Destination
	DocumentID  string

	// Body holds the document for index and create, and the partial
	// fields for update. It is unused for delete.
	Body io.WriterTo
}

// IndexRequest returns a request that indexes doc, replacing any existing
// document with the same ID.
func IndexRequest(doc Document) WriteRequest {
	return WriteRequest{Action: ActionIndex, Destination: doc.Destination, DocumentID: doc.ID, Body: doc.Body}
}

// CreateRequest returns a request that indexes doc only if it does not
// already exist. Data streams only accept create.
func CreateRequest(doc Document) WriteRequest {
	return WriteRequest{Action: ActionCreate, Destination: doc.Destination, DocumentID: doc.ID, Body: doc.Body}
}

// UpdateRequest returns a request that merges the fields in doc.Body into
// the existing document doc.ID.
func UpdateRequest(doc Document) WriteRequest {
	return WriteRequest{Action: ActionUpdate, Destination: doc.Destination, DocumentID: doc.ID, Body: doc.Body}
}

// DeleteRequest returns a request that deletes document id.
func DeleteRequest(dest Destination, id string) WriteRequest {
	return WriteRequest{Action: ActionDelete, Destination: dest, DocumentID: id}
}

func (r WriteRequest) validate() error {
	if r.Destination.Index == "" {
		return errMissingIndex
	}
	switch r.Action {
	case ActionIndex, ActionCreate:
		if r.Body == nil {
			return errMissingBody
		}
	case ActionUpdate:
		if r.Body == nil {
			return errMissingBody
		}
		if r.DocumentID == "" {
			return errMissingID
		}
	case ActionDelete:
		if r.DocumentID == "" {
			return errMissingID
		}
	default:
		return fmt.Errorf("unknown bulk action %q", r.Action)
	}
	return nil
}

// encodedRequest is a WriteRequest serialized to its bulk body lines.
type encodedRequest struct {
	req  WriteRequest
	data []byte
	link *linkedTraceContext
}

// encodeRequest serializes r into its action and source lines. The request
// body is read exactly once, and replaced with a RawDocument slice of the
// encoded data so the request can be resubmitted by the caller.
func encodeRequest(r WriteRequest) (encodedRequest, error) {
	if err := r.validate(); err != nil {
		return encodedRequest{}, err
	}
	var jsonw fastjson.Writer
	writeMeta(&jsonw, r)

	var buf bytes.Buffer
	meta := jsonw.Bytes()
	buf.Grow(len(meta) + 256)
	buf.Write(meta)
	buf.WriteByte('\n')
	if r.Action == ActionDelete {
		return encodedRequest{req: r, data: buf.Bytes()}, nil
	}
	if r.Action == ActionUpdate {
		buf.WriteString(`{"doc":`)
	}
	start := buf.Len()
	if _, err := r.Body.WriteTo(&buf); err != nil {
		return encodedRequest{}, fmt.Errorf("failed to write bulk request body: %w", err)
	}
	end := buf.Len()
	if end == start {
		return encodedRequest{}, errMissingBody
	}
	if r.Action == ActionUpdate {
		buf.WriteByte('}')
	}
	buf.WriteByte('\n')
	data := buf.Bytes()
	r.Body = RawDocument(data[start:end:end])
	return encodedRequest{req: r, data: data}, nil
}

func writeMeta(w *fastjson.Writer, r WriteRequest) {
	w.RawString(`{"`)
	w.RawString(string(r.Action))
	w.RawString(`":{"_index":`)
	w.String(r.Destination.Index)
	if r.Destination.Kind != "" {
		w.RawString(`,"_type":`)
		w.String(r.Destination.Kind)
	}
	if r.DocumentID != "" {
		w.RawString(`,"_id":`)
		w.String(r.DocumentID)
	}
	w.RawString("}}")
}
