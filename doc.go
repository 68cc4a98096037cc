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

// Package bulkwriter provides a client-side bulk write engine for
// Elasticsearch.
//
// A Writer accepts write requests from many goroutines, buffers them per
// destination, and sends each buffer as a single _bulk request once it is
// large enough or old enough. Requests that fail because the cluster is
// unreachable or slow are retried as a whole, rebuilding the connection to
// the reachable nodes first when needed. Every batch reports exactly one
// Outcome, with the status of each of its write requests.
//
// A retried batch is sent again in full. An index request without a
// document ID that reached the cluster before a transport fault may
// therefore be indexed twice; set IDs or use create requests where that
// matters.
//
// Batches may also be sent directly with SubmitBatch and SubmitBatchAsync,
// bypassing the buffers.
package bulkwriter
